package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	initForce      bool
	initNoGit      bool
	initWithConfig bool
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a Nexus project",
	Long: `Initialize a directory for use with Nexus.

This command sets up everything needed to run Nexus:
  - Verifies prerequisites (git, API key)
  - Initializes a git repository if needed
  - Creates the .nexus directory structure
  - Adds .gitignore entries for engine state

The directory argument is optional and defaults to the current directory.

Examples:
  nexus init                 # Initialize current directory
  nexus init ./myproject     # Initialize specific directory
  nexus init --force         # Reinitialize even if already set up
  nexus init --with-config   # Create a .nexus.yaml template`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Reinitialize even if already set up")
	initCmd.Flags().BoolVar(&initNoGit, "no-git", false, "Skip git initialization")
	initCmd.Flags().BoolVar(&initWithConfig, "with-config", false, "Create a .nexus.yaml project config template")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}

	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	fmt.Printf("Initializing Nexus in %s...\n\n", absPath)

	nexusDir := filepath.Join(absPath, ".nexus")
	if _, err := os.Stat(nexusDir); err == nil && !initForce {
		fmt.Println("Directory already initialized. Use --force to reinitialize.")
		return nil
	}

	if err := checkGitInstalled(); err != nil {
		printStatus("✗", "Git not found", color.FgRed)
		return err
	}
	printStatus("✓", "Git found", color.FgGreen)

	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		printStatus("⚠", "ANTHROPIC_API_KEY not set (you can set it later)", color.FgYellow)
	} else {
		printStatus("✓", "ANTHROPIC_API_KEY is set", color.FgGreen)
	}

	if !initNoGit {
		if err := initGitRepo(absPath); err != nil {
			return err
		}
	} else {
		fmt.Println("Skipping git initialization (--no-git flag)")
	}

	for _, sub := range []string{"signals", "worktrees", "logs"} {
		if err := os.MkdirAll(filepath.Join(nexusDir, sub), 0755); err != nil {
			return fmt.Errorf("creating .nexus/%s directory: %w", sub, err)
		}
	}
	printStatus("✓", "Created .nexus directory structure", color.FgGreen)

	if !initNoGit {
		if err := updateGitignore(absPath); err != nil {
			return fmt.Errorf("updating .gitignore: %w", err)
		}
		printStatus("✓", "Updated .gitignore with Nexus entries", color.FgGreen)
	}

	if initWithConfig {
		if err := createProjectConfig(absPath); err != nil {
			return fmt.Errorf("creating project config: %w", err)
		}
		printStatus("✓", "Created .nexus.yaml template", color.FgGreen)
	}

	fmt.Printf("\n%s Nexus initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		fmt.Println("  1. Set your API key:")
		fmt.Println("     export ANTHROPIC_API_KEY=your-key-here")
		fmt.Println()
	}
	fmt.Println("  2. Capture requirements:")
	fmt.Println("     nexus interview")
	fmt.Println()
	fmt.Println("  3. Build:")
	fmt.Println("     nexus run")

	return nil
}

// checkGitInstalled checks if git is installed.
func checkGitInstalled() error {
	_, err := exec.LookPath("git")
	if err != nil {
		return fmt.Errorf("git not found in PATH\n\n" +
			"Nexus requires git to isolate and merge agent work.\n\n" +
			"Install git with:\n" +
			"  - macOS: brew install git\n" +
			"  - Ubuntu/Debian: sudo apt-get install git\n" +
			"  - Other: https://git-scm.com/downloads")
	}
	return nil
}

// initGitRepo initializes a git repository and ensures it has a commit
// on a main branch; worktrees cannot branch from an unborn HEAD.
func initGitRepo(repoPath string) error {
	gitDir := filepath.Join(repoPath, ".git")
	if _, err := os.Stat(gitDir); os.IsNotExist(err) {
		cmd := exec.Command("git", "init")
		cmd.Dir = repoPath
		if output, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("git init failed: %s\n%s", err, string(output))
		}
		printStatus("✓", "Initialized git repository", color.FgGreen)
	} else {
		printStatus("✓", "Git repository exists", color.FgGreen)
	}

	hasCommits, err := hasAnyCommits(repoPath)
	if err != nil {
		return fmt.Errorf("checking for commits: %w", err)
	}
	if !hasCommits {
		if err := ensureInitialCommit(repoPath); err != nil {
			return fmt.Errorf("creating initial commit: %w", err)
		}
		printStatus("✓", "Created initial commit", color.FgGreen)
	} else {
		printStatus("✓", "Git repository has commits", color.FgGreen)
	}

	if err := ensureMainBranch(repoPath); err != nil {
		return fmt.Errorf("ensuring main branch: %w", err)
	}
	printStatus("✓", "Main branch exists", color.FgGreen)

	return nil
}

// hasAnyCommits checks if the repository has any commits.
func hasAnyCommits(repoPath string) (bool, error) {
	cmd := exec.Command("git", "rev-list", "-n", "1", "--all")
	cmd.Dir = repoPath
	output, err := cmd.CombinedOutput()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 128 {
			return false, nil
		}
		return false, fmt.Errorf("git rev-list failed: %s", string(output))
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// ensureInitialCommit creates an initial commit if needed.
func ensureInitialCommit(repoPath string) error {
	gitignorePath := filepath.Join(repoPath, ".gitignore")
	if _, err := os.Stat(gitignorePath); os.IsNotExist(err) {
		content := "# Nexus\n.nexus/\nnexus\n"
		if err := os.WriteFile(gitignorePath, []byte(content), 0644); err != nil {
			return fmt.Errorf("creating .gitignore: %w", err)
		}
	}

	addCmd := exec.Command("git", "add", ".")
	addCmd.Dir = repoPath
	if output, err := addCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git add failed: %s\n%s", err, string(output))
	}

	commitCmd := exec.Command("git", "commit", "--allow-empty", "-m", "Initial commit")
	commitCmd.Dir = repoPath
	if output, err := commitCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git commit failed: %s\n%s", err, string(output))
	}

	return nil
}

// ensureMainBranch ensures the primary branch is named "main". If the
// current branch has another name, it is renamed for consistency with
// the default merge target.
func ensureMainBranch(repoPath string) error {
	mainCmd := exec.Command("git", "rev-parse", "--verify", "main")
	mainCmd.Dir = repoPath
	if err := mainCmd.Run(); err == nil {
		return nil
	}

	renameCmd := exec.Command("git", "branch", "-M", "main")
	renameCmd.Dir = repoPath
	if output, err := renameCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("creating main branch: %s\n%s", err, string(output))
	}
	return nil
}

// updateGitignore adds Nexus entries to .gitignore if not present.
func updateGitignore(repoPath string) error {
	gitignorePath := filepath.Join(repoPath, ".gitignore")

	var existingContent string
	if data, err := os.ReadFile(gitignorePath); err == nil {
		existingContent = string(data)
	}

	nexusEntries := []string{
		".nexus/",
		"nexus",
	}

	needsUpdate := false
	for _, entry := range nexusEntries {
		if !strings.Contains(existingContent, entry) {
			needsUpdate = true
			break
		}
	}
	if !needsUpdate {
		return nil
	}

	var newContent strings.Builder
	newContent.WriteString(existingContent)
	if len(existingContent) > 0 && !strings.HasSuffix(existingContent, "\n") {
		newContent.WriteString("\n")
	}
	newContent.WriteString("\n# Nexus\n")
	for _, entry := range nexusEntries {
		if !strings.Contains(existingContent, entry) {
			newContent.WriteString(entry + "\n")
		}
	}

	return os.WriteFile(gitignorePath, []byte(newContent.String()), 0644)
}

// createProjectConfig creates a .nexus.yaml template.
func createProjectConfig(repoPath string) error {
	configPath := filepath.Join(repoPath, ".nexus.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	template := `# Nexus Project Configuration
# This file overrides defaults from ~/.config/nexus/config.yaml

# llm:
#   backend: anthropic      # anthropic or cli
#   model: ""               # empty uses the backend default

# agents:
#   coders: 3
#   timeout: 30m

# qa:
#   build_command: ""       # e.g. "tsc --noEmit"; empty auto-detects
#   skip_lint: false
#   skip_review: false

# git:
#   base_branch: main
`

	return os.WriteFile(configPath, []byte(template), 0644)
}

// printStatus prints a status line with color.
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
