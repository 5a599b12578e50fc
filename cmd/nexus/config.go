package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexus-ai/nexus/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify Nexus configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/nexus/config.yaml
Project-specific overrides can be placed in .nexus.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("llm.backend: %s\n", cfg.LLM.Backend)
	fmt.Printf("llm.api_key: %s\n", config.MaskAPIKey(cfg.LLM.APIKey))
	fmt.Printf("llm.model: %s\n", orDefault(cfg.LLM.Model, "(backend default)"))
	fmt.Printf("llm.use_bedrock: %t\n", cfg.LLM.UseBedrock)
	fmt.Printf("llm.cli_path: %s\n", cfg.LLM.CLIPath)
	fmt.Printf("llm.max_retries: %d\n", cfg.LLM.MaxRetries)
	fmt.Printf("agents.coders: %d\n", cfg.Agents.Coders)
	fmt.Printf("agents.qa_fixers: %d\n", cfg.Agents.QAFixers)
	fmt.Printf("agents.mergers: %d\n", cfg.Agents.Mergers)
	fmt.Printf("agents.max_iterations: %d\n", cfg.Agents.MaxIterations)
	fmt.Printf("agents.timeout: %s\n", cfg.Agents.Timeout)
	fmt.Printf("qa.max_iterations: %d\n", cfg.QA.MaxIterations)
	fmt.Printf("qa.stop_on_first_failure: %t\n", cfg.QA.StopOnFirstFailure)
	fmt.Printf("qa.skip_lint: %t\n", cfg.QA.SkipLint)
	fmt.Printf("qa.skip_tests: %t\n", cfg.QA.SkipTests)
	fmt.Printf("qa.skip_review: %t\n", cfg.QA.SkipReview)
	fmt.Printf("qa.build_command: %s\n", orDefault(cfg.QA.BuildCommand, "(auto-detect)"))
	fmt.Printf("git.base_branch: %s\n", cfg.Git.BaseBranch)
	fmt.Printf("git.worktree_dir: %s\n", cfg.Git.WorktreeDir)
	fmt.Printf("interview.confidence_threshold: %g\n", cfg.Interview.ConfidenceThreshold)
	fmt.Printf("interview.autosave_interval: %s\n", cfg.Interview.AutosaveInterval)
	fmt.Printf("events.log_path: %s\n", cfg.Events.LogPath)
	fmt.Printf("events.verbose: %t\n", cfg.Events.Verbose)
	fmt.Printf("coordinator.poll_interval: %s\n", cfg.Coordinator.PollInterval)
	fmt.Printf("coordinator.stop_grace: %s\n", cfg.Coordinator.StopGrace)
	fmt.Printf("coordinator.checkpoint_every_wave: %t\n", cfg.Coordinator.CheckpointEveryWave)
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "llm.backend":
		return cfg.LLM.Backend, nil
	case "llm.api_key":
		return config.MaskAPIKey(cfg.LLM.APIKey), nil
	case "llm.model":
		return orDefault(cfg.LLM.Model, "(backend default)"), nil
	case "llm.use_bedrock":
		return strconv.FormatBool(cfg.LLM.UseBedrock), nil
	case "llm.aws_region":
		return cfg.LLM.AWSRegion, nil
	case "llm.cli_path":
		return cfg.LLM.CLIPath, nil
	case "llm.max_retries":
		return strconv.Itoa(cfg.LLM.MaxRetries), nil
	case "agents.coders":
		return strconv.Itoa(cfg.Agents.Coders), nil
	case "agents.qa_fixers":
		return strconv.Itoa(cfg.Agents.QAFixers), nil
	case "agents.mergers":
		return strconv.Itoa(cfg.Agents.Mergers), nil
	case "agents.max_iterations":
		return strconv.Itoa(cfg.Agents.MaxIterations), nil
	case "agents.timeout":
		return cfg.Agents.Timeout.String(), nil
	case "qa.max_iterations":
		return strconv.Itoa(cfg.QA.MaxIterations), nil
	case "qa.stop_on_first_failure":
		return strconv.FormatBool(cfg.QA.StopOnFirstFailure), nil
	case "qa.skip_lint":
		return strconv.FormatBool(cfg.QA.SkipLint), nil
	case "qa.skip_tests":
		return strconv.FormatBool(cfg.QA.SkipTests), nil
	case "qa.skip_review":
		return strconv.FormatBool(cfg.QA.SkipReview), nil
	case "qa.build_command":
		return cfg.QA.BuildCommand, nil
	case "git.base_branch":
		return cfg.Git.BaseBranch, nil
	case "git.worktree_dir":
		return cfg.Git.WorktreeDir, nil
	case "interview.confidence_threshold":
		return strconv.FormatFloat(cfg.Interview.ConfidenceThreshold, 'g', -1, 64), nil
	case "interview.autosave_interval":
		return cfg.Interview.AutosaveInterval.String(), nil
	case "events.log_path":
		return cfg.Events.LogPath, nil
	case "events.verbose":
		return strconv.FormatBool(cfg.Events.Verbose), nil
	case "coordinator.poll_interval":
		return cfg.Coordinator.PollInterval.String(), nil
	case "coordinator.stop_grace":
		return cfg.Coordinator.StopGrace.String(), nil
	case "coordinator.checkpoint_every_wave":
		return strconv.FormatBool(cfg.Coordinator.CheckpointEveryWave), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	setInt := func(dst *int) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		*dst = n
		return nil
	}
	setBool := func(dst *bool) error {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for %s: %w", key, err)
		}
		*dst = b
		return nil
	}
	setDuration := func(dst *time.Duration) error {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	switch strings.ToLower(key) {
	case "llm.backend":
		if value != "anthropic" && value != "cli" {
			return fmt.Errorf("invalid backend %q (want anthropic or cli)", value)
		}
		cfg.LLM.Backend = value
	case "llm.api_key":
		cfg.LLM.APIKey = value
	case "llm.model":
		cfg.LLM.Model = value
	case "llm.use_bedrock":
		return setBool(&cfg.LLM.UseBedrock)
	case "llm.aws_region":
		cfg.LLM.AWSRegion = value
	case "llm.cli_path":
		cfg.LLM.CLIPath = value
	case "llm.max_retries":
		return setInt(&cfg.LLM.MaxRetries)
	case "agents.coders":
		return setInt(&cfg.Agents.Coders)
	case "agents.qa_fixers":
		return setInt(&cfg.Agents.QAFixers)
	case "agents.mergers":
		return setInt(&cfg.Agents.Mergers)
	case "agents.max_iterations":
		return setInt(&cfg.Agents.MaxIterations)
	case "agents.timeout":
		return setDuration(&cfg.Agents.Timeout)
	case "qa.max_iterations":
		return setInt(&cfg.QA.MaxIterations)
	case "qa.stop_on_first_failure":
		return setBool(&cfg.QA.StopOnFirstFailure)
	case "qa.skip_lint":
		return setBool(&cfg.QA.SkipLint)
	case "qa.skip_tests":
		return setBool(&cfg.QA.SkipTests)
	case "qa.skip_review":
		return setBool(&cfg.QA.SkipReview)
	case "qa.build_command":
		cfg.QA.BuildCommand = value
	case "git.base_branch":
		cfg.Git.BaseBranch = value
	case "git.worktree_dir":
		cfg.Git.WorktreeDir = value
	case "interview.confidence_threshold":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float for %s: %w", key, err)
		}
		cfg.Interview.ConfidenceThreshold = f
	case "interview.autosave_interval":
		return setDuration(&cfg.Interview.AutosaveInterval)
	case "events.log_path":
		cfg.Events.LogPath = value
	case "events.verbose":
		return setBool(&cfg.Events.Verbose)
	case "coordinator.poll_interval":
		return setDuration(&cfg.Coordinator.PollInterval)
	case "coordinator.stop_grace":
		return setDuration(&cfg.Coordinator.StopGrace)
	case "coordinator.checkpoint_every_wave":
		return setBool(&cfg.Coordinator.CheckpointEveryWave)
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
