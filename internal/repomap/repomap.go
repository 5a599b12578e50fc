// Package repomap renders an existing repository as a compact text map
// for evolution-mode prompts: a file tree, a language summary, and a
// sample of exported symbols, truncated to a token budget.
package repomap

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/nexus-ai/nexus/internal/llm"
)

// DefaultTokenBudget caps how large a rendered map may grow. Evolution
// prompts prepend the map to every feature, so it has to stay small.
const DefaultTokenBudget = 8000

// maxSymbolFiles caps how many files contribute to the symbol sample.
const maxSymbolFiles = 40

// maxSymbolsPerFile caps the symbols listed per file.
const maxSymbolsPerFile = 6

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	".nexus": true, "dist": true, "__pycache__": true, "target": true,
}

// languageByExt maps file extensions to display names for the summary.
var languageByExt = map[string]string{
	".go": "Go", ".ts": "TypeScript", ".tsx": "TypeScript",
	".js": "JavaScript", ".jsx": "JavaScript", ".py": "Python",
	".rs": "Rust", ".rb": "Ruby", ".java": "Java",
	".c": "C", ".h": "C", ".cpp": "C++", ".hpp": "C++",
	".kt": "Kotlin", ".swift": "Swift", ".php": "PHP",
}

var symbolPatterns = map[string]*regexp.Regexp{
	"go":     regexp.MustCompile(`(?m)^(?:func|type) (?:\([^)]+\) )?([A-Z]\w*)`),
	"ts":     regexp.MustCompile(`(?m)^export (?:default )?(?:abstract )?(?:async )?(?:function|class|const|interface|type|enum) (\w+)`),
	"python": regexp.MustCompile(`(?m)^(?:class|def) (\w+)`),
}

// Generator renders repository maps.
type Generator struct {
	budget      int
	countTokens func(string) int
	debugLog    func(format string, args ...interface{})
}

// NewGenerator creates a Generator with the default token budget.
func NewGenerator() *Generator {
	return &Generator{
		budget:      DefaultTokenBudget,
		countTokens: llm.CountTokens,
		debugLog:    func(string, ...interface{}) {},
	}
}

// SetBudget overrides the token budget.
func (g *Generator) SetBudget(n int) {
	if n > 0 {
		g.budget = n
	}
}

// SetDebugLogger sets the debug logging function.
func (g *Generator) SetDebugLogger(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Generate walks root and renders its map. The result fits the token
// budget; when the full map would not, sections are truncated tree-first.
func (g *Generator) Generate(root string) (string, error) {
	files, err := collectFiles(root)
	if err != nil {
		return "", fmt.Errorf("walk %s: %w", root, err)
	}
	if len(files) == 0 {
		return fmt.Sprintf("Repository map for %s: empty repository\n", filepath.Base(root)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Repository map for %s (%d files):\n\n", filepath.Base(root), len(files))
	b.WriteString(g.fitSection(renderTree(files), g.budget*6/10))
	b.WriteString("\n" + renderLanguages(files) + "\n")

	symbols := g.renderSymbols(root, files)
	if symbols != "" {
		remaining := g.budget - g.countTokens(b.String())
		if remaining > 100 {
			b.WriteString("\nKey symbols:\n")
			b.WriteString(g.fitSection(symbols, remaining))
		}
	}

	out := b.String()
	g.debugLog("[repomap] rendered %s: %d files, ~%d tokens", root, len(files), g.countTokens(out))
	return out, nil
}

// fitSection truncates text to roughly the given token allowance, cutting
// at a line boundary.
func (g *Generator) fitSection(text string, budget int) string {
	if g.countTokens(text) <= budget {
		return text
	}
	lines := strings.Split(text, "\n")
	for len(lines) > 1 {
		lines = lines[:len(lines)/2]
		candidate := strings.Join(lines, "\n") + "\n... (truncated)\n"
		if g.countTokens(candidate) <= budget {
			return candidate
		}
	}
	return "... (truncated)\n"
}

func collectFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if skipDirs[name] || (strings.HasPrefix(name, ".") && path != root) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(files)
	return files, err
}

// renderTree prints files grouped by directory, directories sorted.
func renderTree(files []string) string {
	byDir := make(map[string][]string)
	for _, f := range files {
		dir := filepath.ToSlash(filepath.Dir(f))
		if dir == "." {
			dir = ""
		}
		byDir[dir] = append(byDir[dir], filepath.Base(f))
	}
	dirs := make([]string, 0, len(byDir))
	for dir := range byDir {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	var b strings.Builder
	for _, dir := range dirs {
		if dir == "" {
			b.WriteString("./\n")
		} else {
			b.WriteString(dir + "/\n")
		}
		for _, name := range byDir[dir] {
			b.WriteString("  " + name + "\n")
		}
	}
	return b.String()
}

func renderLanguages(files []string) string {
	counts := make(map[string]int)
	for _, f := range files {
		if lang, ok := languageByExt[strings.ToLower(filepath.Ext(f))]; ok {
			counts[lang]++
		}
	}
	if len(counts) == 0 {
		return "Languages: none detected"
	}
	langs := make([]string, 0, len(counts))
	for lang := range counts {
		langs = append(langs, lang)
	}
	sort.Slice(langs, func(i, j int) bool {
		if counts[langs[i]] != counts[langs[j]] {
			return counts[langs[i]] > counts[langs[j]]
		}
		return langs[i] < langs[j]
	})
	parts := make([]string, len(langs))
	for i, lang := range langs {
		parts[i] = fmt.Sprintf("%s (%d files)", lang, counts[lang])
	}
	return "Languages: " + strings.Join(parts, ", ")
}

// renderSymbols samples exported declarations from source files so the
// model knows what already exists without reading every file.
func (g *Generator) renderSymbols(root string, files []string) string {
	var b strings.Builder
	sampled := 0
	for _, f := range files {
		if sampled >= maxSymbolFiles {
			break
		}
		pattern := patternFor(f)
		if pattern == nil {
			continue
		}
		content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(f)))
		if err != nil {
			continue
		}
		var symbols []string
		for _, m := range pattern.FindAllStringSubmatch(string(content), maxSymbolsPerFile) {
			symbols = append(symbols, m[1])
		}
		if len(symbols) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", f, strings.Join(symbols, ", "))
		sampled++
	}
	return b.String()
}

func patternFor(path string) *regexp.Regexp {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return symbolPatterns["go"]
	case ".ts", ".tsx", ".js", ".jsx":
		return symbolPatterns["ts"]
	case ".py":
		return symbolPatterns["python"]
	default:
		return nil
	}
}
