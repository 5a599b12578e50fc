// Package config handles configuration loading and management for Nexus.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Nexus.
type Config struct {
	LLM         LLMConfig         `mapstructure:"llm"`
	Agents      AgentsConfig      `mapstructure:"agents"`
	QA          QAConfig          `mapstructure:"qa"`
	Git         GitConfig         `mapstructure:"git"`
	Interview   InterviewConfig   `mapstructure:"interview"`
	Events      EventsConfig      `mapstructure:"events"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
}

// LLMConfig selects and authenticates the model backend.
type LLMConfig struct {
	// Backend is "anthropic" (API or Bedrock) or "cli" (subprocess).
	Backend string `mapstructure:"backend"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	// UseBedrock routes anthropic-backend calls through AWS Bedrock.
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	// CLIPath is the claude binary for the cli backend.
	CLIPath string `mapstructure:"cli_path"`
	// MaxRetries caps retry attempts for transient API failures.
	MaxRetries int `mapstructure:"max_retries"`
}

// AgentsConfig sizes the agent pool.
type AgentsConfig struct {
	Coders   int `mapstructure:"coders"`
	QAFixers int `mapstructure:"qa_fixers"`
	Mergers  int `mapstructure:"mergers"`
	// MaxIterations caps one agent's conversation loop.
	MaxIterations int           `mapstructure:"max_iterations"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// QAConfig tunes the quality loop.
type QAConfig struct {
	MaxIterations      int  `mapstructure:"max_iterations"`
	StopOnFirstFailure bool `mapstructure:"stop_on_first_failure"`
	FixLint            bool `mapstructure:"fix_lint"`
	SkipLint           bool `mapstructure:"skip_lint"`
	SkipTests          bool `mapstructure:"skip_tests"`
	SkipReview         bool `mapstructure:"skip_review"`
	// BuildCommand overrides the default build check (e.g. "tsc --noEmit").
	BuildCommand string `mapstructure:"build_command"`
}

// GitConfig controls branching and worktree placement.
type GitConfig struct {
	BaseBranch string `mapstructure:"base_branch"`
	// WorktreeDir holds per-task worktrees; relative paths resolve
	// against the project root.
	WorktreeDir  string `mapstructure:"worktree_dir"`
	PushToRemote bool   `mapstructure:"push_to_remote"`
	Remote       string `mapstructure:"remote"`
}

// InterviewConfig tunes requirement capture.
type InterviewConfig struct {
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold"`
	AutosaveInterval    time.Duration `mapstructure:"autosave_interval"`
}

// EventsConfig controls run output.
type EventsConfig struct {
	// LogPath appends every event as JSONL; empty disables the file log.
	LogPath string `mapstructure:"log_path"`
	Verbose bool   `mapstructure:"verbose"`
}

// CoordinatorConfig tunes the orchestration loop.
type CoordinatorConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	StopGrace    time.Duration `mapstructure:"stop_grace"`
	// CheckpointEveryWave creates an automatic checkpoint at wave ends.
	CheckpointEveryWave bool `mapstructure:"checkpoint_every_wave"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables. Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, NEXUS_*)
// 2. Project config (.nexus.yaml in current directory or a parent)
// 3. User config (~/.config/nexus/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("NEXUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("llm.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.LLM.APIKey = expandEnv(cfg.LLM.APIKey)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.LLM.APIKey = expandEnv(cfg.LLM.APIKey)
	return cfg, nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(userConfigDir, "config.yaml"))

	v.Set("llm.backend", cfg.LLM.Backend)
	v.Set("llm.api_key", cfg.LLM.APIKey)
	v.Set("llm.model", cfg.LLM.Model)
	v.Set("llm.use_bedrock", cfg.LLM.UseBedrock)
	v.Set("llm.aws_region", cfg.LLM.AWSRegion)
	v.Set("llm.cli_path", cfg.LLM.CLIPath)
	v.Set("llm.max_retries", cfg.LLM.MaxRetries)
	v.Set("agents.coders", cfg.Agents.Coders)
	v.Set("agents.qa_fixers", cfg.Agents.QAFixers)
	v.Set("agents.mergers", cfg.Agents.Mergers)
	v.Set("agents.max_iterations", cfg.Agents.MaxIterations)
	v.Set("agents.timeout", cfg.Agents.Timeout.String())
	v.Set("qa.max_iterations", cfg.QA.MaxIterations)
	v.Set("qa.stop_on_first_failure", cfg.QA.StopOnFirstFailure)
	v.Set("qa.fix_lint", cfg.QA.FixLint)
	v.Set("qa.skip_lint", cfg.QA.SkipLint)
	v.Set("qa.skip_tests", cfg.QA.SkipTests)
	v.Set("qa.skip_review", cfg.QA.SkipReview)
	v.Set("qa.build_command", cfg.QA.BuildCommand)
	v.Set("git.base_branch", cfg.Git.BaseBranch)
	v.Set("git.worktree_dir", cfg.Git.WorktreeDir)
	v.Set("git.push_to_remote", cfg.Git.PushToRemote)
	v.Set("git.remote", cfg.Git.Remote)
	v.Set("interview.confidence_threshold", cfg.Interview.ConfidenceThreshold)
	v.Set("interview.autosave_interval", cfg.Interview.AutosaveInterval.String())
	v.Set("events.log_path", cfg.Events.LogPath)
	v.Set("events.verbose", cfg.Events.Verbose)
	v.Set("coordinator.poll_interval", cfg.Coordinator.PollInterval.String())
	v.Set("coordinator.stop_grace", cfg.Coordinator.StopGrace.String())
	v.Set("coordinator.checkpoint_every_wave", cfg.Coordinator.CheckpointEveryWave)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it
// exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.backend", "anthropic")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.use_bedrock", false)
	v.SetDefault("llm.aws_region", "")
	v.SetDefault("llm.cli_path", "claude")
	v.SetDefault("llm.max_retries", 3)

	v.SetDefault("agents.coders", 3)
	v.SetDefault("agents.qa_fixers", 2)
	v.SetDefault("agents.mergers", 1)
	v.SetDefault("agents.max_iterations", 50)
	v.SetDefault("agents.timeout", "30m")

	v.SetDefault("qa.max_iterations", 50)
	v.SetDefault("qa.stop_on_first_failure", false)
	v.SetDefault("qa.fix_lint", false)
	v.SetDefault("qa.skip_lint", false)
	v.SetDefault("qa.skip_tests", false)
	v.SetDefault("qa.skip_review", false)
	v.SetDefault("qa.build_command", "")

	v.SetDefault("git.base_branch", "main")
	v.SetDefault("git.worktree_dir", ".nexus/worktrees")
	v.SetDefault("git.push_to_remote", false)
	v.SetDefault("git.remote", "origin")

	v.SetDefault("interview.confidence_threshold", 0.7)
	v.SetDefault("interview.autosave_interval", "30s")

	v.SetDefault("events.log_path", ".nexus/events.jsonl")
	v.SetDefault("events.verbose", false)

	v.SetDefault("coordinator.poll_interval", "50ms")
	v.SetDefault("coordinator.stop_grace", "10s")
	v.SetDefault("coordinator.checkpoint_every_wave", true)
}

// getUserConfigDir returns the XDG config directory for Nexus.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "nexus")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "nexus")
	}
	return filepath.Join(home, ".config", "nexus")
}

// findProjectConfig searches for .nexus.yaml in the current directory and
// parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".nexus.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Backend:    "anthropic",
			CLIPath:    "claude",
			MaxRetries: 3,
		},
		Agents: AgentsConfig{
			Coders:        3,
			QAFixers:      2,
			Mergers:       1,
			MaxIterations: 50,
			Timeout:       30 * time.Minute,
		},
		QA: QAConfig{
			MaxIterations: 50,
		},
		Git: GitConfig{
			BaseBranch:  "main",
			WorktreeDir: ".nexus/worktrees",
			Remote:      "origin",
		},
		Interview: InterviewConfig{
			ConfidenceThreshold: 0.7,
			AutosaveInterval:    30 * time.Second,
		},
		Events: EventsConfig{
			LogPath: ".nexus/events.jsonl",
		},
		Coordinator: CoordinatorConfig{
			PollInterval:        50 * time.Millisecond,
			StopGrace:           10 * time.Second,
			CheckpointEveryWave: true,
		},
	}
}
