package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.LLM.Backend != "anthropic" {
		t.Errorf("expected default backend 'anthropic', got %q", cfg.LLM.Backend)
	}
	if cfg.LLM.CLIPath != "claude" {
		t.Errorf("expected default cli_path 'claude', got %q", cfg.LLM.CLIPath)
	}
	if cfg.Agents.Coders != 3 || cfg.Agents.QAFixers != 2 || cfg.Agents.Mergers != 1 {
		t.Errorf("agent capacities = %d/%d/%d, want 3/2/1",
			cfg.Agents.Coders, cfg.Agents.QAFixers, cfg.Agents.Mergers)
	}
	if cfg.Agents.Timeout != 30*time.Minute {
		t.Errorf("expected agent timeout 30m, got %v", cfg.Agents.Timeout)
	}
	if cfg.QA.MaxIterations != 50 {
		t.Errorf("expected qa max_iterations 50, got %d", cfg.QA.MaxIterations)
	}
	if cfg.Git.BaseBranch != "main" {
		t.Errorf("expected base branch 'main', got %q", cfg.Git.BaseBranch)
	}
	if cfg.Interview.ConfidenceThreshold != 0.7 {
		t.Errorf("expected confidence threshold 0.7, got %v", cfg.Interview.ConfidenceThreshold)
	}
	if cfg.Coordinator.PollInterval != 50*time.Millisecond {
		t.Errorf("expected poll interval 50ms, got %v", cfg.Coordinator.PollInterval)
	}
	if !cfg.Coordinator.CheckpointEveryWave {
		t.Error("expected checkpoint_every_wave to default true")
	}
}

func TestLoadFromPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
llm:
  backend: cli
  api_key: test-key
  model: claude-sonnet-4-20250514
agents:
  coders: 5
  timeout: 45m
qa:
  skip_lint: true
  stop_on_first_failure: true
git:
  base_branch: develop
events:
  verbose: true
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.LLM.Backend != "cli" {
		t.Errorf("expected backend 'cli', got %q", cfg.LLM.Backend)
	}
	if cfg.LLM.APIKey != "test-key" {
		t.Errorf("expected api_key 'test-key', got %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.Model != "claude-sonnet-4-20250514" {
		t.Errorf("expected model override, got %q", cfg.LLM.Model)
	}
	if cfg.Agents.Coders != 5 {
		t.Errorf("expected 5 coders, got %d", cfg.Agents.Coders)
	}
	if cfg.Agents.Timeout != 45*time.Minute {
		t.Errorf("expected agent timeout 45m, got %v", cfg.Agents.Timeout)
	}
	if !cfg.QA.SkipLint || !cfg.QA.StopOnFirstFailure {
		t.Error("expected qa overrides to apply")
	}
	if cfg.Git.BaseBranch != "develop" {
		t.Errorf("expected base branch 'develop', got %q", cfg.Git.BaseBranch)
	}
	if !cfg.Events.Verbose {
		t.Error("expected events.verbose true")
	}

	// Unset sections keep their defaults.
	if cfg.Agents.QAFixers != 2 {
		t.Errorf("expected default qa_fixers 2, got %d", cfg.Agents.QAFixers)
	}
	if cfg.Coordinator.StopGrace != 10*time.Second {
		t.Errorf("expected default stop_grace 10s, got %v", cfg.Coordinator.StopGrace)
	}
}

func TestExpandEnv(t *testing.T) {
	os.Setenv("TEST_VAR", "expanded-value")
	defer os.Unsetenv("TEST_VAR")

	result := expandEnv("${TEST_VAR}")
	if result != "expanded-value" {
		t.Errorf("expected 'expanded-value', got %q", result)
	}

	result = expandEnv("prefix-${TEST_VAR}-suffix")
	if result != "prefix-expanded-value-suffix" {
		t.Errorf("expected 'prefix-expanded-value-suffix', got %q", result)
	}
}

func TestGetUserConfigDir(t *testing.T) {
	os.Setenv("XDG_CONFIG_HOME", "/custom/config")
	defer os.Unsetenv("XDG_CONFIG_HOME")

	dir := getUserConfigDir()
	expected := "/custom/config/nexus"
	if dir != expected {
		t.Errorf("expected %q, got %q", expected, dir)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	os.Setenv("XDG_CONFIG_HOME", tmpDir)
	defer os.Unsetenv("XDG_CONFIG_HOME")

	cfg := Default()
	cfg.LLM.Model = "claude-haiku-4-5-20251001"
	cfg.Agents.Coders = 7
	cfg.QA.SkipReview = true

	if err := Save(cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadFromPath(GetUserConfigPath())
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if loaded.LLM.Model != "claude-haiku-4-5-20251001" {
		t.Errorf("model = %q", loaded.LLM.Model)
	}
	if loaded.Agents.Coders != 7 {
		t.Errorf("coders = %d", loaded.Agents.Coders)
	}
	if !loaded.QA.SkipReview {
		t.Error("expected skip_review to survive the round trip")
	}
}
