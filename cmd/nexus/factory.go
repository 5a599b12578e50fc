package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nexus-ai/nexus/internal/config"
	"github.com/nexus-ai/nexus/internal/llm"
)

// newLLMClient builds the configured model backend, wrapped with the
// retry layer.
func newLLMClient(ctx context.Context, cfg *config.Config) (llm.Client, error) {
	var client llm.Client

	switch cfg.LLM.Backend {
	case "", "anthropic":
		apiKey, _ := config.GetAPIKey(cfg)
		if apiKey == "" && !cfg.LLM.UseBedrock {
			return nil, fmt.Errorf("no API key: set ANTHROPIC_API_KEY or run 'nexus config llm.api_key <key>'")
		}
		c, err := llm.NewAnthropicClient(ctx, llm.AnthropicConfig{
			Model:      cfg.LLM.Model,
			APIKey:     apiKey,
			UseBedrock: cfg.LLM.UseBedrock,
			AWSRegion:  cfg.LLM.AWSRegion,
		})
		if err != nil {
			return nil, fmt.Errorf("create anthropic client: %w", err)
		}
		client = c
	case "cli":
		if err := CheckClaudeCLI(cfg.LLM.CLIPath); err != nil {
			return nil, err
		}
		c, err := llm.NewCLIClient(llm.CLIConfig{
			Binary: cfg.LLM.CLIPath,
			Model:  cfg.LLM.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("create cli client: %w", err)
		}
		client = c
	default:
		return nil, fmt.Errorf("unknown llm backend %q (want anthropic or cli)", cfg.LLM.Backend)
	}

	retries := cfg.LLM.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return llm.NewRetryClient(client, retries, time.Second), nil
}
