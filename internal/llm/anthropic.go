package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

const defaultMaxTokens = 8192

// AnthropicConfig configures an API-backed client.
type AnthropicConfig struct {
	// Model is the Claude model to use. Empty selects the default Sonnet.
	Model string
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY env var.
	APIKey string
	// UseBedrock routes calls through AWS Bedrock instead of the direct API.
	UseBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
	// MaxTokens caps the response length when a call does not override it.
	MaxTokens int64
	// Meter receives usage from every call. Nil uses DefaultMeter.
	Meter *Meter
}

// AnthropicClient talks to Claude through the official SDK, either
// directly or via Bedrock.
type AnthropicClient struct {
	inner     anthropic.Client
	model     anthropic.Model
	maxTokens int64
	meter     *Meter

	// debugLog is an optional logger for debug output
	debugLog func(format string, args ...interface{})
}

var _ Client = (*AnthropicClient)(nil)

// NewAnthropicClient creates an API-backed client.
func NewAnthropicClient(ctx context.Context, cfg AnthropicConfig) (*AnthropicClient, error) {
	var opts []option.RequestOption

	if cfg.UseBedrock {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, &AuthError{Provider: "anthropic", Hint: "ANTHROPIC_API_KEY environment variable is not set"}
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if cfg.UseBedrock {
		model = translateModelForBedrock(model)
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	meter := cfg.Meter
	if meter == nil {
		meter = DefaultMeter
	}

	return &AnthropicClient{
		inner:     anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		meter:     meter,
		debugLog:  func(format string, args ...interface{}) {},
	}, nil
}

// SetDebugLogger sets a logger for debug output.
func (c *AnthropicClient) SetDebugLogger(logger func(format string, args ...interface{})) {
	if logger != nil {
		c.debugLog = logger
	}
}

// Model returns the configured model name.
func (c *AnthropicClient) Model() string { return string(c.model) }

// CountTokens estimates the token count of text.
func (c *AnthropicClient) CountTokens(text string) int { return CountTokens(text) }

// Chat sends the conversation and blocks until the model finishes.
func (c *AnthropicClient) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	params := c.buildParams(messages, opts)

	c.debugLog("[llm] anthropic chat: model=%s messages=%d tools=%d", c.model, len(params.Messages), len(params.Tools))
	resp, err := c.inner.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyProviderError("anthropic", err)
	}

	out := &Response{
		Model: string(c.model),
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
		FinishReason: finishReasonOf(resp.StopReason),
	}
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content += variant.Text
		case anthropic.ToolUseBlock:
			call := ToolCall{ID: variant.ID, Name: variant.Name}
			if len(variant.Input) > 0 {
				if err := json.Unmarshal(variant.Input, &call.Input); err != nil {
					c.debugLog("[llm] tool input not decodable: %v", err)
				}
			}
			out.ToolCalls = append(out.ToolCalls, call)
		}
	}

	c.meter.Add(string(c.model), opts.AgentID, out.Usage)
	return out, nil
}

// ChatStream sends the conversation and emits the result as a short event
// sequence. The API backend completes the call before emitting; true
// incremental streaming only exists on the CLI backend.
func (c *AnthropicClient) ChatStream(ctx context.Context, messages []Message, opts Options) (<-chan StreamEvent, error) {
	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		resp, err := c.Chat(ctx, messages, opts)
		if err != nil {
			events <- StreamEvent{Type: StreamError, Err: err}
			return
		}
		if resp.Content != "" {
			events <- StreamEvent{Type: StreamText, Text: resp.Content}
		}
		for _, call := range resp.ToolCalls {
			events <- StreamEvent{Type: StreamTool, ToolName: call.Name}
		}
		events <- StreamEvent{Type: StreamDone, Response: resp}
	}()
	return events, nil
}

func (c *AnthropicClient) buildParams(messages []Message, opts Options) anthropic.MessageNewParams {
	system, rest := splitSystem(messages)

	msgs := make([]anthropic.MessageParam, 0, len(rest))
	for _, m := range rest {
		switch m.Role {
		case RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}
	if len(opts.StopSequences) > 0 {
		params.StopSequences = opts.StopSequences
	}
	if !opts.DisableTools {
		params.Tools = buildToolParams(opts.Tools)
	}
	return params
}

// buildToolParams converts tool definitions to SDK params. The schemas
// pass through untouched; the engine never interprets them.
func buildToolParams(defs []ToolDef) []anthropic.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        def.Name,
				Description: anthropic.String(def.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: def.InputSchema,
					Required:   def.Required,
				},
			},
		})
	}
	return tools
}

func finishReasonOf(reason anthropic.StopReason) FinishReason {
	switch reason {
	case anthropic.StopReasonEndTurn:
		return FinishEndTurn
	case anthropic.StopReasonMaxTokens:
		return FinishMaxTokens
	case anthropic.StopReasonToolUse:
		return FinishToolUse
	case anthropic.StopReasonStopSequence:
		return FinishStop
	default:
		return FinishEndTurn
	}
}

// translateModelForBedrock converts standard Anthropic model names to
// Bedrock cross-region inference profile format: us.anthropic.{model}-v1:0
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaudeOpus4_5_20251101:   "us.anthropic.claude-opus-4-5-20251101-v1:0",
		anthropic.ModelClaude3_7Sonnet20250219:  "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}
	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}
	// Not in map: might already be Bedrock format or a custom model.
	return model
}
