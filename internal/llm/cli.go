package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// defaultAllowedTools is passed to the CLI so agents can work without
// permission prompts. Project-level settings can still deny patterns.
const defaultAllowedTools = "Read,Write,Edit,Bash,Glob,Grep,WebFetch"

// CLIConfig configures a subprocess-backed client.
type CLIConfig struct {
	// Binary is the CLI executable name. Empty means "claude".
	Binary string
	// Model is passed with --model when set; empty uses the CLI default.
	Model string
	// Meter receives usage from every call. Nil uses DefaultMeter.
	Meter *Meter
}

// CLIClient runs the claude CLI as a subprocess with stream-json output.
// Calls run inside Options.WorkingDirectory, which is how coder agents
// operate in their task worktrees with full tool access.
type CLIClient struct {
	binary string
	model  string
	meter  *Meter

	// debugLog is an optional logger for debug output
	debugLog func(format string, args ...interface{})
}

var _ Client = (*CLIClient)(nil)

// NewCLIClient creates a subprocess-backed client, verifying the binary
// is installed before any call is attempted.
func NewCLIClient(cfg CLIConfig) (*CLIClient, error) {
	binary := cfg.Binary
	if binary == "" {
		binary = "claude"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, &CLINotFoundError{
			Binary: binary,
			Hint:   "install it with: npm install -g @anthropic-ai/claude-code",
		}
	}
	meter := cfg.Meter
	if meter == nil {
		meter = DefaultMeter
	}
	return &CLIClient{
		binary:   binary,
		model:    cfg.Model,
		meter:    meter,
		debugLog: func(format string, args ...interface{}) {},
	}, nil
}

// SetDebugLogger sets a logger for debug output.
func (c *CLIClient) SetDebugLogger(logger func(format string, args ...interface{})) {
	if logger != nil {
		c.debugLog = logger
	}
}

// Model returns the configured model name, or the CLI default marker.
func (c *CLIClient) Model() string {
	if c.model == "" {
		return "claude-cli-default"
	}
	return c.model
}

// CountTokens estimates the token count of text.
func (c *CLIClient) CountTokens(text string) int { return CountTokens(text) }

// Chat runs the CLI to completion and returns the final result text.
func (c *CLIClient) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	events, err := c.ChatStream(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	var resp *Response
	for event := range events {
		switch event.Type {
		case StreamError:
			return nil, event.Err
		case StreamDone:
			resp = event.Response
		}
	}
	if resp == nil {
		return nil, &CLIError{ExitCode: -1, Stderr: "stream ended without a result event"}
	}
	return resp, nil
}

// ChatStream launches the CLI and translates its stream-json lines into
// events. The channel closes after the done or error event.
func (c *CLIClient) ChatStream(ctx context.Context, messages []Message, opts Options) (<-chan StreamEvent, error) {
	prompt := renderPrompt(messages)
	args := c.buildArgs(prompt, opts)

	cmd := exec.CommandContext(ctx, c.binary, args...)
	if opts.WorkingDirectory != "" {
		cmd.Dir = opts.WorkingDirectory
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", c.binary, err)
	}
	c.debugLog("[llm] cli started: pid=%d dir=%s", cmd.Process.Pid, cmd.Dir)

	events := make(chan StreamEvent, 100)

	var stderrMu sync.Mutex
	var stderrBuf strings.Builder
	go func() {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 16*1024), 256*1024)
		for scanner.Scan() {
			stderrMu.Lock()
			stderrBuf.Write(scanner.Bytes())
			stderrBuf.WriteByte('\n')
			stderrMu.Unlock()
		}
	}()

	go func() {
		defer close(events)

		result := c.consumeStdout(ctx, stdout, events, prompt)

		waitErr := cmd.Wait()
		stderrMu.Lock()
		stderrText := strings.TrimSpace(stderrBuf.String())
		stderrMu.Unlock()

		if waitErr != nil {
			exitCode := -1
			var exitErr *exec.ExitError
			if errors.As(waitErr, &exitErr) {
				exitCode = exitErr.ExitCode()
			}
			if ctx.Err() != nil {
				events <- StreamEvent{Type: StreamError, Err: &TimeoutError{Wrapped: ctx.Err()}}
				return
			}
			events <- StreamEvent{Type: StreamError, Err: &CLIError{ExitCode: exitCode, Stderr: stderrText}}
			return
		}
		if result == nil {
			events <- StreamEvent{Type: StreamError,
				Err: &CLIError{ExitCode: 0, Stderr: "no result event in output; " + stderrText}}
			return
		}

		c.meter.Add(c.Model(), opts.AgentID, result.Usage)
		events <- StreamEvent{Type: StreamDone, Response: result}
	}()

	return events, nil
}

// consumeStdout parses stream-json lines until EOF, emitting incremental
// events and returning the final response when a result line arrives.
func (c *CLIClient) consumeStdout(ctx context.Context, stdout interface{ Read([]byte) (int, error) }, events chan<- StreamEvent, prompt string) *Response {
	scanner := bufio.NewScanner(stdout)
	// Large buffer: assistant turns can be a single long JSON line.
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var result *Response
	for scanner.Scan() {
		if ctx.Err() != nil {
			return result
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var raw map[string]interface{}
		if err := json.Unmarshal(line, &raw); err != nil {
			c.debugLog("[llm] cli emitted non-json line: %q", string(line))
			continue
		}

		eventType, _ := raw["type"].(string)
		switch eventType {
		case "system":
			events <- StreamEvent{Type: StreamSystem, Text: stringField(raw, "message", "content")}
		case "assistant":
			if tool := extractToolName(raw); tool != "" {
				events <- StreamEvent{Type: StreamTool, ToolName: tool}
			}
			if text := extractAssistantText(raw); text != "" {
				events <- StreamEvent{Type: StreamText, Text: text}
			}
		case "result":
			content := stringField(raw, "result", "content")
			result = &Response{
				Content:      content,
				Model:        c.Model(),
				FinishReason: FinishEndTurn,
				Usage:        c.usageFrom(raw, prompt, content),
			}
		case "error":
			msg := stringField(raw, "error", "message")
			events <- StreamEvent{Type: StreamError, Err: classifyProviderError("claude-cli", errors.New(msg))}
		}
	}
	return result
}

// usageFrom reads token counts from the result event when present, and
// estimates them from the text otherwise.
func (c *CLIClient) usageFrom(raw map[string]interface{}, prompt, content string) Usage {
	if usage, ok := raw["usage"].(map[string]interface{}); ok {
		in, inOK := usage["input_tokens"].(float64)
		out, outOK := usage["output_tokens"].(float64)
		if inOK || outOK {
			return Usage{InputTokens: int64(in), OutputTokens: int64(out)}
		}
	}
	return Usage{
		InputTokens:  int64(CountTokens(prompt)),
		OutputTokens: int64(CountTokens(content)),
		Estimated:    true,
	}
}

func (c *CLIClient) buildArgs(prompt string, opts Options) []string {
	args := []string{
		"--output-format", "stream-json",
		"--print",
		"--verbose",
	}
	// Print mode denies tools that are not allowlisted, so omitting the
	// flag is how tool-free calls are made.
	if !opts.DisableTools {
		args = append(args, "--allowedTools", defaultAllowedTools)
	}
	if c.model != "" {
		args = append(args, "--model", c.model)
	}
	args = append(args, "-p", prompt)
	return args
}

// renderPrompt flattens a conversation into a single prompt string, since
// the CLI takes one prompt rather than structured messages.
func renderPrompt(messages []Message) string {
	system, rest := splitSystem(messages)

	if len(rest) == 1 && system == "" {
		return rest[0].Content
	}

	var sb strings.Builder
	if system != "" {
		sb.WriteString(system)
		sb.WriteString("\n\n")
	}
	if len(rest) == 1 {
		sb.WriteString(rest[0].Content)
		return sb.String()
	}
	for i, m := range rest {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		switch m.Role {
		case RoleAssistant:
			sb.WriteString("Assistant: ")
		default:
			sb.WriteString("User: ")
		}
		sb.WriteString(m.Content)
	}
	return sb.String()
}

func stringField(raw map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := raw[key].(string); ok {
			return v
		}
	}
	return ""
}

// extractAssistantText pulls text blocks out of an assistant event.
// The CLI nests them under message.content as typed blocks.
func extractAssistantText(raw map[string]interface{}) string {
	if msg, ok := raw["message"].(string); ok {
		return msg
	}
	blocks := contentBlocks(raw)
	var sb strings.Builder
	for _, block := range blocks {
		if blockType, _ := block["type"].(string); blockType == "text" {
			if text, ok := block["text"].(string); ok {
				sb.WriteString(text)
			}
		}
	}
	return sb.String()
}

// extractToolName finds the first tool_use block in an assistant event.
func extractToolName(raw map[string]interface{}) string {
	for _, block := range contentBlocks(raw) {
		if blockType, _ := block["type"].(string); blockType == "tool_use" {
			name, _ := block["name"].(string)
			return name
		}
	}
	return ""
}

func contentBlocks(raw map[string]interface{}) []map[string]interface{} {
	var items []interface{}
	if msg, ok := raw["message"].(map[string]interface{}); ok {
		items, _ = msg["content"].([]interface{})
	}
	if items == nil {
		items, _ = raw["content"].([]interface{})
	}
	blocks := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if block, ok := item.(map[string]interface{}); ok {
			blocks = append(blocks, block)
		}
	}
	return blocks
}
