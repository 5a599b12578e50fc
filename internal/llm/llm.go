// Package llm abstracts the language-model providers behind a single
// Client interface so the rest of the engine never touches provider SDKs.
// Two backends exist: the Anthropic API (directly or through AWS Bedrock)
// and the claude CLI run as a subprocess inside a task worktree.
package llm

import "context"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ToolDef describes a tool the model may call. The engine passes these
// through to the provider opaquely; it never interprets the schema itself.
type ToolDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
	Required    []string               `json:"required,omitempty"`
}

// ToolCall is a tool invocation the model requested in its response.
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// Usage is the token accounting for a single call. CLI-backed calls
// estimate these counts when the subprocess does not report them.
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
	Estimated    bool  `json:"estimated,omitempty"`
}

// FinishReason says why the model stopped generating.
type FinishReason string

const (
	FinishEndTurn   FinishReason = "end_turn"
	FinishMaxTokens FinishReason = "max_tokens"
	FinishToolUse   FinishReason = "tool_use"
	FinishStop      FinishReason = "stop_sequence"
)

// Response is the result of a completed Chat call.
type Response struct {
	Content      string       `json:"content"`
	ToolCalls    []ToolCall   `json:"toolCalls,omitempty"`
	Usage        Usage        `json:"usage"`
	Model        string       `json:"model"`
	FinishReason FinishReason `json:"finishReason"`
}

// StreamEventType discriminates events on a ChatStream channel.
type StreamEventType string

const (
	StreamText   StreamEventType = "text"
	StreamTool   StreamEventType = "tool"
	StreamError  StreamEventType = "error"
	StreamDone   StreamEventType = "done"
	StreamSystem StreamEventType = "system"
)

// StreamEvent is one incremental event from a streaming call. Done events
// carry the final Response; Error events carry Err.
type StreamEvent struct {
	Type     StreamEventType `json:"type"`
	Text     string          `json:"text,omitempty"`
	ToolName string          `json:"toolName,omitempty"`
	Err      error           `json:"-"`
	Response *Response       `json:"-"`
}

// Options tunes a single call. Zero values mean "use the client default".
type Options struct {
	MaxTokens        int64
	Temperature      float64
	StopSequences    []string
	Tools            []ToolDef
	Thinking         bool
	WorkingDirectory string
	AgentID          string
	TaskID           string
	DisableTools     bool
}

// Client is a conversation-capable model backend.
type Client interface {
	// Chat sends the conversation and blocks until the model finishes.
	Chat(ctx context.Context, messages []Message, opts Options) (*Response, error)
	// ChatStream sends the conversation and returns a channel of
	// incremental events. The channel is closed after a done or error event.
	ChatStream(ctx context.Context, messages []Message, opts Options) (<-chan StreamEvent, error)
	// CountTokens estimates the token count of text for budget decisions.
	CountTokens(text string) int
	// Model returns the model identifier this client is configured for.
	Model() string
}

// splitSystem separates leading system messages from the conversation,
// concatenating multiple system turns. Anthropic takes the system prompt
// out of band, so every backend needs this split.
func splitSystem(messages []Message) (system string, rest []Message) {
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
