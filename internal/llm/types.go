package llm

import (
	"log/slog"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Stop reasons reported by the model.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// Message is one turn of a conversation sent to the model. Tool results
// use RoleTool with ToolCallID set; consecutive tool messages are sent
// to the provider as a single user turn.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// FunctionCall names a tool and carries its decoded arguments.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Function FunctionCall `json:"function"`
}

// Request is a single model call.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []map[string]any // OpenAI-style function schemas
	MaxTokens int
}

// ChatResponse is the provider-neutral response.
type ChatResponse struct {
	Model      string
	Message    Message
	StopReason string

	InputTokens  int
	OutputTokens int
}

// StreamEventKind identifies the type of stream event.
type StreamEventKind int

const (
	// KindToken is an incremental text fragment.
	KindToken StreamEventKind = iota

	// KindToolCallStart fires when the model opens a tool_use block.
	// Only the call ID and name are known at that point.
	KindToolCallStart

	// KindDone signals the end of the stream.
	KindDone
)

// StreamEvent is one event from a streaming response.
type StreamEvent struct {
	Kind     StreamEventKind
	Token    string
	ToolCall *ToolCall
	Response *ChatResponse
}

// StreamCallback receives streaming events in the order the model
// produced them.
type StreamCallback func(event StreamEvent)
