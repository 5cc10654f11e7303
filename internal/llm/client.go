// Package llm abstracts the model API behind a request/response contract.
// The model's reasoning is opaque to this service; agents only exchange
// messages and tool calls with it.
package llm

import "context"

// Role identifies a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolCall is a model-initiated tool invocation.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResult is the outcome of executing a tool call, fed back to the model.
type ToolResult struct {
	ToolUseID string
	Content   string
	IsError   bool
}

// Message is one turn of conversation.
type Message struct {
	Role        Role
	Content     string
	ToolCalls   []ToolCall   // assistant turns only
	ToolResults []ToolResult // user turns only
}

// Tool describes a tool the model may call.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any // JSON Schema "properties" map
	Required    []string
}

// StopReason is why the model stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// ChatRequest is a single non-streaming completion request.
type ChatRequest struct {
	Model     string
	System    string
	MaxTokens int
	Messages  []Message
	Tools     []Tool
}

// ChatResponse is the model's reply.
type ChatResponse struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason StopReason
}

// Client is the model API contract.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
