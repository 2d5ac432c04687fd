// Package domain holds the provider-agnostic wire types shared by every
// routing package: messages, tool calls, usage, and the normalized
// APIResponse every provider adapter must produce regardless of its native
// wire format.
package domain

import "encoding/json"

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single turn in a conversation.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	// Error is set on a tool-role message when the function handler
	// returned an error instead of a result (see executor.Execute).
	Error string `json:"error,omitempty"`
}

// ToolCall is a structured request from the model asking the runtime to
// invoke a named function and return its result as a follow-up message.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON arguments
}

// ToolDefinition describes a function the model may call.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// FinishReason explains why the provider stopped generating.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishError     FinishReason = "error"
)

// Usage captures token accounting for a single provider call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// APIResponse is the normalized shape every provider client returns,
// regardless of native wire format.
type APIResponse struct {
	Content      string       `json:"content"`
	Usage        Usage        `json:"usage"`
	ModelID      string       `json:"model_id"`
	FinishReason FinishReason `json:"finish_reason"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
}

// Options carries per-call generation parameters forwarded to the provider,
// plus orchestration-local knobs that never cross the wire.
type Options struct {
	Temperature float64
	MaxTokens   int
	Tools       []ToolDefinition
	Stream      bool

	// TruncateMessages, if set, is invoked at most once per request when a
	// provider reports context_exceeded and no larger-context fallback
	// model is available. Truncation never happens silently without it.
	TruncateMessages func([]Message) []Message
}
