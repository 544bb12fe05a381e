package models

// Message roles used in conversation history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in a session's conversation history.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	// IsError marks a tool-role message as carrying a failed result.
	IsError bool `json:"is_error,omitempty"`
}

// ToolCall is a single tool invocation requested by the model.
// Immutable once dispatched.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	SessionID string         `json:"session_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
}

// ToolResult is the outcome of one tool call. Exactly one of Output or
// the ErrorKind/ErrorMessage pair is populated.
type ToolResult struct {
	CallID       string `json:"call_id"`
	Name         string `json:"name"`
	Success      bool   `json:"success"`
	Output       any    `json:"output,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	// RetryAfterMs is set for rate-limited results so the model (or a
	// retry layer) can back off sensibly.
	RetryAfterMs int64 `json:"retry_after_ms,omitempty"`
}

// OK builds a successful result for a call.
func OK(call ToolCall, output any) ToolResult {
	return ToolResult{CallID: call.ID, Name: call.Name, Success: true, Output: output}
}

// Fail builds a failed result for a call.
func Fail(call ToolCall, kind, message string) ToolResult {
	return ToolResult{CallID: call.ID, Name: call.Name, ErrorKind: kind, ErrorMessage: message}
}
