package events

import "time"

// Topics published by the engine. Subscribers attach per topic.
const (
	TopicToolCalled    = "tool.called"
	TopicToolSucceeded = "tool.succeeded"
	TopicToolFailed    = "tool.failed"
	TopicAgentStatus   = "agent.status"
	TopicAgentMessage  = "agent.message"
	TopicLLMUsage      = "llm.usage"
)

// ToolCalled is published before a tool handler runs.
type ToolCalled struct {
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	CallID    string         `json:"call_id"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ToolSucceeded is published after a tool handler returns a success result.
type ToolSucceeded struct {
	SessionID string        `json:"session_id"`
	UserID    string        `json:"user_id"`
	CallID    string        `json:"call_id"`
	Tool      string        `json:"tool"`
	Duration  time.Duration `json:"duration_ms"`
	Timestamp time.Time     `json:"timestamp"`
}

// ToolFailed is published after a tool handler returns any error result,
// including failures synthesized by the pipeline (rate limit, open breaker).
type ToolFailed struct {
	SessionID string        `json:"session_id"`
	UserID    string        `json:"user_id"`
	CallID    string        `json:"call_id"`
	Tool      string        `json:"tool"`
	ErrorKind string        `json:"error_kind"`
	Error     string        `json:"error"`
	Duration  time.Duration `json:"duration_ms"`
	Timestamp time.Time     `json:"timestamp"`
}

// AgentStatus marks run lifecycle transitions (started, compacting,
// done, failed, cancelled).
type AgentStatus struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentMessage carries the final assistant reply of a run.
type AgentMessage struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// LLMUsage reports token consumption for one model call.
type LLMUsage struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	Model        string    `json:"model"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	Timestamp    time.Time `json:"timestamp"`
}
