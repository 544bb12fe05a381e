package models

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// UsageSummary aggregates model token usage over one run.
type UsageSummary struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	Requests     int `json:"requests"`
}

// RunResponse is returned by POST /api/v1/agent/run
type RunResponse struct {
	Status     string       `json:"status"`
	SessionID  string       `json:"session_id"`
	Reply      string       `json:"reply"`
	ToolsUsed  []string     `json:"tools_used,omitempty"`
	Iterations int          `json:"iterations"`
	Usage      UsageSummary `json:"usage"`
	// ErrorKind labels terminal failures (iteration_limit, model_adapter,
	// cancelled) so callers never have to parse message text.
	ErrorKind string `json:"error_kind,omitempty"`
}

// HistoryResponse is returned by GET /api/v1/agent/history
type HistoryResponse struct {
	Status    string    `json:"status"`
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
}
