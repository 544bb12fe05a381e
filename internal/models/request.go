package models

// RunRequest for POST /api/v1/agent/run
type RunRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	Message   string `json:"message"`
	Timeout   int    `json:"timeout"` // seconds
}

func (r *RunRequest) SetDefaults() {
	if r.UserID == "" {
		r.UserID = "default"
	}
	if r.Timeout == 0 {
		r.Timeout = 300
	}
	if r.Timeout < 10 {
		r.Timeout = 10
	}
	if r.Timeout > 600 {
		r.Timeout = 600
	}
}

// CompactRequest for POST /api/v1/agent/compact
type CompactRequest struct {
	SessionID  string `json:"session_id"`
	UserID     string `json:"user_id,omitempty"`
	KeepRecent int    `json:"keep_recent"`
}

func (r *CompactRequest) SetDefaults() {
	if r.UserID == "" {
		r.UserID = "default"
	}
	if r.KeepRecent <= 0 {
		r.KeepRecent = 4
	}
}
