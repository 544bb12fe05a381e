package models

import (
	"encoding/json"
	"net/http"
)

// Error kinds for tool-level failures. Tool errors travel as ToolResult
// values, never as raw Go errors escaping the pipeline.
const (
	KindValidation   = "validation"
	KindUnknownTool  = "unknown_tool"
	KindExecution    = "execution"
	KindRateLimited  = "rate_limited"
	KindCircuitOpen  = "circuit_open"
	KindTimeout      = "timeout"
	KindLoopDetected = "loop_detected"
)

// RetryableKind reports whether a failure of this kind is transient and
// worth retrying. Validation and circuit-open failures never are: the
// former is a caller bug, the latter is an intentional fast-fail.
func RetryableKind(kind string) bool {
	switch kind {
	case KindTimeout, KindExecution:
		return true
	default:
		return false
	}
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

func WriteError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Status:  "error",
		Message: message,
		Code:    code,
	})
}

func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
