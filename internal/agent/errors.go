package agent

import "errors"

var (
	// ErrIterationLimit means the loop hit its iteration cap before the
	// model produced a final answer.
	ErrIterationLimit = errors.New("agent loop exceeded max iterations")
	// ErrSessionBusy means another run holds the session.
	ErrSessionBusy = errors.New("session already has a run in progress")
	// ErrModelUnavailable means the provider kept failing after retries.
	ErrModelUnavailable = errors.New("model provider unavailable")
)
