// Package tools defines tool specifications and the registry that performs
// validated tool invocation on behalf of the agent.
package tools

import "context"

// Handler executes one tool call with already-validated arguments.
// Handlers may perform network I/O; they must not mutate the registry.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Spec describes a callable tool exposed to the model.
type Spec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"` // JSON schema, object type
}
