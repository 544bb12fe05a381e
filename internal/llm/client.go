// Package llm abstracts the model provider behind a single-call interface.
// The agent loop owns multi-turn state; a client only turns one history
// snapshot into one completion.
package llm

import (
	"context"

	"github.com/solagent/solagent/internal/models"
	"github.com/solagent/solagent/internal/tools"
)

// Usage reports token consumption for one completion.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Completion is a single model response. ToolCalls is non-empty when the
// model wants tools executed before it can answer.
type Completion struct {
	Content    string
	ToolCalls  []models.ToolCall
	StopReason string
	Usage      Usage
}

// Client sends one conversation snapshot to a model provider.
type Client interface {
	Complete(ctx context.Context, system string, history []models.Message, specs []tools.Spec) (*Completion, error)
	Model() string
}
