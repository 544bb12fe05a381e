package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/solagent/solagent/internal/breaker"
	"github.com/solagent/solagent/internal/models"
)

// CircuitBreakerConfig controls the breaker interceptor.
type CircuitBreakerConfig struct {
	Enabled          bool  `json:"enabled"`
	FailureThreshold int   `json:"failure_threshold"`
	CooldownSeconds  int64 `json:"cooldown_seconds"`
}

// CircuitBreaker is the innermost interceptor: it sits directly in front of
// the registry so retries count each attempt against the breaker, and an
// open circuit rejects without touching the tool. Breakers are keyed per
// tool name. Validation failures do not count as downstream failures.
type CircuitBreaker struct {
	cfg      CircuitBreakerConfig
	breakers *breaker.Registry
}

func NewCircuitBreaker(cfg CircuitBreakerConfig, breakers *breaker.Registry) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, breakers: breakers}
}

func (c *CircuitBreaker) Wrap(name string, next ToolFunc) ToolFunc {
	if !c.cfg.Enabled || c.breakers == nil {
		return next
	}
	return func(ctx context.Context, call models.ToolCall) models.ToolResult {
		br := c.breakers.Get(name)
		if err := br.Allow(); err != nil {
			if errors.Is(err, breaker.ErrOpen) {
				return models.Fail(call, models.KindCircuitOpen,
					fmt.Sprintf("circuit for %q is open", name))
			}
			return models.Fail(call, models.KindExecution, err.Error())
		}

		result := next(ctx, call)
		switch {
		case result.Success:
			br.OnSuccess()
		case result.ErrorKind == models.KindValidation,
			result.ErrorKind == models.KindUnknownTool:
			// caller mistakes say nothing about tool health, but a
			// half-open probe slot must still be released
			br.OnIgnored()
		default:
			br.OnFailure()
		}
		return result
	}
}
