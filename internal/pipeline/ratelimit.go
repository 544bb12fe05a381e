package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/solagent/solagent/internal/models"
	"github.com/solagent/solagent/internal/ratelimit"
)

// RateLimitRule binds one tool to a named limit. The identifier field picks
// which argument scopes the bucket; when absent or empty the caller's user
// ID scopes it instead.
type RateLimitRule struct {
	Type            string `json:"type"`
	IdentifierField string `json:"identifier_field,omitempty"`
}

// RateLimitConfig controls the rate limit interceptor.
type RateLimitConfig struct {
	Enabled bool                     `json:"enabled"`
	Rules   map[string]RateLimitRule `json:"map,omitempty"`
}

// RateLimit rejects calls whose bucket is exhausted, without invoking the
// tool. A failing backend never blocks execution: limit checks that error
// out pass the call through.
type RateLimit struct {
	cfg     RateLimitConfig
	backend ratelimit.Backend
}

func NewRateLimit(cfg RateLimitConfig, backend ratelimit.Backend) *RateLimit {
	return &RateLimit{cfg: cfg, backend: backend}
}

func (r *RateLimit) Wrap(name string, next ToolFunc) ToolFunc {
	if !r.cfg.Enabled || r.backend == nil {
		return next
	}
	rule, ok := r.cfg.Rules[name]
	if !ok {
		return next
	}
	return func(ctx context.Context, call models.ToolCall) models.ToolResult {
		key := call.UserID
		if rule.IdentifierField != "" {
			if v, ok := call.Arguments[rule.IdentifierField].(string); ok && v != "" {
				key = v
			}
		}

		decision, err := r.backend.TryConsume(ctx, rule.Type, key, 1)
		if err != nil {
			log.Warn().Err(err).Str("tool", name).Str("limit", rule.Type).
				Msg("rate limit backend unavailable, allowing call")
			return next(ctx, call)
		}
		if !decision.Allowed {
			result := models.Fail(call, models.KindRateLimited,
				fmt.Sprintf("rate limit %q exceeded, retry in %s", rule.Type, decision.RetryAfter))
			result.RetryAfterMs = decision.RetryAfter.Milliseconds()
			return result
		}
		return next(ctx, call)
	}
}
