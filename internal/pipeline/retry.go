package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/solagent/solagent/internal/models"
)

// RetryConfig controls the retry interceptor.
type RetryConfig struct {
	Enabled    bool          `json:"enabled"`
	MaxRetries int           `json:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay"`
	Only       []string      `json:"only,omitempty"`
	Exclude    []string      `json:"exclude,omitempty"`
}

// Retry re-runs failed calls with exponential backoff. Only transient error
// kinds are retried; validation failures and open-breaker rejections are
// returned as-is, since repeating them cannot help.
type Retry struct {
	cfg   RetryConfig
	only  map[string]bool
	skip  map[string]bool
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetry(cfg RetryConfig) *Retry {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	return &Retry{
		cfg:   cfg,
		only:  toSet(cfg.Only),
		skip:  toSet(cfg.Exclude),
		sleep: sleepCtx,
	}
}

func (r *Retry) Wrap(name string, next ToolFunc) ToolFunc {
	if !r.cfg.Enabled || !r.applies(name) {
		return next
	}
	return func(ctx context.Context, call models.ToolCall) models.ToolResult {
		result := next(ctx, call)
		for attempt := 1; attempt <= r.cfg.MaxRetries; attempt++ {
			if result.Success || !models.RetryableKind(result.ErrorKind) {
				return result
			}
			delay := r.cfg.BaseDelay * time.Duration(1<<(attempt-1))
			log.Debug().Str("tool", name).Int("attempt", attempt).
				Dur("delay", delay).Str("error_kind", result.ErrorKind).
				Msg("retrying tool call")
			if err := r.sleep(ctx, delay); err != nil {
				return result
			}
			result = next(ctx, call)
		}
		return result
	}
}

func (r *Retry) applies(name string) bool {
	if len(r.only) > 0 && !r.only[name] {
		return false
	}
	return !r.skip[name]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
