package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/solagent/solagent/internal/models"
)

// Masker redacts sensitive values before they reach a log line.
type Masker interface {
	MaskMap(values map[string]any) map[string]any
}

// LoggingConfig controls the logging interceptor.
type LoggingConfig struct {
	IncludeArgs   bool     `json:"include_args"`
	IncludeResult bool     `json:"include_result"`
	Only          []string `json:"only,omitempty"`
	Exclude       []string `json:"exclude,omitempty"`
}

// Logging is the outermost interceptor. It records one line per call with
// duration and outcome, running arguments through the masker when argument
// logging is on.
type Logging struct {
	cfg    LoggingConfig
	masker Masker
	only   map[string]bool
	skip   map[string]bool
}

func NewLogging(cfg LoggingConfig, masker Masker) *Logging {
	return &Logging{
		cfg:    cfg,
		masker: masker,
		only:   toSet(cfg.Only),
		skip:   toSet(cfg.Exclude),
	}
}

func (l *Logging) Wrap(name string, next ToolFunc) ToolFunc {
	if !l.applies(name) {
		return next
	}
	return func(ctx context.Context, call models.ToolCall) models.ToolResult {
		start := time.Now()
		result := next(ctx, call)
		elapsed := time.Since(start)

		evt := log.Info()
		if !result.Success {
			evt = log.Warn()
		}
		evt = evt.
			Str("tool", name).
			Str("call_id", call.ID).
			Str("session_id", call.SessionID).
			Dur("duration", elapsed).
			Bool("success", result.Success)
		if !result.Success {
			evt = evt.Str("error_kind", result.ErrorKind).Str("error", result.ErrorMessage)
		}
		if l.cfg.IncludeArgs {
			args := call.Arguments
			if l.masker != nil {
				args = l.masker.MaskMap(args)
			}
			evt = evt.Interface("args", args)
		}
		if l.cfg.IncludeResult && result.Success {
			evt = evt.Interface("result", result.Output)
		}
		evt.Msg("tool call")
		return result
	}
}

func (l *Logging) applies(name string) bool {
	if len(l.only) > 0 && !l.only[name] {
		return false
	}
	return !l.skip[name]
}

func toSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
