package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/solagent/solagent/internal/models"
)

const version = "1.0.0"

// Pinger is implemented by backends that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a plain function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler handles GET /health with optional dependency checks.
type HealthHandler struct {
	checks map[string]Pinger
}

// NewHealthHandler takes named dependency checks. A nil Pinger marks the
// dependency as disabled rather than failing.
func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	results := map[string]string{"server": "ok"}
	overallStatus := "healthy"

	// Short timeout so a dead dependency doesn't hang the probe
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for name, p := range h.checks {
		if p == nil {
			results[name] = "disabled"
			continue
		}
		if err := p.Ping(ctx); err != nil {
			results[name] = "unavailable: " + err.Error()
			overallStatus = "degraded"
		} else {
			results[name] = "ok"
		}
	}

	statusCode := http.StatusOK
	if overallStatus == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	models.WriteJSON(w, statusCode, models.HealthResponse{
		Status:  overallStatus,
		Version: version,
		Checks:  results,
	})
}
