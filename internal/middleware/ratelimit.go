package middleware

import (
	"fmt"
	"math"
	"net/http"

	"github.com/solagent/solagent/internal/models"
	"github.com/solagent/solagent/internal/ratelimit"
)

const httpLimitType = "http"

// RateLimit throttles requests per API key (falling back to remote address)
// against a token bucket sized at limitPerMinute.
func RateLimit(limitPerMinute int, headerName string) func(http.Handler) http.Handler {
	cfg := ratelimit.Config{
		Capacity:     float64(limitPerMinute),
		RefillPerSec: float64(limitPerMinute) / 60,
	}
	limiter := ratelimit.NewLimiter(map[string]ratelimit.Config{httpLimitType: cfg}, cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(headerName)
			if key == "" {
				key = r.RemoteAddr
			}

			decision, err := limiter.TryConsume(r.Context(), httpLimitType, key, 1)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limitPerMinute))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", int(decision.Remaining)))

			if !decision.Allowed {
				retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				models.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
