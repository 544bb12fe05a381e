// Package ratelimit provides per-key token-bucket rate limiting for tool
// calls, with an optional Redis backend shared across processes.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Config is the bucket shape for one limit type.
type Config struct {
	// Capacity is the burst size: the maximum tokens a bucket holds.
	Capacity float64 `json:"capacity"`
	// RefillPerSec is the continuous refill rate in tokens per second.
	RefillPerSec float64 `json:"refill_per_sec"`
}

func DefaultConfig() Config {
	return Config{Capacity: 60, RefillPerSec: 1}
}

// Decision is the outcome of a consume attempt.
type Decision struct {
	Allowed   bool
	Remaining float64
	// RetryAfter estimates how long until one token is available. Only
	// meaningful when Allowed is false.
	RetryAfter time.Duration
}

// Backend is the limiting surface the pipeline talks to. The in-process
// Limiter never errors; remote backends may, and callers are expected to
// fail open when they do.
type Backend interface {
	TryConsume(ctx context.Context, limitType, key string, cost float64) (Decision, error)
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// Limiter manages in-process token buckets keyed by limit type and
// identifier. Each bucket has its own lock so unrelated tools never
// serialize on each other.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	limits  map[string]Config
	def     Config
	now     func() time.Time
	maxKeys int
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a limiter with per-type bucket configs. Types not in
// limits fall back to def.
func NewLimiter(limits map[string]Config, def Config, opts ...Option) *Limiter {
	if def.Capacity <= 0 || def.RefillPerSec <= 0 {
		def = DefaultConfig()
	}
	l := &Limiter{
		buckets: make(map[string]*bucket),
		limits:  limits,
		def:     def,
		now:     time.Now,
		maxKeys: 10000,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryConsume takes cost tokens from the bucket for (limitType, key).
// Refill is lazy, based on elapsed time, and capped at capacity.
func (l *Limiter) TryConsume(_ context.Context, limitType, key string, cost float64) (Decision, error) {
	cfg := l.config(limitType)
	b := l.bucket(limitType+":"+key, cfg)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * cfg.RefillPerSec
		if b.tokens > cfg.Capacity {
			b.tokens = cfg.Capacity
		}
		b.lastRefill = now
	}

	if b.tokens >= cost {
		b.tokens -= cost
		return Decision{Allowed: true, Remaining: b.tokens}, nil
	}

	needed := cost - b.tokens
	wait := time.Duration(needed / cfg.RefillPerSec * float64(time.Second))
	return Decision{Allowed: false, Remaining: b.tokens, RetryAfter: wait}, nil
}

func (l *Limiter) config(limitType string) Config {
	if cfg, ok := l.limits[limitType]; ok && cfg.Capacity > 0 && cfg.RefillPerSec > 0 {
		return cfg
	}
	return l.def
}

func (l *Limiter) bucket(key string, cfg Config) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[key]; ok {
		return b
	}
	if len(l.buckets) >= l.maxKeys {
		l.prune()
	}
	b = &bucket{tokens: cfg.Capacity, lastRefill: l.now()}
	l.buckets[key] = b
	return b
}

// prune drops buckets that have refilled to capacity; those keys have been
// idle at least one full refill window.
func (l *Limiter) prune() {
	now := l.now()
	for key, b := range l.buckets {
		b.mu.Lock()
		idle := now.Sub(b.lastRefill) > time.Hour
		b.mu.Unlock()
		if idle {
			delete(l.buckets, key)
		}
	}
}

// Reset clears the bucket for (limitType, key).
func (l *Limiter) Reset(limitType, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, limitType+":"+key)
}
