// Package breaker implements a per-key circuit breaker guarding calls to
// persistently failing tools.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrOpen is returned by Allow while the circuit rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

// State of one breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config controls when a breaker trips and recovers.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before allowing a
	// single probe call.
	Cooldown time.Duration
}

func DefaultConfig() Config {
	return Config{FailureThreshold: 5, Cooldown: 60 * time.Second}
}

// Breaker is the state machine for one key. All fields are guarded by mu;
// probes are accounted for so at most one call is in flight while half-open.
type Breaker struct {
	mu sync.Mutex

	key           string
	cfg           Config
	now           func() time.Time
	state         State
	failures      int
	lastFailure   time.Time
	probeInFlight bool
	onStateChange func(key string, from, to State)
}

// Allow reports whether a call may proceed. While open it returns ErrOpen
// until the cooldown elapses, at which point exactly one caller is admitted
// as the half-open probe; concurrent callers keep getting ErrOpen until the
// probe resolves via OnSuccess or OnFailure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.cfg.Cooldown {
			return ErrOpen
		}
		b.transition(StateHalfOpen)
		b.probeInFlight = true
		return nil
	default: // StateHalfOpen
		if b.probeInFlight {
			return ErrOpen
		}
		b.probeInFlight = true
		return nil
	}
}

// OnSuccess records a successful call. Any success resets the consecutive
// failure count; a successful half-open probe closes the circuit.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateHalfOpen {
		b.probeInFlight = false
		b.transition(StateClosed)
	}
}

// OnFailure records a failed call. A failed probe reopens the circuit and
// restarts the cooldown.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()
	switch b.state {
	case StateHalfOpen:
		b.probeInFlight = false
		b.transition(StateOpen)
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	}
}

// OnIgnored releases an in-flight probe without recording an outcome, for
// results that say nothing about tool health. The breaker stays half-open
// and the next Allow admits a fresh probe; in other states this is a no-op.
func (b *Breaker) OnIgnored() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.probeInFlight = false
	}
}

// State returns the current state without advancing cooldown transitions.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	log.Info().
		Str("key", b.key).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("circuit breaker state change")
	if b.onStateChange != nil {
		b.onStateChange(b.key, from, to)
	}
}

// Registry holds one breaker per key. State is shared across sessions, so
// each breaker carries its own lock rather than serializing unrelated tools
// behind a global one.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      Config
	perKey   map[string]Config
	now      func() time.Time
	onChange func(key string, from, to State)
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithKeyConfig sets an override config for one key.
func WithKeyConfig(key string, cfg Config) Option {
	return func(r *Registry) { r.perKey[key] = cfg }
}

// WithStateChange registers a callback invoked on every state transition.
func WithStateChange(fn func(key string, from, to State)) Option {
	return func(r *Registry) { r.onChange = fn }
}

func NewRegistry(cfg Config, opts ...Option) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	r := &Registry{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
		perKey:   make(map[string]Config),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the breaker for a key, creating it on first use.
func (r *Registry) Get(key string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[key]; ok {
		return b
	}
	cfg := r.cfg
	if override, ok := r.perKey[key]; ok {
		cfg = override
	}
	b = &Breaker{key: key, cfg: cfg, now: r.now, onStateChange: r.onChange}
	r.breakers[key] = b
	return b
}
