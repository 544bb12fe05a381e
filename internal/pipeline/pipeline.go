// Package pipeline wraps tool execution with cross-cutting interceptors.
// The chain order is fixed: logging runs outermost, then rate limiting,
// then retry, then the circuit breaker, then the registry call itself.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/solagent/solagent/internal/breaker"
	"github.com/solagent/solagent/internal/events"
	"github.com/solagent/solagent/internal/models"
	"github.com/solagent/solagent/internal/ratelimit"
	"github.com/solagent/solagent/internal/tools"
)

// ToolFunc executes one tool call and always yields a result; infrastructure
// failures surface as error-kind results, never as Go errors.
type ToolFunc func(ctx context.Context, call models.ToolCall) models.ToolResult

// Interceptor wraps the execution of a single named tool. Wrap is called
// once per registered tool at build time, so interceptors can keep
// per-tool state in the returned closure.
type Interceptor interface {
	Wrap(name string, next ToolFunc) ToolFunc
}

// Executor dispatches tool calls through the interceptor chain into the
// registry. Per-tool chains are built lazily and cached.
type Executor struct {
	registry     *tools.Registry
	interceptors []Interceptor
	bus          *events.Bus

	mu     sync.RWMutex
	chains map[string]ToolFunc
}

// Config groups the per-interceptor configs.
type Config struct {
	Logging        LoggingConfig        `json:"logging"`
	RateLimit      RateLimitConfig      `json:"rate_limit"`
	Retry          RetryConfig          `json:"retry"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
}

// Deps are the collaborators the interceptors need.
type Deps struct {
	Masker   Masker
	Limits   ratelimit.Backend
	Breakers *breaker.Registry
	Bus      *events.Bus
}

// FromConfig builds an executor with the full chain in its fixed order.
func FromConfig(reg *tools.Registry, cfg Config, deps Deps) *Executor {
	return NewExecutor(reg, deps.Bus,
		NewLogging(cfg.Logging, deps.Masker),
		NewRateLimit(cfg.RateLimit, deps.Limits),
		NewRetry(cfg.Retry),
		NewCircuitBreaker(cfg.CircuitBreaker, deps.Breakers),
	)
}

// NewExecutor builds an executor. Interceptors are given outermost first.
func NewExecutor(reg *tools.Registry, bus *events.Bus, interceptors ...Interceptor) *Executor {
	return &Executor{
		registry:     reg,
		interceptors: interceptors,
		bus:          bus,
		chains:       make(map[string]ToolFunc),
	}
}

// Execute runs one tool call through the chain and publishes lifecycle
// events around it.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) models.ToolResult {
	start := time.Now()
	if e.bus != nil {
		e.bus.Publish(events.TopicToolCalled, events.ToolCalled{
			SessionID: call.SessionID,
			UserID:    call.UserID,
			CallID:    call.ID,
			Tool:      call.Name,
			Arguments: call.Arguments,
			Timestamp: start,
		})
	}

	result := e.chain(call.Name)(ctx, call)

	if e.bus != nil {
		elapsed := time.Since(start)
		if result.Success {
			e.bus.Publish(events.TopicToolSucceeded, events.ToolSucceeded{
				SessionID: call.SessionID,
				UserID:    call.UserID,
				CallID:    call.ID,
				Tool:      call.Name,
				Duration:  elapsed,
				Timestamp: time.Now(),
			})
		} else {
			e.bus.Publish(events.TopicToolFailed, events.ToolFailed{
				SessionID: call.SessionID,
				UserID:    call.UserID,
				CallID:    call.ID,
				Tool:      call.Name,
				ErrorKind: result.ErrorKind,
				Error:     result.ErrorMessage,
				Duration:  elapsed,
				Timestamp: time.Now(),
			})
		}
	}
	return result
}

func (e *Executor) chain(name string) ToolFunc {
	e.mu.RLock()
	fn, ok := e.chains[name]
	e.mu.RUnlock()
	if ok {
		return fn
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if fn, ok := e.chains[name]; ok {
		return fn
	}
	fn = e.registry.Call
	for i := len(e.interceptors) - 1; i >= 0; i-- {
		fn = e.interceptors[i].Wrap(name, fn)
	}
	e.chains[name] = fn
	return fn
}
