package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/solagent/solagent/internal/agent"
	"github.com/solagent/solagent/internal/breaker"
	"github.com/solagent/solagent/internal/events"
	"github.com/solagent/solagent/internal/handler"
	"github.com/solagent/solagent/internal/llm"
	"github.com/solagent/solagent/internal/memory"
	"github.com/solagent/solagent/internal/middleware"
	"github.com/solagent/solagent/internal/pipeline"
	"github.com/solagent/solagent/internal/ratelimit"
	"github.com/solagent/solagent/internal/security"
	"github.com/solagent/solagent/internal/service"
	"github.com/solagent/solagent/internal/tools"
)

func (s *Server) setupRoutes() (http.Handler, error) {
	cfg := s.cfg
	ctx := context.Background()

	// ─── Event bus ──────────────────────────────────────────────────────────────
	bus := events.NewBus()
	s.bus = bus

	if cfg.EnableMetrics {
		events.NewMetrics(prometheus.DefaultRegisterer, bus)
	}

	// ─── Storage ────────────────────────────────────────────────────────────────
	var store memory.Store
	var pgStore *memory.PostgresStore
	if cfg.PostgresDSN != "" {
		var err error
		pgStore, err = memory.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Warn().Err(err).Msg("postgres unavailable, using in-memory history")
		} else {
			store = pgStore
			s.pgStore = pgStore
		}
	}
	if store == nil {
		store = memory.NewInMemoryStore()
	}

	// ─── Services ───────────────────────────────────────────────────────────────
	solSvc := service.NewSolanaService(cfg.SolanaRPCURL, 30*time.Second)
	dexSvc := service.NewDexScreenerService(cfg.DexScreenerBaseURL, 15*time.Second)

	// ─── Tools ──────────────────────────────────────────────────────────────────
	registry := tools.NewRegistry()
	register := func(spec tools.Spec, h tools.Handler) {
		if err := registry.Register(spec, h); err != nil {
			log.Error().Err(err).Str("tool", spec.Name).Msg("tool registration failed")
		}
	}
	register(tools.SolGetBalanceTool(solSvc))
	register(tools.SolTokenPriceTool(dexSvc))

	// ─── Rate limiting backend ──────────────────────────────────────────────────
	limits := make(map[string]ratelimit.Config, len(cfg.RateLimits))
	for name, b := range cfg.RateLimits {
		limits[name] = ratelimit.Config{Capacity: b.Capacity, RefillPerSec: b.RefillPerSec}
	}
	var limitBackend ratelimit.Backend
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("invalid redis URL, using in-process rate limits")
		} else {
			redisClient = redis.NewClient(opts)
			s.redis = redisClient
			limitBackend = ratelimit.NewRedisLimiter(redisClient, limits, ratelimit.DefaultConfig())
		}
	}
	if limitBackend == nil {
		limitBackend = ratelimit.NewLimiter(limits, ratelimit.DefaultConfig())
	}

	// ─── Security ───────────────────────────────────────────────────────────────
	var masker *security.Masker
	if cfg.EnableDataMasking {
		masker = security.NewMasker(cfg.SensitiveKeys)
	}
	var piiDetector *security.PIIDetector
	if cfg.EnablePIIDetection {
		piiDetector = security.NewPIIDetector(cfg.PIIKeywords)
	}
	auditLogger := security.NewAuditLogger(cfg.EnableAuditLogging, masker, piiDetector)
	auditLogger.Attach(bus)

	// ─── Tool pipeline ──────────────────────────────────────────────────────────
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Pipeline.CircuitBreaker.FailureThreshold,
		Cooldown:         time.Duration(cfg.Pipeline.CircuitBreaker.CooldownSeconds) * time.Second,
	})

	rules := make(map[string]pipeline.RateLimitRule, len(cfg.Pipeline.RateLimit.Rules))
	for tool, rule := range cfg.Pipeline.RateLimit.Rules {
		rules[tool] = pipeline.RateLimitRule{Type: rule.Type, IdentifierField: rule.IdentifierField}
	}

	executor := pipeline.FromConfig(registry, pipeline.Config{
		Logging: pipeline.LoggingConfig{
			IncludeArgs:   cfg.Pipeline.Logging.IncludeArgs,
			IncludeResult: cfg.Pipeline.Logging.IncludeResult,
			Only:          cfg.Pipeline.Logging.Only,
			Exclude:       cfg.Pipeline.Logging.Exclude,
		},
		RateLimit: pipeline.RateLimitConfig{
			Enabled: cfg.Pipeline.RateLimit.Enabled,
			Rules:   rules,
		},
		Retry: pipeline.RetryConfig{
			Enabled:    cfg.Pipeline.Retry.Enabled,
			MaxRetries: cfg.Pipeline.Retry.MaxRetries,
			BaseDelay:  time.Duration(cfg.Pipeline.Retry.BaseDelayMs) * time.Millisecond,
			Only:       cfg.Pipeline.Retry.Only,
			Exclude:    cfg.Pipeline.Retry.Exclude,
		},
		CircuitBreaker: pipeline.CircuitBreakerConfig{
			Enabled:          cfg.Pipeline.CircuitBreaker.Enabled,
			FailureThreshold: cfg.Pipeline.CircuitBreaker.FailureThreshold,
			CooldownSeconds:  cfg.Pipeline.CircuitBreaker.CooldownSeconds,
		},
	}, pipeline.Deps{
		Masker:   maskerOrNil(masker),
		Limits:   limitBackend,
		Breakers: breakers,
		Bus:      bus,
	})

	// ─── Agent loop ─────────────────────────────────────────────────────────────
	if cfg.AnthropicAPIKey == "" {
		log.Warn().Msg("ANTHROPIC_API_KEY not set - agent runs will fail")
	}
	client := llm.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.Model, cfg.AnthropicBaseURL)

	loop := agent.NewLoop(agent.Config{
		MaxIterations:      cfg.Agent.MaxIterations,
		MaxConcurrentTools: cfg.Agent.MaxConcurrentTools,
		LoopDetectionTurns: cfg.Agent.LoopDetectionTurns,
		ContextBudget:      cfg.Agent.ContextBudgetTokens,
		ContextHighWater:   cfg.Agent.ContextHighWater,
		CompactKeepRecent:  cfg.Agent.CompactKeepRecent,
		ModelRetries:       cfg.Agent.ModelRetries,
		ModelRetryDelay:    time.Duration(cfg.Agent.ModelRetryDelayMs) * time.Millisecond,
		SystemPrompt:       cfg.SystemPrompt,
	}, client, executor, registry, store, bus)

	log.Info().
		Bool("postgres", pgStore != nil).
		Bool("redis", redisClient != nil).
		Bool("auth_enabled", cfg.EnableAuth && len(cfg.APIKeys) > 0).
		Bool("data_masking", masker != nil).
		Bool("audit_logging", cfg.EnableAuditLogging).
		Int("tools", len(registry.ListSpecs())).
		Msg("service configuration")

	if cfg.EnableAuth && len(cfg.APIKeys) == 0 {
		log.Warn().Msg("WARNING: auth enabled but no API keys configured - all API requests will be rejected")
	}

	// ─── Handlers ───────────────────────────────────────────────────────────────
	healthChecks := map[string]handler.Pinger{
		"solana":   handler.PingerFunc(solSvc.TestConnection),
		"postgres": nil,
		"redis":    nil,
	}
	if pgStore != nil {
		healthChecks["postgres"] = pgStore
	}
	if redisClient != nil {
		healthChecks["redis"] = handler.PingerFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	healthH := handler.NewHealthHandler(healthChecks)
	runH := handler.NewRunHandler(loop, store)
	eventsH := handler.NewEventsHandler(bus)

	// ─── Router ─────────────────────────────────────────────────────────────────
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSOrigins)))
	r.Use(chiMiddleware.RealIP)

	// Public routes
	r.Get("/health", healthH.Health)
	r.Get("/", healthH.Health)
	if cfg.EnableMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Auth + rate limiting for API routes
	apiMiddleware := []func(http.Handler) http.Handler{
		middleware.RateLimit(cfg.RateLimitPerMinute, cfg.APIKeyHeader),
	}
	if cfg.EnableAuth && len(cfg.APIKeys) > 0 {
		apiMiddleware = append(apiMiddleware, middleware.Auth(cfg.APIKeys, cfg.APIKeyHeader))
	}

	r.Group(func(r chi.Router) {
		for _, m := range apiMiddleware {
			r.Use(m)
		}

		r.Route(cfg.APIPrefix, func(r chi.Router) {
			r.Post("/agent/run", runH.Run)
			r.Get("/events", eventsH.Stream)
			r.Route("/sessions/{session_id}", func(r chi.Router) {
				r.Get("/history", runH.History)
				r.Post("/compact", runH.Compact)
				r.Delete("/", runH.Delete)
			})
		})
	})

	return r, nil
}

// maskerOrNil avoids handing the pipeline a typed-nil interface.
func maskerOrNil(m *security.Masker) pipeline.Masker {
	if m == nil {
		return nil
	}
	return m
}
