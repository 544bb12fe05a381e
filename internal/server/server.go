package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/solagent/solagent/internal/config"
	"github.com/solagent/solagent/internal/events"
	"github.com/solagent/solagent/internal/memory"
)

type Server struct {
	cfg  *config.Config
	http *http.Server

	// held for graceful close
	bus     *events.Bus
	pgStore *memory.PostgresStore
	redis   *redis.Client
}

func New(cfg *config.Config) (*Server, error) {
	s := &Server{cfg: cfg}

	router, err := s.setupRoutes()
	if err != nil {
		return nil, fmt.Errorf("setup routes: %w", err)
	}

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // run and SSE endpoints hold connections open
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("graceful shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := s.http.Shutdown(shutdownCtx)

		if s.bus != nil {
			s.bus.Close()
		}
		if s.pgStore != nil {
			s.pgStore.Close()
			log.Info().Msg("postgres pool closed")
		}
		if s.redis != nil {
			if closeErr := s.redis.Close(); closeErr != nil {
				log.Warn().Err(closeErr).Msg("error closing redis client")
			}
		}

		return err
	case err := <-errCh:
		return err
	}
}
