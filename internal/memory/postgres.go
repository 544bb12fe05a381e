package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solagent/solagent/internal/models"
)

const createMessagesTable = `
CREATE TABLE IF NOT EXISTS agent_messages (
	id         BIGSERIAL PRIMARY KEY,
	session_id TEXT        NOT NULL,
	seq        BIGINT      NOT NULL,
	message    JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (session_id, seq)
);
CREATE INDEX IF NOT EXISTS agent_messages_session_idx ON agent_messages (session_id, seq);
`

// PostgresStore persists history in a single JSONB-per-message table.
// Sequence numbers keep ordering explicit instead of relying on insert
// order.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, verifies the connection, and creates the
// schema if missing.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, createMessagesTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Append(ctx context.Context, sessionID string, msgs ...models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var next int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM agent_messages WHERE session_id = $1`,
		sessionID).Scan(&next)
	if err != nil {
		return fmt.Errorf("failed to read sequence: %w", err)
	}

	for i, msg := range msgs {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO agent_messages (session_id, seq, message) VALUES ($1, $2, $3)`,
			sessionID, next+int64(i), payload)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) History(ctx context.Context, sessionID string) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT message FROM agent_messages WHERE session_id = $1 ORDER BY seq`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var history []models.Message
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		var msg models.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		history = append(history, msg)
	}
	return history, rows.Err()
}

func (s *PostgresStore) Replace(ctx context.Context, sessionID string, msgs []models.Message) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM agent_messages WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	for i, msg := range msgs {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO agent_messages (session_id, seq, message) VALUES ($1, $2, $3)`,
			sessionID, int64(i+1), payload)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Clear(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM agent_messages WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Ping reports backend health for the health endpoint.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
