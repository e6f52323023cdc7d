package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink stores entries in a request_logs table through a pgx pool.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects to dsn and makes sure the request_logs table exists.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	const ddl = `
CREATE TABLE IF NOT EXISTS request_logs (
	id          BIGSERIAL PRIMARY KEY,
	request_id  TEXT NOT NULL UNIQUE,
	article     TEXT NOT NULL,
	success     BOOLEAN NOT NULL,
	not_found   BOOLEAN NOT NULL DEFAULT FALSE,
	http_status INTEGER,
	duration_ms BIGINT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	cache_hit   BOOLEAN NOT NULL DEFAULT FALSE,
	source      TEXT NOT NULL,
	method      TEXT,
	error       TEXT,
	trace       TEXT,
	created_at  TIMESTAMPTZ NOT NULL
);`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create request_logs: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

func (s *PostgresSink) Write(ctx context.Context, e Entry) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO request_logs (
	request_id, article, success, not_found, http_status, duration_ms, retry_count,
	cache_hit, source, method, error, trace, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (request_id) DO NOTHING`,
		e.RequestID, e.Article, e.Success, e.NotFound, e.HTTPStatus, e.Duration.Milliseconds(),
		e.RetryCount, e.CacheHit, string(e.Source), string(e.Method), e.Error, e.Trace, e.CreatedAt,
	)
	return err
}

// Close releases the pool.
func (s *PostgresSink) Close() {
	s.pool.Close()
}
