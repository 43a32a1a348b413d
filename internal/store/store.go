// Package store implements the durable side of the ingestion and query
// pipeline: monitored sources, content records, chunks with pgvector
// embeddings, and the query log. All mutation of shared state goes through
// here; callers hold no SQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrEmbeddingVersionMismatch indicates the index was built with a
	// different embedder than the one configured. Fatal at startup: mixing
	// embedding spaces silently corrupts retrieval, so the pipeline must
	// stop and require an explicit re-index.
	ErrEmbeddingVersionMismatch = errors.New("embedding version mismatch")
)

// Store provides PostgreSQL-backed persistence. Safe for concurrent use;
// per-source write serialization is the orchestrator's job, not Store's.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store on top of an existing connection pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// Connect opens a pgx pool and verifies connectivity.
func Connect(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// EnsureEmbeddingMeta records the embedder identity on first use and
// verifies it on every subsequent startup. A mismatch returns
// ErrEmbeddingVersionMismatch and must abort the pipeline; a version
// change requires a full re-index, never incremental mixing.
func (s *Store) EnsureEmbeddingMeta(ctx context.Context, model string, dimension int) error {
	var storedModel string
	var storedDim int

	err := s.pool.QueryRow(ctx,
		`SELECT model, dimension FROM embedding_meta WHERE id`,
	).Scan(&storedModel, &storedDim)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO embedding_meta (id, model, dimension) VALUES (TRUE, $1, $2)`,
			model, dimension,
		); err != nil {
			return fmt.Errorf("recording embedding meta: %w", err)
		}
		s.logger.Info("embedding meta recorded", "model", model, "dimension", dimension)
		return nil
	case err != nil:
		return fmt.Errorf("reading embedding meta: %w", err)
	}

	if storedModel != model || storedDim != dimension {
		return fmt.Errorf("%w: index built with %s/%d, configured %s/%d",
			ErrEmbeddingVersionMismatch, storedModel, storedDim, model, dimension)
	}
	return nil
}
