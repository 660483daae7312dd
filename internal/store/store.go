// Package store is the Postgres persistence layer for every entity in
// spec.md §3/§6: accounts, orders, authorizations, challenges,
// certificates, and CAs, plus the embedded schema migrations.
package store

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store wraps a pgxpool.Pool with the repository methods used by the ACME
// handlers. Every mutating method opens its own transaction so conditional
// `WHERE status = '...'` updates stay race-free under concurrent requests,
// per spec.md §9.
type Store struct {
	Pool *pgxpool.Pool
	log  *zap.Logger
}

// Open creates a bounded connection pool against dsn. The pool size
// mirrors spec.md §5's "bounded size (e.g., 20)" guidance.
func Open(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing db dsn: %w", err)
	}
	if cfg.MaxConns < 20 {
		cfg.MaxConns = 20
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening db pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging db: %w", err)
	}
	return &Store{Pool: pool, log: log}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

// Migrate applies every embedded migration file in lexical order. Each
// file is expected to be idempotent (IF NOT EXISTS / ON CONFLICT) so
// running it against an already-migrated database is a no-op.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading embedded migrations: %w", err)
	}
	for _, e := range entries {
		sql, err := migrationFiles.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", e.Name(), err)
		}
		if _, err := s.Pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("applying migration %s: %w", e.Name(), err)
		}
		s.log.Info("applied migration", zap.String("file", e.Name()))
	}
	return nil
}
