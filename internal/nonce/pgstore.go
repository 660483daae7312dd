package nonce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists nonces in the "nonces" table, grounded on the
// atomic DELETE ... RETURNING single-use pattern used for reauthentication
// nonces in the fluxbase example.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Issue(ctx context.Context) (string, error) {
	n, err := generate()
	if err != nil {
		return "", err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO nonces (id, expires_at) VALUES ($1, $2)`,
		n, time.Now().Add(TTL))
	if err != nil {
		return "", fmt.Errorf("inserting nonce: %w", err)
	}
	return n, nil
}

func (s *PGStore) Consume(ctx context.Context, n string) (bool, error) {
	if n == "" {
		return false, nil
	}
	var deleted string
	err := s.pool.QueryRow(ctx,
		`DELETE FROM nonces WHERE id = $1 AND expires_at > now() RETURNING id`,
		n).Scan(&deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("consuming nonce: %w", err)
	}
	return true, nil
}

func (s *PGStore) Purge(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM nonces WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("purging nonces: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RunPurgeLoop purges expired nonces once an hour until ctx is canceled,
// matching original_source's nonce cronjob cadence. Errors are swallowed
// after logging by the caller-supplied onError so a transient DB hiccup
// never kills the loop.
func RunPurgeLoop(ctx context.Context, s Store, onPurged func(n int64), onError func(error)) {
	ticker := time.NewTicker(PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Purge(ctx)
			if err != nil {
				onError(err)
				continue
			}
			onPurged(n)
		}
	}
}
