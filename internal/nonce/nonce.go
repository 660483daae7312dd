// Package nonce implements the ACME replay-nonce lifecycle: issuing
// single-use nonces and atomically consuming them so a JWS can never be
// replayed.
package nonce

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// TTL is how long an issued nonce remains consumable before the hourly
// purge loop is allowed to reclaim it.
const TTL = 30 * time.Minute

// PurgeInterval is how often the background purge loop reclaims expired
// nonces. It is deliberately coarser than TTL: the gap between TTL expiry
// and the next purge is benign because Consume always rechecks
// expires_at, so an unpurged-but-expired row can never be replayed.
const PurgeInterval = time.Hour

// Store issues and consumes replay nonces. Both a Postgres-backed
// implementation (for the running server) and an in-memory fake (for unit
// tests that don't want a live database) satisfy this interface, the same
// split the teacher uses for its storage backends.
type Store interface {
	// Issue generates a new nonce, persists it, and returns it.
	Issue(ctx context.Context) (string, error)
	// Consume atomically deletes nonce if present and unexpired, reporting
	// whether it was valid. A nonce can be consumed at most once.
	Consume(ctx context.Context, nonce string) (bool, error)
	// Purge deletes expired nonces, returning how many were removed.
	Purge(ctx context.Context) (int64, error)
}

func generate() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
