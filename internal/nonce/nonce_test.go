package nonce

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemStoreIssueConsumeOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	n, err := s.Issue(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, n)

	ok, err := s.Consume(ctx, n)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Consume(ctx, n)
	require.NoError(t, err)
	require.False(t, ok, "a nonce must not be consumable twice")
}

func TestMemStoreConsumeUnknown(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	ok, err := s.Consume(ctx, "never-issued")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemStoreConsumeEmpty(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	ok, err := s.Consume(ctx, "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemStorePurgeExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	n, err := s.Issue(ctx)
	require.NoError(t, err)
	s.expires[n] = s.expires[n].Add(-2 * TTL)

	purged, err := s.Purge(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), purged)

	ok, _ := s.Consume(ctx, n)
	require.False(t, ok)
}
