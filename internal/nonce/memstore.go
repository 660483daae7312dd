package nonce

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-process Store for tests that don't need a live
// Postgres instance.
type MemStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{expires: make(map[string]time.Time)}
}

func (s *MemStore) Issue(context.Context) (string, error) {
	n, err := generate()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expires[n] = time.Now().Add(TTL)
	return n, nil
}

func (s *MemStore) Consume(_ context.Context, n string) (bool, error) {
	if n == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.expires[n]
	if !ok || time.Now().After(exp) {
		return false, nil
	}
	delete(s.expires, n)
	return true, nil
}

func (s *MemStore) Purge(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	now := time.Now()
	for k, exp := range s.expires {
		if now.After(exp) {
			delete(s.expires, k)
			n++
		}
	}
	return n, nil
}
