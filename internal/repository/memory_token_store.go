package repository

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryTokenStore is a process-local TokenStore for tests and single
// instance development. Expired entries are dropped on access.
type MemoryTokenStore struct {
	mu      sync.Mutex
	refresh map[string]memoryEntry
	revoked map[string]memoryEntry
	now     func() time.Time
}

type MemoryOption func(*MemoryTokenStore)

// WithClock replaces the wall clock used for TTL expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryTokenStore) {
		s.now = now
	}
}

func NewMemoryTokenStore(opts ...MemoryOption) *MemoryTokenStore {
	s := &MemoryTokenStore{
		refresh: make(map[string]memoryEntry),
		revoked: make(map[string]memoryEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryTokenStore) PutRefresh(ctx context.Context, subject, token string, ttl time.Duration) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.refresh[subject] = memoryEntry{value: token, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryTokenStore) GetRefresh(ctx context.Context, subject string) (string, bool, error) {
	if err := checkContext(ctx); err != nil {
		return "", false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.live(s.refresh, subject)
	if !ok {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *MemoryTokenStore) DeleteRefresh(ctx context.Context, subject string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.refresh, subject)
	return nil
}

func (s *MemoryTokenStore) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := tokenDigest(token)
	if _, ok := s.live(s.revoked, key); ok {
		return nil
	}
	s.revoked[key] = memoryEntry{value: "1", expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryTokenStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.live(s.revoked, tokenDigest(token))
	return ok, nil
}

// live must be called with mu held.
func (s *MemoryTokenStore) live(m map[string]memoryEntry, key string) (memoryEntry, bool) {
	entry, ok := m[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !s.now().Before(entry.expiresAt) {
		delete(m, key)
		return memoryEntry{}, false
	}
	return entry, true
}

func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
