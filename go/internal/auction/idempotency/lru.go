package idempotency

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/jonboulle/clockwork"
)

type lruEntry struct {
	rec     Record
	expires time.Time
}

// LRUStore is a bounded in-process Store. Entries expire after their TTL;
// a zero TTL uses the store default.
type LRUStore struct {
	cache      *lru.Cache
	clock      clockwork.Clock
	defaultTTL time.Duration
}

// NewLRUStore creates an LRUStore holding at most size records.
func NewLRUStore(size int, defaultTTL time.Duration, clock clockwork.Clock) (*LRUStore, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create idempotency cache: %w", err)
	}
	return &LRUStore{cache: cache, clock: clock, defaultTTL: defaultTTL}, nil
}

func (s *LRUStore) Get(_ context.Context, key string) (Record, bool, error) {
	v, ok := s.cache.Get(key)
	if !ok {
		return Record{}, false, nil
	}
	e := v.(lruEntry)
	if !s.clock.Now().Before(e.expires) {
		s.cache.Remove(key)
		return Record{}, false, nil
	}
	return e.rec, true, nil
}

func (s *LRUStore) Put(_ context.Context, key string, rec Record, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	now := s.clock.Now()
	if v, ok := s.cache.Peek(key); ok && now.Before(v.(lruEntry).expires) {
		return nil
	}
	s.cache.Add(key, lruEntry{rec: rec, expires: now.Add(ttl)})
	return nil
}
