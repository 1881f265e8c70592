package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is a process-local Store backed by an expirable LRU. The LRU
// ttl bounds every entry; shorter per-key ttls are enforced on read.
type MemoryStore struct {
	mu    sync.Mutex
	lru   *expirable.LRU[string, memoryEntry]
	clock func() time.Time
}

func NewMemoryStore(size int, maxTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		lru:   expirable.NewLRU[string, memoryEntry](size, nil, maxTTL),
		clock: time.Now,
	}
}

// WithClock replaces the store's time source. Only the per-key expiry uses it.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) get(key string) ([]byte, bool) {
	e, ok := s.lru.Get(key)
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !s.clock().Before(e.expiresAt) {
		s.lru.Remove(key)
		return nil, false
	}
	return e.value, true
}

func (s *MemoryStore) set(key string, value []byte, ttl time.Duration) {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.clock().Add(ttl)
	}
	s.lru.Add(key, e)
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.get(key)
	if !ok {
		return nil, ErrMiss
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(key, value, ttl)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Remove(key)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, found := s.get(key)
	next, err := fn(current, found)
	if err != nil {
		return err
	}
	if next == nil {
		s.lru.Remove(key)
		return nil
	}
	s.set(key, next, ttl)
	return nil
}
