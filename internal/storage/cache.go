package storage

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"trustchain/internal/state"
)

type cachedValue struct {
	v  []byte
	ok bool
}

// cachedStore is a write-through read cache. The backend stays the only
// source of truth; the cache only saves round trips for hot keys such as the
// chain head and the next agenda slot.
type cachedStore struct {
	mu    sync.RWMutex
	inner KV
	cache *lru.Cache[string, cachedValue]
}

func NewCached(inner KV, size int) (KV, error) {
	c, err := lru.New[string, cachedValue](size)
	if err != nil {
		return nil, err
	}
	return &cachedStore{inner: inner, cache: c}, nil
}

func (s *cachedStore) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cv, ok := s.cache.Get(string(key)); ok {
		return cv.v, cv.ok, nil
	}
	v, ok, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	s.cache.Add(string(key), cachedValue{v: v, ok: ok})
	return v, ok, nil
}

func (s *cachedStore) Commit(ctx context.Context, changes []state.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.inner.Commit(ctx, changes); err != nil {
		// Backend state is unknown; forget everything we believe about it.
		s.cache.Purge()
		return err
	}
	for _, c := range changes {
		if c.Delete {
			s.cache.Add(string(c.Key), cachedValue{})
		} else {
			s.cache.Add(string(c.Key), cachedValue{v: c.Value, ok: true})
		}
	}
	return nil
}

func (s *cachedStore) Close() error {
	s.cache.Purge()
	return s.inner.Close()
}
