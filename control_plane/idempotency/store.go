package idempotency

import (
	"context"
	"sync"
	"time"
)

// Response is the cached outcome of a write request, replayed verbatim when
// the same Idempotency-Key is presented again.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    map[string][]string
}

// Store caches responses by idempotency key.
type Store interface {
	Get(ctx context.Context, key string) (Response, bool)
	Set(ctx context.Context, key string, resp Response)
}

const defaultTTL = 1 * time.Hour

// MemoryStore is the single-instance cache backend.
type MemoryStore struct {
	cache sync.Map
}

type entry struct {
	resp      Response
	timestamp time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Response, bool) {
	val, ok := s.cache.Load(key)
	if !ok {
		return Response{}, false
	}
	e := val.(entry)
	if time.Since(e.timestamp) > defaultTTL {
		s.cache.Delete(key)
		return Response{}, false
	}
	return e.resp, true
}

func (s *MemoryStore) Set(ctx context.Context, key string, resp Response) {
	s.cache.Store(key, entry{
		resp:      resp,
		timestamp: time.Now(),
	})
}
