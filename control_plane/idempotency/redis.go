package idempotency

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares idempotency records across control-plane replicas.
// Cache errors degrade to a miss; the request is simply re-executed.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, ttl: defaultTTL}
}

func (s *RedisStore) key(key string) string {
	return "kubepilot:idempotency:" + key
}

func (s *RedisStore) Get(ctx context.Context, key string) (Response, bool) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("[IDEMPOTENCY] redis get failed: %v", err)
		}
		return Response{}, false
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		log.Printf("[IDEMPOTENCY] corrupt cached response for key %s: %v", key, err)
		return Response{}, false
	}
	return resp, true
}

func (s *RedisStore) Set(ctx context.Context, key string, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Printf("[IDEMPOTENCY] marshal response failed: %v", err)
		return
	}
	if err := s.client.Set(ctx, s.key(key), data, s.ttl).Err(); err != nil {
		log.Printf("[IDEMPOTENCY] redis set failed: %v", err)
	}
}
