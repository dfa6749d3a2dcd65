package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisQueryCacheStore struct {
	client redis.UniversalClient
}

func NewRedisQueryCacheStore(client redis.UniversalClient) *RedisQueryCacheStore {
	return &RedisQueryCacheStore{client: client}
}

func (s *RedisQueryCacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.client == nil {
		return nil, false, nil
	}
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (s *RedisQueryCacheStore) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if s.client == nil || ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, key, payload, ttl).Err()
}

// InvalidatePattern walks matching keys with SCAN and deletes them in
// batches. SCAN keeps the server responsive under large keyspaces where
// KEYS would block.
func (s *RedisQueryCacheStore) InvalidatePattern(ctx context.Context, pattern string) error {
	if s.client == nil {
		return nil
	}
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return s.client.Del(ctx, batch...).Err()
	}
	return nil
}
