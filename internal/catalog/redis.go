package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisNameStore keeps resolved names in one Redis hash per kind so that
// every portal instance benefits from a lookup made by any of them.
type RedisNameStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisNameStore connects to redisURL and pings it.
func NewRedisNameStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisNameStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisNameStore{client: client, ttl: ttl}, nil
}

func namesKey(kind Kind) string {
	return "catalog:names:" + string(kind)
}

// Get returns the stored name for id.
func (s *RedisNameStore) Get(ctx context.Context, kind Kind, id string) (string, bool, error) {
	name, err := s.client.HGet(ctx, namesKey(kind), id).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

// Put stores names for entities and refreshes the hash expiry.
func (s *RedisNameStore) Put(ctx context.Context, kind Kind, entities []Entity) error {
	if len(entities) == 0 {
		return nil
	}
	values := make([]any, 0, len(entities)*2)
	for _, e := range entities {
		values = append(values, normalizeID(e.ID), e.Name)
	}
	key := namesKey(kind)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, values...)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Ping checks connectivity; used by the readiness probe.
func (s *RedisNameStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *RedisNameStore) Close() error {
	return s.client.Close()
}
