package schedcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// RedisBackend is the remote store of the chain. Construction probes
// the server, an unreachable redis means the capability simply isn't
// there and the cache should be built without it.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(ctx context.Context, opts RedisOptions) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis is not reachable: %w", err)
	}

	return &RedisBackend{client: client}, nil
}

func (b *RedisBackend) Name() string {
	return "redis"
}

func (b *RedisBackend) Read(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (b *RedisBackend) Write(ctx context.Context, key string, value []byte) error {
	// no server-side expiry: entry lifetime lives in the envelope and
	// expired entries are evicted on read
	return b.client.Set(ctx, key, value, 0).Err()
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

func (b *RedisBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
