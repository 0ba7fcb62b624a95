package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the shared cache backend. Every operation is best-effort: redis
// being down degrades to cache misses, never to request failures.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to the redis URL (redis://[:pass@]host:port/db). The
// prefix namespaces keys so several deployments can share one instance.
func NewRedis(url, prefix string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Redis{client: client, prefix: prefix}, nil
}

func (r *Redis) key(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Debug("cache: redis get failed", "key", key, "error", err)
		}
		return nil, false
	}
	return raw, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		slog.Debug("cache: redis set failed", "key", key, "error", err)
	}
}

func (r *Redis) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		slog.Debug("cache: redis del failed", "key", key, "error", err)
	}
}

func (r *Redis) Incr(ctx context.Context, key string) int64 {
	n, err := r.client.Incr(ctx, r.key(key)).Result()
	if err != nil {
		slog.Debug("cache: redis incr failed", "key", key, "error", err)
		return 0
	}
	return n
}

func (r *Redis) Counter(ctx context.Context, key string) int64 {
	n, err := r.client.Get(ctx, r.key(key)).Int64()
	if err != nil {
		return 0
	}
	return n
}

func (r *Redis) Close() {
	if err := r.client.Close(); err != nil {
		slog.Debug("cache: redis close failed", "error", err)
	}
}
