package search

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/reelsonar/internal/observe"
)

// redisTTL bounds how long cached sentence vectors live. Transcripts are
// immutable once written, but the embedding model can change between
// deployments, so entries age out rather than living forever.
const redisTTL = 24 * time.Hour

// redisCache stores sentence embeddings in Redis as JSON values. Cache
// failures are soft: a miss is returned and the caller re-embeds.
type redisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis and returns a [Cache] backed by it. The
// connection is verified with a ping before returning.
func NewRedisCache(ctx context.Context, addr, password string, db int) (Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &redisCache{client: client}, nil
}

func (c *redisCache) Get(ctx context.Context, key string) ([][]float32, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			observe.Logger(ctx).Warn("redis cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	var vecs [][]float32
	if err := json.Unmarshal(raw, &vecs); err != nil {
		observe.Logger(ctx).Warn("redis cache entry corrupt, dropping", "key", key, "error", err)
		_ = c.client.Del(ctx, key).Err()
		return nil, false
	}
	return vecs, true
}

func (c *redisCache) Put(ctx context.Context, key string, vecs [][]float32) {
	raw, err := json.Marshal(vecs)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, redisTTL).Err(); err != nil {
		observe.Logger(ctx).Warn("redis cache write failed", "key", key, "error", err)
	}
}
