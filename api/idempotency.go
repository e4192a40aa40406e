package api

import (
	"context"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
)

const headerIdempotencyKey = "Idempotency-Key"

// RedisDeduper claims idempotency keys in Redis so a retried create is
// rejected by every instance. Client keys are hashed, which bounds the size
// of the Redis key whatever the client sends.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) redisKey(userID, key string) string {
	return "idem:" + userID + ":" + strconv.FormatUint(xxhash.Sum64String(key), 16)
}

// Claim reports whether key is new for userID. A claimed key expires after
// the deduper's TTL.
func (r *RedisDeduper) Claim(ctx context.Context, userID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.redisKey(userID, key), time.Now().Unix(), r.ttl).Result()
}

// Release forgets a claimed key so a failed create can be retried.
func (r *RedisDeduper) Release(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.redisKey(userID, key)).Err()
}

// noopDeduper accepts every key. It is used when no Redis is configured.
type noopDeduper struct{}

func (noopDeduper) Claim(context.Context, string, string) (bool, error) { return true, nil }

func (noopDeduper) Release(context.Context, string, string) error { return nil }
