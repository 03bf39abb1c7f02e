package redis

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed scripts/token_bucket.lua
var tokenBucketLua string

// TokenBucketBackend 多实例共享的令牌桶，状态存放在 Redis hash 中，由 Lua 脚本原子更新
type TokenBucketBackend struct {
	rdb    redis.Scripter
	script *redis.Script
	now    func() time.Time
}

func NewTokenBucketBackend(rdb redis.Scripter) *TokenBucketBackend {
	return &TokenBucketBackend{
		rdb:    rdb,
		script: redis.NewScript(tokenBucketLua),
		now:    time.Now,
	}
}

// WithClock 替换时间源，测试使用
func (b *TokenBucketBackend) WithClock(now func() time.Time) *TokenBucketBackend {
	b.now = now
	return b
}

func rateLimitKey(key string) string {
	return "ratelimit:" + key
}

func (b *TokenBucketBackend) Take(ctx context.Context, key string, capacity, refillPerSecond float64) (bool, error) {
	ttl := bucketTTL(capacity, refillPerSecond)
	res, err := b.script.Run(ctx, b.rdb,
		[]string{rateLimitKey(key)},
		capacity,
		refillPerSecond,
		b.now().UnixMicro(),
		ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: token bucket %s: %w", key, err)
	}
	if len(res) < 2 {
		return false, fmt.Errorf("redis: token bucket %s: unexpected result length %d", key, len(res))
	}
	return res[0] == 1, nil
}

// bucketTTL 桶从空到满所需时间的两倍，之后 key 过期等价于满桶
func bucketTTL(capacity, refillPerSecond float64) time.Duration {
	if refillPerSecond <= 0 {
		return 24 * time.Hour
	}
	secs := math.Ceil(capacity/refillPerSecond) * 2
	return time.Duration(secs) * time.Second
}
