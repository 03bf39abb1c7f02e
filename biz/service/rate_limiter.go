package service

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"kes-wallet/biz/model"
	"kes-wallet/conf"

	"github.com/cloudwego/hertz/pkg/common/hlog"
)

type RateClass string

const (
	ClassTrade   RateClass = "trade"
	ClassDeposit RateClass = "deposit"
	ClassCopy    RateClass = "copy"
	ClassSignal  RateClass = "signal"
)

// BucketBackend 令牌桶存储。Take 在令牌不足时不得产生任何副作用。
type BucketBackend interface {
	Take(ctx context.Context, key string, capacity, refillPerSecond float64) (bool, error)
}

// RateLimiter 按 (请求类别, 账户) 维度限流，各类别的桶互不影响
type RateLimiter struct {
	backend BucketBackend
	limits  map[RateClass]conf.Bucket
}

func NewRateLimiter(backend BucketBackend, limits map[string]conf.Bucket) *RateLimiter {
	l := make(map[RateClass]conf.Bucket, len(limits))
	for k, v := range limits {
		l[RateClass(k)] = v
	}
	return &RateLimiter{backend: backend, limits: l}
}

func (r *RateLimiter) Allow(ctx context.Context, class RateClass, accountID string) (bool, error) {
	limit, ok := r.limits[class]
	if !ok {
		return false, fmt.Errorf("no rate limit for class %s: %w", class, model.ErrConfiguration)
	}
	return r.backend.Take(ctx, string(class)+":"+accountID, limit.Capacity, limit.RefillPerSecond)
}

// Admit 被拒绝时返回 ErrRateLimited，引擎内部不会自动重试
func (r *RateLimiter) Admit(ctx context.Context, class RateClass, accountID string) error {
	ok, err := r.Allow(ctx, class, accountID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s limit for account %s: %w", class, accountID, model.ErrRateLimited)
	}
	return nil
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// LocalBucketBackend 进程内令牌桶。
// 多实例部署时每个实例各自计数，实际放行量会超过配置，需要切换到 redis 后端。
type LocalBucketBackend struct {
	mu      sync.RWMutex
	buckets map[string]*tokenBucket
	now     func() time.Time
}

func NewLocalBucketBackend(now func() time.Time) *LocalBucketBackend {
	if now == nil {
		now = time.Now
	}
	return &LocalBucketBackend{
		buckets: make(map[string]*tokenBucket),
		now:     now,
	}
}

func (b *LocalBucketBackend) bucket(key string, capacity float64) *tokenBucket {
	b.mu.RLock()
	tb, ok := b.buckets[key]
	b.mu.RUnlock()
	if ok {
		return tb
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	// double check
	if tb, ok = b.buckets[key]; ok {
		return tb
	}
	tb = &tokenBucket{tokens: capacity, lastRefill: b.now()}
	b.buckets[key] = tb
	return tb
}

func (b *LocalBucketBackend) Take(_ context.Context, key string, capacity, refillPerSecond float64) (bool, error) {
	tb := b.bucket(key, capacity)
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := b.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	tokens := math.Min(capacity, tb.tokens+elapsed*refillPerSecond)
	if tokens < 1 {
		return false, nil
	}
	tb.tokens = tokens - 1
	tb.lastRefill = now
	return true, nil
}

// Prune 清理长时间未使用的桶，这些桶早已回满，删除后与新建等价
func (b *LocalBucketBackend) Prune(idle time.Duration) int {
	cutoff := b.now().Add(-idle)
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for k, tb := range b.buckets {
		tb.mu.Lock()
		stale := tb.lastRefill.Before(cutoff)
		tb.mu.Unlock()
		if stale {
			delete(b.buckets, k)
			n++
		}
	}
	return n
}

// WarnIfUnderEnforced 多实例仍使用本地限流时打印告警
func WarnIfUnderEnforced(backend string, instances int) {
	if backend != "redis" && instances > 1 {
		hlog.Warnf("限流使用进程内令牌桶，但配置了 %d 个实例，实际限额会被放大，请切换到 redis 后端", instances)
	}
}
