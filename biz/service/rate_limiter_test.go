package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kes-wallet/biz/model"
	"kes-wallet/conf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func defaultLimits() map[string]conf.Bucket {
	return map[string]conf.Bucket{
		"trade":   {Capacity: 10, RefillPerSecond: 0.5},
		"deposit": {Capacity: 5, RefillPerSecond: 0.1},
	}
}

func TestRateLimiterBurstThenRefill(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(NewLocalBucketBackend(clock.Now), defaultLimits())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, rl.Admit(ctx, ClassTrade, "acct-1"), "request %d", i+1)
	}
	err := rl.Admit(ctx, ClassTrade, "acct-1")
	assert.True(t, errors.Is(err, model.ErrRateLimited))

	// 2 秒回填 1 个令牌，恰好放行一次
	clock.Advance(2 * time.Second)
	assert.NoError(t, rl.Admit(ctx, ClassTrade, "acct-1"))
	assert.True(t, errors.Is(rl.Admit(ctx, ClassTrade, "acct-1"), model.ErrRateLimited))
}

func TestRateLimiterRejectionHasNoSideEffect(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(NewLocalBucketBackend(clock.Now), defaultLimits())
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, rl.Admit(ctx, ClassTrade, "acct-1"))
	}
	// 被拒绝的请求不应推迟回填
	clock.Advance(time.Second)
	ok, err := rl.Allow(ctx, ClassTrade, "acct-1")
	require.NoError(t, err)
	assert.False(t, ok)
	clock.Advance(time.Second)
	ok, err = rl.Allow(ctx, ClassTrade, "acct-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimiterIsolation(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(NewLocalBucketBackend(clock.Now), defaultLimits())
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, rl.Admit(ctx, ClassTrade, "acct-1"))
	}
	assert.NoError(t, rl.Admit(ctx, ClassTrade, "acct-2"), "other accounts keep their own bucket")
	assert.NoError(t, rl.Admit(ctx, ClassDeposit, "acct-1"), "other classes keep their own bucket")

	_, err := rl.Allow(ctx, ClassCopy, "acct-1")
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}

func TestRateLimiterConcurrentAdmitsNeverExceedCapacity(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(NewLocalBucketBackend(clock.Now), defaultLimits())
	var admitted int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Admit(context.Background(), ClassTrade, "acct-1") == nil {
				atomic.AddInt32(&admitted, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(10), admitted)
}

func TestLocalBucketPrune(t *testing.T) {
	clock := newFakeClock()
	b := NewLocalBucketBackend(clock.Now)
	_, _ = b.Take(context.Background(), "trade:a", 10, 0.5)
	clock.Advance(time.Minute)
	_, _ = b.Take(context.Background(), "trade:b", 10, 0.5)
	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, b.Prune(45*time.Second))
	assert.Equal(t, 0, b.Prune(45*time.Second))
}
