package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"kes-wallet/biz/dal/pg"
	"kes-wallet/biz/model"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/hashicorp/consul/api"
	"github.com/huandu/skiplist"
	"gorm.io/gorm"
)

const expiredReason = "payment not confirmed in time"

// StaleFinder 查询超过期限仍未终结的交易，pg.TradeRepo 与 pg.StaleTradeFinder 均实现
type StaleFinder interface {
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]model.TradeIntent, error)
}

type Relayer interface {
	Relay(ctx context.Context, limit int) (int, error)
}

type OrphanSweeper interface {
	ReplayAll(ctx context.Context, limit int) (int, error)
}

type BucketPruner interface {
	Prune(idle time.Duration) int
}

type SweeperConfig struct {
	Window    time.Duration
	Interval  time.Duration
	BatchSize int
	LockKey   string
}

// SweeperHooks 每轮清扫顺带执行的维护任务，均可为空
type SweeperHooks struct {
	Relay   Relayer
	Orphans OrphanSweeper
	Buckets BucketPruner
	Consul  *api.Client
}

type deadlineKey struct {
	at int64
	id string
}

// 跳表截止时间比较器，早到期的排在前面
type deadlineComparator struct{}

func (deadlineComparator) Compare(l, r interface{}) int {
	lk, rk := l.(deadlineKey), r.(deadlineKey)
	switch {
	case lk.at < rk.at:
		return -1
	case lk.at > rk.at:
		return 1
	case lk.id < rk.id:
		return -1
	case lk.id > rk.id:
		return 1
	}
	return 0
}

func (deadlineComparator) CalcScore(key interface{}) float64 {
	return float64(key.(deadlineKey).at)
}

// ExpirySweeper 把超时未确认的 pending/processing 交易置为 expired。
// 本实例创建的交易记在跳表里按截止时间出队，其余实例或重启前的交易靠数据库扫描兜底。
type ExpirySweeper struct {
	trades  *pg.TradeRepo
	finder  StaleFinder
	machine *StateMachine
	effects EffectDispatcher
	hooks   SweeperHooks
	cfg     SweeperConfig
	now     func() time.Time

	mu        sync.Mutex
	deadlines *skiplist.SkipList
}

func NewExpirySweeper(db *gorm.DB, finder StaleFinder, machine *StateMachine, effects EffectDispatcher, cfg SweeperConfig, hooks SweeperHooks) *ExpirySweeper {
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "kes-wallet/expiry_sweep_lock"
	}
	trades := pg.NewTradeRepo(db)
	if finder == nil {
		finder = trades
	}
	return &ExpirySweeper{
		trades:    trades,
		finder:    finder,
		machine:   machine,
		effects:   effects,
		hooks:     hooks,
		cfg:       cfg,
		now:       time.Now,
		deadlines: skiplist.New(deadlineComparator{}),
	}
}

// WithClock 测试用
func (s *ExpirySweeper) WithClock(now func() time.Time) *ExpirySweeper {
	s.now = now
	return s
}

// Track 登记一笔等待网关确认的交易
func (s *ExpirySweeper) Track(tradeID string, createdAt time.Time) {
	key := deadlineKey{at: createdAt.Add(s.cfg.Window).UnixNano(), id: tradeID}
	s.mu.Lock()
	s.deadlines.Set(key, tradeID)
	s.mu.Unlock()
}

// due 弹出所有已到期的本地登记
func (s *ExpirySweeper) due(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for elem := s.deadlines.Front(); elem != nil; elem = s.deadlines.Front() {
		key := elem.Key().(deadlineKey)
		if key.at > now.UnixNano() {
			break
		}
		ids = append(ids, key.id)
		s.deadlines.Remove(key)
	}
	return ids
}

func (s *ExpirySweeper) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadlines.Len()
}

// Run 按间隔清扫直到 ctx 取消
func (s *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *ExpirySweeper) tick(ctx context.Context) {
	if s.hooks.Consul != nil {
		lock, err := acquireConsulLock(s.hooks.Consul, s.cfg.LockKey)
		if err != nil {
			hlog.Warnf("过期清扫获取Consul锁失败: %v", err)
			return
		}
		if lock == nil {
			return
		}
		defer func() { _ = lock.Unlock() }()
	}

	if n, err := s.RunOnce(ctx); err != nil {
		hlog.CtxErrorf(ctx, "expiry sweep: %v", err)
	} else if n > 0 {
		hlog.CtxInfof(ctx, "expiry sweep expired %d trades", n)
	}
	if s.hooks.Relay != nil {
		if n, err := s.hooks.Relay.Relay(ctx, s.cfg.BatchSize); err != nil {
			hlog.CtxErrorf(ctx, "outbox relay: %v", err)
		} else if n > 0 {
			hlog.CtxInfof(ctx, "outbox relay redelivered %d events", n)
		}
	}
	if s.hooks.Orphans != nil {
		if n, err := s.hooks.Orphans.ReplayAll(ctx, s.cfg.BatchSize); err != nil {
			hlog.CtxErrorf(ctx, "orphan replay: %v", err)
		} else if n > 0 {
			hlog.CtxInfof(ctx, "orphan replay resolved %d callbacks", n)
		}
	}
	if s.hooks.Buckets != nil {
		s.hooks.Buckets.Prune(10 * s.cfg.Interval)
	}
}

// RunOnce 执行一轮过期处理，返回置为 expired 的数量
func (s *ExpirySweeper) RunOnce(ctx context.Context) (int, error) {
	now := s.now()
	ids := s.due(now)
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	stale, err := s.finder.ListStale(ctx, now.Add(-s.cfg.Window), s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, t := range stale {
		if _, ok := seen[t.ID]; !ok {
			seen[t.ID] = struct{}{}
			ids = append(ids, t.ID)
		}
	}

	expired := 0
	for _, id := range ids {
		ok, err := s.expire(ctx, id, now)
		if err != nil {
			hlog.CtxErrorf(ctx, "expire trade %s: %v", id, err)
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (s *ExpirySweeper) expire(ctx context.Context, id string, now time.Time) (bool, error) {
	trade, err := s.trades.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if trade.State.Terminal() || trade.CreatedAt.Add(s.cfg.Window).After(now) {
		return false, nil
	}
	_, events, err := s.machine.Apply(ctx, id, Transition{
		To:     model.StateExpired,
		Reason: expiredReason,
		InTx: func(tx *gorm.DB) error {
			if !trade.GatewayFunded() {
				return nil
			}
			return pg.NewPaymentRepo(tx).SetStatus(ctx, id, model.PaymentRejected)
		},
	})
	if errors.Is(err, model.ErrStaleTransition) || errors.Is(err, model.ErrIllegalTransition) {
		// 回调与清扫并发，回调先完成
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.effects.DispatchAsync(ctx, events)
	hlog.CtxInfof(ctx, "trade %s expired from %s", id, trade.State)
	return true, nil
}

// acquireConsulLock 获取分布式锁，未抢到返回 nil
func acquireConsulLock(client *api.Client, key string) (*api.Lock, error) {
	lock, err := client.LockOpts(&api.LockOptions{
		Key:          key,
		LockTryOnce:  true,
		LockWaitTime: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	leaderCh, err := lock.Lock(nil)
	if err != nil || leaderCh == nil {
		return nil, nil
	}
	return lock, nil
}
