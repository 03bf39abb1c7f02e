package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kes-wallet/biz/dal/pg"
	"kes-wallet/biz/model"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CopyEngine 把完成的领单交易按跟随者配置派生为新的交易意图。
// 每个跟随者独立执行，互不影响，结果逐条落库。
type CopyEngine struct {
	copies       *pg.CopyRepo
	trades       *pg.TradeRepo
	balances     *BalanceStore
	fees         *FeeCalculator
	submitter    Submitter
	pool         *ants.Pool
	minExecution decimal.Decimal
}

func NewCopyEngine(db *gorm.DB, balances *BalanceStore, fees *FeeCalculator, submitter Submitter, pool *ants.Pool, minExecution decimal.Decimal) *CopyEngine {
	return &CopyEngine{
		copies:       pg.NewCopyRepo(db),
		trades:       pg.NewTradeRepo(db),
		balances:     balances,
		fees:         fees,
		submitter:    submitter,
		pool:         pool,
		minExecution: minExecution,
	}
}

func propagates(t *model.TradeIntent) bool {
	return t.State == model.StateCompleted &&
		t.SourceType != model.SourceCopy &&
		(t.Side == model.SideBuy || t.Side == model.SideSell)
}

// Propagate 返回为跟随者创建的交易 ID。已有结果记录的跟随者会被跳过，重复调用安全。
func (e *CopyEngine) Propagate(ctx context.Context, leader *model.TradeIntent) ([]string, error) {
	if !propagates(leader) {
		return nil, nil
	}
	configs, err := e.copies.ListActiveByLeader(ctx, leader.AccountID)
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, nil
	}
	done, err := e.copies.ListOutcomes(ctx, leader.ID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(done))
	for _, o := range done {
		seen[o.AccountID] = struct{}{}
	}

	var (
		mu  sync.Mutex
		ids []string
		wg  sync.WaitGroup
	)
	for i := range configs {
		cfg := configs[i]
		if cfg.FollowerAccountID == leader.AccountID {
			continue
		}
		if _, ok := seen[cfg.FollowerAccountID]; ok {
			continue
		}
		task := func() {
			defer wg.Done()
			if id := e.follow(ctx, leader, &cfg); id != "" {
				mu.Lock()
				ids = append(ids, id)
				mu.Unlock()
			}
		}
		wg.Add(1)
		if err := e.pool.Submit(task); err != nil {
			wg.Done()
			e.record(ctx, leader, cfg.FollowerAccountID, model.OutcomeFailed, "copy pool unavailable", "")
			hlog.CtxErrorf(ctx, "submit copy task for %s: %v", cfg.FollowerAccountID, err)
		}
	}
	wg.Wait()
	hlog.CtxInfof(ctx, "leader trade %s propagated to %d/%d followers", leader.ID, len(ids), len(configs))
	return ids, nil
}

// follow 处理单个跟随者，错误只记录为结果，不向上传播
func (e *CopyEngine) follow(ctx context.Context, leader *model.TradeIntent, cfg *model.CopyConfiguration) string {
	notional, err := e.notional(ctx, leader, cfg)
	if err != nil {
		e.record(ctx, leader, cfg.FollowerAccountID, model.OutcomeFailed, model.FailureReason(err), "")
		return ""
	}
	_, net, err := e.fees.ComputeFee(notional, leader.Side)
	if err != nil {
		e.record(ctx, leader, cfg.FollowerAccountID, model.OutcomeFailed, model.FailureReason(err), "")
		return ""
	}
	if net.LessThan(e.minExecution) {
		e.record(ctx, leader, cfg.FollowerAccountID, model.OutcomeSkipped, model.ReasonTooSmallAfterFees, "")
		return ""
	}

	req := &SubmitRequest{
		AccountID:      cfg.FollowerAccountID,
		Side:           leader.Side,
		Funding:        model.FundingWallet,
		AssetSymbol:    leader.AssetSymbol,
		AmountCurrency: notional,
		MaxSlippage:    decimal.NewNullDecimal(cfg.MaxSlippage),
		SourceType:     model.SourceCopy,
		SourceRef:      leader.ID,
	}
	trade, err := e.submitter.Submit(ctx, req)
	switch {
	case err != nil && trade != nil:
		e.record(ctx, leader, cfg.FollowerAccountID, model.OutcomeFailed, model.FailureReason(err), trade.ID)
		return trade.ID
	case err != nil:
		e.record(ctx, leader, cfg.FollowerAccountID, model.OutcomeFailed, model.FailureReason(err), "")
		return ""
	}
	e.record(ctx, leader, cfg.FollowerAccountID, model.OutcomeExecuted, "", trade.ID)
	return trade.ID
}

// notional 按比例模式取跟随者当前余额（卖出时取该资产持仓市值），固定模式取配置金额，再按上限截断
func (e *CopyEngine) notional(ctx context.Context, leader *model.TradeIntent, cfg *model.CopyConfiguration) (decimal.Decimal, error) {
	var amount decimal.Decimal
	switch cfg.SizingMode {
	case model.SizingFixed:
		amount = cfg.SizingValue
	case model.SizingPercent:
		snap, err := e.balances.Snapshot(ctx, cfg.FollowerAccountID)
		if err != nil {
			return decimal.Zero, err
		}
		base := snap.Currency
		if leader.Side == model.SideSell {
			base = snap.Asset(leader.AssetSymbol).Mul(leader.Price.Decimal)
		}
		amount = base.Mul(cfg.SizingValue)
	default:
		return decimal.Zero, fmt.Errorf("unknown sizing mode %q: %w", cfg.SizingMode, model.ErrConfiguration)
	}
	if cfg.MaxNotional.Valid && amount.GreaterThan(cfg.MaxNotional.Decimal) {
		amount = cfg.MaxNotional.Decimal
	}
	return amount.Round(2), nil
}

func (e *CopyEngine) record(ctx context.Context, leader *model.TradeIntent, follower string, status model.OutcomeStatus, reason, tradeID string) {
	err := e.copies.SaveOutcome(ctx, &model.FanoutOutcome{
		ID:              uuid.NewString(),
		SourceType:      model.SourceCopy,
		SourceRef:       leader.ID,
		AccountID:       follower,
		Status:          status,
		Reason:          reason,
		FollowerTradeID: tradeID,
		CreatedAt:       time.Now(),
	})
	if err != nil {
		hlog.CtxErrorf(ctx, "save copy outcome leader=%s follower=%s: %v", leader.ID, follower, err)
	}
}

// HandleEffect copy.propagate 副作用处理器
func (e *CopyEngine) HandleEffect(ctx context.Context, ev *model.OutboxEvent) error {
	leader, err := e.trades.Get(ctx, ev.Payload)
	if err != nil {
		return err
	}
	_, err = e.Propagate(ctx, leader)
	return err
}

func (e *CopyEngine) Follow(ctx context.Context, c *model.CopyConfiguration) error {
	if c.FollowerAccountID == "" || c.LeaderAccountID == "" || c.FollowerAccountID == c.LeaderAccountID {
		return fmt.Errorf("follower %q leader %q: %w", c.FollowerAccountID, c.LeaderAccountID, model.ErrInvalidRecipient)
	}
	switch c.SizingMode {
	case model.SizingPercent:
		if !c.SizingValue.IsPositive() || c.SizingValue.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("percent sizing must be in (0, 1]: %w", model.ErrInvalidAmount)
		}
	case model.SizingFixed:
		if !c.SizingValue.IsPositive() {
			return fmt.Errorf("fixed sizing must be positive: %w", model.ErrInvalidAmount)
		}
	default:
		return fmt.Errorf("unknown sizing mode %q: %w", c.SizingMode, model.ErrInvalidRequest)
	}
	if c.MaxNotional.Valid && !c.MaxNotional.Decimal.IsPositive() {
		return fmt.Errorf("max_notional must be positive: %w", model.ErrInvalidAmount)
	}
	return e.copies.Create(ctx, c)
}

func (e *CopyEngine) Unfollow(ctx context.Context, followerID, leaderID string) error {
	return e.copies.Deactivate(ctx, followerID, leaderID)
}

func (e *CopyEngine) Outcomes(ctx context.Context, leaderTradeID string) ([]model.FanoutOutcome, error) {
	return e.copies.ListOutcomes(ctx, leaderTradeID)
}
