package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kes-wallet/biz/dal/pg"
	"kes-wallet/biz/model"
	"kes-wallet/biz/util"
	"kes-wallet/gateway"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 资产数量保留位数
const assetScale = 8

type PaymentGateway interface {
	STKPush(ctx context.Context, r *gateway.STKPushRequest) (*gateway.STKPushResponse, error)
}

type EffectDispatcher interface {
	DispatchAsync(ctx context.Context, events []model.OutboxEvent)
}

type OrphanReplayer interface {
	ReplayOrphans(ctx context.Context, correlationID string) (int, error)
}

// DeadlineTracker 登记等待网关确认的交易，到期后置为 expired
type DeadlineTracker interface {
	Track(tradeID string, createdAt time.Time)
}

// Submitter 跟单与信号扇出复用的下单入口
type Submitter interface {
	Submit(ctx context.Context, req *SubmitRequest) (*model.TradeIntent, error)
}

type SubmitRequest struct {
	AccountID      string
	Side           model.Side
	Funding        model.Funding
	AssetSymbol    string
	AmountCurrency decimal.Decimal
	// AmountAsset 仅用于按数量卖出
	AmountAsset decimal.Decimal
	Recipient   string
	Phone       string
	MaxSlippage decimal.NullDecimal
	SourceType  model.SourceType
	SourceRef   string
}

type PipelineConfig struct {
	FeeAccountID   string
	MinDeposit     decimal.Decimal
	MaxDeposit     decimal.Decimal
	GatewayTimeout time.Duration
}

// TradeService 交易流水线：校验 → 限流 → 计费 → 落库 pending → 结算或发起网关支付
type TradeService struct {
	db      *gorm.DB
	trades  *pg.TradeRepo
	limiter *RateLimiter
	fees    *FeeCalculator
	prices  PriceOracle
	machine *StateMachine
	gateway PaymentGateway
	effects EffectDispatcher
	orphans OrphanReplayer
	tracker DeadlineTracker
	cfg     PipelineConfig
}

func NewTradeService(db *gorm.DB, limiter *RateLimiter, fees *FeeCalculator, prices PriceOracle,
	machine *StateMachine, gw PaymentGateway, effects EffectDispatcher, orphans OrphanReplayer, cfg PipelineConfig) *TradeService {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 15 * time.Second
	}
	return &TradeService{
		db:      db,
		trades:  pg.NewTradeRepo(db),
		limiter: limiter,
		fees:    fees,
		prices:  prices,
		machine: machine,
		gateway: gw,
		effects: effects,
		orphans: orphans,
		cfg:     cfg,
	}
}

func (s *TradeService) SetDeadlineTracker(t DeadlineTracker) {
	s.tracker = t
}

func (s *TradeService) Get(ctx context.Context, id string) (*model.TradeIntent, error) {
	return s.trades.Get(ctx, id)
}

func (s *TradeService) List(ctx context.Context, accountID string, limit int) ([]model.TradeIntent, error) {
	return s.trades.ListByAccount(ctx, accountID, limit)
}

// Submit 提交一笔交易意图。返回的 intent 可能已处于 failed 状态，此时 error 给出原因。
func (s *TradeService) Submit(ctx context.Context, req *SubmitRequest) (*model.TradeIntent, error) {
	intent, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if intent.GatewayFunded() {
		return s.submitGateway(ctx, intent)
	}
	return s.settleWallet(ctx, intent)
}

func rateClass(req *SubmitRequest) RateClass {
	switch {
	case req.SourceType == model.SourceCopy:
		return ClassCopy
	case req.SourceType == model.SourceSignal:
		return ClassSignal
	case req.Side == model.SideDeposit, req.Side == model.SideBuy && req.Funding == model.FundingMobileMoney:
		return ClassDeposit
	default:
		return ClassTrade
	}
}

func (s *TradeService) validate(req *SubmitRequest) error {
	if req.AccountID == "" {
		return fmt.Errorf("account_id required: %w", model.ErrInvalidRequest)
	}
	if !req.Side.Valid() {
		return fmt.Errorf("unknown side %q: %w", req.Side, model.ErrInvalidRequest)
	}
	if req.SourceType == "" {
		req.SourceType = model.SourceManual
	}
	if req.Funding == "" {
		req.Funding = model.FundingWallet
	}
	if req.Side == model.SideDeposit {
		req.Funding = model.FundingMobileMoney
	}
	if req.Funding == model.FundingMobileMoney && req.Side != model.SideDeposit && req.Side != model.SideBuy {
		return fmt.Errorf("%s cannot be funded by mobile money: %w", req.Side, model.ErrInvalidRequest)
	}
	req.AssetSymbol = strings.ToUpper(strings.TrimSpace(req.AssetSymbol))

	if req.AmountCurrency.IsNegative() || req.AmountAsset.IsNegative() {
		return fmt.Errorf("negative amount: %w", model.ErrInvalidAmount)
	}
	sellByQuantity := req.Side == model.SideSell && req.AmountAsset.IsPositive()
	if !sellByQuantity && !req.AmountCurrency.IsPositive() {
		return fmt.Errorf("amount must be positive: %w", model.ErrInvalidAmount)
	}

	switch req.Side {
	case model.SideBuy, model.SideSell:
		if req.AssetSymbol == "" {
			return fmt.Errorf("%s requires asset_symbol: %w", req.Side, model.ErrInvalidRequest)
		}
	case model.SideTransfer:
		if req.Recipient == "" || req.Recipient == req.AccountID {
			return fmt.Errorf("transfer to %q: %w", req.Recipient, model.ErrInvalidRecipient)
		}
	}

	needsPhone := req.Funding == model.FundingMobileMoney || req.Side == model.SideWithdraw
	if needsPhone {
		phone, err := util.NormalizePhone(req.Phone)
		if err != nil {
			return fmt.Errorf("%v: %w", err, model.ErrInvalidRecipient)
		}
		req.Phone = phone
		amt := req.AmountCurrency
		if amt.LessThan(s.cfg.MinDeposit) || amt.GreaterThan(s.cfg.MaxDeposit) {
			return fmt.Errorf("amount %s outside %s..%s: %w", amt, s.cfg.MinDeposit, s.cfg.MaxDeposit, model.ErrInvalidAmount)
		}
		if !amt.Equal(amt.Truncate(0)) {
			return fmt.Errorf("mobile money amount must be whole KES: %w", model.ErrInvalidAmount)
		}
	}
	if req.Funding == model.FundingMobileMoney && s.gateway == nil {
		return fmt.Errorf("payment gateway not configured: %w", model.ErrConfiguration)
	}
	return nil
}

// prepare 完成校验、限流与计费，生成待落库的 intent。限流拒绝前不产生任何写入。
func (s *TradeService) prepare(ctx context.Context, req *SubmitRequest) (*model.TradeIntent, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	if err := s.limiter.Admit(ctx, rateClass(req), req.AccountID); err != nil {
		return nil, err
	}

	intent := &model.TradeIntent{
		AccountID:      req.AccountID,
		Side:           req.Side,
		Funding:        req.Funding,
		AssetSymbol:    req.AssetSymbol,
		AmountCurrency: req.AmountCurrency,
		FeeDestination: s.cfg.FeeAccountID,
		Recipient:      req.Recipient,
		Phone:          req.Phone,
		MaxSlippage:    req.MaxSlippage,
		SourceType:     req.SourceType,
		SourceRef:      req.SourceRef,
		State:          model.StatePending,
	}

	var price decimal.Decimal
	if req.Side == model.SideBuy || req.Side == model.SideSell {
		p, err := s.prices.Quote(ctx, req.AssetSymbol)
		if err != nil {
			return nil, err
		}
		price = p
		intent.Price = decimal.NewNullDecimal(p)
	}
	if req.Side == model.SideSell {
		qty := req.AmountAsset
		if !qty.IsPositive() {
			qty = req.AmountCurrency.Div(price).Truncate(assetScale)
		}
		intent.AmountAsset = decimal.NewNullDecimal(qty)
		intent.AmountCurrency = qty.Mul(price).Round(2)
		if !intent.AmountCurrency.IsPositive() {
			return nil, fmt.Errorf("sell value rounds to zero: %w", model.ErrInvalidAmount)
		}
	}

	fee, net, err := s.fees.ComputeFee(intent.AmountCurrency, req.Side)
	if err != nil {
		return nil, err
	}
	intent.FeeAmount = fee
	intent.NetAmount = net

	if req.Side == model.SideBuy {
		intent.AmountAsset = decimal.NewNullDecimal(net.Div(price).Truncate(assetScale))
	}
	if intent.AmountAsset.Valid && !intent.AmountAsset.Decimal.IsPositive() {
		return nil, fmt.Errorf("amount too small for one unit of %s: %w", req.AssetSymbol, model.ErrInvalidAmount)
	}

	id, err := util.NewTradeID()
	if err != nil {
		return nil, err
	}
	intent.ID = id
	return intent, nil
}

// settleWallet 不需要外部资金的交易在创建时同步结算：pending → completed
func (s *TradeService) settleWallet(ctx context.Context, intent *model.TradeIntent) (*model.TradeIntent, error) {
	if err := s.trades.Create(ctx, intent); err != nil {
		return nil, err
	}
	done, events, err := s.machine.Apply(ctx, intent.ID, Transition{
		To:     model.StateCompleted,
		Deltas: SettlementDeltas(intent, s.cfg.FeeAccountID),
	})
	if err != nil {
		return s.fail(ctx, intent, err)
	}
	s.effects.DispatchAsync(ctx, events)
	return done, nil
}

// fail 把 pending 的 intent 置为 failed 并返回原始错误
func (s *TradeService) fail(ctx context.Context, intent *model.TradeIntent, cause error) (*model.TradeIntent, error) {
	failed, events, err := s.machine.Apply(ctx, intent.ID, Transition{
		To:     model.StateFailed,
		Reason: model.FailureReason(cause),
		InTx: func(tx *gorm.DB) error {
			if !intent.GatewayFunded() {
				return nil
			}
			return pg.NewPaymentRepo(tx).SetStatus(ctx, intent.ID, model.PaymentRejected)
		},
	})
	if err != nil {
		hlog.CtxErrorf(ctx, "mark trade %s failed: %v (cause: %v)", intent.ID, err, cause)
		return intent, cause
	}
	s.effects.DispatchAsync(ctx, events)
	return failed, cause
}

// submitGateway 先在同一事务内写入 intent 与 PendingPayment，再调用网关，
// 回调早于绑定到达时会被记为孤儿，绑定后重放。
func (s *TradeService) submitGateway(ctx context.Context, intent *model.TradeIntent) (*model.TradeIntent, error) {
	payment := &model.PendingPayment{
		ID:             uuid.NewString(),
		TradeID:        intent.ID,
		LocalReference: intent.ID,
		Amount:         intent.AmountCurrency,
		Phone:          intent.Phone,
		Status:         model.PaymentCreated,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := pg.NewTradeRepo(tx).Create(ctx, intent); err != nil {
			return err
		}
		return pg.NewPaymentRepo(tx).Create(ctx, payment)
	})
	if err != nil {
		return nil, err
	}

	desc := "Wallet deposit"
	if intent.Side == model.SideBuy {
		desc = "Buy " + intent.AssetSymbol
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	resp, err := s.gateway.STKPush(callCtx, &gateway.STKPushRequest{
		Amount:           intent.AmountCurrency,
		Phone:            intent.Phone,
		AccountReference: intent.ID,
		Description:      desc,
	})
	cancel()
	if err != nil {
		if !errors.Is(err, model.ErrExternalGateway) && !errors.Is(err, model.ErrConfiguration) {
			err = fmt.Errorf("%v: %w", err, model.ErrExternalGateway)
		}
		hlog.CtxWarnf(ctx, "stk push for trade %s phone=%s failed: %v", intent.ID, util.MaskPhone(intent.Phone), err)
		return s.fail(ctx, intent, err)
	}

	correlationID := resp.CheckoutRequestID
	processing, events, err := s.machine.Apply(ctx, intent.ID, Transition{
		To:     model.StateProcessing,
		Fields: map[string]interface{}{"external_correlation_id": correlationID},
		InTx: func(tx *gorm.DB) error {
			return pg.NewPaymentRepo(tx).BindCorrelation(ctx, intent.ID, correlationID)
		},
	})
	if err != nil {
		hlog.CtxErrorf(ctx, "bind checkout %s to trade %s: %v", correlationID, intent.ID, err)
		return intent, err
	}
	s.effects.DispatchAsync(ctx, events)
	if s.tracker != nil {
		s.tracker.Track(intent.ID, processing.CreatedAt)
	}

	if s.orphans != nil {
		n, err := s.orphans.ReplayOrphans(ctx, correlationID)
		if err != nil {
			hlog.CtxErrorf(ctx, "replay orphans for %s: %v", correlationID, err)
		}
		if n > 0 {
			return s.trades.Get(ctx, intent.ID)
		}
	}
	return processing, nil
}
