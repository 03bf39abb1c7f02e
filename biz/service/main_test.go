package service

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"kes-wallet/biz/dal/pg"
	"kes-wallet/biz/model"
	"kes-wallet/conf"
	"kes-wallet/gateway"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const feeAccount = "platform-fees"

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newTestDB 每个测试独立的 sqlite 文件库，单连接串行化写入
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "engine.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, pg.AutoMigrate(db))
	return db
}

func testFees(t *testing.T) *FeeCalculator {
	t.Helper()
	f, err := NewFeeCalculatorFromConf(conf.Fees{
		Scale:         2,
		FreeThreshold: 100,
		Rates:         map[string]float64{"buy": 0.025, "sell": 0.035, "transfer": 0.02, "withdraw": 0},
		DepositTiers: []conf.FeeTier{
			{UpTo: 100, Fee: 0}, {UpTo: 500, Fee: 7}, {UpTo: 1000, Fee: 13}, {UpTo: 1500, Fee: 23},
			{UpTo: 2500, Fee: 33}, {UpTo: 3500, Fee: 53}, {UpTo: 5000, Fee: 75}, {UpTo: 7500, Fee: 105},
			{UpTo: 10000, Fee: 120}, {UpTo: 15000, Fee: 165}, {UpTo: 20000, Fee: 185},
			{UpTo: 35000, Fee: 200}, {UpTo: 50000, Fee: 220}, {UpTo: 150000, Fee: 250},
		},
	})
	require.NoError(t, err)
	return f
}

func generousLimits() map[string]conf.Bucket {
	b := conf.Bucket{Capacity: 1000, RefillPerSecond: 100}
	return map[string]conf.Bucket{"trade": b, "deposit": b, "copy": b, "signal": b}
}

// fakeGateway 记录 STK Push 请求，按序返回 CheckoutRequestID
type fakeGateway struct {
	mu    sync.Mutex
	calls []*gateway.STKPushRequest
	last  string
	err   error
	// onPush 在返回前执行，用于模拟回调先于绑定到达
	onPush func(checkoutID string)
}

func (g *fakeGateway) STKPush(_ context.Context, r *gateway.STKPushRequest) (*gateway.STKPushResponse, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.mu.Lock()
	g.calls = append(g.calls, r)
	id := "ws_CO_" + r.AccountReference + "_" + strconv.Itoa(len(g.calls))
	g.last = id
	g.mu.Unlock()
	if g.onPush != nil {
		g.onPush(id)
	}
	return &gateway.STKPushResponse{CheckoutRequestID: id, ResponseCode: "0"}, nil
}

func (g *fakeGateway) lastCheckout(t *testing.T) string {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	require.NotEmpty(t, g.last)
	return g.last
}

// recordingEffects 只收集事件，不执行
type recordingEffects struct {
	mu     sync.Mutex
	events []model.OutboxEvent
}

func (r *recordingEffects) DispatchAsync(_ context.Context, events []model.OutboxEvent) {
	r.mu.Lock()
	r.events = append(r.events, events...)
	r.mu.Unlock()
}

func (r *recordingEffects) kinds() []model.EffectKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.EffectKind
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type harness struct {
	db         *gorm.DB
	balances   *BalanceStore
	machine    *StateMachine
	fees       *FeeCalculator
	prices     *PriceTable
	gw         *fakeGateway
	effects    *recordingEffects
	reconciler *Reconciler
	trades     *TradeService
}

func newHarness(t *testing.T, limits map[string]conf.Bucket) *harness {
	t.Helper()
	h := &harness{db: newTestDB(t), gw: &fakeGateway{}, effects: &recordingEffects{}}
	h.balances = NewBalanceStore(h.db, NewKeyedMutex())
	h.machine = NewStateMachine(h.db, h.balances)
	h.fees = testFees(t)
	h.prices = NewPriceTable(map[string]float64{"BTC": 8500000, "ETH": 400000, "USDT": 100})
	h.reconciler = NewReconciler(h.db, h.machine, h.effects, feeAccount)
	limiter := NewRateLimiter(NewLocalBucketBackend(time.Now), limits)
	h.trades = NewTradeService(h.db, limiter, h.fees, h.prices, h.machine, h.gw, h.effects, h.reconciler, PipelineConfig{
		FeeAccountID:   feeAccount,
		MinDeposit:     dec("10"),
		MaxDeposit:     dec("150000"),
		GatewayTimeout: time.Second,
	})
	return h
}

func (h *harness) fund(t *testing.T, accountID, amount string) {
	t.Helper()
	require.NoError(t, h.balances.ApplyDelta(context.Background(), accountID, dec(amount)))
}

func (h *harness) currency(t *testing.T, accountID string) decimal.Decimal {
	t.Helper()
	snap, err := h.balances.Snapshot(context.Background(), accountID)
	require.NoError(t, err)
	return snap.Currency
}

func (h *harness) asset(t *testing.T, accountID, symbol string) decimal.Decimal {
	t.Helper()
	snap, err := h.balances.Snapshot(context.Background(), accountID)
	require.NoError(t, err)
	return snap.Asset(symbol)
}

func successCallback(checkoutID, amount string) *model.PaymentCallback {
	return &model.PaymentCallback{
		ExternalCorrelationID: checkoutID,
		ResultCode:            model.ResultCodeSuccess,
		ResultDesc:            "The service request is processed successfully.",
		Amount:                dec(amount),
		ReceiptNumber:         "NLJ7RT61SV",
		Phone:                 "254708374149",
	}
}
