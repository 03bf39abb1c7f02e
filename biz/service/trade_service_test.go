package service

import (
	"context"
	"errors"
	"testing"

	"kes-wallet/biz/dal/pg"
	"kes-wallet/biz/model"
	"kes-wallet/conf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitWalletBuy(t *testing.T) {
	h := newHarness(t, generousLimits())
	h.fund(t, "alice", "5000")

	trade, err := h.trades.Submit(context.Background(), &SubmitRequest{
		AccountID:      "alice",
		Side:           model.SideBuy,
		AssetSymbol:    "btc",
		AmountCurrency: dec("1000"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, trade.State)
	assert.Equal(t, "BTC", trade.AssetSymbol)
	assert.Equal(t, "25", trade.FeeAmount.String())
	// 975 / 8500000 截断到 8 位
	assert.Equal(t, "0.0001147", trade.AmountAsset.Decimal.String())

	assert.True(t, h.currency(t, "alice").Equal(dec("4000")))
	assert.InDelta(t, 0.0001147, h.asset(t, "alice", "BTC").InexactFloat64(), 1e-12)
	assert.True(t, h.currency(t, feeAccount).Equal(dec("25")))
	assert.Contains(t, h.effects.kinds(), model.EffectCopyPropagate)
}

func TestSubmitInsufficientFundsFailsIntent(t *testing.T) {
	h := newHarness(t, generousLimits())
	h.fund(t, "alice", "300")

	trade, err := h.trades.Submit(context.Background(), &SubmitRequest{
		AccountID:      "alice",
		Side:           model.SideBuy,
		AssetSymbol:    "ETH",
		AmountCurrency: dec("1000"),
	})
	require.True(t, errors.Is(err, model.ErrInsufficientFunds))
	require.NotNil(t, trade)
	assert.Equal(t, model.StateFailed, trade.State)
	assert.Equal(t, "insufficient balance", trade.FailureReason)

	assert.True(t, h.currency(t, "alice").Equal(dec("300")))
	assert.True(t, h.asset(t, "alice", "ETH").IsZero())
	assert.True(t, h.currency(t, feeAccount).IsZero())
}

func TestSubmitSellByValue(t *testing.T) {
	h := newHarness(t, generousLimits())
	require.NoError(t, h.balances.ApplyDelta(context.Background(), "bob", dec("0"),
		model.AssetDelta{Symbol: "BTC", Delta: dec("1")}))

	trade, err := h.trades.Submit(context.Background(), &SubmitRequest{
		AccountID:      "bob",
		Side:           model.SideSell,
		AssetSymbol:    "BTC",
		AmountCurrency: dec("8500"),
	})
	require.NoError(t, err)
	assert.Equal(t, "0.001", trade.AmountAsset.Decimal.String())
	assert.Equal(t, "297.5", trade.FeeAmount.String())
	assert.True(t, h.currency(t, "bob").Equal(dec("8202.5")))
	assert.InDelta(t, 0.999, h.asset(t, "bob", "BTC").InexactFloat64(), 1e-12)
}

func TestSubmitSellMoreThanHeldLeavesHoldingUnchanged(t *testing.T) {
	h := newHarness(t, generousLimits())
	require.NoError(t, h.balances.ApplyDelta(context.Background(), "bob", dec("0"),
		model.AssetDelta{Symbol: "ETH", Delta: dec("0.5")}))

	_, err := h.trades.Submit(context.Background(), &SubmitRequest{
		AccountID:   "bob",
		Side:        model.SideSell,
		AssetSymbol: "ETH",
		AmountAsset: dec("2"),
	})
	require.True(t, errors.Is(err, model.ErrInsufficientFunds))
	assert.InDelta(t, 0.5, h.asset(t, "bob", "ETH").InexactFloat64(), 1e-12)
	assert.True(t, h.currency(t, "bob").IsZero())
}

func TestSubmitTransfer(t *testing.T) {
	h := newHarness(t, generousLimits())
	h.fund(t, "alice", "1000")
	ctx := context.Background()

	_, err := h.trades.Submit(ctx, &SubmitRequest{
		AccountID: "alice", Side: model.SideTransfer, Recipient: "alice", AmountCurrency: dec("100"),
	})
	assert.True(t, errors.Is(err, model.ErrInvalidRecipient))

	trade, err := h.trades.Submit(ctx, &SubmitRequest{
		AccountID: "alice", Side: model.SideTransfer, Recipient: "carol", AmountCurrency: dec("1000"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, trade.State)
	assert.True(t, h.currency(t, "alice").IsZero())
	assert.True(t, h.currency(t, "carol").Equal(dec("980")))
	assert.True(t, h.currency(t, feeAccount).Equal(dec("20")))
}

func TestSubmitWithdrawQueuesPayout(t *testing.T) {
	h := newHarness(t, generousLimits())
	h.fund(t, "alice", "1000")

	trade, err := h.trades.Submit(context.Background(), &SubmitRequest{
		AccountID: "alice", Side: model.SideWithdraw, AmountCurrency: dec("500"), Phone: "0712 345 678",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, trade.State)
	assert.Equal(t, "254712345678", trade.Phone)
	assert.True(t, h.currency(t, "alice").Equal(dec("500")))
	assert.Contains(t, h.effects.kinds(), model.EffectPayout)
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, generousLimits())
	ctx := context.Background()
	cases := []struct {
		name string
		req  SubmitRequest
		want error
	}{
		{"zero amount", SubmitRequest{AccountID: "a", Side: model.SideBuy, AssetSymbol: "BTC"}, model.ErrInvalidAmount},
		{"negative", SubmitRequest{AccountID: "a", Side: model.SideBuy, AssetSymbol: "BTC", AmountCurrency: dec("-5")}, model.ErrInvalidAmount},
		{"deposit below min", SubmitRequest{AccountID: "a", Side: model.SideDeposit, AmountCurrency: dec("5"), Phone: "0712345678"}, model.ErrInvalidAmount},
		{"deposit above max", SubmitRequest{AccountID: "a", Side: model.SideDeposit, AmountCurrency: dec("150001"), Phone: "0712345678"}, model.ErrInvalidAmount},
		{"fractional deposit", SubmitRequest{AccountID: "a", Side: model.SideDeposit, AmountCurrency: dec("100.5"), Phone: "0712345678"}, model.ErrInvalidAmount},
		{"bad phone", SubmitRequest{AccountID: "a", Side: model.SideDeposit, AmountCurrency: dec("100"), Phone: "12345"}, model.ErrInvalidRecipient},
		{"unknown asset", SubmitRequest{AccountID: "a", Side: model.SideBuy, AssetSymbol: "DOGE", AmountCurrency: dec("100")}, model.ErrUnsupportedAsset},
		{"missing asset", SubmitRequest{AccountID: "a", Side: model.SideSell, AmountCurrency: dec("100")}, model.ErrInvalidRequest},
		{"unknown side", SubmitRequest{AccountID: "a", Side: "stake", AmountCurrency: dec("100")}, model.ErrInvalidRequest},
	}
	for _, c := range cases {
		req := c.req
		trade, err := h.trades.Submit(ctx, &req)
		assert.True(t, errors.Is(err, c.want), "%s: got %v", c.name, err)
		assert.Nil(t, trade, c.name)
	}
	trades, err := h.trades.List(ctx, "a", 10)
	require.NoError(t, err)
	assert.Empty(t, trades, "validation failures must not persist intents")
}

func TestSubmitRateLimitedBeforeAnyWrite(t *testing.T) {
	limits := generousLimits()
	limits["trade"] = conf.Bucket{Capacity: 2, RefillPerSecond: 0.001}
	h := newHarness(t, limits)
	h.fund(t, "alice", "10000")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := h.trades.Submit(ctx, &SubmitRequest{AccountID: "alice", Side: model.SideBuy, AssetSymbol: "USDT", AmountCurrency: dec("200")})
		require.NoError(t, err)
	}
	trade, err := h.trades.Submit(ctx, &SubmitRequest{AccountID: "alice", Side: model.SideBuy, AssetSymbol: "USDT", AmountCurrency: dec("200")})
	assert.True(t, errors.Is(err, model.ErrRateLimited))
	assert.Nil(t, trade)

	trades, err := h.trades.List(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, trades, 2)
	assert.True(t, h.currency(t, "alice").Equal(dec("9600")))
}

func TestMobileMoneyBuyUsesDepositBucket(t *testing.T) {
	limits := generousLimits()
	limits["trade"] = conf.Bucket{Capacity: 1, RefillPerSecond: 0.001}
	limits["deposit"] = conf.Bucket{Capacity: 2, RefillPerSecond: 0.001}
	h := newHarness(t, limits)
	ctx := context.Background()

	buy := func() error {
		_, err := h.trades.Submit(ctx, &SubmitRequest{
			AccountID: "bob", Side: model.SideBuy, Funding: model.FundingMobileMoney,
			AssetSymbol: "USDT", AmountCurrency: dec("500"), Phone: "0712345678",
		})
		return err
	}
	require.NoError(t, buy())
	require.NoError(t, buy(), "trade bucket must not throttle mobile-money buys")
	assert.True(t, errors.Is(buy(), model.ErrRateLimited))

	h.fund(t, "bob", "1000")
	_, err := h.trades.Submit(ctx, &SubmitRequest{AccountID: "bob", Side: model.SideBuy, AssetSymbol: "USDT", AmountCurrency: dec("200")})
	assert.NoError(t, err, "wallet buys keep their own bucket")
}

func TestSubmitDepositStartsProcessing(t *testing.T) {
	h := newHarness(t, generousLimits())
	trade, err := h.trades.Submit(context.Background(), &SubmitRequest{
		AccountID: "alice", Side: model.SideDeposit, AmountCurrency: dec("1000"), Phone: "+254 712 345 678",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StateProcessing, trade.State)
	assert.Equal(t, model.FundingMobileMoney, trade.Funding)
	require.NotNil(t, trade.ExternalCorrelationID)
	assert.Equal(t, h.gw.lastCheckout(t), *trade.ExternalCorrelationID)

	p, err := pg.NewPaymentRepo(h.db).GetByTrade(context.Background(), trade.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentDispatched, p.Status)
	assert.True(t, h.currency(t, "alice").IsZero(), "deposit credits only on callback")
}

func TestSubmitGatewayErrorFailsIntent(t *testing.T) {
	h := newHarness(t, generousLimits())
	h.gw.err = errors.New("dial tcp: i/o timeout")

	trade, err := h.trades.Submit(context.Background(), &SubmitRequest{
		AccountID: "alice", Side: model.SideDeposit, AmountCurrency: dec("1000"), Phone: "0712345678",
	})
	require.True(t, errors.Is(err, model.ErrExternalGateway))
	require.NotNil(t, trade)
	assert.Equal(t, model.StateFailed, trade.State)
	assert.Equal(t, "payment gateway unavailable", trade.FailureReason)

	p, err := pg.NewPaymentRepo(h.db).GetByTrade(context.Background(), trade.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentRejected, p.Status)
}
