package service

import (
	"context"
	"testing"

	"kes-wallet/biz/dal/kafka"
	"kes-wallet/biz/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignal(t *testing.T) {
	s := NewSignalIngester(newTestDB(t), nil, nil, []string{"BTC", "ETH", "USDT"}, dec("100"))
	cases := []struct {
		raw    string
		side   model.Side
		symbol string
	}{
		{"BUY BTC now!", model.SideBuy, "BTC"},
		{"going long #eth", model.SideBuy, "ETH"},
		{"ETH long 🚀", model.SideBuy, "ETH"},
		{"🟢 $btc", model.SideBuy, "BTC"},
		{"exit #eth before the close", model.SideSell, "ETH"},
		{"USDT short", model.SideSell, "USDT"},
		{"🔴 usdt", model.SideSell, "USDT"},
		// 第一个匹配是未知资产时继续尝试下一个
		{"buy the dip, buy BTC", model.SideBuy, "BTC"},
	}
	for _, c := range cases {
		sig := s.Parse(c.raw, "vip")
		require.NotNil(t, sig, c.raw)
		assert.Equal(t, c.side, sig.Side, c.raw)
		assert.Equal(t, c.symbol, sig.AssetSymbol, c.raw)
		assert.Equal(t, "vip", sig.ChannelID)
	}

	for _, raw := range []string{"good morning traders", "buy DOGE", "", "🟢"} {
		assert.Nil(t, s.Parse(raw, "vip"), raw)
	}
}

func TestParseSignalWithoutAssetFilter(t *testing.T) {
	s := NewSignalIngester(newTestDB(t), nil, nil, nil, dec("0"))
	sig := s.Parse("buy doge", "c")
	require.NotNil(t, sig)
	assert.Equal(t, "DOGE", sig.AssetSymbol)
	assert.True(t, s.defaultAmount.Equal(dec("100")))
}

func TestIngestFansOutToAutoExecuteSubscribers(t *testing.T) {
	h := newHarness(t, generousLimits())
	s := NewSignalIngester(h.db, h.trades, newTestPool(t), []string{"BTC", "ETH", "USDT"}, dec("100"))
	ctx := context.Background()

	h.fund(t, "alice", "1000")
	h.fund(t, "bob", "1000")
	require.NoError(t, s.Subscribe(ctx, &model.SignalSubscription{ChannelID: "vip", AccountID: "alice", AutoExecute: true, Active: true}))
	require.NoError(t, s.Subscribe(ctx, &model.SignalSubscription{ChannelID: "vip", AccountID: "bob", AutoExecute: true, Active: true, AmountCurrency: dec("400")}))
	// carol 没有余额，失败只影响她自己
	require.NoError(t, s.Subscribe(ctx, &model.SignalSubscription{ChannelID: "vip", AccountID: "carol", AutoExecute: true, Active: true}))
	require.NoError(t, s.Subscribe(ctx, &model.SignalSubscription{ChannelID: "vip", AccountID: "dave", AutoExecute: false, Active: true}))

	sig, outcomes, err := s.Ingest(ctx, "🟢 USDT", "vip")
	require.NoError(t, err)
	require.NotNil(t, sig)
	require.Len(t, outcomes, 3)

	byAccount := outcomeByAccount(outcomes)
	assert.Equal(t, model.OutcomeExecuted, byAccount["alice"].Status)
	assert.Equal(t, model.OutcomeExecuted, byAccount["bob"].Status)
	assert.Equal(t, model.OutcomeFailed, byAccount["carol"].Status)
	assert.Equal(t, model.SourceSignal, byAccount["alice"].SourceType)
	assert.Equal(t, "vip", byAccount["alice"].SourceRef)

	assert.True(t, h.currency(t, "alice").Equal(dec("900")))
	assert.True(t, h.currency(t, "bob").Equal(dec("600")))
	assert.True(t, h.asset(t, "dave", "USDT").IsZero())

	stored, err := h.trades.Get(ctx, byAccount["bob"].FollowerTradeID)
	require.NoError(t, err)
	assert.Equal(t, model.SourceSignal, stored.SourceType)
}

func TestIngestIgnoresNoise(t *testing.T) {
	h := newHarness(t, generousLimits())
	s := NewSignalIngester(h.db, h.trades, newTestPool(t), []string{"BTC"}, dec("100"))
	sig, outcomes, err := s.Ingest(context.Background(), "gm, markets look choppy", "vip")
	require.NoError(t, err)
	assert.Nil(t, sig)
	assert.Empty(t, outcomes)

	assert.NoError(t, s.HandleRaw(context.Background(), &kafka.RawSignal{ChannelID: "vip", Message: "nothing here"}))
}

func TestSubscribeValidation(t *testing.T) {
	s := NewSignalIngester(newTestDB(t), nil, nil, nil, dec("100"))
	ctx := context.Background()
	assert.ErrorIs(t, s.Subscribe(ctx, &model.SignalSubscription{AccountID: "a"}), model.ErrInvalidRequest)
	assert.ErrorIs(t, s.Subscribe(ctx, &model.SignalSubscription{ChannelID: "c", AccountID: "a", AmountCurrency: dec("-1")}), model.ErrInvalidAmount)
}
