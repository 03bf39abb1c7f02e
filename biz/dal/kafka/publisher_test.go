package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"kes-wallet/biz/model"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestPublishTradeEvent(t *testing.T) {
	w := &captureWriter{}
	p := &TradeEventPublisher{writer: w}
	ev := &model.TradeEvent{
		TradeID: "t-1", AccountID: "alice", Side: model.SideBuy, AssetSymbol: "BTC",
		Amount: "1000", Fee: "25", Net: "975", State: model.StateCompleted, Timestamp: 1714554000000,
	}
	require.NoError(t, p.PublishTradeEvent(context.Background(), ev))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "alice", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "completed", string(msg.Headers[0].Value))
	var got model.TradeEvent
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, *ev, got)

	w.err = errors.New("leader not available")
	assert.Error(t, p.PublishTradeEvent(context.Background(), ev))
}
