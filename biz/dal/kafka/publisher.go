package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"kes-wallet/biz/model"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// TradeEventPublisher 把交易状态事件写入 Kafka，key 为账户 ID
type TradeEventPublisher struct {
	writer messageWriter
}

func NewTradeEventPublisher(topic string) *TradeEventPublisher {
	return &TradeEventPublisher{writer: GetWriter(topic)}
}

func (p *TradeEventPublisher) PublishTradeEvent(ctx context.Context, ev *model.TradeEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal trade event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.AccountID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "state", Value: []byte(ev.State)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}
