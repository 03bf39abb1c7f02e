package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/segmentio/kafka-go"
)

// RawSignal 外部频道抓取到的原始消息
type RawSignal struct {
	ChannelID string `json:"channel_id"`
	Message   string `json:"message"`
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SignalConsumer 消费 raw_signals topic
type SignalConsumer struct {
	reader messageReader
}

func NewSignalConsumer(brokers []string, groupID, topic string) *SignalConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   topic,
	})
	return &SignalConsumer{reader: reader}
}

// Consume 循环读取消息交给 handler。解析失败的消息记日志后提交，
// handler 返回错误时不提交 offset，直接退出由上层重启。
func (c *SignalConsumer) Consume(ctx context.Context, handler func(context.Context, *RawSignal) error) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return fmt.Errorf("kafka read: %w", err)
		}

		var sig RawSignal
		if err := json.Unmarshal(msg.Value, &sig); err != nil || sig.ChannelID == "" {
			hlog.CtxWarnf(ctx, "丢弃无法解析的信号消息 offset=%d: %v", msg.Offset, err)
		} else if err := handler(ctx, &sig); err != nil {
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("kafka commit: %w", err)
		}
	}
}

func (c *SignalConsumer) Close() error {
	return c.reader.Close()
}
