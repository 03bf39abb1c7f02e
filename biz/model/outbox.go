package model

import (
	"time"
)

type EffectKind string

const (
	EffectTradeEvent    EffectKind = "trade.event"
	EffectCopyPropagate EffectKind = "copy.propagate"
	EffectPayout        EffectKind = "payout.dispatch"
)

// OutboxEvent 状态迁移产生的副作用，与迁移在同一事务内写入
type OutboxEvent struct {
	ID           string     `gorm:"primaryKey;column:id;size:36" json:"id"`
	TradeID      string     `gorm:"column:trade_id;uniqueIndex:idx_outbox_trade_kind;not null" json:"trade_id"`
	Kind         EffectKind `gorm:"column:kind;uniqueIndex:idx_outbox_trade_kind;not null" json:"kind"`
	Payload      string     `gorm:"column:payload;type:text" json:"payload"`
	Attempts     int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError    string     `gorm:"column:last_error" json:"last_error,omitempty"`
	ClaimedAt    *time.Time `gorm:"column:claimed_at" json:"-"`
	DispatchedAt *time.Time `gorm:"column:dispatched_at;index" json:"dispatched_at,omitempty"`
	CreatedAt    time.Time  `gorm:"column:created_at" json:"created_at"`
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}

// TradeEvent 发往 Kafka 的成交事件
type TradeEvent struct {
	TradeID     string     `json:"trade_id"`
	AccountID   string     `json:"account_id"`
	Side        Side       `json:"side"`
	AssetSymbol string     `json:"asset_symbol,omitempty"`
	Amount      string     `json:"amount"`
	Fee         string     `json:"fee"`
	Net         string     `json:"net"`
	SourceType  SourceType `json:"source_type"`
	SourceRef   string     `json:"source_ref,omitempty"`
	State       TradeState `json:"state"`
	Reason      string     `json:"reason,omitempty"`
	Timestamp   int64      `json:"timestamp"`
}
