package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalSubscription 信号频道订阅，只有 AutoExecute 的订阅者会自动下单
type SignalSubscription struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	ChannelID      string          `gorm:"column:channel_id;uniqueIndex:idx_sub_channel_account;not null" json:"channel_id"`
	AccountID      string          `gorm:"column:account_id;uniqueIndex:idx_sub_channel_account;not null" json:"account_id"`
	AutoExecute    bool            `gorm:"column:auto_execute;not null" json:"auto_execute"`
	Active         bool            `gorm:"column:active;not null" json:"active"`
	AmountCurrency decimal.Decimal `gorm:"column:amount_currency;type:numeric(20,4)" json:"amount_currency"`
	CreatedAt      time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (SignalSubscription) TableName() string {
	return "signal_subscriptions"
}

type ParsedSignal struct {
	Side        Side   `json:"side"`
	AssetSymbol string `json:"asset_symbol"`
	ChannelID   string `json:"channel_id"`
}
