package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy      Side = "buy"
	SideSell     Side = "sell"
	SideDeposit  Side = "deposit"
	SideWithdraw Side = "withdraw"
	SideTransfer Side = "transfer"
)

func (s Side) Valid() bool {
	switch s {
	case SideBuy, SideSell, SideDeposit, SideWithdraw, SideTransfer:
		return true
	}
	return false
}

type Funding string

const (
	FundingWallet      Funding = "wallet"
	FundingMobileMoney Funding = "mobile_money"
)

type SourceType string

const (
	SourceManual SourceType = "manual"
	SourceCopy   SourceType = "copy"
	SourceSignal SourceType = "signal"
)

type TradeState string

const (
	StatePending    TradeState = "pending"
	StateProcessing TradeState = "processing"
	StateCompleted  TradeState = "completed"
	StateFailed     TradeState = "failed"
	StateExpired    TradeState = "expired"
)

func (s TradeState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateExpired
}

// TradeIntent 交易意图，创建时为 pending，进入终态后不可变
type TradeIntent struct {
	ID                    string              `gorm:"primaryKey;column:id;size:32" json:"id"`
	AccountID             string              `gorm:"column:account_id;index;not null" json:"account_id"`
	Side                  Side                `gorm:"column:side;not null" json:"side"`
	Funding               Funding             `gorm:"column:funding;not null" json:"funding"`
	AssetSymbol           string              `gorm:"column:asset_symbol" json:"asset_symbol,omitempty"`
	AmountCurrency        decimal.Decimal     `gorm:"column:amount_currency;type:numeric(20,4);not null" json:"amount_currency"`
	AmountAsset           decimal.NullDecimal `gorm:"column:amount_asset;type:numeric(30,10)" json:"amount_asset"`
	Price                 decimal.NullDecimal `gorm:"column:price;type:numeric(30,10)" json:"price"`
	FeeAmount             decimal.Decimal     `gorm:"column:fee_amount;type:numeric(20,4);not null" json:"fee_amount"`
	NetAmount             decimal.Decimal     `gorm:"column:net_amount;type:numeric(20,4);not null" json:"net_amount"`
	FeeDestination        string              `gorm:"column:fee_destination" json:"fee_destination"`
	Recipient             string              `gorm:"column:recipient" json:"recipient,omitempty"`
	Phone                 string              `gorm:"column:phone" json:"phone,omitempty"`
	MaxSlippage           decimal.NullDecimal `gorm:"column:max_slippage;type:numeric(8,4)" json:"max_slippage"`
	SourceType            SourceType          `gorm:"column:source_type;not null" json:"source_type"`
	SourceRef             string              `gorm:"column:source_ref;index" json:"source_ref,omitempty"`
	State                 TradeState          `gorm:"column:state;index;not null" json:"state"`
	FailureReason         string              `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	ExternalCorrelationID *string             `gorm:"column:external_correlation_id;uniqueIndex" json:"external_correlation_id,omitempty"`
	CreatedAt             time.Time           `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt             time.Time           `gorm:"column:updated_at" json:"updated_at"`
}

func (TradeIntent) TableName() string {
	return "trade_intents"
}

// GatewayFunded 资金来自外部支付网关，需要等待回调才能结算
func (t *TradeIntent) GatewayFunded() bool {
	return t.Side == SideDeposit || (t.Side == SideBuy && t.Funding == FundingMobileMoney)
}
