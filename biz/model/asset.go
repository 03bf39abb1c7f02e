package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletBalance 用户 KES 余额，每个账户一行
type WalletBalance struct {
	AccountID string          `gorm:"primaryKey;column:account_id" json:"account_id"`
	Amount    decimal.Decimal `gorm:"column:amount;type:numeric(20,4);not null" json:"amount"`
	UpdatedAt time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (WalletBalance) TableName() string {
	return "wallet_balances"
}

// AssetHolding 用户持仓
type AssetHolding struct {
	ID        uint            `gorm:"primaryKey" json:"-"`
	AccountID string          `gorm:"column:account_id;uniqueIndex:idx_holding_account_symbol;not null" json:"account_id"`
	Symbol    string          `gorm:"column:symbol;uniqueIndex:idx_holding_account_symbol;not null" json:"symbol"`
	Quantity  decimal.Decimal `gorm:"column:quantity;type:numeric(30,10);not null" json:"quantity"`
	UpdatedAt time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (AssetHolding) TableName() string {
	return "asset_holdings"
}

type AssetDelta struct {
	Symbol string
	Delta  decimal.Decimal
}

// BalanceDelta 单个账户的一组余额变更，作为一个原子单元应用
type BalanceDelta struct {
	AccountID string
	Currency  decimal.Decimal
	Assets    []AssetDelta
}

// Debits 是否包含扣减
func (d BalanceDelta) Debits() bool {
	if d.Currency.IsNegative() {
		return true
	}
	for _, a := range d.Assets {
		if a.Delta.IsNegative() {
			return true
		}
	}
	return false
}

type BalanceSnapshot struct {
	AccountID string                     `json:"account_id"`
	Currency  decimal.Decimal            `json:"currency"`
	Assets    map[string]decimal.Decimal `json:"assets"`
	ReadAt    time.Time                  `json:"read_at"`
}

func (s BalanceSnapshot) Asset(symbol string) decimal.Decimal {
	if q, ok := s.Assets[symbol]; ok {
		return q
	}
	return decimal.Zero
}
