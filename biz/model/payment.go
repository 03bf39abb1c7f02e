package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentCreated    PaymentStatus = "created"
	PaymentDispatched PaymentStatus = "dispatched"
	PaymentSettled    PaymentStatus = "settled"
	PaymentRejected   PaymentStatus = "rejected"
)

// PendingPayment 与交易意图在同一事务中创建，必须早于网关调用落库
type PendingPayment struct {
	ID                    string          `gorm:"primaryKey;column:id;size:36" json:"id"`
	TradeID               string          `gorm:"column:trade_id;uniqueIndex;not null" json:"trade_id"`
	LocalReference        string          `gorm:"column:local_reference;uniqueIndex;not null" json:"local_reference"`
	ExternalCorrelationID *string         `gorm:"column:external_correlation_id;uniqueIndex" json:"external_correlation_id,omitempty"`
	Amount                decimal.Decimal `gorm:"column:amount;type:numeric(20,4);not null" json:"amount"`
	Phone                 string          `gorm:"column:phone" json:"phone"`
	Status                PaymentStatus   `gorm:"column:status;not null" json:"status"`
	CreatedAt             time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (PendingPayment) TableName() string {
	return "pending_payments"
}

// OrphanCallback 暂时无法匹配的网关回调，等待关联 ID 绑定后重放
type OrphanCallback struct {
	ID                    string     `gorm:"primaryKey;column:id;size:36" json:"id"`
	ExternalCorrelationID string     `gorm:"column:external_correlation_id;index;not null" json:"external_correlation_id"`
	Payload               string     `gorm:"column:payload;type:text;not null" json:"payload"`
	ReceivedAt            time.Time  `gorm:"column:received_at" json:"received_at"`
	ResolvedAt            *time.Time `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
}

func (OrphanCallback) TableName() string {
	return "orphan_callbacks"
}

const ResultCodeSuccess = 0

// PaymentCallback 规范化后的网关回调
type PaymentCallback struct {
	ExternalCorrelationID string          `json:"external_correlation_id"`
	ResultCode            int             `json:"result_code"`
	ResultDesc            string          `json:"result_desc"`
	Amount                decimal.Decimal `json:"amount"`
	ReceiptNumber         string          `json:"receipt_number"`
	TransactionDate       string          `json:"transaction_date"`
	Phone                 string          `json:"phone"`
}

func (c PaymentCallback) Succeeded() bool {
	return c.ResultCode == ResultCodeSuccess
}
