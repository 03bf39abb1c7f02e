package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type SizingMode string

const (
	SizingPercent SizingMode = "percentOfBalance"
	SizingFixed   SizingMode = "fixedAmount"
)

// CopyConfiguration 跟单配置，取消关注时只停用不删除。
// idx_copy_active_pair 是部分唯一索引，保证同一 (follower, leader) 最多一条 active 配置
type CopyConfiguration struct {
	ID                uint                `gorm:"primaryKey" json:"id"`
	FollowerAccountID string              `gorm:"column:follower_account_id;index:idx_copy_pair;uniqueIndex:idx_copy_active_pair,where:active = true;not null" json:"follower_account_id"`
	LeaderAccountID   string              `gorm:"column:leader_account_id;index:idx_copy_pair;uniqueIndex:idx_copy_active_pair,where:active = true;index;not null" json:"leader_account_id"`
	Active            bool                `gorm:"column:active;index;not null" json:"active"`
	SizingMode        SizingMode          `gorm:"column:sizing_mode;not null" json:"sizing_mode"`
	SizingValue       decimal.Decimal     `gorm:"column:sizing_value;type:numeric(20,4);not null" json:"sizing_value"`
	MaxNotional       decimal.NullDecimal `gorm:"column:max_notional;type:numeric(20,4)" json:"max_notional"`
	MaxSlippage       decimal.Decimal     `gorm:"column:max_slippage;type:numeric(8,4);not null" json:"max_slippage"`
	CreatedAt         time.Time           `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time           `gorm:"column:updated_at" json:"updated_at"`
}

func (CopyConfiguration) TableName() string {
	return "copy_configurations"
}

type OutcomeStatus string

const (
	OutcomeExecuted OutcomeStatus = "executed"
	OutcomeSkipped  OutcomeStatus = "skipped"
	OutcomeFailed   OutcomeStatus = "failed"
)

const ReasonTooSmallAfterFees = "too small after fees"

// FanoutOutcome 跟单或信号扇出时每个跟随者的结果
type FanoutOutcome struct {
	ID              string        `gorm:"primaryKey;column:id;size:36" json:"id"`
	SourceType      SourceType    `gorm:"column:source_type;not null" json:"source_type"`
	SourceRef       string        `gorm:"column:source_ref;index;not null" json:"source_ref"`
	AccountID       string        `gorm:"column:account_id;index;not null" json:"account_id"`
	Status          OutcomeStatus `gorm:"column:status;not null" json:"status"`
	Reason          string        `gorm:"column:reason" json:"reason,omitempty"`
	FollowerTradeID string        `gorm:"column:follower_trade_id" json:"follower_trade_id,omitempty"`
	CreatedAt       time.Time     `gorm:"column:created_at" json:"created_at"`
}

func (FanoutOutcome) TableName() string {
	return "fanout_outcomes"
}
