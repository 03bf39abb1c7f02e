package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kes-wallet/biz/model"

	"gorm.io/gorm"
)

type PaymentRepo struct {
	db *gorm.DB
}

func NewPaymentRepo(db *gorm.DB) *PaymentRepo {
	return &PaymentRepo{db: db}
}

func (r *PaymentRepo) Create(ctx context.Context, p *model.PendingPayment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

// GetByCorrelation 按网关 CheckoutRequestID 查询待支付记录
func (r *PaymentRepo) GetByCorrelation(ctx context.Context, correlationID string) (*model.PendingPayment, error) {
	var p model.PendingPayment
	err := r.db.WithContext(ctx).Where("external_correlation_id = ?", correlationID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("payment %s: %w", correlationID, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepo) GetByTrade(ctx context.Context, tradeID string) (*model.PendingPayment, error) {
	var p model.PendingPayment
	err := r.db.WithContext(ctx).Where("trade_id = ?", tradeID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("payment for trade %s: %w", tradeID, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// BindCorrelation 网关受理后写入关联 ID
func (r *PaymentRepo) BindCorrelation(ctx context.Context, tradeID, correlationID string) error {
	res := r.db.WithContext(ctx).Model(&model.PendingPayment{}).
		Where("trade_id = ? AND external_correlation_id IS NULL", tradeID).
		Updates(map[string]interface{}{
			"external_correlation_id": correlationID,
			"status":                  model.PaymentDispatched,
			"updated_at":              time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("bind correlation for trade %s: %w", tradeID, model.ErrStaleTransition)
	}
	return nil
}

func (r *PaymentRepo) SetStatus(ctx context.Context, tradeID string, status model.PaymentStatus) error {
	return r.db.WithContext(ctx).Model(&model.PendingPayment{}).
		Where("trade_id = ?", tradeID).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()}).Error
}

func (r *PaymentRepo) SaveOrphan(ctx context.Context, o *model.OrphanCallback) error {
	return r.db.WithContext(ctx).Create(o).Error
}

// ListOrphans 查询未处理的孤儿回调，correlationID 为空时返回全部
func (r *PaymentRepo) ListOrphans(ctx context.Context, correlationID string, limit int) ([]model.OrphanCallback, error) {
	var orphans []model.OrphanCallback
	db := r.db.WithContext(ctx).Where("resolved_at IS NULL")
	if correlationID != "" {
		db = db.Where("external_correlation_id = ?", correlationID)
	}
	if limit > 0 {
		db = db.Limit(limit)
	}
	err := db.Order("received_at").Find(&orphans).Error
	return orphans, err
}

// ListBoundOrphans 只返回已有对应 PendingPayment 的孤儿回调，永远无法匹配的回调不占用批次
func (r *PaymentRepo) ListBoundOrphans(ctx context.Context, limit int) ([]model.OrphanCallback, error) {
	var orphans []model.OrphanCallback
	db := r.db.WithContext(ctx).
		Where("resolved_at IS NULL").
		Where("EXISTS (SELECT 1 FROM pending_payments p WHERE p.external_correlation_id = orphan_callbacks.external_correlation_id)")
	if limit > 0 {
		db = db.Limit(limit)
	}
	err := db.Order("received_at").Find(&orphans).Error
	return orphans, err
}

func (r *PaymentRepo) ResolveOrphan(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&model.OrphanCallback{}).
		Where("id = ?", id).
		Update("resolved_at", time.Now()).Error
}
