package pg

import (
	"context"
	"time"

	"kes-wallet/biz/model"

	"gorm.io/gorm"
)

type OutboxRepo struct {
	db *gorm.DB
}

func NewOutboxRepo(db *gorm.DB) *OutboxRepo {
	return &OutboxRepo{db: db}
}

func (r *OutboxRepo) Insert(ctx context.Context, events []model.OutboxEvent) error {
	if len(events) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&events).Error
}

// Claim 抢占一个未投递事件，租约过期前其它投递方不会重复执行
func (r *OutboxRepo) Claim(ctx context.Context, id string, lease time.Duration) (bool, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&model.OutboxEvent{}).
		Where("id = ? AND dispatched_at IS NULL AND (claimed_at IS NULL OR claimed_at < ?)", id, now.Add(-lease)).
		Updates(map[string]interface{}{
			"claimed_at": now,
			"attempts":   gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *OutboxRepo) MarkDispatched(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"dispatched_at": time.Now(),
			"last_error":    "",
		}).Error
}

// MarkFailed 记录失败原因并释放租约，等待 relay 重试
func (r *OutboxRepo) MarkFailed(ctx context.Context, id string, cause error) error {
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"claimed_at": nil,
			"last_error": cause.Error(),
		}).Error
}

// ListPending 查询未投递、未被占用且重试次数未超限的事件
func (r *OutboxRepo) ListPending(ctx context.Context, maxAttempts int, lease time.Duration, limit int) ([]model.OutboxEvent, error) {
	var events []model.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("dispatched_at IS NULL AND attempts < ? AND (claimed_at IS NULL OR claimed_at < ?)", maxAttempts, time.Now().Add(-lease)).
		Order("created_at").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *OutboxRepo) ListByTrade(ctx context.Context, tradeID string) ([]model.OutboxEvent, error) {
	var events []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("trade_id = ?", tradeID).Order("created_at").Find(&events).Error
	return events, err
}
