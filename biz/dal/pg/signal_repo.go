package pg

import (
	"context"
	"time"

	"kes-wallet/biz/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SignalRepo struct {
	db *gorm.DB
}

func NewSignalRepo(db *gorm.DB) *SignalRepo {
	return &SignalRepo{db: db}
}

// Upsert 登记或更新频道订阅
func (r *SignalRepo) Upsert(ctx context.Context, s *model.SignalSubscription) error {
	s.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "channel_id"}, {Name: "account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"auto_execute", "active", "amount_currency", "updated_at"}),
		},
	).Create(s).Error
}

// ListAutoExecute 查询频道下开启自动执行的订阅者
func (r *SignalRepo) ListAutoExecute(ctx context.Context, channelID string) ([]model.SignalSubscription, error) {
	var subs []model.SignalSubscription
	err := r.db.WithContext(ctx).
		Where("channel_id = ? AND active = ? AND auto_execute = ?", channelID, true, true).
		Order("id").
		Find(&subs).Error
	return subs, err
}
