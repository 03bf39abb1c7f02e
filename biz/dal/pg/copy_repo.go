package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kes-wallet/biz/model"

	"gorm.io/gorm"
)

type CopyRepo struct {
	db *gorm.DB
}

func NewCopyRepo(db *gorm.DB) *CopyRepo {
	return &CopyRepo{db: db}
}

// Create 新建跟单配置，同一 (follower, leader) 只允许一条生效配置，由部分唯一索引保证
func (r *CopyRepo) Create(ctx context.Context, c *model.CopyConfiguration) error {
	c.Active = true
	err := r.db.WithContext(ctx).Create(c).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%s -> %s: %w", c.FollowerAccountID, c.LeaderAccountID, model.ErrDuplicateConfig)
	}
	return err
}

// Deactivate 停用跟单配置，历史记录保留
func (r *CopyRepo) Deactivate(ctx context.Context, followerID, leaderID string) error {
	res := r.db.WithContext(ctx).Model(&model.CopyConfiguration{}).
		Where("follower_account_id = ? AND leader_account_id = ? AND active = ?", followerID, leaderID, true).
		Updates(map[string]interface{}{"active": false, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("copy configuration %s -> %s: %w", followerID, leaderID, model.ErrNotFound)
	}
	return nil
}

func (r *CopyRepo) ListActiveByLeader(ctx context.Context, leaderID string) ([]model.CopyConfiguration, error) {
	var configs []model.CopyConfiguration
	err := r.db.WithContext(ctx).
		Where("leader_account_id = ? AND active = ?", leaderID, true).
		Order("id").
		Find(&configs).Error
	return configs, err
}

func (r *CopyRepo) ListByFollower(ctx context.Context, followerID string) ([]model.CopyConfiguration, error) {
	var configs []model.CopyConfiguration
	err := r.db.WithContext(ctx).Where("follower_account_id = ?", followerID).Order("id").Find(&configs).Error
	return configs, err
}

func (r *CopyRepo) SaveOutcome(ctx context.Context, o *model.FanoutOutcome) error {
	return r.db.WithContext(ctx).Create(o).Error
}

func (r *CopyRepo) ListOutcomes(ctx context.Context, sourceRef string) ([]model.FanoutOutcome, error) {
	var outcomes []model.FanoutOutcome
	err := r.db.WithContext(ctx).Where("source_ref = ?", sourceRef).Order("created_at").Find(&outcomes).Error
	return outcomes, err
}
