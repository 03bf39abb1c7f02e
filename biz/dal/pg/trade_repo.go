package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kes-wallet/biz/model"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"
)

type TradeRepo struct {
	db *gorm.DB
}

func NewTradeRepo(db *gorm.DB) *TradeRepo {
	return &TradeRepo{db: db}
}

func (r *TradeRepo) Create(ctx context.Context, t *model.TradeIntent) error {
	return r.db.WithContext(ctx).Create(t).Error
}

// Get 查询单个交易意图
func (r *TradeRepo) Get(ctx context.Context, id string) (*model.TradeIntent, error) {
	var t model.TradeIntent
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("trade %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TradeRepo) ListByAccount(ctx context.Context, accountID string, limit int) ([]model.TradeIntent, error) {
	var trades []model.TradeIntent
	db := r.db.WithContext(ctx).Model(&model.TradeIntent{})
	if accountID != "" {
		db = db.Where("account_id = ?", accountID)
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	err := db.Order("created_at DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

// CompareAndSetState 仅当当前状态等于 from 时写入 to，返回是否命中
func (r *TradeRepo) CompareAndSetState(ctx context.Context, id string, from, to model.TradeState, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"state":      to,
		"updated_at": time.Now(),
	}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).Model(&model.TradeIntent{}).
		Where("id = ? AND state = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListStale 查询创建时间早于 cutoff 且仍未终结的交易
func (r *TradeRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]model.TradeIntent, error) {
	var trades []model.TradeIntent
	err := r.db.WithContext(ctx).
		Where("state IN ? AND created_at < ?", []model.TradeState{model.StatePending, model.StateProcessing}, cutoff).
		Order("created_at").
		Limit(limit).
		Find(&trades).Error
	return trades, err
}

// StaleTradeFinder 基于 pgx 连接池的过期扫描，绕过 ORM 只取必要列
type StaleTradeFinder struct {
	pool *pgxpool.Pool
}

func NewStaleTradeFinder(pool *pgxpool.Pool) *StaleTradeFinder {
	return &StaleTradeFinder{pool: pool}
}

func (f *StaleTradeFinder) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]model.TradeIntent, error) {
	rows, err := f.pool.Query(ctx,
		`SELECT id, account_id, state, created_at FROM trade_intents
		 WHERE state IN ('pending', 'processing') AND created_at < $1
		 ORDER BY created_at LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query stale trades: %w", err)
	}
	defer rows.Close()
	var trades []model.TradeIntent
	for rows.Next() {
		var t model.TradeIntent
		var state string
		if err := rows.Scan(&t.ID, &t.AccountID, &state, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan stale trade: %w", err)
		}
		t.State = model.TradeState(state)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
