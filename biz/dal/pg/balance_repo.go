package pg

import (
	"context"
	"fmt"
	"time"

	"kes-wallet/biz/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BalanceRepo struct {
	db *gorm.DB
}

func NewBalanceRepo(db *gorm.DB) *BalanceRepo {
	return &BalanceRepo{db: db}
}

// Apply 在 tx 内应用一组余额变更。扣减使用条件更新 (amount >= ?)，
// 影响行数为 0 即余额不足；入账使用 upsert。调用方负责事务边界。
func (r *BalanceRepo) Apply(ctx context.Context, deltas ...model.BalanceDelta) error {
	now := time.Now()
	db := r.db.WithContext(ctx)
	for _, d := range deltas {
		if err := applyCurrency(db, d.AccountID, d.Currency, now); err != nil {
			return err
		}
		for _, a := range d.Assets {
			if err := applyAsset(db, d.AccountID, a.Symbol, a.Delta, now); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyCurrency(db *gorm.DB, accountID string, delta decimal.Decimal, now time.Time) error {
	switch {
	case delta.IsZero():
		return nil
	case delta.IsNegative():
		need := delta.Neg()
		res := db.Model(&model.WalletBalance{}).
			Where("account_id = ? AND amount >= ?", accountID, need).
			Updates(map[string]interface{}{
				"amount":     gorm.Expr("amount - ?", need),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("account %s needs %s KES: %w", accountID, need.String(), model.ErrInsufficientFunds)
		}
		return nil
	default:
		row := &model.WalletBalance{AccountID: accountID, Amount: delta, UpdatedAt: now}
		return db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"amount":     gorm.Expr("wallet_balances.amount + excluded.amount"),
				"updated_at": now,
			}),
		}).Create(row).Error
	}
}

func applyAsset(db *gorm.DB, accountID, symbol string, delta decimal.Decimal, now time.Time) error {
	switch {
	case delta.IsZero():
		return nil
	case delta.IsNegative():
		need := delta.Neg()
		res := db.Model(&model.AssetHolding{}).
			Where("account_id = ? AND symbol = ? AND quantity >= ?", accountID, symbol, need).
			Updates(map[string]interface{}{
				"quantity":   gorm.Expr("quantity - ?", need),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("account %s needs %s %s: %w", accountID, need.String(), symbol, model.ErrInsufficientFunds)
		}
		return nil
	default:
		row := &model.AssetHolding{AccountID: accountID, Symbol: symbol, Quantity: delta, UpdatedAt: now}
		return db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}, {Name: "symbol"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"quantity":   gorm.Expr("asset_holdings.quantity + excluded.quantity"),
				"updated_at": now,
			}),
		}).Create(row).Error
	}
}

// Snapshot 读取已提交的余额和持仓
func (r *BalanceRepo) Snapshot(ctx context.Context, accountID string) (*model.BalanceSnapshot, error) {
	db := r.db.WithContext(ctx)
	snap := &model.BalanceSnapshot{
		AccountID: accountID,
		Currency:  decimal.Zero,
		Assets:    make(map[string]decimal.Decimal),
		ReadAt:    time.Now(),
	}
	var wallet model.WalletBalance
	err := db.Where("account_id = ?", accountID).Limit(1).Find(&wallet).Error
	if err != nil {
		return nil, err
	}
	if wallet.AccountID != "" {
		snap.Currency = wallet.Amount
	}
	var holdings []model.AssetHolding
	if err := db.Where("account_id = ?", accountID).Find(&holdings).Error; err != nil {
		return nil, err
	}
	for _, h := range holdings {
		snap.Assets[h.Symbol] = h.Quantity
	}
	return snap, nil
}
