package service

import (
	"context"

	"kes-wallet/biz/dal/pg"
	"kes-wallet/biz/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BalanceStore 余额与持仓的唯一写入方。
// 同一账户的扣减在进程内串行，跨实例由条件更新兜底。
type BalanceStore struct {
	db    *gorm.DB
	locks *KeyedMutex
}

func NewBalanceStore(db *gorm.DB, locks *KeyedMutex) *BalanceStore {
	return &BalanceStore{db: db, locks: locks}
}

// ApplyDelta 原子地应用单个账户的余额与持仓变更，任一项不足则全部回滚
func (s *BalanceStore) ApplyDelta(ctx context.Context, accountID string, currencyDelta decimal.Decimal, assetDeltas ...model.AssetDelta) error {
	return s.ApplyDeltas(ctx, model.BalanceDelta{AccountID: accountID, Currency: currencyDelta, Assets: assetDeltas})
}

// ApplyDeltas 多个账户的变更在同一事务内完成
func (s *BalanceStore) ApplyDeltas(ctx context.Context, deltas ...model.BalanceDelta) error {
	unlock := s.LockDebited(deltas)
	defer unlock()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.applyTx(ctx, tx, deltas)
	})
}

// LockDebited 只锁有扣减的账户，纯入账（例如手续费账户）依赖 SQL 原子加法，不参与加锁
func (s *BalanceStore) LockDebited(deltas []model.BalanceDelta) func() {
	keys := make([]string, 0, len(deltas))
	for _, d := range deltas {
		if d.Debits() {
			keys = append(keys, d.AccountID)
		}
	}
	return s.locks.LockAll(keys...)
}

func (s *BalanceStore) applyTx(ctx context.Context, tx *gorm.DB, deltas []model.BalanceDelta) error {
	return pg.NewBalanceRepo(tx).Apply(ctx, deltas...)
}

func (s *BalanceStore) Snapshot(ctx context.Context, accountID string) (*model.BalanceSnapshot, error) {
	return pg.NewBalanceRepo(s.db).Snapshot(ctx, accountID)
}
