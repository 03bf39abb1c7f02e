package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"kes-wallet/biz/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDeltaCreditAndDebit(t *testing.T) {
	db := newTestDB(t)
	store := NewBalanceStore(db, NewKeyedMutex())
	ctx := context.Background()

	require.NoError(t, store.ApplyDelta(ctx, "alice", dec("1000")))
	require.NoError(t, store.ApplyDelta(ctx, "alice", dec("-400"), model.AssetDelta{Symbol: "BTC", Delta: dec("0.5")}))

	snap, err := store.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, snap.Currency.Equal(dec("600")), "got %s", snap.Currency)
	assert.True(t, snap.Asset("BTC").Equal(dec("0.5")))
	assert.True(t, snap.Asset("ETH").IsZero())
}

func TestApplyDeltaInsufficientFundsIsAllOrNothing(t *testing.T) {
	db := newTestDB(t)
	store := NewBalanceStore(db, NewKeyedMutex())
	ctx := context.Background()
	require.NoError(t, store.ApplyDelta(ctx, "bob", dec("500"), model.AssetDelta{Symbol: "ETH", Delta: dec("2")}))

	// 卖出超过持仓：币种入账与资产扣减要么都发生要么都不发生
	err := store.ApplyDelta(ctx, "bob", dec("900"), model.AssetDelta{Symbol: "ETH", Delta: dec("-3")})
	require.True(t, errors.Is(err, model.ErrInsufficientFunds))

	snap, err := store.Snapshot(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, snap.Currency.Equal(dec("500")))
	assert.True(t, snap.Asset("ETH").Equal(dec("2")))

	err = store.ApplyDelta(ctx, "nobody", dec("-1"))
	assert.True(t, errors.Is(err, model.ErrInsufficientFunds))
}

func TestApplyDeltasAcrossAccountsRollsBack(t *testing.T) {
	db := newTestDB(t)
	store := NewBalanceStore(db, NewKeyedMutex())
	ctx := context.Background()
	require.NoError(t, store.ApplyDelta(ctx, "carol", dec("100")))

	err := store.ApplyDeltas(ctx,
		model.BalanceDelta{AccountID: "dave", Currency: dec("98")},
		model.BalanceDelta{AccountID: feeAccount, Currency: dec("2")},
		model.BalanceDelta{AccountID: "carol", Currency: dec("-150")},
	)
	require.True(t, errors.Is(err, model.ErrInsufficientFunds))

	for _, acct := range []string{"dave", feeAccount} {
		snap, err := store.Snapshot(ctx, acct)
		require.NoError(t, err)
		assert.True(t, snap.Currency.IsZero(), "%s credited despite rollback", acct)
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	db := newTestDB(t)
	store := NewBalanceStore(db, NewKeyedMutex())
	ctx := context.Background()
	require.NoError(t, store.ApplyDelta(ctx, "erin", dec("1000")))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		refused int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.ApplyDelta(ctx, "erin", dec("-100"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, model.ErrInsufficientFunds):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	assert.Equal(t, 10, refused)
	snap, err := store.Snapshot(ctx, "erin")
	require.NoError(t, err)
	assert.True(t, snap.Currency.IsZero(), "got %s", snap.Currency)
}

func TestKeyedMutexLockAllDedupsAndSorts(t *testing.T) {
	m := NewKeyedMutex()
	unlock := m.LockAll("b", "a", "b")
	done := make(chan struct{})
	go func() {
		m.Lock("a")
		m.Unlock("a")
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("lock on a acquired while held")
	default:
	}
	unlock()
	<-done
	assert.Equal(t, 0, m.size())
}
