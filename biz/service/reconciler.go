package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"kes-wallet/biz/dal/pg"
	"kes-wallet/biz/model"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ReconcileResult string

const (
	ResultSettled   ReconcileResult = "settled"
	ResultRejected  ReconcileResult = "rejected"
	ResultDuplicate ReconcileResult = "duplicate"
	ResultOrphan    ReconcileResult = "orphan"
)

// Reconciler 把网关回调与待支付记录对应起来并驱动状态迁移。
// 同一关联 ID 的回调按到达顺序串行处理，重复投递依靠终态检查保持幂等。
type Reconciler struct {
	trades       *pg.TradeRepo
	payments     *pg.PaymentRepo
	machine      *StateMachine
	effects      EffectDispatcher
	locks        *KeyedMutex
	feeAccountID string
}

func NewReconciler(db *gorm.DB, machine *StateMachine, effects EffectDispatcher, feeAccountID string) *Reconciler {
	return &Reconciler{
		trades:       pg.NewTradeRepo(db),
		payments:     pg.NewPaymentRepo(db),
		machine:      machine,
		effects:      effects,
		locks:        NewKeyedMutex(),
		feeAccountID: feeAccountID,
	}
}

// Reconcile 处理一次回调。只有孤儿回调落库失败时才返回 error，
// 上层据此返回非 200 让网关重试。
func (r *Reconciler) Reconcile(ctx context.Context, cb *model.PaymentCallback) (ReconcileResult, error) {
	return r.reconcile(ctx, cb, true)
}

func (r *Reconciler) reconcile(ctx context.Context, cb *model.PaymentCallback, recordOrphan bool) (ReconcileResult, error) {
	r.locks.Lock(cb.ExternalCorrelationID)
	defer r.locks.Unlock(cb.ExternalCorrelationID)

	payment, err := r.payments.GetByCorrelation(ctx, cb.ExternalCorrelationID)
	if errors.Is(err, model.ErrNotFound) {
		if !recordOrphan {
			return ResultOrphan, nil
		}
		if err := r.saveOrphan(ctx, cb); err != nil {
			return "", err
		}
		hlog.CtxWarnf(ctx, "orphan callback %s recorded", cb.ExternalCorrelationID)
		return ResultOrphan, nil
	}
	if err != nil {
		return "", err
	}

	trade, err := r.trades.Get(ctx, payment.TradeID)
	if err != nil {
		return "", err
	}
	if trade.State.Terminal() {
		return r.duplicate(ctx, cb, trade), nil
	}

	var (
		t      Transition
		result ReconcileResult
	)
	if cb.Succeeded() {
		if !cb.Amount.IsZero() && !cb.Amount.Equal(trade.AmountCurrency) {
			hlog.CtxWarnf(ctx, "callback %s amount %s differs from trade %s amount %s, settling agreed amount",
				cb.ExternalCorrelationID, cb.Amount, trade.ID, trade.AmountCurrency)
		}
		result = ResultSettled
		t = Transition{
			To:     model.StateCompleted,
			Deltas: SettlementDeltas(trade, r.feeAccountID),
			InTx: func(tx *gorm.DB) error {
				return pg.NewPaymentRepo(tx).SetStatus(ctx, trade.ID, model.PaymentSettled)
			},
		}
	} else {
		result = ResultRejected
		t = Transition{
			To:     model.StateFailed,
			Reason: model.GatewayResultReason(cb.ResultCode),
			InTx: func(tx *gorm.DB) error {
				return pg.NewPaymentRepo(tx).SetStatus(ctx, trade.ID, model.PaymentRejected)
			},
		}
	}

	_, events, err := r.machine.Apply(ctx, trade.ID, t)
	if errors.Is(err, model.ErrStaleTransition) || errors.Is(err, model.ErrIllegalTransition) {
		// 其它实例或过期清扫抢先完成了状态变更
		current, gerr := r.trades.Get(ctx, trade.ID)
		if gerr != nil {
			return "", gerr
		}
		return r.duplicate(ctx, cb, current), nil
	}
	if err != nil {
		return "", err
	}
	r.effects.DispatchAsync(ctx, events)
	hlog.CtxInfof(ctx, "callback %s %s trade %s receipt=%s", cb.ExternalCorrelationID, result, trade.ID, cb.ReceiptNumber)
	return result, nil
}

func (r *Reconciler) duplicate(ctx context.Context, cb *model.PaymentCallback, trade *model.TradeIntent) ReconcileResult {
	if trade.State == model.StateExpired && cb.Succeeded() {
		hlog.CtxErrorf(ctx, "payment %s receipt=%s arrived after trade %s expired, needs manual reconciliation",
			cb.ExternalCorrelationID, cb.ReceiptNumber, trade.ID)
	}
	hlog.CtxInfof(ctx, "duplicate callback %s for %s trade %s", cb.ExternalCorrelationID, trade.State, trade.ID)
	return ResultDuplicate
}

func (r *Reconciler) saveOrphan(ctx context.Context, cb *model.PaymentCallback) error {
	payload, err := json.Marshal(cb)
	if err != nil {
		return err
	}
	err = r.payments.SaveOrphan(ctx, &model.OrphanCallback{
		ID:                    uuid.NewString(),
		ExternalCorrelationID: cb.ExternalCorrelationID,
		Payload:               string(payload),
		ReceivedAt:            time.Now(),
	})
	if err != nil {
		return fmt.Errorf("record orphan callback %s: %w", cb.ExternalCorrelationID, err)
	}
	return nil
}

// ReplayOrphans 关联 ID 绑定后重放之前到达的孤儿回调，返回已处理的数量
func (r *Reconciler) ReplayOrphans(ctx context.Context, correlationID string) (int, error) {
	orphans, err := r.payments.ListOrphans(ctx, correlationID, 0)
	if err != nil {
		return 0, err
	}
	return r.replay(ctx, orphans)
}

// ReplayAll 清扫任务定期重放已能匹配到支付记录的孤儿回调
func (r *Reconciler) ReplayAll(ctx context.Context, limit int) (int, error) {
	orphans, err := r.payments.ListBoundOrphans(ctx, limit)
	if err != nil {
		return 0, err
	}
	return r.replay(ctx, orphans)
}

func (r *Reconciler) replay(ctx context.Context, orphans []model.OrphanCallback) (int, error) {
	n := 0
	for _, o := range orphans {
		var cb model.PaymentCallback
		if err := json.Unmarshal([]byte(o.Payload), &cb); err != nil {
			hlog.CtxErrorf(ctx, "orphan %s has unreadable payload: %v", o.ID, err)
			continue
		}
		res, err := r.reconcile(ctx, &cb, false)
		if err != nil {
			return n, err
		}
		if res == ResultOrphan {
			continue
		}
		if err := r.payments.ResolveOrphan(ctx, o.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
