package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"kes-wallet/biz/dal/pg"
	"kes-wallet/biz/model"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var legalTransitions = map[model.TradeState][]model.TradeState{
	model.StatePending:    {model.StateProcessing, model.StateCompleted, model.StateFailed, model.StateExpired},
	model.StateProcessing: {model.StateCompleted, model.StateFailed, model.StateExpired},
}

func CanTransition(from, to model.TradeState) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition 一次状态迁移及其在同一事务内生效的附带写入
type Transition struct {
	To     model.TradeState
	Reason string
	// Deltas 随迁移一起提交的余额变更
	Deltas []model.BalanceDelta
	Fields map[string]interface{}
	// InTx 同一事务内的额外写入，例如绑定支付关联 ID
	InTx func(tx *gorm.DB) error
}

// PayoutPayload 提现打款副作用的参数
type PayoutPayload struct {
	TradeID string `json:"trade_id"`
	Phone   string `json:"phone"`
	Amount  string `json:"amount"`
}

// StateMachine 交易状态的唯一写入方。迁移以 CAS 方式落库，
// 副作用写入 outbox 并返回给调用方，在事务提交后执行。
type StateMachine struct {
	db       *gorm.DB
	balances *BalanceStore
}

func NewStateMachine(db *gorm.DB, balances *BalanceStore) *StateMachine {
	return &StateMachine{db: db, balances: balances}
}

func (m *StateMachine) Apply(ctx context.Context, tradeID string, t Transition) (*model.TradeIntent, []model.OutboxEvent, error) {
	unlock := m.balances.LockDebited(t.Deltas)
	defer unlock()

	var (
		trade  *model.TradeIntent
		events []model.OutboxEvent
	)
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := pg.NewTradeRepo(tx)
		current, err := repo.Get(ctx, tradeID)
		if err != nil {
			return err
		}
		if !CanTransition(current.State, t.To) {
			if current.State.Terminal() {
				hlog.CtxErrorf(ctx, "invariant violation: trade %s is %s, refused transition to %s", tradeID, current.State, t.To)
			}
			return fmt.Errorf("trade %s %s -> %s: %w", tradeID, current.State, t.To, model.ErrIllegalTransition)
		}

		fields := make(map[string]interface{}, len(t.Fields)+1)
		for k, v := range t.Fields {
			fields[k] = v
		}
		if t.Reason != "" {
			fields["failure_reason"] = t.Reason
		}
		ok, err := repo.CompareAndSetState(ctx, tradeID, current.State, t.To, fields)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("trade %s left %s concurrently: %w", tradeID, current.State, model.ErrStaleTransition)
		}

		if len(t.Deltas) > 0 {
			if err := m.balances.applyTx(ctx, tx, t.Deltas); err != nil {
				return err
			}
		}
		if t.InTx != nil {
			if err := t.InTx(tx); err != nil {
				return err
			}
		}

		if trade, err = repo.Get(ctx, tradeID); err != nil {
			return err
		}
		if events, err = deriveEffects(trade); err != nil {
			return err
		}
		return pg.NewOutboxRepo(tx).Insert(ctx, events)
	})
	if err != nil {
		return nil, nil, err
	}
	hlog.CtxInfof(ctx, "trade %s -> %s effects=%d", tradeID, t.To, len(events))
	return trade, events, nil
}

// deriveEffects 进入某状态时需要执行的副作用
func deriveEffects(t *model.TradeIntent) ([]model.OutboxEvent, error) {
	if !t.State.Terminal() {
		return nil, nil
	}
	ev := &model.TradeEvent{
		TradeID:     t.ID,
		AccountID:   t.AccountID,
		Side:        t.Side,
		AssetSymbol: t.AssetSymbol,
		Amount:      t.AmountCurrency.String(),
		Fee:         t.FeeAmount.String(),
		Net:         t.NetAmount.String(),
		SourceType:  t.SourceType,
		SourceRef:   t.SourceRef,
		State:       t.State,
		Reason:      t.FailureReason,
		Timestamp:   t.UpdatedAt.UnixMilli(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	events := []model.OutboxEvent{newOutboxEvent(t.ID, model.EffectTradeEvent, string(payload))}
	if t.State != model.StateCompleted {
		return events, nil
	}
	// 跟单产生的交易不再向下传播
	if (t.Side == model.SideBuy || t.Side == model.SideSell) && t.SourceType != model.SourceCopy {
		events = append(events, newOutboxEvent(t.ID, model.EffectCopyPropagate, t.ID))
	}
	if t.Side == model.SideWithdraw {
		p, err := json.Marshal(&PayoutPayload{TradeID: t.ID, Phone: t.Phone, Amount: t.NetAmount.String()})
		if err != nil {
			return nil, err
		}
		events = append(events, newOutboxEvent(t.ID, model.EffectPayout, string(p)))
	}
	return events, nil
}

func newOutboxEvent(tradeID string, kind model.EffectKind, payload string) model.OutboxEvent {
	return model.OutboxEvent{
		ID:        uuid.NewString(),
		TradeID:   tradeID,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}
