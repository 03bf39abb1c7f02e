package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"kes-wallet/biz/dal/pg"
	"kes-wallet/biz/model"
	"kes-wallet/gateway"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/panjf2000/ants/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// EffectHandler 执行一种 outbox 副作用，需容忍重复执行
type EffectHandler func(ctx context.Context, ev *model.OutboxEvent) error

type TradeEventPublisher interface {
	PublishTradeEvent(ctx context.Context, ev *model.TradeEvent) error
}

type PayoutGateway interface {
	Payout(ctx context.Context, r *gateway.PayoutRequest) (*gateway.PayoutResponse, error)
}

const defaultClaimLease = 2 * time.Minute

// Dispatcher 在状态迁移提交后执行 outbox 事件，失败的事件由 Relay 重试
type Dispatcher struct {
	outbox      *pg.OutboxRepo
	pool        *ants.Pool
	maxAttempts int
	lease       time.Duration

	mu       sync.RWMutex
	handlers map[model.EffectKind]EffectHandler
}

// NewDispatcher pool 为 nil 时 DispatchAsync 退化为同步执行
func NewDispatcher(db *gorm.DB, pool *ants.Pool, maxAttempts int) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Dispatcher{
		outbox:      pg.NewOutboxRepo(db),
		pool:        pool,
		maxAttempts: maxAttempts,
		lease:       defaultClaimLease,
		handlers:    make(map[model.EffectKind]EffectHandler),
	}
}

func (d *Dispatcher) Register(kind model.EffectKind, h EffectHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = h
}

func (d *Dispatcher) handler(kind model.EffectKind) (EffectHandler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[kind]
	return h, ok
}

// Dispatch 同步执行，返回第一个失败
func (d *Dispatcher) Dispatch(ctx context.Context, events []model.OutboxEvent) error {
	var firstErr error
	for i := range events {
		if err := d.dispatchOne(ctx, &events[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DispatchAsync 投递到副作用协程池，调用方不等待结果。
// 池满时直接放弃，事件已在 outbox 中，由 Relay 补发。
func (d *Dispatcher) DispatchAsync(ctx context.Context, events []model.OutboxEvent) {
	if len(events) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if d.pool == nil {
		_ = d.Dispatch(ctx, events)
		return
	}
	for i := range events {
		ev := events[i]
		err := d.pool.Submit(func() {
			_ = d.dispatchOne(ctx, &ev)
		})
		if err != nil {
			hlog.CtxWarnf(ctx, "副作用池繁忙，事件 %s(%s) 留待 relay: %v", ev.Kind, ev.TradeID, err)
		}
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, ev *model.OutboxEvent) error {
	claimed, err := d.outbox.Claim(ctx, ev.ID, d.lease)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	h, ok := d.handler(ev.Kind)
	if !ok {
		err = fmt.Errorf("no handler for effect %s", ev.Kind)
	} else {
		err = safeRun(ctx, h, ev)
	}
	if err != nil {
		hlog.CtxErrorf(ctx, "effect %s for trade %s failed: %v", ev.Kind, ev.TradeID, err)
		if markErr := d.outbox.MarkFailed(ctx, ev.ID, err); markErr != nil {
			hlog.CtxErrorf(ctx, "mark outbox %s failed: %v", ev.ID, markErr)
		}
		return err
	}
	return d.outbox.MarkDispatched(ctx, ev.ID)
}

func safeRun(ctx context.Context, h EffectHandler, ev *model.OutboxEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("effect handler panic: %v", r)
		}
	}()
	return h(ctx, ev)
}

// Relay 重新投递未完成的事件，返回本轮处理的数量
func (d *Dispatcher) Relay(ctx context.Context, limit int) (int, error) {
	events, err := d.outbox.ListPending(ctx, d.maxAttempts, d.lease, limit)
	if err != nil {
		return 0, err
	}
	for i := range events {
		if ctx.Err() != nil {
			return i, ctx.Err()
		}
		_ = d.dispatchOne(ctx, &events[i])
	}
	return len(events), nil
}

// PublishTradeEvent trade.event 处理器
func PublishTradeEvent(pub TradeEventPublisher) EffectHandler {
	return func(ctx context.Context, ev *model.OutboxEvent) error {
		var te model.TradeEvent
		if err := json.Unmarshal([]byte(ev.Payload), &te); err != nil {
			return err
		}
		return pub.PublishTradeEvent(ctx, &te)
	}
}

// DispatchPayout payout.dispatch 处理器，以交易 ID 作为 Occasion 便于对账
func DispatchPayout(gw PayoutGateway) EffectHandler {
	return func(ctx context.Context, ev *model.OutboxEvent) error {
		var p PayoutPayload
		if err := json.Unmarshal([]byte(ev.Payload), &p); err != nil {
			return err
		}
		amount, err := decimal.NewFromString(p.Amount)
		if err != nil {
			return err
		}
		if !amount.IsPositive() {
			return nil
		}
		resp, err := gw.Payout(ctx, &gateway.PayoutRequest{
			Phone:    p.Phone,
			Amount:   amount,
			Remarks:  "wallet withdrawal",
			Occasion: p.TradeID,
		})
		if err != nil {
			if errors.Is(err, model.ErrConfiguration) {
				hlog.CtxErrorf(ctx, "payout for %s blocked by configuration: %v", p.TradeID, err)
			}
			return err
		}
		hlog.CtxInfof(ctx, "payout for %s accepted conversation=%s", p.TradeID, resp.ConversationID)
		return nil
	}
}
