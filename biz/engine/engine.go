package engine

import (
	"time"

	"github.com/panjf2000/ants/v2"
)

// Pools 引擎使用的两个协程池。
// 跟单扇出在 CopyPool 中执行，状态迁移副作用在 EffectPool 中执行，
// 分开是为了避免扇出任务等待副作用池时互相占满导致死锁。
type Pools struct {
	CopyPool   *ants.Pool
	EffectPool *ants.Pool
}

func NewPools(copySize, effectSize int) (*Pools, error) {
	copyPool, err := ants.NewPool(copySize, ants.WithExpiryDuration(time.Minute))
	if err != nil {
		return nil, err
	}
	// 副作用池非阻塞：满载时直接返回 ErrPoolOverload，事件留给 outbox relay 补发
	effectPool, err := ants.NewPool(effectSize, ants.WithNonblocking(true))
	if err != nil {
		copyPool.Release()
		return nil, err
	}
	return &Pools{CopyPool: copyPool, EffectPool: effectPool}, nil
}

func (p *Pools) Release() {
	if p == nil {
		return
	}
	p.CopyPool.Release()
	p.EffectPool.Release()
}
