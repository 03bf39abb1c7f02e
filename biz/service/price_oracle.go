package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"kes-wallet/biz/model"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/hashicorp/consul/api"
	"github.com/shopspring/decimal"
)

// PriceOracle 资产的 KES 报价，由外部行情提供
type PriceOracle interface {
	Quote(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// PriceTable 内存价格表，可由 Consul KV 热更新
type PriceTable struct {
	lock   sync.RWMutex
	prices map[string]decimal.Decimal
}

func NewPriceTable(prices map[string]float64) *PriceTable {
	t := &PriceTable{prices: make(map[string]decimal.Decimal, len(prices))}
	for k, v := range prices {
		t.prices[strings.ToUpper(k)] = decimal.NewFromFloat(v)
	}
	return t
}

func (t *PriceTable) Quote(_ context.Context, symbol string) (decimal.Decimal, error) {
	t.lock.RLock()
	p, ok := t.prices[strings.ToUpper(symbol)]
	t.lock.RUnlock()
	if !ok || !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("no price for %s: %w", symbol, model.ErrUnsupportedAsset)
	}
	return p, nil
}

func (t *PriceTable) Replace(prices map[string]decimal.Decimal) {
	next := make(map[string]decimal.Decimal, len(prices))
	for k, v := range prices {
		next[strings.ToUpper(k)] = v
	}
	t.lock.Lock()
	t.prices = next
	t.lock.Unlock()
}

// WatchConsul 阻塞查询 Consul KV 中的价格表并刷新本地缓存，ctx 取消后退出
func (t *PriceTable) WatchConsul(ctx context.Context, client *api.Client, key string) {
	kv := client.KV()
	var lastIndex uint64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		opts := (&api.QueryOptions{WaitIndex: lastIndex, WaitTime: 5 * time.Minute}).WithContext(ctx)
		pair, meta, err := kv.Get(key, opts)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			hlog.Warnf("价格表拉取失败: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}
		if pair == nil || meta.LastIndex == lastIndex {
			lastIndex = meta.LastIndex
			continue
		}
		lastIndex = meta.LastIndex
		var prices map[string]decimal.Decimal
		if err := json.Unmarshal(pair.Value, &prices); err != nil {
			hlog.Warnf("价格表解析失败: %v", err)
			continue
		}
		t.Replace(prices)
		hlog.Infof("价格表已刷新, index=%d, assets=%d", lastIndex, len(prices))
	}
}
