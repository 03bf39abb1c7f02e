package service

import (
	"fmt"

	"kes-wallet/biz/model"
	"kes-wallet/conf"

	"github.com/shopspring/decimal"
)

// TierStep 阶梯费率的一档，UpTo 为闭区间上界
type TierStep struct {
	UpTo decimal.Decimal
	Fee  decimal.Decimal
}

// FeeCalculator 纯函数式的费用计算：存款走阶梯费率，其它操作按比例收费。
// 构造后不可变，相同输入永远得到相同结果，回调重放依赖这一点。
type FeeCalculator struct {
	scale         int32
	freeThreshold decimal.Decimal
	rates         map[model.Side]decimal.Decimal
	tiers         []TierStep
}

func NewFeeCalculator(scale int32, freeThreshold decimal.Decimal, rates map[model.Side]decimal.Decimal, tiers []TierStep) (*FeeCalculator, error) {
	for side, rate := range rates {
		if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("fee rate for %s is %s: %w", side, rate, model.ErrConfiguration)
		}
	}
	for i, t := range tiers {
		if t.Fee.IsNegative() {
			return nil, fmt.Errorf("deposit tier %d fee %s is negative: %w", i, t.Fee, model.ErrConfiguration)
		}
		if i == 0 {
			continue
		}
		prev := tiers[i-1]
		if !t.UpTo.GreaterThan(prev.UpTo) || t.Fee.LessThan(prev.Fee) {
			return nil, fmt.Errorf("deposit tiers must be increasing at %d: %w", i, model.ErrConfiguration)
		}
	}
	r := make(map[model.Side]decimal.Decimal, len(rates))
	for k, v := range rates {
		r[k] = v
	}
	t := make([]TierStep, len(tiers))
	copy(t, tiers)
	return &FeeCalculator{scale: scale, freeThreshold: freeThreshold, rates: r, tiers: t}, nil
}

// NewFeeCalculatorFromConf 从 engine.fees 配置构造
func NewFeeCalculatorFromConf(c conf.Fees) (*FeeCalculator, error) {
	rates := make(map[model.Side]decimal.Decimal, len(c.Rates))
	for side, rate := range c.Rates {
		s := model.Side(side)
		if !s.Valid() || s == model.SideDeposit {
			return nil, fmt.Errorf("unknown percentage fee side %q: %w", side, model.ErrConfiguration)
		}
		rates[s] = decimal.NewFromFloat(rate)
	}
	tiers := make([]TierStep, 0, len(c.DepositTiers))
	for _, t := range c.DepositTiers {
		tiers = append(tiers, TierStep{UpTo: decimal.NewFromFloat(t.UpTo), Fee: decimal.NewFromFloat(t.Fee)})
	}
	return NewFeeCalculator(c.Scale, decimal.NewFromFloat(c.FreeThreshold), rates, tiers)
}

// ComputeFee 返回 (fee, net)。存款使用阶梯表，其余按该操作的比例费率。
// 手续费大于金额说明配置错误，直接失败，不做截断。
func (f *FeeCalculator) ComputeFee(amount decimal.Decimal, kind model.Side) (decimal.Decimal, decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("amount %s: %w", amount, model.ErrInvalidAmount)
	}
	var fee decimal.Decimal
	if kind == model.SideDeposit {
		fee = f.tieredFee(amount)
	} else {
		rate, ok := f.rates[kind]
		if !ok {
			return decimal.Zero, decimal.Zero, fmt.Errorf("no fee schedule for %s: %w", kind, model.ErrConfiguration)
		}
		fee = amount.Mul(rate).Round(f.scale)
	}
	if fee.GreaterThan(amount) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("fee %s exceeds amount %s for %s: %w", fee, amount, kind, model.ErrConfiguration)
	}
	return fee, amount.Sub(fee), nil
}

func (f *FeeCalculator) tieredFee(amount decimal.Decimal) decimal.Decimal {
	if len(f.tiers) == 0 || amount.LessThanOrEqual(f.freeThreshold) {
		return decimal.Zero
	}
	for _, t := range f.tiers {
		if amount.LessThanOrEqual(t.UpTo) {
			return t.Fee
		}
	}
	return f.tiers[len(f.tiers)-1].Fee
}
