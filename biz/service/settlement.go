package service

import (
	"kes-wallet/biz/model"
)

// SettlementDeltas 交易结算时的余额变更。手续费为零时不产生手续费账户分录。
// 网关支付的买入由用户在 M-Pesa 侧付款，钱包余额不变，只入账资产。
func SettlementDeltas(t *model.TradeIntent, feeAccountID string) []model.BalanceDelta {
	var deltas []model.BalanceDelta
	switch t.Side {
	case model.SideDeposit:
		deltas = append(deltas, model.BalanceDelta{AccountID: t.AccountID, Currency: t.NetAmount})
	case model.SideBuy:
		d := model.BalanceDelta{
			AccountID: t.AccountID,
			Assets:    []model.AssetDelta{{Symbol: t.AssetSymbol, Delta: t.AmountAsset.Decimal}},
		}
		if t.Funding == model.FundingWallet {
			d.Currency = t.AmountCurrency.Neg()
		}
		deltas = append(deltas, d)
	case model.SideSell:
		deltas = append(deltas, model.BalanceDelta{
			AccountID: t.AccountID,
			Currency:  t.NetAmount,
			Assets:    []model.AssetDelta{{Symbol: t.AssetSymbol, Delta: t.AmountAsset.Decimal.Neg()}},
		})
	case model.SideTransfer:
		deltas = append(deltas,
			model.BalanceDelta{AccountID: t.AccountID, Currency: t.AmountCurrency.Neg()},
			model.BalanceDelta{AccountID: t.Recipient, Currency: t.NetAmount},
		)
	case model.SideWithdraw:
		deltas = append(deltas, model.BalanceDelta{AccountID: t.AccountID, Currency: t.AmountCurrency.Neg()})
	}
	if t.FeeAmount.IsPositive() {
		deltas = append(deltas, model.BalanceDelta{AccountID: feeAccountID, Currency: t.FeeAmount})
	}
	return deltas
}
