package handler

import (
	"context"
	"strconv"

	"kes-wallet/biz/model"
	"kes-wallet/biz/service"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/shopspring/decimal"
)

type TradeAPI interface {
	Submit(ctx context.Context, req *service.SubmitRequest) (*model.TradeIntent, error)
	Get(ctx context.Context, id string) (*model.TradeIntent, error)
	List(ctx context.Context, accountID string, limit int) ([]model.TradeIntent, error)
}

type SubmitTradeRequest struct {
	AccountID      string              `json:"account_id"`
	Side           model.Side          `json:"side"`
	Funding        model.Funding       `json:"funding"`
	AssetSymbol    string              `json:"asset_symbol"`
	AmountCurrency decimal.Decimal     `json:"amount_currency"`
	AmountAsset    decimal.Decimal     `json:"amount_asset"`
	Recipient      string              `json:"recipient"`
	Phone          string              `json:"phone"`
	MaxSlippage    decimal.NullDecimal `json:"max_slippage"`
}

type SubmitTradeResponse struct {
	TradeID       string           `json:"trade_id"`
	State         model.TradeState `json:"state"`
	FailureReason string           `json:"failure_reason,omitempty"`
}

type TradeHandler struct {
	trades TradeAPI
}

func NewTradeHandler(trades TradeAPI) *TradeHandler {
	return &TradeHandler{trades: trades}
}

// Submit 手动下单，来源固定为 manual，跟单与信号由引擎内部提交
func (h *TradeHandler) Submit(ctx context.Context, c *app.RequestContext) {
	var req SubmitTradeRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	trade, err := h.trades.Submit(ctx, &service.SubmitRequest{
		AccountID:      req.AccountID,
		Side:           req.Side,
		Funding:        req.Funding,
		AssetSymbol:    req.AssetSymbol,
		AmountCurrency: req.AmountCurrency,
		AmountAsset:    req.AmountAsset,
		Recipient:      req.Recipient,
		Phone:          req.Phone,
		MaxSlippage:    req.MaxSlippage,
		SourceType:     model.SourceManual,
	})
	if err != nil {
		if trade != nil {
			hlog.CtxInfof(ctx, "trade %s %s: %v", trade.ID, trade.State, err)
		}
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, SubmitTradeResponse{
		TradeID:       trade.ID,
		State:         trade.State,
		FailureReason: trade.FailureReason,
	})
}

func (h *TradeHandler) Get(ctx context.Context, c *app.RequestContext) {
	trade, err := h.trades.Get(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, trade)
}

func (h *TradeHandler) List(ctx context.Context, c *app.RequestContext) {
	accountID := c.Query("account_id")
	if accountID == "" {
		badRequest(c, "missing account_id")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	trades, err := h.trades.List(ctx, accountID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, trades)
}
