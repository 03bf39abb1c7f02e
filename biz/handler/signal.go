package handler

import (
	"context"

	"kes-wallet/biz/model"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/shopspring/decimal"
)

type SignalAPI interface {
	Ingest(ctx context.Context, raw, channelID string) (*model.ParsedSignal, []model.FanoutOutcome, error)
	Subscribe(ctx context.Context, sub *model.SignalSubscription) error
}

type IngestSignalRequest struct {
	ChannelID string `json:"channel_id"`
	Message   string `json:"message"`
}

type IngestSignalResponse struct {
	Signal   *model.ParsedSignal   `json:"signal"`
	Outcomes []model.FanoutOutcome `json:"outcomes"`
}

type SubscribeRequest struct {
	ChannelID      string          `json:"channel_id"`
	AccountID      string          `json:"account_id"`
	AutoExecute    bool            `json:"auto_execute"`
	Active         *bool           `json:"active"`
	AmountCurrency decimal.Decimal `json:"amount_currency"`
}

type SignalHandler struct {
	signals SignalAPI
}

func NewSignalHandler(signals SignalAPI) *SignalHandler {
	return &SignalHandler{signals: signals}
}

// Ingest 未识别为信号的消息返回 signal=null
func (h *SignalHandler) Ingest(ctx context.Context, c *app.RequestContext) {
	var req IngestSignalRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.ChannelID == "" {
		badRequest(c, "missing channel_id")
		return
	}
	sig, outcomes, err := h.signals.Ingest(ctx, req.Message, req.ChannelID)
	if err != nil {
		writeError(c, err)
		return
	}
	if outcomes == nil {
		outcomes = []model.FanoutOutcome{}
	}
	c.JSON(consts.StatusOK, IngestSignalResponse{Signal: sig, Outcomes: outcomes})
}

func (h *SignalHandler) Subscribe(ctx context.Context, c *app.RequestContext) {
	var req SubscribeRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	sub := &model.SignalSubscription{
		ChannelID:      req.ChannelID,
		AccountID:      req.AccountID,
		AutoExecute:    req.AutoExecute,
		Active:         active,
		AmountCurrency: req.AmountCurrency,
	}
	if err := h.signals.Subscribe(ctx, sub); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, sub)
}
