package handler

import (
	"context"

	"kes-wallet/biz/model"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/shopspring/decimal"
)

type CopyAPI interface {
	Follow(ctx context.Context, c *model.CopyConfiguration) error
	Unfollow(ctx context.Context, followerID, leaderID string) error
	Outcomes(ctx context.Context, leaderTradeID string) ([]model.FanoutOutcome, error)
}

type CreateCopyConfigRequest struct {
	FollowerAccountID string              `json:"follower_account_id"`
	LeaderAccountID   string              `json:"leader_account_id"`
	SizingMode        model.SizingMode    `json:"sizing_mode"`
	SizingValue       decimal.Decimal     `json:"sizing_value"`
	MaxNotional       decimal.NullDecimal `json:"max_notional"`
	MaxSlippage       decimal.NullDecimal `json:"max_slippage"`
}

type CopyHandler struct {
	copies             CopyAPI
	defaultMaxSlippage decimal.Decimal
}

func NewCopyHandler(copies CopyAPI, defaultMaxSlippage decimal.Decimal) *CopyHandler {
	return &CopyHandler{copies: copies, defaultMaxSlippage: defaultMaxSlippage}
}

func (h *CopyHandler) Create(ctx context.Context, c *app.RequestContext) {
	var req CreateCopyConfigRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	slippage := h.defaultMaxSlippage
	if req.MaxSlippage.Valid {
		slippage = req.MaxSlippage.Decimal
	}
	cfg := &model.CopyConfiguration{
		FollowerAccountID: req.FollowerAccountID,
		LeaderAccountID:   req.LeaderAccountID,
		Active:            true,
		SizingMode:        req.SizingMode,
		SizingValue:       req.SizingValue,
		MaxNotional:       req.MaxNotional,
		MaxSlippage:       slippage,
	}
	if err := h.copies.Follow(ctx, cfg); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, cfg)
}

// Delete 取消跟单只停用配置
func (h *CopyHandler) Delete(ctx context.Context, c *app.RequestContext) {
	follower, leader := c.Query("follower_id"), c.Query("leader_id")
	if follower == "" || leader == "" {
		badRequest(c, "missing follower_id or leader_id")
		return
	}
	if err := h.copies.Unfollow(ctx, follower, leader); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"follower_id": follower, "leader_id": leader, "active": false})
}

// Outcomes 查询某笔领单交易的跟单结果
func (h *CopyHandler) Outcomes(ctx context.Context, c *app.RequestContext) {
	outcomes, err := h.copies.Outcomes(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, outcomes)
}
