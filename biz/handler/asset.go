package handler

import (
	"context"

	"kes-wallet/biz/model"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

type BalanceReader interface {
	Snapshot(ctx context.Context, accountID string) (*model.BalanceSnapshot, error)
}

type BalanceHandler struct {
	balances BalanceReader
}

func NewBalanceHandler(balances BalanceReader) *BalanceHandler {
	return &BalanceHandler{balances: balances}
}

// GetBalance 查询用户余额与持仓
func (h *BalanceHandler) GetBalance(ctx context.Context, c *app.RequestContext) {
	accountID := c.Query("account_id")
	if accountID == "" {
		badRequest(c, "missing account_id")
		return
	}
	snap, err := h.balances.Snapshot(ctx, accountID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, snap)
}
