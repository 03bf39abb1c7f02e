package handler

import (
	"context"
	"errors"

	"kes-wallet/biz/model"
	"kes-wallet/biz/service"
	"kes-wallet/gateway"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

type CallbackReconciler interface {
	Reconcile(ctx context.Context, cb *model.PaymentCallback) (service.ReconcileResult, error)
}

// Ack Daraja 要求的应答格式
type Ack struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

var (
	accepted = Ack{ResultCode: 0, ResultDesc: "Accepted"}
	rejected = Ack{ResultCode: 1, ResultDesc: "Rejected"}
)

type CallbackHandler struct {
	reconciler CallbackReconciler
}

func NewCallbackHandler(r CallbackReconciler) *CallbackHandler {
	return &CallbackHandler{reconciler: r}
}

// MpesaCallback 网关按至少一次语义投递，除孤儿落库失败外一律应答 200
func (h *CallbackHandler) MpesaCallback(ctx context.Context, c *app.RequestContext) {
	cb, err := gateway.ParseSTKCallback(c.Request.Body())
	switch {
	case errors.Is(err, gateway.ErrMalformedPayload):
		hlog.CtxWarnf(ctx, "mpesa callback unparseable: %v", err)
		c.JSON(consts.StatusBadRequest, rejected)
		return
	case err != nil:
		hlog.CtxWarnf(ctx, "mpesa callback schema violation: %v body=%s", err, c.Request.Body())
		c.JSON(consts.StatusOK, rejected)
		return
	}

	result, err := h.reconciler.Reconcile(ctx, cb)
	if err != nil {
		hlog.CtxErrorf(ctx, "reconcile %s failed: %v", cb.ExternalCorrelationID, err)
		c.JSON(consts.StatusInternalServerError, Ack{ResultCode: 1, ResultDesc: "Retry"})
		return
	}
	hlog.CtxDebugf(ctx, "callback %s -> %s", cb.ExternalCorrelationID, result)
	c.JSON(consts.StatusOK, accepted)
}
