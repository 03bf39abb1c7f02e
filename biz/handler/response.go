package handler

import (
	"errors"

	"kes-wallet/biz/model"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// errorStatus 错误类型到 HTTP 状态码与错误码
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrRateLimited):
		return consts.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, model.ErrInsufficientFunds):
		return consts.StatusUnprocessableEntity, "insufficient_funds"
	case errors.Is(err, model.ErrInvalidAmount):
		return consts.StatusBadRequest, "invalid_amount"
	case errors.Is(err, model.ErrInvalidRecipient):
		return consts.StatusBadRequest, "invalid_recipient"
	case errors.Is(err, model.ErrInvalidRequest):
		return consts.StatusBadRequest, "invalid_request"
	case errors.Is(err, model.ErrUnsupportedAsset):
		return consts.StatusBadRequest, "unsupported_asset"
	case errors.Is(err, model.ErrNotFound):
		return consts.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrDuplicateConfig):
		return consts.StatusConflict, "duplicate_config"
	case errors.Is(err, model.ErrExternalGateway):
		return consts.StatusBadGateway, "external_gateway_error"
	case errors.Is(err, model.ErrConfiguration):
		return consts.StatusInternalServerError, "configuration_error"
	default:
		return consts.StatusInternalServerError, "internal_error"
	}
}

func writeError(c *app.RequestContext, err error) {
	status, code := errorStatus(err)
	msg := model.FailureReason(err)
	if status < consts.StatusInternalServerError {
		msg = err.Error()
	}
	c.JSON(status, errorBody{Error: code, Message: msg})
}

func badRequest(c *app.RequestContext, msg string) {
	c.JSON(consts.StatusBadRequest, errorBody{Error: "invalid_request", Message: msg})
}
