package model

import (
	"errors"
)

var (
	ErrRateLimited       = errors.New("rate limited")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidRecipient  = errors.New("invalid recipient")
	ErrUnsupportedAsset  = errors.New("unsupported asset")
	ErrConfiguration     = errors.New("configuration error")
	ErrExternalGateway   = errors.New("external gateway error")
	ErrIllegalTransition = errors.New("illegal state transition")
	// ErrStaleTransition 状态在读取后被并发修改，CAS 失败
	ErrStaleTransition = errors.New("stale state transition")
	ErrNotFound        = errors.New("not found")
	ErrDuplicateConfig = errors.New("active copy configuration already exists")
)

// FailureReason 把错误映射为写入 failed 状态的用户可读原因，不暴露网关原始报文
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient balance"
	case errors.Is(err, ErrRateLimited):
		return "too many requests, try again later"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid amount"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid request"
	case errors.Is(err, ErrInvalidRecipient):
		return "invalid recipient"
	case errors.Is(err, ErrUnsupportedAsset):
		return "asset not supported"
	case errors.Is(err, ErrExternalGateway):
		return "payment gateway unavailable"
	case errors.Is(err, ErrConfiguration):
		return "service misconfigured"
	default:
		return "internal error"
	}
}

// GatewayResultReason M-Pesa ResultCode 对应的用户可读原因
func GatewayResultReason(code int) string {
	switch code {
	case 0:
		return ""
	case 1:
		return "insufficient M-Pesa balance"
	case 1032:
		return "payment cancelled by user"
	case 1037:
		return "phone unreachable"
	case 2001:
		return "wrong M-Pesa PIN"
	default:
		return "payment was not completed"
	}
}
