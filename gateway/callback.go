package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"kes-wallet/biz/model"

	"github.com/shopspring/decimal"
	"gopkg.in/validator.v2"
)

var (
	// ErrMalformedPayload 不是合法 JSON
	ErrMalformedPayload = errors.New("malformed callback payload")
	// ErrSchemaViolation JSON 合法但缺少关联字段
	ErrSchemaViolation = errors.New("callback schema violation")
)

type callbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

type stkCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID" validate:"nonzero"`
	ResultCode        *int   `json:"ResultCode" validate:"nonnil"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []callbackItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

type stkEnvelope struct {
	Body *struct {
		StkCallback *stkCallback `json:"stkCallback" validate:"nonnil"`
	} `json:"Body" validate:"nonnil"`
}

// ParseSTKCallback 把 Daraja STK 回调映射为 PaymentCallback。
// 成功回调必须带 Amount 与 MpesaReceiptNumber。
func ParseSTKCallback(body []byte) (*model.PaymentCallback, error) {
	var env stkEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrMalformedPayload)
	}
	if err := validator.Validate(env); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrSchemaViolation)
	}
	stk := env.Body.StkCallback
	if err := validator.Validate(stk); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrSchemaViolation)
	}

	cb := &model.PaymentCallback{
		ExternalCorrelationID: strings.TrimSpace(stk.CheckoutRequestID),
		ResultCode:            *stk.ResultCode,
		ResultDesc:            stk.ResultDesc,
	}
	if stk.CallbackMetadata != nil {
		for _, item := range stk.CallbackMetadata.Item {
			switch item.Name {
			case "Amount":
				cb.Amount, _ = decimal.NewFromString(rawScalar(item.Value))
			case "MpesaReceiptNumber":
				cb.ReceiptNumber = rawScalar(item.Value)
			case "TransactionDate":
				cb.TransactionDate = rawScalar(item.Value)
			case "PhoneNumber":
				cb.Phone = rawScalar(item.Value)
			}
		}
	}
	if cb.Succeeded() && (cb.ReceiptNumber == "" || cb.Amount.IsZero()) {
		return nil, fmt.Errorf("successful callback %s without receipt or amount: %w", cb.ExternalCorrelationID, ErrSchemaViolation)
	}
	return cb, nil
}

// rawScalar Daraja 的 Value 可能是数字也可能是字符串
func rawScalar(v json.RawMessage) string {
	s := strings.TrimSpace(string(v))
	return strings.Trim(s, `"`)
}
