package gateway

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const successBody = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 1000.00},
          {"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
          {"Name": "TransactionDate", "Value": 20191219102115},
          {"Name": "PhoneNumber", "Value": 254708374149}
        ]
      }
    }
  }
}`

func TestParseSTKCallbackSuccess(t *testing.T) {
	cb, err := ParseSTKCallback([]byte(successBody))
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_191220191020363925", cb.ExternalCorrelationID)
	assert.True(t, cb.Succeeded())
	assert.Equal(t, "1000", cb.Amount.String())
	assert.Equal(t, "NLJ7RT61SV", cb.ReceiptNumber)
	assert.Equal(t, "20191219102115", cb.TransactionDate)
	assert.Equal(t, "254708374149", cb.Phone)
}

func TestParseSTKCallbackCancelled(t *testing.T) {
	body := `{"Body":{"stkCallback":{"MerchantRequestID":"1","CheckoutRequestID":"ws_CO_1","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`
	cb, err := ParseSTKCallback([]byte(body))
	require.NoError(t, err)
	assert.False(t, cb.Succeeded())
	assert.Equal(t, 1032, cb.ResultCode)
	assert.True(t, cb.Amount.IsZero())
}

func TestParseSTKCallbackRejectsBadPayloads(t *testing.T) {
	cases := []struct {
		name string
		body string
		want error
	}{
		{"not json", `<xml/>`, ErrMalformedPayload},
		{"no body", `{}`, ErrSchemaViolation},
		{"no callback", `{"Body":{}}`, ErrSchemaViolation},
		{"no checkout id", `{"Body":{"stkCallback":{"ResultCode":0}}}`, ErrSchemaViolation},
		{"no result code", `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1"}}}`, ErrSchemaViolation},
		{"success without receipt", `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0,"CallbackMetadata":{"Item":[{"Name":"Amount","Value":10}]}}}}`, ErrSchemaViolation},
	}
	for _, c := range cases {
		_, err := ParseSTKCallback([]byte(c.body))
		assert.True(t, errors.Is(err, c.want), "%s: got %v", c.name, err)
	}
}
