package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"kes-wallet/biz/model"
	"kes-wallet/conf"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMpesaConf() conf.Mpesa {
	return conf.Mpesa{
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		PassKey:        "passkey",
		CallbackURL:    "https://wallet.example/api/mpesa/callback",
		Timeout:        2 * time.Second,
	}
}

type darajaStub struct {
	oauthCalls int32
	lastSTK    map[string]interface{}
	stkCode    string
}

func (d *darajaStub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&d.oauthCalls, 1)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)
		_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":"3599"}`))
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&d.lastSTK))
		_, _ = w.Write([]byte(`{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_1","ResponseCode":"` + d.stkCode + `","ResponseDescription":"Success. Request accepted for processing"}`))
	})
	mux.HandleFunc("/mpesa/b2c/v1/paymentrequest", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"errorMessage":"boom"}`))
	})
	return mux
}

func TestNewMpesaClientRequiresCredentials(t *testing.T) {
	cfg := testMpesaConf()
	cfg.PassKey = ""
	_, err := NewMpesaClient(cfg, "")
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}

func TestSTKPush(t *testing.T) {
	stub := &darajaStub{stkCode: "0"}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	m, err := NewMpesaClient(testMpesaConf(), srv.URL)
	require.NoError(t, err)
	m.now = func() time.Time { return time.Date(2024, 5, 1, 6, 30, 0, 0, time.UTC) }
	ctx := context.Background()

	resp, err := m.STKPush(ctx, &STKPushRequest{
		Amount: decimal.RequireFromString("99.5"), Phone: "254712345678", AccountReference: "trade-1", Description: "Wallet deposit",
	})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_1", resp.CheckoutRequestID)
	assert.Equal(t, "20240501093000", stub.lastSTK["Timestamp"])
	assert.Equal(t, Password("174379", "passkey", "20240501093000"), stub.lastSTK["Password"])
	assert.EqualValues(t, 100, stub.lastSTK["Amount"])
	assert.Equal(t, "trade-1", stub.lastSTK["AccountReference"])

	_, err = m.STKPush(ctx, &STKPushRequest{Amount: decimal.NewFromInt(10), Phone: "254712345678", AccountReference: "trade-2"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.oauthCalls), "token is cached")
}

func TestSTKPushRejected(t *testing.T) {
	stub := &darajaStub{stkCode: "1"}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	m, err := NewMpesaClient(testMpesaConf(), srv.URL)
	require.NoError(t, err)
	_, err = m.STKPush(context.Background(), &STKPushRequest{Amount: decimal.NewFromInt(10), Phone: "254712345678"})
	assert.True(t, errors.Is(err, model.ErrExternalGateway))
}

func TestPayout(t *testing.T) {
	stub := &darajaStub{stkCode: "0"}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	m, err := NewMpesaClient(testMpesaConf(), srv.URL)
	require.NoError(t, err)
	_, err = m.Payout(context.Background(), &PayoutRequest{Phone: "254712345678", Amount: decimal.NewFromInt(500)})
	assert.True(t, errors.Is(err, model.ErrConfiguration), "initiator credentials missing")

	cfg := testMpesaConf()
	cfg.InitiatorName, cfg.SecurityCredential = "testapi", "cred"
	m, err = NewMpesaClient(cfg, srv.URL)
	require.NoError(t, err)
	_, err = m.Payout(context.Background(), &PayoutRequest{Phone: "254712345678", Amount: decimal.NewFromInt(500)})
	assert.True(t, errors.Is(err, model.ErrExternalGateway))
}
