package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"kes-wallet/biz/model"
	"kes-wallet/conf"

	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/shopspring/decimal"
)

const (
	SandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	ProductionBaseURL = "https://api.safaricom.co.ke"
)

// 肯尼亚时区，STK 密码中的时间戳按当地时间生成
var nairobi = time.FixedZone("EAT", 3*60*60)

type STKPushRequest struct {
	Amount           decimal.Decimal
	Phone            string
	AccountReference string
	Description      string
}

type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type PayoutRequest struct {
	Phone    string
	Amount   decimal.Decimal
	Remarks  string
	Occasion string
}

type PayoutResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

type accessToken struct {
	value     string
	expiresAt time.Time
}

// MpesaClient Daraja API 客户端：OAuth、STK Push、B2C 打款
type MpesaClient struct {
	cfg     conf.Mpesa
	baseURL string
	cli     *client.Client
	now     func() time.Time

	mu    sync.Mutex
	token accessToken
}

// NewMpesaClient 缺少凭证时返回 ErrConfiguration，不允许带着空凭证启动
func NewMpesaClient(cfg conf.Mpesa, baseURL string) (*MpesaClient, error) {
	missing := ""
	switch {
	case cfg.ConsumerKey == "":
		missing = "consumer_key"
	case cfg.ConsumerSecret == "":
		missing = "consumer_secret"
	case cfg.ShortCode == "":
		missing = "short_code"
	case cfg.PassKey == "":
		missing = "pass_key"
	case cfg.CallbackURL == "":
		missing = "callback_url"
	}
	if missing != "" {
		return nil, fmt.Errorf("mpesa %s not set: %w", missing, model.ErrConfiguration)
	}
	if baseURL == "" {
		baseURL = SandboxBaseURL
		if cfg.Environment == "production" {
			baseURL = ProductionBaseURL
		}
	}
	cli, err := client.NewClient(
		client.WithDialTimeout(5*time.Second),
		client.WithClientReadTimeout(cfg.Timeout),
	)
	if err != nil {
		return nil, err
	}
	return &MpesaClient{cfg: cfg, baseURL: baseURL, cli: cli, now: time.Now}, nil
}

func (m *MpesaClient) accessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token.value != "" && m.now().Before(m.token.expiresAt) {
		return m.token.value, nil
	}

	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer protocol.ReleaseRequest(req)
	defer protocol.ReleaseResponse(resp)

	req.SetMethod(consts.MethodGet)
	req.SetRequestURI(m.baseURL + "/oauth/v1/generate?grant_type=client_credentials")
	basic := base64.StdEncoding.EncodeToString([]byte(m.cfg.ConsumerKey + ":" + m.cfg.ConsumerSecret))
	req.SetHeader("Authorization", "Basic "+basic)

	if err := m.cli.DoTimeout(ctx, req, resp, m.cfg.Timeout); err != nil {
		return "", fmt.Errorf("mpesa oauth: %v: %w", err, model.ErrExternalGateway)
	}
	if resp.StatusCode() != consts.StatusOK {
		return "", fmt.Errorf("mpesa oauth status %d: %w", resp.StatusCode(), model.ErrExternalGateway)
	}
	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil || body.AccessToken == "" {
		return "", fmt.Errorf("mpesa oauth: malformed token response: %w", model.ErrExternalGateway)
	}
	ttl, _ := strconv.Atoi(body.ExpiresIn)
	if ttl <= 60 {
		ttl = 3599
	}
	// 提前一分钟刷新
	m.token = accessToken{value: body.AccessToken, expiresAt: m.now().Add(time.Duration(ttl-60) * time.Second)}
	return m.token.value, nil
}

// Password base64(shortcode + passkey + timestamp)
func Password(shortCode, passKey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passKey + timestamp))
}

func (m *MpesaClient) postJSON(ctx context.Context, path string, payload interface{}, out interface{}) error {
	token, err := m.accessToken(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer protocol.ReleaseRequest(req)
	defer protocol.ReleaseResponse(resp)

	req.SetMethod(consts.MethodPost)
	req.SetRequestURI(m.baseURL + path)
	req.SetHeader("Authorization", "Bearer "+token)
	req.Header.SetContentTypeBytes([]byte("application/json"))
	req.SetBody(body)

	if err := m.cli.DoTimeout(ctx, req, resp, m.cfg.Timeout); err != nil {
		return fmt.Errorf("mpesa %s: %v: %w", path, err, model.ErrExternalGateway)
	}
	if resp.StatusCode() != consts.StatusOK {
		hlog.CtxWarnf(ctx, "mpesa %s status=%d body=%s", path, resp.StatusCode(), resp.Body())
		return fmt.Errorf("mpesa %s status %d: %w", path, resp.StatusCode(), model.ErrExternalGateway)
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("mpesa %s: malformed response: %w", path, model.ErrExternalGateway)
	}
	return nil
}

// STKPush 发起 Lipa na M-Pesa Online 支付，返回的 CheckoutRequestID 用作回调关联 ID
func (m *MpesaClient) STKPush(ctx context.Context, r *STKPushRequest) (*STKPushResponse, error) {
	timestamp := m.now().In(nairobi).Format("20060102150405")
	// Daraja 只接受整数金额
	amount := r.Amount.Ceil().IntPart()
	payload := map[string]interface{}{
		"BusinessShortCode": m.cfg.ShortCode,
		"Password":          Password(m.cfg.ShortCode, m.cfg.PassKey, timestamp),
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            amount,
		"PartyA":            r.Phone,
		"PartyB":            m.cfg.ShortCode,
		"PhoneNumber":       r.Phone,
		"CallBackURL":       m.cfg.CallbackURL,
		"AccountReference":  r.AccountReference,
		"TransactionDesc":   r.Description,
	}
	var out STKPushResponse
	if err := m.postJSON(ctx, "/mpesa/stkpush/v1/processrequest", payload, &out); err != nil {
		return nil, err
	}
	if out.ResponseCode != "0" || out.CheckoutRequestID == "" {
		return nil, fmt.Errorf("mpesa stk push rejected (%s): %w", out.ResponseDescription, model.ErrExternalGateway)
	}
	return &out, nil
}

// Payout B2C 打款到用户手机
func (m *MpesaClient) Payout(ctx context.Context, r *PayoutRequest) (*PayoutResponse, error) {
	if m.cfg.InitiatorName == "" || m.cfg.SecurityCredential == "" {
		return nil, fmt.Errorf("mpesa b2c initiator not set: %w", model.ErrConfiguration)
	}
	payload := map[string]interface{}{
		"InitiatorName":      m.cfg.InitiatorName,
		"SecurityCredential": m.cfg.SecurityCredential,
		"CommandID":          "BusinessPayment",
		"Amount":             r.Amount.Floor().IntPart(),
		"PartyA":             m.cfg.ShortCode,
		"PartyB":             r.Phone,
		"Remarks":            r.Remarks,
		"QueueTimeOutURL":    m.cfg.QueueTimeoutURL,
		"ResultURL":          m.cfg.ResultURL,
		"Occasion":           r.Occasion,
	}
	var out PayoutResponse
	if err := m.postJSON(ctx, "/mpesa/b2c/v1/paymentrequest", payload, &out); err != nil {
		return nil, err
	}
	if out.ResponseCode != "0" {
		return nil, fmt.Errorf("mpesa b2c rejected (%s): %w", out.ResponseDescription, model.ErrExternalGateway)
	}
	return &out, nil
}
