package iamport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/paymentsvc/internal/payment/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.iamport.kr"

	statusPaid          = "paid"
	scheduleStatusSet   = "scheduled"
	scheduleStatusDone  = "revoked"
	usageScheduled      = "payment.scheduled"
	tokenRefreshLeadway = time.Minute
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "iamport"
}

func (f *Factory) NewGateway(cfg domain.GatewayConfig, log *zap.Logger) (domain.Gateway, error) {
	key := strings.TrimSpace(cfg.APIKey)
	secret := strings.TrimSpace(cfg.APISecret)
	if key == "" || secret == "" {
		return nil, domain.ErrInvalidConfig
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		baseURL: baseURL,
		key:     key,
		secret:  secret,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		now:     now,
		log:     log.Named("gateway.iamport"),
	}, nil
}

// Client talks to the iamport REST API. Access tokens are cached and shared
// across calls.
type Client struct {
	baseURL string
	key     string
	secret  string
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
	log     *zap.Logger

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

func (c *Client) Provider() string {
	return "iamport"
}

type envelope struct {
	Code     int             `json:"code"`
	Message  string          `json:"message"`
	Response json.RawMessage `json:"response"`
}

type tokenData struct {
	AccessToken string `json:"access_token"`
	ExpiredAt   int64  `json:"expired_at"`
}

type paymentData struct {
	Status           string `json:"status"`
	ImpUID           string `json:"imp_uid"`
	MerchantUID      string `json:"merchant_uid"`
	CustomerUID      string `json:"customer_uid"`
	CustomerUIDUsage string `json:"customer_uid_usage"`
	Name             string `json:"name"`
	Amount           int64  `json:"amount"`
	CancelAmount     int64  `json:"cancel_amount"`
	PaidAt           int64  `json:"paid_at"`
	CancelledAt      int64  `json:"cancelled_at"`
	ReceiptURL       string `json:"receipt_url"`
}

type scheduleData struct {
	ScheduleStatus string `json:"schedule_status"`
	CustomerUID    string `json:"customer_uid"`
	MerchantUID    string `json:"merchant_uid"`
	ScheduleAt     int64  `json:"schedule_at"`
}

type billingData struct {
	CardName   string `json:"card_name"`
	CardNumber string `json:"card_number"`
}

type customData struct {
	DomainToken string `json:"domainToken"`
}

func (c *Client) Charge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	custom, err := encodeCustomData(req.DomainToken)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"customer_uid": req.CustomerRef,
		"merchant_uid": req.MerchantRef,
		"name":         req.Name,
		"amount":       req.Amount,
		"custom_data":  custom,
	}

	var data paymentData
	if err := c.call(ctx, http.MethodPost, "/subscribe/payments/again", body, &data); err != nil {
		return nil, err
	}
	if data.Status != statusPaid {
		return nil, fmt.Errorf("%w: charge status %q", domain.ErrGatewayNotApproved, data.Status)
	}
	return &domain.ChargeResult{
		TransactionID: data.ImpUID,
		MerchantRef:   data.MerchantUID,
		CustomerRef:   data.CustomerUID,
		PaidAt:        fromUnix(data.PaidAt),
		ReceiptURL:    data.ReceiptURL,
	}, nil
}

func (c *Client) Schedule(ctx context.Context, req domain.ScheduleRequest) (*domain.ScheduleResult, error) {
	custom, err := encodeCustomData(req.DomainToken)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"customer_uid": req.CustomerRef,
		"schedules": []map[string]any{{
			"merchant_uid": req.MerchantRef,
			"name":         req.Name,
			"amount":       req.Amount,
			"schedule_at":  req.ScheduleAt.Unix(),
			"custom_data":  custom,
		}},
	}

	var data []scheduleData
	if err := c.call(ctx, http.MethodPost, "/subscribe/payments/schedule", body, &data); err != nil {
		return nil, err
	}
	if len(data) != 1 {
		return nil, fmt.Errorf("%w: %d schedules returned", domain.ErrScheduleResultMismatch, len(data))
	}
	if data[0].ScheduleStatus != scheduleStatusSet {
		return nil, fmt.Errorf("%w: schedule status %q", domain.ErrGatewayNotApproved, data[0].ScheduleStatus)
	}
	return &domain.ScheduleResult{
		MerchantRef: data[0].MerchantUID,
		CustomerRef: data[0].CustomerUID,
		ScheduledAt: fromUnix(data[0].ScheduleAt),
	}, nil
}

func (c *Client) CancelSchedule(ctx context.Context, customerRef, merchantRef string) error {
	if strings.TrimSpace(merchantRef) == "" {
		return domain.ErrMissingMerchantRef
	}
	body := map[string]any{
		"customer_uid": customerRef,
		"merchant_uid": merchantRef,
	}

	var data []scheduleData
	if err := c.call(ctx, http.MethodPost, "/subscribe/payments/unschedule", body, &data); err != nil {
		return err
	}
	if len(data) != 1 {
		return fmt.Errorf("%w: %d schedules revoked", domain.ErrScheduleResultMismatch, len(data))
	}
	if data[0].ScheduleStatus != scheduleStatusDone {
		return fmt.Errorf("%w: unschedule status %q", domain.ErrGatewayNotApproved, data[0].ScheduleStatus)
	}
	return nil
}

func (c *Client) Refund(ctx context.Context, req domain.RefundRequest) (*domain.RefundResult, error) {
	body := map[string]any{
		"imp_uid":      req.TransactionID,
		"merchant_uid": req.MerchantRef,
		"amount":       req.Amount,
		"reason":       req.Reason,
	}

	var data paymentData
	if err := c.call(ctx, http.MethodPost, "/payments/cancel", body, &data); err != nil {
		return nil, err
	}
	if data.CancelAmount < req.Amount {
		return nil, fmt.Errorf("%w: cancelled %d of %d", domain.ErrGatewayNotApproved, data.CancelAmount, req.Amount)
	}
	refundedAt := fromUnix(data.CancelledAt)
	if refundedAt.IsZero() {
		refundedAt = c.now()
	}
	return &domain.RefundResult{Amount: req.Amount, RefundedAt: refundedAt}, nil
}

func (c *Client) FetchPaymentDetail(ctx context.Context, transactionID string) (*domain.PaymentDetail, error) {
	if strings.TrimSpace(transactionID) == "" {
		return nil, fmt.Errorf("%w: empty transaction id", domain.ErrGatewayRejected)
	}

	var data paymentData
	if err := c.call(ctx, http.MethodGet, "/payments/"+url.PathEscape(transactionID), nil, &data); err != nil {
		return nil, err
	}
	if data.Status != statusPaid {
		return nil, fmt.Errorf("%w: payment status %q", domain.ErrGatewayNotApproved, data.Status)
	}
	return &domain.PaymentDetail{
		TransactionID: data.ImpUID,
		MerchantRef:   data.MerchantUID,
		CustomerRef:   data.CustomerUID,
		Amount:        data.Amount,
		PaidAt:        fromUnix(data.PaidAt),
		ReceiptURL:    data.ReceiptURL,
		Scheduled:     data.CustomerUIDUsage == usageScheduled,
	}, nil
}

func (c *Client) FetchBillingCard(ctx context.Context, customerRef string) (*domain.BillingCard, error) {
	var data billingData
	if err := c.call(ctx, http.MethodGet, "/subscribe/customers/"+url.PathEscape(customerRef), nil, &data); err != nil {
		return nil, err
	}
	return &domain.BillingCard{CardName: data.CardName, CardNumber: data.CardNumber}, nil
}

func (c *Client) call(ctx context.Context, method, path string, body any, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	return c.do(ctx, method, path, token, body, out)
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.now().Before(c.expiresAt.Add(-tokenRefreshLeadway)) {
		return c.accessToken, nil
	}

	var data tokenData
	body := map[string]string{"imp_key": c.key, "imp_secret": c.secret}
	if err := c.do(ctx, http.MethodPost, "/users/getToken", "", body, &data); err != nil {
		return "", fmt.Errorf("get token: %w", err)
	}
	if data.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", domain.ErrGatewayRejected)
	}
	c.accessToken = data.AccessToken
	c.expiresAt = fromUnix(data.ExpiredAt)
	return c.accessToken, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("iamport %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	c.log.Debug("iamport call",
		zap.String("method", method),
		zap.String("path", routeOf(path)),
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: http %d", domain.ErrGatewayRejected, resp.StatusCode)
	}
	if env.Code != 0 {
		return fmt.Errorf("%w: code %d: %s", domain.ErrGatewayRejected, env.Code, env.Message)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: http %d", domain.ErrGatewayRejected, resp.StatusCode)
	}
	if out == nil || len(env.Response) == 0 || string(env.Response) == "null" {
		return fmt.Errorf("%w: empty response", domain.ErrGatewayRejected)
	}
	if err := json.Unmarshal(env.Response, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrGatewayRejected, err)
	}
	return nil
}

func encodeCustomData(domainToken string) (string, error) {
	b, err := json.Marshal(customData{DomainToken: domainToken})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func fromUnix(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// routeOf drops path identifiers so customer and payment ids stay out of logs.
func routeOf(path string) string {
	for _, prefix := range []string{"/payments/", "/subscribe/customers/"} {
		if strings.HasPrefix(path, prefix) && path != "/payments/cancel" {
			return prefix + ":id"
		}
	}
	return path
}
