package iamport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/paymentsvc/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeIamport struct {
	t          *testing.T
	tokenCalls int32
	routes     map[string]func(body map[string]any) (int, any)
}

func (f *fakeIamport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path == "/users/getToken" {
		atomic.AddInt32(&f.tokenCalls, 1)
		writeEnvelope(w, 0, "", map[string]any{
			"access_token": "tok-1",
			"expired_at":   fixedNow.Add(30 * time.Minute).Unix(),
		})
		return
	}
	if r.Header.Get("Authorization") != "tok-1" {
		w.WriteHeader(http.StatusUnauthorized)
		writeEnvelope(w, -1, "unauthorized", nil)
		return
	}

	handler, ok := f.routes[r.Method+" "+r.URL.Path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		writeEnvelope(w, 1, "not found", nil)
		return
	}
	var body map[string]any
	if r.Body != nil && r.Method == http.MethodPost {
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
	}
	code, response := handler(body)
	writeEnvelope(w, code, "message", response)
}

func writeEnvelope(w http.ResponseWriter, code int, message string, response any) {
	_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "message": message, "response": response})
}

func newTestClient(t *testing.T, routes map[string]func(map[string]any) (int, any)) (*Client, *fakeIamport) {
	t.Helper()
	fake := &fakeIamport{t: t, routes: routes}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	gw, err := NewFactory().NewGateway(domain.GatewayConfig{
		BaseURL:   srv.URL,
		APIKey:    "key",
		APISecret: "secret",
		Timeout:   time.Second,
		Now:       func() time.Time { return fixedNow },
	}, zap.NewNop())
	require.NoError(t, err)
	return gw.(*Client), fake
}

func TestNewGatewayRequiresCredentials(t *testing.T) {
	_, err := NewFactory().NewGateway(domain.GatewayConfig{APIKey: "key"}, zap.NewNop())
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestChargeAndTokenCache(t *testing.T) {
	client, fake := newTestClient(t, map[string]func(map[string]any) (int, any){
		"POST /subscribe/payments/again": func(body map[string]any) (int, any) {
			assert.Equal(t, "cust1", body["customer_uid"])
			assert.Equal(t, "order_1", body["merchant_uid"])
			assert.JSONEq(t, `{"domainToken":"d1"}`, body["custom_data"].(string))
			return 0, map[string]any{
				"status":       "paid",
				"imp_uid":      "imp_1",
				"merchant_uid": "order_1",
				"customer_uid": "cust1",
				"amount":       1000,
				"paid_at":      fixedNow.Unix(),
				"receipt_url":  "https://receipt/1",
			}
		},
	})

	ctx := context.Background()
	req := domain.ChargeRequest{CustomerRef: "cust1", MerchantRef: "order_1", DomainToken: "d1", Name: "Plan", Amount: 1000}
	res, err := client.Charge(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "imp_1", res.TransactionID)
	assert.Equal(t, fixedNow, res.PaidAt)
	assert.Equal(t, "https://receipt/1", res.ReceiptURL)

	_, err = client.Charge(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fake.tokenCalls))
}

func TestChargeNotApproved(t *testing.T) {
	client, _ := newTestClient(t, map[string]func(map[string]any) (int, any){
		"POST /subscribe/payments/again": func(map[string]any) (int, any) {
			return 0, map[string]any{"status": "failed", "imp_uid": "imp_1"}
		},
	})
	_, err := client.Charge(context.Background(), domain.ChargeRequest{CustomerRef: "cust1", MerchantRef: "order_1"})
	assert.ErrorIs(t, err, domain.ErrGatewayNotApproved)
}

func TestChargeRejectedByCode(t *testing.T) {
	client, _ := newTestClient(t, map[string]func(map[string]any) (int, any){
		"POST /subscribe/payments/again": func(map[string]any) (int, any) {
			return 1, nil
		},
	})
	_, err := client.Charge(context.Background(), domain.ChargeRequest{CustomerRef: "cust1", MerchantRef: "order_1"})
	assert.ErrorIs(t, err, domain.ErrGatewayRejected)
}

func TestSchedule(t *testing.T) {
	scheduleAt := fixedNow.Add(48 * time.Hour)
	results := []any{map[string]any{
		"schedule_status": "scheduled",
		"customer_uid":    "cust1",
		"merchant_uid":    "order_2",
		"schedule_at":     scheduleAt.Unix(),
	}}
	client, _ := newTestClient(t, map[string]func(map[string]any) (int, any){
		"POST /subscribe/payments/schedule": func(body map[string]any) (int, any) {
			schedules := body["schedules"].([]any)
			if assert.Len(t, schedules, 1) {
				assert.EqualValues(t, scheduleAt.Unix(), schedules[0].(map[string]any)["schedule_at"])
			}
			return 0, results
		},
	})

	req := domain.ScheduleRequest{CustomerRef: "cust1", MerchantRef: "order_2", DomainToken: "d1", Name: "Plan", Amount: 1000, ScheduleAt: scheduleAt}
	res, err := client.Schedule(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, scheduleAt, res.ScheduledAt)
	assert.Equal(t, "order_2", res.MerchantRef)

	results = append(results, results[0])
	_, err = client.Schedule(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrScheduleResultMismatch)

	results = []any{map[string]any{"schedule_status": "failed"}}
	_, err = client.Schedule(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrGatewayNotApproved)
}

func TestCancelSchedule(t *testing.T) {
	status := "revoked"
	client, _ := newTestClient(t, map[string]func(map[string]any) (int, any){
		"POST /subscribe/payments/unschedule": func(body map[string]any) (int, any) {
			assert.Equal(t, "order_2", body["merchant_uid"])
			return 0, []any{map[string]any{"schedule_status": status}}
		},
	})

	ctx := context.Background()
	assert.ErrorIs(t, client.CancelSchedule(ctx, "cust1", ""), domain.ErrMissingMerchantRef)
	require.NoError(t, client.CancelSchedule(ctx, "cust1", "order_2"))

	status = "scheduled"
	assert.ErrorIs(t, client.CancelSchedule(ctx, "cust1", "order_2"), domain.ErrGatewayNotApproved)
}

func TestRefund(t *testing.T) {
	cancelled := int64(500)
	client, _ := newTestClient(t, map[string]func(map[string]any) (int, any){
		"POST /payments/cancel": func(body map[string]any) (int, any) {
			assert.Equal(t, "imp_1", body["imp_uid"])
			assert.Equal(t, "test", body["reason"])
			return 0, map[string]any{"status": "paid", "cancel_amount": cancelled, "cancelled_at": fixedNow.Unix()}
		},
	})

	req := domain.RefundRequest{TransactionID: "imp_1", MerchantRef: "order_1", Amount: 500, Reason: "test"}
	res, err := client.Refund(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(500), res.Amount)
	assert.Equal(t, fixedNow, res.RefundedAt)

	cancelled = 100
	_, err = client.Refund(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrGatewayNotApproved)
}

func TestFetchPaymentDetail(t *testing.T) {
	client, _ := newTestClient(t, map[string]func(map[string]any) (int, any){
		"GET /payments/imp_9": func(map[string]any) (int, any) {
			return 0, map[string]any{
				"status":             "paid",
				"imp_uid":            "imp_9",
				"merchant_uid":       "order_9",
				"customer_uid_usage": "payment.scheduled",
				"paid_at":            fixedNow.Unix(),
				"receipt_url":        "https://receipt/9",
			}
		},
		"GET /payments/imp_ready": func(map[string]any) (int, any) {
			return 0, map[string]any{"status": "ready", "imp_uid": "imp_ready"}
		},
	})

	detail, err := client.FetchPaymentDetail(context.Background(), "imp_9")
	require.NoError(t, err)
	assert.True(t, detail.Scheduled)
	assert.Equal(t, "order_9", detail.MerchantRef)
	assert.Equal(t, "https://receipt/9", detail.Settlement().ReceiptURL)

	_, err = client.FetchPaymentDetail(context.Background(), "imp_ready")
	assert.ErrorIs(t, err, domain.ErrGatewayNotApproved)

	_, err = client.FetchPaymentDetail(context.Background(), "imp_missing")
	assert.ErrorIs(t, err, domain.ErrGatewayRejected)
}

func TestFetchBillingCard(t *testing.T) {
	client, _ := newTestClient(t, map[string]func(map[string]any) (int, any){
		"GET /subscribe/customers/cust1": func(map[string]any) (int, any) {
			return 0, map[string]any{"card_name": "Shinhan", "card_number": "4111********1111"}
		},
	})

	card, err := client.FetchBillingCard(context.Background(), "cust1")
	require.NoError(t, err)
	assert.Equal(t, "Shinhan", card.CardName)
	assert.Equal(t, "4111********1111", card.CardNumber)
}

func TestRouteOfHidesIdentifiers(t *testing.T) {
	assert.Equal(t, "/payments/:id", routeOf("/payments/imp_1"))
	assert.Equal(t, "/payments/cancel", routeOf("/payments/cancel"))
	assert.Equal(t, "/subscribe/customers/:id", routeOf("/subscribe/customers/cust1"))
	assert.Equal(t, "/subscribe/payments/again", routeOf("/subscribe/payments/again"))
}
