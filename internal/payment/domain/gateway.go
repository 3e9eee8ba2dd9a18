package domain

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Gateway is the payment provider capability set. Implementations map
// provider failures onto ErrGatewayRejected, ErrGatewayNotApproved,
// ErrScheduleResultMismatch and ErrMissingMerchantRef.
type Gateway interface {
	Provider() string
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Schedule(ctx context.Context, req ScheduleRequest) (*ScheduleResult, error)
	CancelSchedule(ctx context.Context, customerRef, merchantRef string) error
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	FetchPaymentDetail(ctx context.Context, transactionID string) (*PaymentDetail, error)
	FetchBillingCard(ctx context.Context, customerRef string) (*BillingCard, error)
}

type GatewayFactory interface {
	Provider() string
	NewGateway(cfg GatewayConfig, log *zap.Logger) (Gateway, error)
}

type GatewayConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
	RateLimit float64
	RateBurst int
	Now       func() time.Time
}

type ChargeRequest struct {
	CustomerRef string
	MerchantRef string
	DomainToken string
	Name        string
	Amount      int64
}

type ChargeResult struct {
	TransactionID string
	MerchantRef   string
	CustomerRef   string
	PaidAt        time.Time
	ReceiptURL    string
}

type ScheduleRequest struct {
	CustomerRef string
	MerchantRef string
	DomainToken string
	Name        string
	Amount      int64
	ScheduleAt  time.Time
}

type ScheduleResult struct {
	MerchantRef string
	CustomerRef string
	ScheduledAt time.Time
}

type RefundRequest struct {
	TransactionID string
	MerchantRef   string
	Amount        int64
	Reason        string
}

type RefundResult struct {
	Amount     int64
	RefundedAt time.Time
}

type PaymentDetail struct {
	TransactionID string
	MerchantRef   string
	CustomerRef   string
	Amount        int64
	PaidAt        time.Time
	ReceiptURL    string
	// Scheduled is set when the charge was executed from a registered schedule.
	Scheduled bool
}

func (d PaymentDetail) Settlement() Settlement {
	return Settlement{
		TransactionID: d.TransactionID,
		PaidAt:        d.PaidAt,
		ReceiptURL:    d.ReceiptURL,
	}
}

type BillingCard struct {
	CardName   string
	CardNumber string
}
