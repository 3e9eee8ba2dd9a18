package domain

import (
	"context"
	"time"

	billingdomain "github.com/smallbiznis/paymentsvc/internal/billing/domain"
	"github.com/smallbiznis/paymentsvc/pkg/db/pagination"
)

// Service coordinates billing lookups, gateway calls and payment transitions.
type Service interface {
	ChargeNow(ctx context.Context, req ChargeNowRequest) (*PaymentView, error)
	ScheduleCharge(ctx context.Context, req ScheduleChargeRequest) (*PaymentView, error)
	Refund(ctx context.Context, req RefundCommand) (*PaymentView, error)
	CancelSchedule(ctx context.Context, paymentID string) (*PaymentView, error)
	GetPayment(ctx context.Context, paymentID string) (*PaymentView, error)
	ListPayments(ctx context.Context, req ListPaymentsRequest) (ListPaymentsResponse, error)

	IssueBillingToken(ctx context.Context, identityToken string) (*billingdomain.BillingToken, error)
	GetBilling(ctx context.Context, identityToken string) (*billingdomain.BillingView, error)
	UpdateCard(ctx context.Context, identityToken string) (*UpdateCardResult, error)
	UpdateContactPhone(ctx context.Context, identityToken, phone string) (*billingdomain.BillingView, error)
	UpdateContactEmail(ctx context.Context, identityToken, email string) (*billingdomain.BillingView, error)
}

// Reconciler applies gateway-reported outcomes to stored payments.
type Reconciler interface {
	ApplyGatewayEvent(ctx context.Context, event GatewayEvent) (*PaymentView, error)
}

type ChargeNowRequest struct {
	IdentityToken string `json:"identityToken"`
	DomainToken   string `json:"domainToken"`
	PaymentName   string `json:"paymentName"`
	Amount        int64  `json:"amount"`
}

type ScheduleChargeRequest struct {
	IdentityToken string    `json:"identityToken"`
	DomainToken   string    `json:"domainToken"`
	PaymentName   string    `json:"paymentName"`
	Amount        int64     `json:"amount"`
	ScheduleAt    time.Time `json:"scheduleAt"`
}

// RefundCommand addresses a payment by PaymentID, or by the latest PAY
// record of DomainToken when PaymentID is empty.
type RefundCommand struct {
	PaymentID    string `json:"paymentId"`
	DomainToken  string `json:"domainToken"`
	RefundAmount int64  `json:"refundAmount"`
	Reason       string `json:"reason"`
}

type ListPaymentsRequest struct {
	DomainToken string
	pagination.Pagination
}

type ListPaymentsResponse struct {
	Payments []PaymentView       `json:"payments"`
	PageInfo pagination.PageInfo `json:"pageInfo"`
}

type RebindOutcome string

const (
	RebindNone    RebindOutcome = "none"
	RebindRebound RebindOutcome = "rebound"
	RebindFailed  RebindOutcome = "failed"
)

type UpdateCardResult struct {
	Billing billingdomain.BillingView `json:"billing"`
	// Rebind reports what happened to an active schedule of this customer.
	Rebind    RebindOutcome `json:"rebind"`
	PaymentID string        `json:"paymentId,omitempty"`
}

const (
	GatewayStatusPaid      = "paid"
	GatewayStatusFailed    = "failed"
	GatewayStatusCancelled = "cancelled"
)

// GatewayEvent is a status notification pushed by the gateway.
type GatewayEvent struct {
	Status        string `json:"status"`
	TransactionID string `json:"imp_uid"`
	PaymentToken  string `json:"merchant_uid"`
}
