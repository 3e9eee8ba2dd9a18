package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusScheduled Status = "SCHEDULED_PAY"
	StatusPaid      Status = "PAY"
	StatusFailed    Status = "FAIL"
	StatusRefunded  Status = "REFUND"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusPaid, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusRefunded
}

const FailReasonScheduleCancelled = "schedule_cancelled"

// Payment is one charge attempt or schedule. Fields are only mutated through
// the transition methods in state.go.
type Payment struct {
	ID                   snowflake.ID `gorm:"primaryKey" json:"id"`
	PaymentID            string       `gorm:"column:payment_id" json:"payment_id"`
	Status               Status       `gorm:"column:status" json:"status"`
	GatewayPaymentToken  string       `gorm:"column:gateway_payment_token" json:"gateway_payment_token"`
	GatewayTransactionID *string      `gorm:"column:gateway_transaction_id" json:"gateway_transaction_id,omitempty"`
	CustomerRef          string       `gorm:"column:customer_ref" json:"customer_ref"`
	DomainToken          string       `gorm:"column:domain_token" json:"domain_token"`
	PaymentName          string       `gorm:"column:payment_name" json:"payment_name"`
	Amount               int64        `gorm:"column:amount" json:"amount"`
	PaidAt               *time.Time   `gorm:"column:paid_at" json:"paid_at,omitempty"`
	ScheduledAt          *time.Time   `gorm:"column:scheduled_at" json:"scheduled_at,omitempty"`
	RefundAt             *time.Time   `gorm:"column:refund_at" json:"refund_at,omitempty"`
	RefundAmount         *int64       `gorm:"column:refund_amount" json:"refund_amount,omitempty"`
	RefundReason         *string      `gorm:"column:refund_reason" json:"refund_reason,omitempty"`
	ReceiptURL           *string      `gorm:"column:receipt_url" json:"receipt_url,omitempty"`
	FailReason           *string      `gorm:"column:fail_reason" json:"fail_reason,omitempty"`
	CompletionNotifiedAt *time.Time   `gorm:"column:completion_notified_at" json:"completion_notified_at,omitempty"`
	Version              int64        `gorm:"column:version" json:"-"`
	CreatedAt            time.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt            time.Time    `gorm:"column:updated_at" json:"updated_at"`
}

// Seed carries the immutable attributes every payment is created with.
type Seed struct {
	ID                  snowflake.ID
	PaymentID           string
	GatewayPaymentToken string
	CustomerRef         string
	DomainToken         string
	PaymentName         string
	Amount              int64
}

// Settlement is the gateway evidence that money actually moved.
type Settlement struct {
	TransactionID string
	PaidAt        time.Time
	ReceiptURL    string
}

type RefundOutcome struct {
	Amount int64
	At     time.Time
	Reason string
}

// PaymentView is the externally visible shape of a payment.
type PaymentView struct {
	PaymentID            string     `json:"paymentId"`
	Status               Status     `json:"status"`
	DomainToken          string     `json:"domainToken"`
	PaymentName          string     `json:"paymentName"`
	Amount               int64      `json:"amount"`
	CustomerRef          string     `json:"customerRef"`
	GatewayPaymentToken  string     `json:"gatewayPaymentToken"`
	GatewayTransactionID string     `json:"gatewayTransactionId,omitempty"`
	PaidAt               *time.Time `json:"paidAt,omitempty"`
	ScheduledAt          *time.Time `json:"scheduledAt,omitempty"`
	ReceiptURL           string     `json:"receiptUrl,omitempty"`
	RefundAt             *time.Time `json:"refundAt,omitempty"`
	RefundAmount         *int64     `json:"refundAmount,omitempty"`
	RefundReason         string     `json:"refundReason,omitempty"`
	FailReason           string     `json:"failReason,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

func (p *Payment) View() PaymentView {
	return PaymentView{
		PaymentID:            p.PaymentID,
		Status:               p.Status,
		DomainToken:          p.DomainToken,
		PaymentName:          p.PaymentName,
		Amount:               p.Amount,
		CustomerRef:          p.CustomerRef,
		GatewayPaymentToken:  p.GatewayPaymentToken,
		GatewayTransactionID: deref(p.GatewayTransactionID),
		PaidAt:               p.PaidAt,
		ScheduledAt:          p.ScheduledAt,
		ReceiptURL:           deref(p.ReceiptURL),
		RefundAt:             p.RefundAt,
		RefundAmount:         p.RefundAmount,
		RefundReason:         deref(p.RefundReason),
		FailReason:           deref(p.FailReason),
		CreatedAt:            p.CreatedAt,
		UpdatedAt:            p.UpdatedAt,
	}
}

func (p *Payment) CompletionNotified() bool {
	return p.CompletionNotifiedAt != nil
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func ptr[T any](v T) *T {
	return &v
}
