package domain

import (
	"fmt"
	"time"
)

// State is the status-specific projection of a Payment. Each variant only
// exposes the fields that are meaningful for its status.
type State interface {
	Status() Status
}

type ScheduledState struct {
	ScheduledAt time.Time
}

type PaidState struct {
	TransactionID string
	PaidAt        time.Time
	ReceiptURL    string
}

type RefundedState struct {
	Paid         PaidState
	RefundAt     time.Time
	RefundAmount int64
	RefundReason string
}

type FailedState struct {
	Reason string
}

func (ScheduledState) Status() Status { return StatusScheduled }
func (PaidState) Status() Status      { return StatusPaid }
func (RefundedState) Status() Status  { return StatusRefunded }
func (FailedState) Status() Status    { return StatusFailed }

// State returns the variant for the current status, or ErrInvariantViolation
// when a field required by that status is missing.
func (p *Payment) State() (State, error) {
	switch p.Status {
	case StatusScheduled:
		if p.ScheduledAt == nil {
			return nil, p.missing("scheduled_at")
		}
		return ScheduledState{ScheduledAt: *p.ScheduledAt}, nil
	case StatusPaid:
		return p.paidState()
	case StatusRefunded:
		paid, err := p.paidState()
		if err != nil {
			return nil, err
		}
		if p.RefundAt == nil || p.RefundAmount == nil || p.RefundReason == nil {
			return nil, p.missing("refund fields")
		}
		return RefundedState{
			Paid:         paid,
			RefundAt:     *p.RefundAt,
			RefundAmount: *p.RefundAmount,
			RefundReason: *p.RefundReason,
		}, nil
	case StatusFailed:
		return FailedState{Reason: deref(p.FailReason)}, nil
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvariantViolation, p.Status)
	}
}

func (p *Payment) paidState() (PaidState, error) {
	if p.PaidAt == nil || p.ReceiptURL == nil {
		return PaidState{}, p.missing("paid_at or receipt_url")
	}
	return PaidState{
		TransactionID: deref(p.GatewayTransactionID),
		PaidAt:        *p.PaidAt,
		ReceiptURL:    *p.ReceiptURL,
	}, nil
}

func (p *Payment) missing(field string) error {
	return fmt.Errorf("%w: payment %s in %s missing %s", ErrInvariantViolation, p.PaymentID, p.Status, field)
}
