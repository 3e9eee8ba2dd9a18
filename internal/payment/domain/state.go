package domain

import (
	"fmt"
	"strings"
	"time"
)

func (s Seed) validate() error {
	if s.ID == 0 || strings.TrimSpace(s.PaymentID) == "" {
		return ErrInvalidPaymentID
	}
	if strings.TrimSpace(s.GatewayPaymentToken) == "" {
		return fmt.Errorf("%w: gateway payment token is required", ErrInvariantViolation)
	}
	if strings.TrimSpace(s.CustomerRef) == "" {
		return fmt.Errorf("%w: customer reference is required", ErrInvariantViolation)
	}
	if strings.TrimSpace(s.DomainToken) == "" {
		return ErrInvalidDomainToken
	}
	if strings.TrimSpace(s.PaymentName) == "" {
		return ErrInvalidPaymentName
	}
	if s.Amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (s Settlement) validate() error {
	if s.PaidAt.IsZero() {
		return fmt.Errorf("%w: settlement without paid_at", ErrInvariantViolation)
	}
	if strings.TrimSpace(s.ReceiptURL) == "" {
		return fmt.Errorf("%w: settlement without receipt_url", ErrInvariantViolation)
	}
	if strings.TrimSpace(s.TransactionID) == "" {
		return fmt.Errorf("%w: settlement without transaction id", ErrInvariantViolation)
	}
	return nil
}

func newPayment(seed Seed, status Status, now time.Time) *Payment {
	return &Payment{
		ID:                  seed.ID,
		PaymentID:           seed.PaymentID,
		Status:              status,
		GatewayPaymentToken: seed.GatewayPaymentToken,
		CustomerRef:         seed.CustomerRef,
		DomainToken:         seed.DomainToken,
		PaymentName:         seed.PaymentName,
		Amount:              seed.Amount,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// NewPaidPayment creates a payment that settled synchronously.
func NewPaidPayment(seed Seed, settlement Settlement, now time.Time) (*Payment, error) {
	if err := seed.validate(); err != nil {
		return nil, err
	}
	if err := settlement.validate(); err != nil {
		return nil, err
	}
	p := newPayment(seed, StatusPaid, now)
	p.applySettlement(settlement)
	return p, nil
}

// NewScheduledPayment creates a payment the gateway will charge at scheduledAt.
func NewScheduledPayment(seed Seed, scheduledAt time.Time, now time.Time) (*Payment, error) {
	if err := seed.validate(); err != nil {
		return nil, err
	}
	if scheduledAt.IsZero() {
		return nil, ErrInvalidScheduleTime
	}
	p := newPayment(seed, StatusScheduled, now)
	p.ScheduledAt = ptr(scheduledAt.UTC())
	return p, nil
}

// CompleteSchedule moves SCHEDULED_PAY to PAY.
func (p *Payment) CompleteSchedule(settlement Settlement, now time.Time) error {
	if p.Status != StatusScheduled || p.ScheduledAt == nil {
		return fmt.Errorf("%w: complete schedule from %s", ErrInvalidStateTransition, p.Status)
	}
	if err := settlement.validate(); err != nil {
		return err
	}
	p.Status = StatusPaid
	p.applySettlement(settlement)
	p.UpdatedAt = now
	return nil
}

// CheckRefundable validates a refund of amount without mutating the payment.
func (p *Payment) CheckRefundable(amount int64) error {
	if p.Status != StatusPaid {
		return fmt.Errorf("%w: refund from %s", ErrInvalidStateTransition, p.Status)
	}
	if p.PaidAt == nil || p.ReceiptURL == nil {
		return fmt.Errorf("%w: paid payment %s without paid_at or receipt_url", ErrInvariantViolation, p.PaymentID)
	}
	if amount <= 0 || amount > p.Amount {
		return ErrInvalidRefundAmount
	}
	return nil
}

// Refund moves PAY to REFUND.
func (p *Payment) Refund(outcome RefundOutcome, now time.Time) error {
	if err := p.CheckRefundable(outcome.Amount); err != nil {
		return err
	}
	reason := strings.TrimSpace(outcome.Reason)
	if reason == "" {
		return ErrInvalidReason
	}
	if outcome.At.IsZero() {
		return fmt.Errorf("%w: refund without timestamp", ErrInvariantViolation)
	}
	p.Status = StatusRefunded
	p.RefundAmount = ptr(outcome.Amount)
	p.RefundAt = ptr(outcome.At.UTC())
	p.RefundReason = ptr(reason)
	p.UpdatedAt = now
	return nil
}

// CancelSchedule moves SCHEDULED_PAY to FAIL.
func (p *Payment) CancelSchedule(reason string, now time.Time) error {
	if p.Status != StatusScheduled {
		return fmt.Errorf("%w: cancel schedule from %s", ErrInvalidStateTransition, p.Status)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = FailReasonScheduleCancelled
	}
	p.Status = StatusFailed
	p.FailReason = ptr(reason)
	p.UpdatedAt = now
	return nil
}

// RebindSchedule points a live schedule at the token it was re-submitted under.
func (p *Payment) RebindSchedule(gatewayPaymentToken string, now time.Time) error {
	if p.Status != StatusScheduled || p.ScheduledAt == nil {
		return fmt.Errorf("%w: rebind schedule from %s", ErrInvalidStateTransition, p.Status)
	}
	gatewayPaymentToken = strings.TrimSpace(gatewayPaymentToken)
	if gatewayPaymentToken == "" {
		return fmt.Errorf("%w: empty gateway payment token", ErrInvariantViolation)
	}
	p.GatewayPaymentToken = gatewayPaymentToken
	p.UpdatedAt = now
	return nil
}

// MarkCompletionNotified records that the completion event was queued.
func (p *Payment) MarkCompletionNotified(now time.Time) error {
	if p.Status != StatusPaid {
		return fmt.Errorf("%w: notify completion from %s", ErrInvalidStateTransition, p.Status)
	}
	if p.CompletionNotifiedAt != nil {
		return fmt.Errorf("%w: completion already notified", ErrInvalidStateTransition)
	}
	p.CompletionNotifiedAt = ptr(now)
	p.UpdatedAt = now
	return nil
}

func (p *Payment) applySettlement(s Settlement) {
	p.GatewayTransactionID = ptr(strings.TrimSpace(s.TransactionID))
	p.PaidAt = ptr(s.PaidAt.UTC())
	p.ReceiptURL = ptr(strings.TrimSpace(s.ReceiptURL))
}
