package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testSeed() Seed {
	return Seed{
		ID:                  101,
		PaymentID:           "pay-1",
		GatewayPaymentToken: "order_1",
		CustomerRef:         "cust1",
		DomainToken:         "d1",
		PaymentName:         "Plan",
		Amount:              1000,
	}
}

func testSettlement() Settlement {
	return Settlement{TransactionID: "imp_1", PaidAt: testNow, ReceiptURL: "https://receipt/1"}
}

func paidPayment(t *testing.T) *Payment {
	t.Helper()
	p, err := NewPaidPayment(testSeed(), testSettlement(), testNow)
	require.NoError(t, err)
	return p
}

func scheduledPayment(t *testing.T) *Payment {
	t.Helper()
	p, err := NewScheduledPayment(testSeed(), testNow.Add(24*time.Hour), testNow)
	require.NoError(t, err)
	return p
}

func refundedPayment(t *testing.T) *Payment {
	t.Helper()
	p := paidPayment(t)
	require.NoError(t, p.Refund(RefundOutcome{Amount: 500, At: testNow, Reason: "test"}, testNow))
	return p
}

func failedPayment(t *testing.T) *Payment {
	t.Helper()
	p := scheduledPayment(t)
	require.NoError(t, p.CancelSchedule("", testNow))
	return p
}

func assertPaidInvariant(t *testing.T, p *Payment) {
	t.Helper()
	if p.Status == StatusPaid {
		assert.NotNil(t, p.PaidAt)
		assert.NotNil(t, p.ReceiptURL)
	}
}

func TestNewPaidPayment(t *testing.T) {
	p := paidPayment(t)
	assert.Equal(t, StatusPaid, p.Status)
	assert.Equal(t, int64(1000), p.Amount)
	assert.Equal(t, testNow, *p.PaidAt)
	assert.Equal(t, "imp_1", *p.GatewayTransactionID)
	assert.Nil(t, p.ScheduledAt)
	assertPaidInvariant(t, p)

	_, err := NewPaidPayment(testSeed(), Settlement{TransactionID: "imp_1", PaidAt: testNow}, testNow)
	assert.ErrorIs(t, err, ErrInvariantViolation)

	seed := testSeed()
	seed.Amount = 0
	_, err = NewPaidPayment(seed, testSettlement(), testNow)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestNewScheduledPayment(t *testing.T) {
	p := scheduledPayment(t)
	assert.Equal(t, StatusScheduled, p.Status)
	require.NotNil(t, p.ScheduledAt)
	assert.Nil(t, p.PaidAt)

	_, err := NewScheduledPayment(testSeed(), time.Time{}, testNow)
	assert.ErrorIs(t, err, ErrInvalidScheduleTime)
}

func TestCompleteSchedule(t *testing.T) {
	p := scheduledPayment(t)
	later := testNow.Add(25 * time.Hour)
	require.NoError(t, p.CompleteSchedule(Settlement{TransactionID: "imp_9", PaidAt: later, ReceiptURL: "https://receipt/9"}, later))
	assert.Equal(t, StatusPaid, p.Status)
	assert.Equal(t, "imp_9", *p.GatewayTransactionID)
	assert.Equal(t, later, p.UpdatedAt)
	assertPaidInvariant(t, p)
}

func TestCompleteScheduleRejectsOtherStates(t *testing.T) {
	cases := map[string]func(*testing.T) *Payment{
		"paid":     paidPayment,
		"refunded": refundedPayment,
		"failed":   failedPayment,
	}
	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			p := build(t)
			before := *p
			err := p.CompleteSchedule(testSettlement(), testNow.Add(time.Hour))
			assert.ErrorIs(t, err, ErrInvalidStateTransition)
			assert.Equal(t, before, *p)
		})
	}
}

func TestCompleteScheduleRequiresScheduledAt(t *testing.T) {
	p := scheduledPayment(t)
	p.ScheduledAt = nil
	assert.ErrorIs(t, p.CompleteSchedule(testSettlement(), testNow), ErrInvalidStateTransition)
	assert.Equal(t, StatusScheduled, p.Status)
}

func TestCompleteScheduleWithIncompleteSettlement(t *testing.T) {
	p := scheduledPayment(t)
	before := *p
	err := p.CompleteSchedule(Settlement{TransactionID: "imp_1", PaidAt: testNow}, testNow)
	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.Equal(t, before, *p)
}

func TestRefund(t *testing.T) {
	p := paidPayment(t)
	require.NoError(t, p.Refund(RefundOutcome{Amount: 500, At: testNow, Reason: "test"}, testNow))
	assert.Equal(t, StatusRefunded, p.Status)
	assert.Equal(t, int64(500), *p.RefundAmount)
	assert.Equal(t, "test", *p.RefundReason)
	assert.NotNil(t, p.RefundAt)

	err := p.Refund(RefundOutcome{Amount: 500, At: testNow, Reason: "again"}, testNow)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestRefundRejectsNonPaid(t *testing.T) {
	cases := map[string]func(*testing.T) *Payment{
		"scheduled": scheduledPayment,
		"refunded":  refundedPayment,
		"failed":    failedPayment,
	}
	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			p := build(t)
			before := *p
			err := p.Refund(RefundOutcome{Amount: 100, At: testNow, Reason: "x"}, testNow)
			assert.ErrorIs(t, err, ErrInvalidStateTransition)
			assert.Equal(t, before, *p)
		})
	}
}

func TestRefundOnCorruptPaidRecord(t *testing.T) {
	p := paidPayment(t)
	p.ReceiptURL = nil
	err := p.Refund(RefundOutcome{Amount: 100, At: testNow, Reason: "x"}, testNow)
	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.True(t, IsCritical(err))
	assert.Equal(t, StatusPaid, p.Status)
}

func TestRefundValidatesAmountAndReason(t *testing.T) {
	p := paidPayment(t)
	assert.ErrorIs(t, p.CheckRefundable(0), ErrInvalidRefundAmount)
	assert.ErrorIs(t, p.CheckRefundable(1001), ErrInvalidRefundAmount)
	assert.NoError(t, p.CheckRefundable(1000))
	assert.ErrorIs(t, p.Refund(RefundOutcome{Amount: 10, At: testNow, Reason: " "}, testNow), ErrInvalidReason)
	assert.Equal(t, StatusPaid, p.Status)
}

func TestCancelSchedule(t *testing.T) {
	p := scheduledPayment(t)
	require.NoError(t, p.CancelSchedule("", testNow))
	assert.Equal(t, StatusFailed, p.Status)
	assert.Equal(t, FailReasonScheduleCancelled, *p.FailReason)

	assert.ErrorIs(t, paidPayment(t).CancelSchedule("x", testNow), ErrInvalidStateTransition)
}

func TestRebindSchedule(t *testing.T) {
	p := scheduledPayment(t)
	require.NoError(t, p.RebindSchedule("order_2", testNow))
	assert.Equal(t, "order_2", p.GatewayPaymentToken)
	assert.Equal(t, StatusScheduled, p.Status)

	assert.ErrorIs(t, paidPayment(t).RebindSchedule("order_3", testNow), ErrInvalidStateTransition)
	assert.ErrorIs(t, p.RebindSchedule(" ", testNow), ErrInvariantViolation)
}

func TestMarkCompletionNotified(t *testing.T) {
	p := paidPayment(t)
	assert.False(t, p.CompletionNotified())
	require.NoError(t, p.MarkCompletionNotified(testNow))
	assert.True(t, p.CompletionNotified())
	assert.ErrorIs(t, p.MarkCompletionNotified(testNow), ErrInvalidStateTransition)

	assert.ErrorIs(t, scheduledPayment(t).MarkCompletionNotified(testNow), ErrInvalidStateTransition)
}

func TestStateVariants(t *testing.T) {
	st, err := scheduledPayment(t).State()
	require.NoError(t, err)
	assert.IsType(t, ScheduledState{}, st)

	st, err = paidPayment(t).State()
	require.NoError(t, err)
	paid, ok := st.(PaidState)
	require.True(t, ok)
	assert.Equal(t, "https://receipt/1", paid.ReceiptURL)

	st, err = refundedPayment(t).State()
	require.NoError(t, err)
	refunded, ok := st.(RefundedState)
	require.True(t, ok)
	assert.Equal(t, int64(500), refunded.RefundAmount)

	st, err = failedPayment(t).State()
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st.Status())

	broken := paidPayment(t)
	broken.PaidAt = nil
	_, err = broken.State()
	assert.ErrorIs(t, err, ErrInvariantViolation)
}
