package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	billingrepo "github.com/smallbiznis/paymentsvc/internal/billing/repository"
	"github.com/smallbiznis/paymentsvc/internal/clock"
	"github.com/smallbiznis/paymentsvc/internal/lock"
	notificationdomain "github.com/smallbiznis/paymentsvc/internal/notification/domain"
	notificationrepo "github.com/smallbiznis/paymentsvc/internal/notification/repository"
	"github.com/smallbiznis/paymentsvc/internal/payment/adapters/sandbox"
	paymentdomain "github.com/smallbiznis/paymentsvc/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/paymentsvc/internal/payment/repository"
	paymentservice "github.com/smallbiznis/paymentsvc/internal/payment/service"
	"github.com/smallbiznis/paymentsvc/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	reconciler paymentdomain.Reconciler
	payments   paymentdomain.Service
	db         *gorm.DB
	clock      *clock.FakeClock
	gateway    *sandbox.Gateway
	repo       paymentdomain.Repository
	outbox     notificationdomain.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	gw := sandbox.New(clk.Now, zap.NewNop())
	locker := lock.NewLocalLocker(time.Second)
	repo := paymentrepo.Provide()
	outbox := notificationrepo.Provide()

	payments := paymentservice.NewService(paymentservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clk,
		Locker:      locker,
		Gateway:     gw,
		Repo:        repo,
		BillingRepo: billingrepo.Provide(),
	})
	reconciler := NewService(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clk,
		Locker:  locker,
		Gateway: gw,
		Repo:    repo,
		Outbox:  outbox,
	})

	return &fixture{
		reconciler: reconciler,
		payments:   payments,
		db:         db,
		clock:      clk,
		gateway:    gw,
		repo:       repo,
		outbox:     outbox,
	}
}

func (f *fixture) schedule(t *testing.T) *paymentdomain.Payment {
	t.Helper()
	ctx := context.Background()
	_, err := f.payments.IssueBillingToken(ctx, "user-1")
	require.NoError(t, err)
	view, err := f.payments.ScheduleCharge(ctx, paymentdomain.ScheduleChargeRequest{
		IdentityToken: "user-1",
		DomainToken:   "sub-1",
		PaymentName:   "Pro plan",
		Amount:        9900,
		ScheduleAt:    f.clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	return f.load(t, view.PaymentID)
}

func (f *fixture) load(t *testing.T, paymentID string) *paymentdomain.Payment {
	t.Helper()
	payment, err := f.repo.FindByPaymentID(context.Background(), f.db, paymentID)
	require.NoError(t, err)
	require.NotNil(t, payment)
	return payment
}

func (f *fixture) outboxCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM payment_outbox`).Scan(&count).Error)
	return count
}

func TestPaidEventCompletesScheduleAndNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scheduled := f.schedule(t)

	f.clock.Advance(time.Hour)
	txID, err := f.gateway.Settle(scheduled.GatewayPaymentToken)
	require.NoError(t, err)

	event := paymentdomain.GatewayEvent{
		Status:        paymentdomain.GatewayStatusPaid,
		TransactionID: txID,
		PaymentToken:  scheduled.GatewayPaymentToken,
	}
	view, err := f.reconciler.ApplyGatewayEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusPaid, view.Status)
	assert.Equal(t, txID, view.GatewayTransactionID)
	require.NotNil(t, view.PaidAt)
	assert.NotEmpty(t, view.ReceiptURL)

	stored := f.load(t, scheduled.PaymentID)
	assert.True(t, stored.CompletionNotified())

	msg, err := f.outbox.FindByAggregate(ctx, f.db, notificationdomain.EventPaymentCompleted, scheduled.PaymentID)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "sub-1", msg.PartitionKey)
	assert.JSONEq(t, `{"domainToken":"sub-1","paymentId":"`+scheduled.PaymentID+`"}`, string(msg.Payload))

	again, err := f.reconciler.ApplyGatewayEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusPaid, again.Status)
	assert.EqualValues(t, 1, f.outboxCount(t))
	assert.Equal(t, stored.Version, f.load(t, scheduled.PaymentID).Version)
}

func TestFailedEventAlwaysPaymentFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scheduled := f.schedule(t)

	for _, token := range []string{scheduled.GatewayPaymentToken, "order_unknown"} {
		_, err := f.reconciler.ApplyGatewayEvent(ctx, paymentdomain.GatewayEvent{
			Status:        "failed",
			TransactionID: "imps_x",
			PaymentToken:  token,
		})
		assert.ErrorIs(t, err, paymentdomain.ErrPaymentFailed)
	}
	assert.Equal(t, paymentdomain.StatusScheduled, f.load(t, scheduled.PaymentID).Status)
	assert.Zero(t, f.outboxCount(t))
}

func TestCancelledEventRequiresManualRefund(t *testing.T) {
	f := newFixture(t)
	_, err := f.reconciler.ApplyGatewayEvent(context.Background(), paymentdomain.GatewayEvent{
		Status:        "cancelled",
		TransactionID: "imps_x",
		PaymentToken:  "order_x",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrManualRefundRequired)
}

func TestUnknownStatusIsUnexpected(t *testing.T) {
	f := newFixture(t)
	_, err := f.reconciler.ApplyGatewayEvent(context.Background(), paymentdomain.GatewayEvent{
		Status:        "ready",
		TransactionID: "imps_x",
		PaymentToken:  "order_x",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrUnexpectedGatewayState)
	assert.True(t, paymentdomain.IsCritical(err))
}

func TestPaidEventUnknownTokenWritesNothing(t *testing.T) {
	f := newFixture(t)
	_, err := f.reconciler.ApplyGatewayEvent(context.Background(), paymentdomain.GatewayEvent{
		Status:        "paid",
		TransactionID: "imps_x",
		PaymentToken:  "order_unknown",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrNotFound)
	assert.Zero(t, f.outboxCount(t))
}

func TestPaidEventRequiresIdentifiers(t *testing.T) {
	f := newFixture(t)
	_, err := f.reconciler.ApplyGatewayEvent(context.Background(), paymentdomain.GatewayEvent{Status: "paid"})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidGatewayEvent)
}

func TestPaidEventForChargeNowNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.payments.IssueBillingToken(ctx, "user-1")
	require.NoError(t, err)
	charged, err := f.payments.ChargeNow(ctx, paymentdomain.ChargeNowRequest{
		IdentityToken: "user-1",
		DomainToken:   "sub-1",
		PaymentName:   "Pro plan",
		Amount:        500,
	})
	require.NoError(t, err)

	event := paymentdomain.GatewayEvent{
		Status:        "paid",
		TransactionID: charged.GatewayTransactionID,
		PaymentToken:  charged.GatewayPaymentToken,
	}
	for i := 0; i < 2; i++ {
		view, err := f.reconciler.ApplyGatewayEvent(ctx, event)
		require.NoError(t, err)
		assert.Equal(t, paymentdomain.StatusPaid, view.Status)
	}
	assert.EqualValues(t, 1, f.outboxCount(t))
	assert.True(t, f.load(t, charged.PaymentID).CompletionNotified())
}

func TestPaidEventMerchantRefMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.schedule(t)

	view, err := f.payments.ScheduleCharge(ctx, paymentdomain.ScheduleChargeRequest{
		IdentityToken: "user-1",
		DomainToken:   "sub-2",
		PaymentName:   "Addon",
		Amount:        100,
		ScheduleAt:    f.clock.Now().Add(2 * time.Hour),
	})
	require.NoError(t, err)
	otherTx, err := f.gateway.Settle(view.GatewayPaymentToken)
	require.NoError(t, err)

	_, err = f.reconciler.ApplyGatewayEvent(ctx, paymentdomain.GatewayEvent{
		Status:        "paid",
		TransactionID: otherTx,
		PaymentToken:  first.GatewayPaymentToken,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrUnexpectedGatewayState)
	assert.Equal(t, paymentdomain.StatusScheduled, f.load(t, first.PaymentID).Status)
	assert.Zero(t, f.outboxCount(t))
}

func TestPaidEventForClosedPaymentIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scheduled := f.schedule(t)
	_, err := f.payments.CancelSchedule(ctx, scheduled.PaymentID)
	require.NoError(t, err)

	view, err := f.reconciler.ApplyGatewayEvent(ctx, paymentdomain.GatewayEvent{
		Status:        "paid",
		TransactionID: "imps_late",
		PaymentToken:  scheduled.GatewayPaymentToken,
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusFailed, view.Status)
	assert.Zero(t, f.outboxCount(t))
}

func TestPaidEventGatewayDetailFailure(t *testing.T) {
	f := newFixture(t)
	scheduled := f.schedule(t)
	f.gateway.FailNext(sandbox.OpFetchDetail, paymentdomain.ErrGatewayNotApproved)

	_, err := f.reconciler.ApplyGatewayEvent(context.Background(), paymentdomain.GatewayEvent{
		Status:        "paid",
		TransactionID: "imps_x",
		PaymentToken:  scheduled.GatewayPaymentToken,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrGatewayNotApproved)
	assert.Equal(t, paymentdomain.StatusScheduled, f.load(t, scheduled.PaymentID).Status)
}
