package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	billingdomain "github.com/smallbiznis/paymentsvc/internal/billing/domain"
	"github.com/smallbiznis/paymentsvc/internal/clock"
	"github.com/smallbiznis/paymentsvc/internal/lock"
	"github.com/smallbiznis/paymentsvc/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paymentsvc/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/paymentsvc/internal/payment/domain"
	"github.com/smallbiznis/paymentsvc/pkg/db"
	"github.com/smallbiznis/paymentsvc/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const failReasonRebind = "schedule_rebind_failed"

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Locker      lock.Locker
	Gateway     paymentdomain.Gateway
	Repo        paymentdomain.Repository
	BillingRepo billingdomain.Repository
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	locker      lock.Locker
	gateway     paymentdomain.Gateway
	repo        paymentdomain.Repository
	billingRepo billingdomain.Repository
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		locker:      p.Locker,
		gateway:     p.Gateway,
		repo:        p.Repo,
		billingRepo: p.BillingRepo,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Service) ChargeNow(ctx context.Context, req paymentdomain.ChargeNowRequest) (*paymentdomain.PaymentView, error) {
	identity, err := normalizeIdentity(req.IdentityToken)
	if err != nil {
		return nil, err
	}
	if err := validateCharge(req.DomainToken, req.PaymentName, req.Amount); err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, lock.BillingKey(identity))
	if err != nil {
		return nil, err
	}
	defer release()

	billing, err := s.loadBilling(ctx, identity)
	if err != nil {
		return nil, err
	}

	merchantRef := newOrderToken()
	result, err := s.gateway.Charge(ctx, paymentdomain.ChargeRequest{
		CustomerRef: billing.CustomerRef,
		MerchantRef: merchantRef,
		DomainToken: strings.TrimSpace(req.DomainToken),
		Name:        strings.TrimSpace(req.PaymentName),
		Amount:      req.Amount,
	})
	if err != nil {
		s.logGatewayFailure(ctx, "charge", err)
		return nil, err
	}

	now := s.clock.Now()
	payment, err := paymentdomain.NewPaidPayment(paymentdomain.Seed{
		ID:                  s.genID.Generate(),
		PaymentID:           uuid.NewString(),
		GatewayPaymentToken: merchantRef,
		CustomerRef:         billing.CustomerRef,
		DomainToken:         strings.TrimSpace(req.DomainToken),
		PaymentName:         strings.TrimSpace(req.PaymentName),
		Amount:              req.Amount,
	}, paymentdomain.Settlement{
		TransactionID: result.TransactionID,
		PaidAt:        result.PaidAt,
		ReceiptURL:    result.ReceiptURL,
	}, now)
	if err != nil {
		s.logCritical(ctx, "charge_settlement_incomplete", err,
			zap.String("merchant_ref", merchantRef),
			zap.String("transaction_id", result.TransactionID),
		)
		return nil, err
	}

	if err := s.repo.Insert(ctx, s.db, payment); err != nil {
		s.logCritical(ctx, "charge_not_persisted", err,
			zap.String("payment_id", payment.PaymentID),
			zap.String("transaction_id", result.TransactionID),
		)
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordCharge(ctx, s.gateway.Provider())
	}
	view := payment.View()
	return &view, nil
}

func (s *Service) ScheduleCharge(ctx context.Context, req paymentdomain.ScheduleChargeRequest) (*paymentdomain.PaymentView, error) {
	identity, err := normalizeIdentity(req.IdentityToken)
	if err != nil {
		return nil, err
	}
	if err := validateCharge(req.DomainToken, req.PaymentName, req.Amount); err != nil {
		return nil, err
	}
	if req.ScheduleAt.IsZero() || !req.ScheduleAt.After(s.clock.Now()) {
		return nil, paymentdomain.ErrInvalidScheduleTime
	}

	release, err := s.acquire(ctx, lock.BillingKey(identity))
	if err != nil {
		return nil, err
	}
	defer release()

	billing, err := s.loadBilling(ctx, identity)
	if err != nil {
		return nil, err
	}

	merchantRef := newOrderToken()
	result, err := s.gateway.Schedule(ctx, paymentdomain.ScheduleRequest{
		CustomerRef: billing.CustomerRef,
		MerchantRef: merchantRef,
		DomainToken: strings.TrimSpace(req.DomainToken),
		Name:        strings.TrimSpace(req.PaymentName),
		Amount:      req.Amount,
		ScheduleAt:  req.ScheduleAt.UTC(),
	})
	if err != nil {
		s.logGatewayFailure(ctx, "schedule", err)
		return nil, err
	}
	scheduledAt := result.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = req.ScheduleAt.UTC()
	}

	payment, err := paymentdomain.NewScheduledPayment(paymentdomain.Seed{
		ID:                  s.genID.Generate(),
		PaymentID:           uuid.NewString(),
		GatewayPaymentToken: merchantRef,
		CustomerRef:         billing.CustomerRef,
		DomainToken:         strings.TrimSpace(req.DomainToken),
		PaymentName:         strings.TrimSpace(req.PaymentName),
		Amount:              req.Amount,
	}, scheduledAt, s.clock.Now())
	if err != nil {
		return nil, err
	}

	if err := s.repo.Insert(ctx, s.db, payment); err != nil {
		s.logCritical(ctx, "schedule_not_persisted", err, zap.String("merchant_ref", merchantRef))
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordSchedule(ctx, s.gateway.Provider())
	}
	view := payment.View()
	return &view, nil
}

func (s *Service) Refund(ctx context.Context, req paymentdomain.RefundCommand) (*paymentdomain.PaymentView, error) {
	if req.RefundAmount <= 0 {
		return nil, paymentdomain.ErrInvalidRefundAmount
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, paymentdomain.ErrInvalidReason
	}

	target, err := s.resolveRefundTarget(ctx, req)
	if err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, lock.PaymentKey(target.PaymentID))
	if err != nil {
		return nil, err
	}
	defer release()

	payment, err := s.loadPayment(ctx, target.PaymentID)
	if err != nil {
		return nil, err
	}
	if err := payment.CheckRefundable(req.RefundAmount); err != nil {
		if paymentdomain.IsCritical(err) {
			s.logCritical(ctx, "refund_on_corrupt_payment", err, zap.String("payment_id", payment.PaymentID))
		}
		return nil, err
	}

	var transactionID string
	if payment.GatewayTransactionID != nil {
		transactionID = *payment.GatewayTransactionID
	}
	result, err := s.gateway.Refund(ctx, paymentdomain.RefundRequest{
		TransactionID: transactionID,
		MerchantRef:   payment.GatewayPaymentToken,
		Amount:        req.RefundAmount,
		Reason:        reason,
	})
	if err != nil {
		s.logGatewayFailure(ctx, "refund", err)
		return nil, err
	}

	now := s.clock.Now()
	if err := payment.Refund(paymentdomain.RefundOutcome{
		Amount: result.Amount,
		At:     result.RefundedAt,
		Reason: reason,
	}, now); err != nil {
		s.logCritical(ctx, "refund_not_applied", err, zap.String("payment_id", payment.PaymentID))
		return nil, err
	}
	if err := s.repo.Update(ctx, s.db, payment); err != nil {
		s.logCritical(ctx, "refund_not_persisted", err, zap.String("payment_id", payment.PaymentID))
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordRefund(ctx, s.gateway.Provider())
	}
	view := payment.View()
	return &view, nil
}

func (s *Service) resolveRefundTarget(ctx context.Context, req paymentdomain.RefundCommand) (*paymentdomain.Payment, error) {
	var (
		payment *paymentdomain.Payment
		err     error
	)
	switch {
	case strings.TrimSpace(req.PaymentID) != "":
		payment, err = s.repo.FindByPaymentID(ctx, s.db, req.PaymentID)
	case strings.TrimSpace(req.DomainToken) != "":
		payment, err = s.repo.FindRefundTargetByDomainToken(ctx, s.db, req.DomainToken)
	default:
		return nil, paymentdomain.ErrInvalidPaymentID
	}
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrNotFound
	}
	return payment, nil
}

func (s *Service) CancelSchedule(ctx context.Context, paymentID string) (*paymentdomain.PaymentView, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, paymentdomain.ErrInvalidPaymentID
	}

	release, err := s.acquire(ctx, lock.PaymentKey(paymentID))
	if err != nil {
		return nil, err
	}
	defer release()

	payment, err := s.loadPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != paymentdomain.StatusScheduled {
		return nil, fmt.Errorf("%w: cancel schedule from %s", paymentdomain.ErrInvalidStateTransition, payment.Status)
	}

	if err := s.gateway.CancelSchedule(ctx, payment.CustomerRef, payment.GatewayPaymentToken); err != nil {
		s.logGatewayFailure(ctx, "cancel_schedule", err)
		return nil, err
	}
	if err := payment.CancelSchedule(paymentdomain.FailReasonScheduleCancelled, s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, s.db, payment); err != nil {
		s.logCritical(ctx, "cancel_schedule_not_persisted", err, zap.String("payment_id", payment.PaymentID))
		return nil, err
	}

	view := payment.View()
	return &view, nil
}

func (s *Service) GetPayment(ctx context.Context, paymentID string) (*paymentdomain.PaymentView, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, paymentdomain.ErrInvalidPaymentID
	}
	payment, err := s.loadPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	view := payment.View()
	return &view, nil
}

func (s *Service) ListPayments(ctx context.Context, req paymentdomain.ListPaymentsRequest) (paymentdomain.ListPaymentsResponse, error) {
	domainToken := strings.TrimSpace(req.DomainToken)
	if domainToken == "" {
		return paymentdomain.ListPaymentsResponse{}, paymentdomain.ErrInvalidDomainToken
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return paymentdomain.ListPaymentsResponse{}, err
	}

	limit := req.Limit()
	items, err := s.repo.ListByDomainToken(ctx, s.db, domainToken, cursor, limit+1)
	if err != nil {
		return paymentdomain.ListPaymentsResponse{}, err
	}
	items, pageInfo, err := pagination.Trim(items, limit, func(p *paymentdomain.Payment) pagination.Cursor {
		return pagination.Cursor{ID: int64(p.ID), CreatedAt: p.CreatedAt}
	})
	if err != nil {
		return paymentdomain.ListPaymentsResponse{}, err
	}

	views := make([]paymentdomain.PaymentView, 0, len(items))
	for _, item := range items {
		views = append(views, item.View())
	}
	return paymentdomain.ListPaymentsResponse{Payments: views, PageInfo: pageInfo}, nil
}

func (s *Service) IssueBillingToken(ctx context.Context, identityToken string) (*billingdomain.BillingToken, error) {
	identity, err := normalizeIdentity(identityToken)
	if err != nil {
		return nil, err
	}

	billing, err := s.billingRepo.FindByIdentityToken(ctx, s.db, identity)
	if err != nil {
		return nil, err
	}
	if billing == nil {
		billing, err = s.createBilling(ctx, identity)
		if err != nil {
			return nil, err
		}
	}

	return &billingdomain.BillingToken{
		CustomerRef:  billing.CustomerRef,
		PaymentToken: newOrderToken(),
	}, nil
}

// createBilling inserts a fresh record. A concurrent first request for the
// same identity surfaces as a duplicate key and resolves to the stored row.
func (s *Service) createBilling(ctx context.Context, identity string) (*billingdomain.Billing, error) {
	billing, err := billingdomain.NewBilling(s.genID.Generate(), identity, newCustomerRef(), s.clock.Now())
	if err != nil {
		return nil, err
	}
	err = s.billingRepo.Insert(ctx, s.db, billing)
	if err == nil {
		logger.WithContext(ctx, s.log).Info("billing created", zap.String("customer_ref", billing.CustomerRef))
		return billing, nil
	}
	if !db.IsDuplicateKeyErr(err) {
		return nil, err
	}

	existing, findErr := s.billingRepo.FindByIdentityToken(ctx, s.db, identity)
	if findErr != nil {
		return nil, findErr
	}
	if existing == nil {
		return nil, err
	}
	return existing, nil
}

func (s *Service) GetBilling(ctx context.Context, identityToken string) (*billingdomain.BillingView, error) {
	identity, err := normalizeIdentity(identityToken)
	if err != nil {
		return nil, err
	}
	billing, err := s.loadBilling(ctx, identity)
	if err != nil {
		return nil, err
	}
	view := billing.View()
	return &view, nil
}

func (s *Service) UpdateCard(ctx context.Context, identityToken string) (*paymentdomain.UpdateCardResult, error) {
	identity, err := normalizeIdentity(identityToken)
	if err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, lock.BillingKey(identity))
	if err != nil {
		return nil, err
	}
	defer release()

	billing, err := s.loadBilling(ctx, identity)
	if err != nil {
		return nil, err
	}

	card, err := s.gateway.FetchBillingCard(ctx, billing.CustomerRef)
	if err != nil {
		s.logGatewayFailure(ctx, "fetch_billing_card", err)
		return nil, err
	}
	if err := billing.ChangeCard(card.CardName, card.CardNumber, s.clock.Now()); err != nil {
		return nil, fmt.Errorf("%w: no card registered for customer", paymentdomain.ErrGatewayNotApproved)
	}
	if err := s.billingRepo.Update(ctx, s.db, billing); err != nil {
		return nil, err
	}

	outcome, paymentID := s.rebindSchedule(ctx, billing)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordScheduleRebind(ctx, string(outcome))
	}

	return &paymentdomain.UpdateCardResult{
		Billing:   billing.View(),
		Rebind:    outcome,
		PaymentID: paymentID,
	}, nil
}

// rebindSchedule re-submits the customer's active schedule under the card
// that was just stored. Failures are logged and reported in the outcome; the
// card update stays persisted either way.
func (s *Service) rebindSchedule(ctx context.Context, billing *billingdomain.Billing) (paymentdomain.RebindOutcome, string) {
	log := logger.WithContext(ctx, s.log)

	active, err := s.repo.FindActiveScheduleByCustomerRef(ctx, s.db, billing.CustomerRef)
	if err != nil {
		log.Error("lookup active schedule failed", zap.Error(err))
		return paymentdomain.RebindFailed, ""
	}
	if active == nil {
		return paymentdomain.RebindNone, ""
	}

	release, err := s.acquire(ctx, lock.PaymentKey(active.PaymentID))
	if err != nil {
		log.Warn("schedule rebind skipped", zap.String("payment_id", active.PaymentID), zap.Error(err))
		return paymentdomain.RebindFailed, active.PaymentID
	}
	defer release()

	payment, err := s.repo.FindByPaymentID(ctx, s.db, active.PaymentID)
	if err != nil || payment == nil {
		log.Error("reload schedule failed", zap.String("payment_id", active.PaymentID), zap.Error(err))
		return paymentdomain.RebindFailed, active.PaymentID
	}
	if payment.Status != paymentdomain.StatusScheduled || payment.ScheduledAt == nil {
		return paymentdomain.RebindNone, ""
	}

	if err := s.gateway.CancelSchedule(ctx, payment.CustomerRef, payment.GatewayPaymentToken); err != nil {
		s.logCritical(ctx, "schedule_rebind_cancel_failed", err, zap.String("payment_id", payment.PaymentID))
		return paymentdomain.RebindFailed, payment.PaymentID
	}

	newToken := newOrderToken()
	_, err = s.gateway.Schedule(ctx, paymentdomain.ScheduleRequest{
		CustomerRef: payment.CustomerRef,
		MerchantRef: newToken,
		DomainToken: payment.DomainToken,
		Name:        payment.PaymentName,
		Amount:      payment.Amount,
		ScheduleAt:  *payment.ScheduledAt,
	})
	now := s.clock.Now()
	if err != nil {
		// the old schedule is gone at the gateway, so the record can no longer settle
		s.logCritical(ctx, "schedule_rebind_resubmit_failed", err, zap.String("payment_id", payment.PaymentID))
		if cancelErr := payment.CancelSchedule(failReasonRebind, now); cancelErr == nil {
			if updateErr := s.repo.Update(ctx, s.db, payment); updateErr != nil {
				s.logCritical(ctx, "schedule_rebind_not_persisted", updateErr, zap.String("payment_id", payment.PaymentID))
			}
		}
		return paymentdomain.RebindFailed, payment.PaymentID
	}

	if err := payment.RebindSchedule(newToken, now); err != nil {
		s.logCritical(ctx, "schedule_rebind_not_applied", err, zap.String("payment_id", payment.PaymentID))
		return paymentdomain.RebindFailed, payment.PaymentID
	}
	if err := s.repo.Update(ctx, s.db, payment); err != nil {
		s.logCritical(ctx, "schedule_rebind_not_persisted", err,
			zap.String("payment_id", payment.PaymentID),
			zap.String("merchant_ref", newToken),
		)
		return paymentdomain.RebindFailed, payment.PaymentID
	}

	log.Info("schedule rebound to new card", zap.String("payment_id", payment.PaymentID))
	return paymentdomain.RebindRebound, payment.PaymentID
}

func (s *Service) UpdateContactPhone(ctx context.Context, identityToken, phone string) (*billingdomain.BillingView, error) {
	return s.updateContact(ctx, identityToken, func(b *billingdomain.Billing, now time.Time) error {
		return b.ChangePhone(phone, now)
	})
}

func (s *Service) UpdateContactEmail(ctx context.Context, identityToken, email string) (*billingdomain.BillingView, error) {
	return s.updateContact(ctx, identityToken, func(b *billingdomain.Billing, now time.Time) error {
		return b.ChangeEmail(email, now)
	})
}

func (s *Service) updateContact(ctx context.Context, identityToken string, mutate func(*billingdomain.Billing, time.Time) error) (*billingdomain.BillingView, error) {
	identity, err := normalizeIdentity(identityToken)
	if err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, lock.BillingKey(identity))
	if err != nil {
		return nil, err
	}
	defer release()

	billing, err := s.loadBilling(ctx, identity)
	if err != nil {
		return nil, err
	}
	if err := mutate(billing, s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.billingRepo.Update(ctx, s.db, billing); err != nil {
		return nil, err
	}
	view := billing.View()
	return &view, nil
}

func (s *Service) acquire(ctx context.Context, key string) (func(), error) {
	release, err := s.locker.Acquire(ctx, key)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, fmt.Errorf("%w: %v", paymentdomain.ErrConflict, err)
		}
		return nil, err
	}
	return release, nil
}

func (s *Service) loadBilling(ctx context.Context, identity string) (*billingdomain.Billing, error) {
	billing, err := s.billingRepo.FindByIdentityToken(ctx, s.db, identity)
	if err != nil {
		return nil, err
	}
	if billing == nil {
		return nil, billingdomain.ErrNotFound
	}
	return billing, nil
}

func (s *Service) loadPayment(ctx context.Context, paymentID string) (*paymentdomain.Payment, error) {
	payment, err := s.repo.FindByPaymentID(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrNotFound
	}
	return payment, nil
}

func (s *Service) logGatewayFailure(ctx context.Context, op string, err error) {
	logger.WithContext(ctx, s.log).Warn("gateway call failed",
		zap.String("operation", op),
		zap.String("provider", s.gateway.Provider()),
		zap.Error(err),
	)
}

func (s *Service) logCritical(ctx context.Context, reason string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Bool("critical", true), zap.String("reason", reason), zap.Error(err))
	logger.WithContext(ctx, s.log).Error("payment inconsistency", fields...)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordCriticalError(ctx, reason)
	}
}

func normalizeIdentity(identityToken string) (string, error) {
	identity := strings.TrimSpace(identityToken)
	if identity == "" {
		return "", billingdomain.ErrInvalidIdentity
	}
	return identity, nil
}

func validateCharge(domainToken, paymentName string, amount int64) error {
	if strings.TrimSpace(domainToken) == "" {
		return paymentdomain.ErrInvalidDomainToken
	}
	if strings.TrimSpace(paymentName) == "" {
		return paymentdomain.ErrInvalidPaymentName
	}
	if amount <= 0 {
		return paymentdomain.ErrInvalidAmount
	}
	return nil
}

func newOrderToken() string {
	return "order_" + ulid.Make().String()
}

func newCustomerRef() string {
	return "cust_" + ulid.Make().String()
}
