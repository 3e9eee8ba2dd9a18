package webhook

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paymentsvc/internal/clock"
	"github.com/smallbiznis/paymentsvc/internal/lock"
	notificationdomain "github.com/smallbiznis/paymentsvc/internal/notification/domain"
	"github.com/smallbiznis/paymentsvc/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paymentsvc/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/paymentsvc/internal/payment/domain"
	"github.com/smallbiznis/paymentsvc/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Outcome labels recorded per processed gateway event.
const (
	outcomeCompleted = "completed"
	outcomeNotified  = "notified"
	outcomeNoop      = "noop"
	outcomeFailed    = "payment_failed"
	outcomeManual    = "manual_refund"
	outcomeRejected  = "rejected"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Locker     lock.Locker
	Gateway    paymentdomain.Gateway
	Repo       paymentdomain.Repository
	Outbox     notificationdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	locker     lock.Locker
	gateway    paymentdomain.Gateway
	repo       paymentdomain.Repository
	outbox     notificationdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Reconciler {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		genID:      p.GenID,
		clock:      p.Clock,
		locker:     p.Locker,
		gateway:    p.Gateway,
		repo:       p.Repo,
		outbox:     p.Outbox,
		obsMetrics: p.ObsMetrics,
	}
}

// ApplyGatewayEvent reconciles one gateway notification. Events are
// correlated by the merchant token only and may arrive more than once.
func (s *Service) ApplyGatewayEvent(ctx context.Context, event paymentdomain.GatewayEvent) (*paymentdomain.PaymentView, error) {
	status := strings.ToLower(strings.TrimSpace(event.Status))
	log := logger.WithContext(ctx, s.log).With(
		zap.String("gateway_status", status),
		zap.String("merchant_ref", event.PaymentToken),
	)

	switch status {
	case paymentdomain.GatewayStatusPaid:
	case paymentdomain.GatewayStatusFailed:
		log.Warn("gateway reported failed payment")
		s.record(ctx, status, outcomeFailed)
		return nil, fmt.Errorf("%w: %s", paymentdomain.ErrPaymentFailed, event.PaymentToken)
	case paymentdomain.GatewayStatusCancelled:
		log.Warn("gateway reported cancelled payment, manual refund required")
		s.record(ctx, status, outcomeManual)
		return nil, fmt.Errorf("%w: %s", paymentdomain.ErrManualRefundRequired, event.PaymentToken)
	default:
		s.logCritical(ctx, "unexpected_gateway_status", paymentdomain.ErrUnexpectedGatewayState, zap.String("gateway_status", status))
		s.record(ctx, status, outcomeRejected)
		return nil, fmt.Errorf("%w: status %q", paymentdomain.ErrUnexpectedGatewayState, event.Status)
	}

	token := strings.TrimSpace(event.PaymentToken)
	transactionID := strings.TrimSpace(event.TransactionID)
	if token == "" || transactionID == "" {
		s.record(ctx, status, outcomeRejected)
		return nil, paymentdomain.ErrInvalidGatewayEvent
	}

	view, outcome, err := s.applyPaid(ctx, token, transactionID)
	if err != nil {
		s.record(ctx, status, outcomeRejected)
		return nil, err
	}
	s.record(ctx, status, outcome)
	return view, nil
}

func (s *Service) applyPaid(ctx context.Context, token, transactionID string) (*paymentdomain.PaymentView, string, error) {
	log := logger.WithContext(ctx, s.log).With(zap.String("merchant_ref", token))

	found, err := s.repo.FindByGatewayToken(ctx, s.db, token)
	if err != nil {
		return nil, "", err
	}
	if found == nil {
		return nil, "", paymentdomain.ErrNotFound
	}

	release, err := s.locker.Acquire(ctx, lock.PaymentKey(found.PaymentID))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", paymentdomain.ErrConflict, err)
	}
	defer release()

	payment, err := s.repo.FindByPaymentID(ctx, s.db, found.PaymentID)
	if err != nil {
		return nil, "", err
	}
	if payment == nil {
		return nil, "", paymentdomain.ErrNotFound
	}

	switch payment.Status {
	case paymentdomain.StatusFailed, paymentdomain.StatusRefunded:
		log.Warn("paid event for closed payment ignored",
			zap.String("payment_id", payment.PaymentID),
			zap.String("status", string(payment.Status)),
		)
		view := payment.View()
		return &view, outcomeNoop, nil
	case paymentdomain.StatusPaid:
		if payment.CompletionNotified() {
			view := payment.View()
			return &view, outcomeNoop, nil
		}
	}

	detail, err := s.gateway.FetchPaymentDetail(ctx, transactionID)
	if err != nil {
		log.Warn("fetch payment detail failed", zap.String("transaction_id", transactionID), zap.Error(err))
		return nil, "", err
	}
	if detail.MerchantRef != payment.GatewayPaymentToken {
		err := fmt.Errorf("%w: detail merchant ref %q", paymentdomain.ErrUnexpectedGatewayState, detail.MerchantRef)
		s.logCritical(ctx, "merchant_ref_mismatch", err,
			zap.String("payment_id", payment.PaymentID),
			zap.String("transaction_id", transactionID),
		)
		return nil, "", err
	}

	now := s.clock.Now()
	outcome := outcomeNotified
	if payment.Status == paymentdomain.StatusScheduled {
		if !detail.Scheduled {
			err := fmt.Errorf("%w: scheduled payment settled as one-off", paymentdomain.ErrUnexpectedGatewayState)
			s.logCritical(ctx, "schedule_settlement_mismatch", err, zap.String("payment_id", payment.PaymentID))
			return nil, "", err
		}
		if err := payment.CompleteSchedule(detail.Settlement(), now); err != nil {
			if paymentdomain.IsCritical(err) {
				s.logCritical(ctx, "schedule_completion_invalid", err, zap.String("payment_id", payment.PaymentID))
			}
			return nil, "", err
		}
		outcome = outcomeCompleted
	}
	if err := payment.MarkCompletionNotified(now); err != nil {
		return nil, "", err
	}

	msg, err := notificationdomain.NewPaymentCompleted(s.genID.Generate(), notificationdomain.PaymentCompleted{
		DomainToken: payment.DomainToken,
		PaymentID:   payment.PaymentID,
	}, now)
	if err != nil {
		return nil, "", err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Update(ctx, tx, payment); err != nil {
			return err
		}
		if err := s.outbox.Insert(ctx, tx, msg); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return fmt.Errorf("%w: completion already queued", paymentdomain.ErrConflict)
			}
			return err
		}
		return nil
	})
	if err != nil {
		log.Error("persist completion failed", zap.String("payment_id", payment.PaymentID), zap.Error(err))
		return nil, "", err
	}

	log.Info("payment completion recorded",
		zap.String("payment_id", payment.PaymentID),
		zap.String("transaction_id", transactionID),
		zap.String("outcome", outcome),
	)
	view := payment.View()
	return &view, outcome, nil
}

func (s *Service) record(ctx context.Context, status, outcome string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordWebhookEvent(ctx, status, outcome)
	}
}

func (s *Service) logCritical(ctx context.Context, reason string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Bool("critical", true), zap.String("reason", reason), zap.Error(err))
	logger.WithContext(ctx, s.log).Error("gateway event inconsistency", fields...)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordCriticalError(ctx, reason)
	}
}
