package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/paymentsvc/internal/payment/domain"
	"github.com/smallbiznis/paymentsvc/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const paymentColumns = `id, payment_id, status, gateway_payment_token, gateway_transaction_id,
	customer_ref, domain_token, payment_name, amount, paid_at, scheduled_at,
	refund_at, refund_amount, refund_reason, receipt_url, fail_reason,
	completion_notified_at, version, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.PaymentID,
		payment.Status,
		payment.GatewayPaymentToken,
		payment.GatewayTransactionID,
		payment.CustomerRef,
		payment.DomainToken,
		payment.PaymentName,
		payment.Amount,
		payment.PaidAt,
		payment.ScheduledAt,
		payment.RefundAt,
		payment.RefundAmount,
		payment.RefundReason,
		payment.ReceiptURL,
		payment.FailReason,
		payment.CompletionNotifiedAt,
		payment.Version,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, gateway_payment_token = ?, gateway_transaction_id = ?,
			paid_at = ?, refund_at = ?, refund_amount = ?, refund_reason = ?,
			receipt_url = ?, fail_reason = ?, completion_notified_at = ?,
			version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		payment.Status,
		payment.GatewayPaymentToken,
		payment.GatewayTransactionID,
		payment.PaidAt,
		payment.RefundAt,
		payment.RefundAmount,
		payment.RefundReason,
		payment.ReceiptURL,
		payment.FailReason,
		payment.CompletionNotifiedAt,
		payment.UpdatedAt,
		payment.ID,
		payment.Version,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrConflict
	}
	payment.Version++
	return nil
}

func (r *repo) FindByPaymentID(ctx context.Context, db *gorm.DB, paymentID string) (*domain.Payment, error) {
	return r.findOne(ctx, db, `WHERE payment_id = ?`, strings.TrimSpace(paymentID))
}

func (r *repo) FindByGatewayToken(ctx context.Context, db *gorm.DB, token string) (*domain.Payment, error) {
	return r.findOne(ctx, db, `WHERE gateway_payment_token = ?`, strings.TrimSpace(token))
}

// FindRefundTargetByDomainToken prefers the latest PAY record and falls back
// to the latest record of any status.
func (r *repo) FindRefundTargetByDomainToken(ctx context.Context, db *gorm.DB, domainToken string) (*domain.Payment, error) {
	return r.findOne(ctx, db,
		`WHERE domain_token = ?
		 ORDER BY CASE WHEN status = 'PAY' THEN 0 ELSE 1 END, created_at DESC, id DESC`,
		strings.TrimSpace(domainToken),
	)
}

func (r *repo) FindActiveScheduleByCustomerRef(ctx context.Context, db *gorm.DB, customerRef string) (*domain.Payment, error) {
	return r.findOne(ctx, db,
		`WHERE customer_ref = ? AND status = 'SCHEDULED_PAY'
		 ORDER BY scheduled_at ASC, id ASC`,
		strings.TrimSpace(customerRef),
	)
}

func (r *repo) ListByDomainToken(ctx context.Context, db *gorm.DB, domainToken string, cursor *pagination.Cursor, limit int) ([]*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		 FROM payments
		 WHERE domain_token = ?`
	args := []any{strings.TrimSpace(domainToken)}
	if cursor != nil {
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	var items []*domain.Payment
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, value string) (*domain.Payment, error) {
	if value == "" {
		return nil, nil
	}
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 `+where+`
		 LIMIT 1`,
		value,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
