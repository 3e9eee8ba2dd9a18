package domain

import (
	"context"

	"github.com/smallbiznis/paymentsvc/pkg/db/pagination"
	"gorm.io/gorm"
)

// Repository lookups return nil, nil when nothing matches.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	// Update is a compare-and-swap on Version and yields ErrConflict when stale.
	Update(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindByPaymentID(ctx context.Context, db *gorm.DB, paymentID string) (*Payment, error)
	FindByGatewayToken(ctx context.Context, db *gorm.DB, token string) (*Payment, error)
	FindRefundTargetByDomainToken(ctx context.Context, db *gorm.DB, domainToken string) (*Payment, error)
	FindActiveScheduleByCustomerRef(ctx context.Context, db *gorm.DB, customerRef string) (*Payment, error)
	ListByDomainToken(ctx context.Context, db *gorm.DB, domainToken string, cursor *pagination.Cursor, limit int) ([]*Payment, error)
}
