package domain

import (
	"context"

	"gorm.io/gorm"
)

// Repository returns nil, nil when a lookup matches nothing.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, billing *Billing) error
	// Update writes b when its stored version still equals b.Version and bumps the version.
	// A stale version yields ErrConflict.
	Update(ctx context.Context, db *gorm.DB, billing *Billing) error
	FindByIdentityToken(ctx context.Context, db *gorm.DB, identityToken string) (*Billing, error)
	FindByCustomerRef(ctx context.Context, db *gorm.DB, customerRef string) (*Billing, error)
}
