package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/paymentsvc/internal/billing/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const billingColumns = `id, identity_token, customer_ref, card_name, card_number,
	buyer_name, buyer_phone, buyer_email, version, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, billing *domain.Billing) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO billings (`+billingColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		billing.ID,
		billing.IdentityToken,
		billing.CustomerRef,
		billing.CardName,
		billing.CardNumber,
		billing.BuyerName,
		billing.BuyerPhone,
		billing.BuyerEmail,
		billing.Version,
		billing.CreatedAt,
		billing.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, billing *domain.Billing) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE billings
		 SET customer_ref = ?, card_name = ?, card_number = ?,
			buyer_name = ?, buyer_phone = ?, buyer_email = ?,
			version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		billing.CustomerRef,
		billing.CardName,
		billing.CardNumber,
		billing.BuyerName,
		billing.BuyerPhone,
		billing.BuyerEmail,
		billing.UpdatedAt,
		billing.ID,
		billing.Version,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrConflict
	}
	billing.Version++
	return nil
}

func (r *repo) FindByIdentityToken(ctx context.Context, db *gorm.DB, identityToken string) (*domain.Billing, error) {
	return r.findOne(ctx, db, "identity_token", strings.TrimSpace(identityToken))
}

func (r *repo) FindByCustomerRef(ctx context.Context, db *gorm.DB, customerRef string) (*domain.Billing, error) {
	return r.findOne(ctx, db, "customer_ref", strings.TrimSpace(customerRef))
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, column, value string) (*domain.Billing, error) {
	if value == "" {
		return nil, nil
	}
	var item domain.Billing
	err := db.WithContext(ctx).Raw(
		`SELECT `+billingColumns+`
		 FROM billings
		 WHERE `+column+` = ?
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
