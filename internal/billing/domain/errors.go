package domain

import "errors"

var (
	ErrNotFound           = errors.New("billing_not_found")
	ErrConflict           = errors.New("billing_conflict")
	ErrInvalidIdentity    = errors.New("invalid_identity_token")
	ErrInvalidCustomerRef = errors.New("invalid_customer_ref")
	ErrInvalidCard        = errors.New("invalid_card")
	ErrInvalidContact     = errors.New("invalid_contact")
)
