package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Billing is the stored card and contact profile of one payer identity.
type Billing struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	IdentityToken string       `gorm:"column:identity_token" json:"identity_token"`
	CustomerRef   string       `gorm:"column:customer_ref" json:"customer_ref"`
	CardName      *string      `gorm:"column:card_name" json:"card_name,omitempty"`
	CardNumber    *string      `gorm:"column:card_number" json:"card_number,omitempty"`
	BuyerName     *string      `gorm:"column:buyer_name" json:"buyer_name,omitempty"`
	BuyerPhone    *string      `gorm:"column:buyer_phone" json:"buyer_phone,omitempty"`
	BuyerEmail    *string      `gorm:"column:buyer_email" json:"buyer_email,omitempty"`
	Version       int64        `gorm:"column:version" json:"-"`
	CreatedAt     time.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"column:updated_at" json:"updated_at"`
}

func NewBilling(id snowflake.ID, identityToken, customerRef string, now time.Time) (*Billing, error) {
	identityToken = strings.TrimSpace(identityToken)
	if identityToken == "" {
		return nil, ErrInvalidIdentity
	}
	customerRef = strings.TrimSpace(customerRef)
	if customerRef == "" {
		return nil, fmt.Errorf("%w: customer reference is required", ErrInvalidCustomerRef)
	}
	return &Billing{
		ID:            id,
		IdentityToken: identityToken,
		CustomerRef:   customerRef,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// ChangeCard records the card the gateway currently holds under CustomerRef.
func (b *Billing) ChangeCard(cardName, cardNumber string, now time.Time) error {
	cardName = strings.TrimSpace(cardName)
	cardNumber = strings.TrimSpace(cardNumber)
	if cardName == "" && cardNumber == "" {
		return ErrInvalidCard
	}
	b.CardName = optional(cardName)
	b.CardNumber = optional(cardNumber)
	b.UpdatedAt = now
	return nil
}

func (b *Billing) ChangePhone(phone string, now time.Time) error {
	phone = strings.TrimSpace(phone)
	if !validPhone(phone) {
		return fmt.Errorf("%w: phone", ErrInvalidContact)
	}
	b.BuyerPhone = &phone
	b.UpdatedAt = now
	return nil
}

func (b *Billing) ChangeEmail(email string, now time.Time) error {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: email", ErrInvalidContact)
	}
	b.BuyerEmail = &email
	b.UpdatedAt = now
	return nil
}

func (b *Billing) View() BillingView {
	return BillingView{
		IdentityToken: b.IdentityToken,
		CustomerRef:   b.CustomerRef,
		CardName:      deref(b.CardName),
		CardNumber:    deref(b.CardNumber),
		BuyerName:     deref(b.BuyerName),
		BuyerPhone:    deref(b.BuyerPhone),
		BuyerEmail:    deref(b.BuyerEmail),
		UpdatedAt:     b.UpdatedAt,
	}
}

type BillingView struct {
	IdentityToken string    `json:"identityToken"`
	CustomerRef   string    `json:"customerRef"`
	CardName      string    `json:"cardName,omitempty"`
	CardNumber    string    `json:"cardNumber,omitempty"`
	BuyerName     string    `json:"buyerName,omitempty"`
	BuyerPhone    string    `json:"buyerPhone,omitempty"`
	BuyerEmail    string    `json:"buyerEmail,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// BillingToken is handed to a client to register or charge a card at the gateway.
type BillingToken struct {
	CustomerRef  string `json:"customerRef"`
	PaymentToken string `json:"paymentToken"`
}

func validPhone(phone string) bool {
	digits := 0
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0:
		case r == '-' || r == ' ':
		default:
			return false
		}
	}
	return digits >= 7 && digits <= 15
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
