package domain

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const EventPaymentCompleted = "subscription.paymentComplete"

type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusPublished MessageStatus = "published"
	StatusFailed    MessageStatus = "failed"
)

var ErrInvalidMessage = errors.New("invalid_outbox_message")

// Message is a notification waiting in the outbox for delivery.
type Message struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"id"`
	EventType     string         `gorm:"column:event_type" json:"event_type"`
	AggregateID   string         `gorm:"column:aggregate_id" json:"aggregate_id"`
	PartitionKey  string         `gorm:"column:partition_key" json:"partition_key"`
	Payload       datatypes.JSON `gorm:"column:payload" json:"payload"`
	Status        MessageStatus  `gorm:"column:status" json:"status"`
	Attempts      int            `gorm:"column:attempts" json:"attempts"`
	LastError     *string        `gorm:"column:last_error" json:"last_error,omitempty"`
	NextAttemptAt time.Time      `gorm:"column:next_attempt_at" json:"next_attempt_at"`
	CreatedAt     time.Time      `gorm:"column:created_at" json:"created_at"`
	PublishedAt   *time.Time     `gorm:"column:published_at" json:"published_at,omitempty"`
}

type PaymentCompleted struct {
	DomainToken string `json:"domainToken"`
	PaymentID   string `json:"paymentId"`
}

// NewPaymentCompleted builds the outbox row announcing a finished payment.
// Rows are unique per (event type, payment id).
func NewPaymentCompleted(id snowflake.ID, event PaymentCompleted, now time.Time) (*Message, error) {
	if strings.TrimSpace(event.PaymentID) == "" || strings.TrimSpace(event.DomainToken) == "" {
		return nil, ErrInvalidMessage
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:            id,
		EventType:     EventPaymentCompleted,
		AggregateID:   event.PaymentID,
		PartitionKey:  event.DomainToken,
		Payload:       datatypes.JSON(payload),
		Status:        StatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}, nil
}

// Emitter delivers a message to downstream subscribers.
type Emitter interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, msg *Message) error
	ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*Message, error)
	// Claim leases a due message by moving next_attempt_at to leaseUntil. It
	// reports false when another dispatcher got there first.
	Claim(ctx context.Context, db *gorm.DB, msg *Message, now, leaseUntil time.Time) (bool, error)
	MarkPublished(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	MarkRetry(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, lastErr string, nextAttemptAt time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, lastErr string) error
	CountPending(ctx context.Context, db *gorm.DB) (int64, error)
	FindByAggregate(ctx context.Context, db *gorm.DB, eventType, aggregateID string) (*Message, error)
}
