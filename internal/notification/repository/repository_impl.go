package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paymentsvc/internal/notification/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const messageColumns = `id, event_type, aggregate_id, partition_key, payload, status,
	attempts, last_error, next_attempt_at, created_at, published_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, msg *domain.Message) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_outbox (`+messageColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID,
		msg.EventType,
		msg.AggregateID,
		msg.PartitionKey,
		msg.Payload,
		msg.Status,
		msg.Attempts,
		msg.LastError,
		msg.NextAttemptAt,
		msg.CreatedAt,
		msg.PublishedAt,
	).Error
}

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*domain.Message, error) {
	var items []*domain.Message
	err := db.WithContext(ctx).Raw(
		`SELECT `+messageColumns+`
		 FROM payment_outbox
		 WHERE status = ? AND next_attempt_at <= ?
		 ORDER BY next_attempt_at ASC, id ASC
		 LIMIT ?`,
		domain.StatusPending,
		now,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Claim(ctx context.Context, db *gorm.DB, msg *domain.Message, now, leaseUntil time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_outbox
		 SET next_attempt_at = ?
		 WHERE id = ? AND status = ? AND next_attempt_at <= ?`,
		leaseUntil,
		msg.ID,
		domain.StatusPending,
		now,
	)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	msg.NextAttemptAt = leaseUntil
	return true, nil
}

func (r *repo) MarkPublished(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_outbox
		 SET status = ?, attempts = attempts + 1, published_at = ?, last_error = NULL
		 WHERE id = ?`,
		domain.StatusPublished,
		at,
		id,
	).Error
}

func (r *repo) MarkRetry(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, lastErr string, nextAttemptAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_outbox
		 SET attempts = ?, last_error = ?, next_attempt_at = ?
		 WHERE id = ? AND status = ?`,
		attempts,
		lastErr,
		nextAttemptAt,
		id,
		domain.StatusPending,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, lastErr string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_outbox
		 SET status = ?, attempts = ?, last_error = ?
		 WHERE id = ?`,
		domain.StatusFailed,
		attempts,
		lastErr,
		id,
	).Error
}

func (r *repo) CountPending(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM payment_outbox WHERE status = ?`,
		domain.StatusPending,
	).Scan(&count).Error
	return count, err
}

func (r *repo) FindByAggregate(ctx context.Context, db *gorm.DB, eventType, aggregateID string) (*domain.Message, error) {
	var item domain.Message
	err := db.WithContext(ctx).Raw(
		`SELECT `+messageColumns+`
		 FROM payment_outbox
		 WHERE event_type = ? AND aggregate_id = ?
		 LIMIT 1`,
		eventType,
		aggregateID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
