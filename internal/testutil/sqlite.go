// Package testutil opens throwaway SQLite databases carrying the service schema.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

var schema = []string{
	`CREATE TABLE billings (
		id              INTEGER PRIMARY KEY,
		identity_token  TEXT NOT NULL UNIQUE,
		customer_ref    TEXT NOT NULL UNIQUE,
		card_name       TEXT,
		card_number     TEXT,
		buyer_name      TEXT,
		buyer_phone     TEXT,
		buyer_email     TEXT,
		version         INTEGER NOT NULL DEFAULT 1,
		created_at      TIMESTAMP NOT NULL,
		updated_at      TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE payments (
		id                      INTEGER PRIMARY KEY,
		payment_id              TEXT NOT NULL UNIQUE,
		status                  TEXT NOT NULL CHECK (status IN ('SCHEDULED_PAY', 'PAY', 'FAIL', 'REFUND')),
		gateway_payment_token   TEXT NOT NULL UNIQUE,
		gateway_transaction_id  TEXT,
		customer_ref            TEXT NOT NULL,
		domain_token            TEXT NOT NULL,
		payment_name            TEXT NOT NULL,
		amount                  INTEGER NOT NULL,
		paid_at                 TIMESTAMP,
		scheduled_at            TIMESTAMP,
		refund_at               TIMESTAMP,
		refund_amount           INTEGER,
		refund_reason           TEXT,
		receipt_url             TEXT,
		fail_reason             TEXT,
		completion_notified_at  TIMESTAMP,
		version                 INTEGER NOT NULL DEFAULT 1,
		created_at              TIMESTAMP NOT NULL,
		updated_at              TIMESTAMP NOT NULL,
		CHECK (status <> 'PAY' OR (paid_at IS NOT NULL AND receipt_url IS NOT NULL))
	)`,
	`CREATE TABLE payment_outbox (
		id               INTEGER PRIMARY KEY,
		event_type       TEXT NOT NULL,
		aggregate_id     TEXT NOT NULL,
		partition_key    TEXT NOT NULL,
		payload          TEXT NOT NULL,
		status           TEXT NOT NULL DEFAULT 'pending',
		attempts         INTEGER NOT NULL DEFAULT 0,
		last_error       TEXT,
		next_attempt_at  TIMESTAMP NOT NULL,
		created_at       TIMESTAMP NOT NULL,
		published_at     TIMESTAMP,
		UNIQUE (event_type, aggregate_id)
	)`,
}

// NewDB returns an isolated in-memory database with every table created.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:paymentsvc_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}
