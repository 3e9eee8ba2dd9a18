package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifyOutboxError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: OutboxReasonDeadlineExceeded},
		{name: "publish", err: &PublishError{Err: errors.New("broker down")}, want: OutboxReasonPublish},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: OutboxReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: OutboxReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: OutboxReasonUniqueViolation},
		{name: "unknown", err: errors.New("boom"), want: OutboxReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyOutboxError(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAddDispatched(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newOutboxMetrics(registry, Config{ServiceName: "paymentsvc", Environment: "test"})

	m.AddDispatched(OutboxStatusPublished, 3)
	m.AddDispatched(OutboxStatusPublished, 0)
	m.SetBacklog(7)

	if got := testutil.ToFloat64(m.dispatched.WithLabelValues(OutboxStatusPublished)); got != 3 {
		t.Fatalf("expected dispatched count 3, got %v", got)
	}
	if got := testutil.ToFloat64(m.backlog); got != 7 {
		t.Fatalf("expected backlog 7, got %v", got)
	}
}
