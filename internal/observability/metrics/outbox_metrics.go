package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	OutboxStatusPublished = "published"
	OutboxStatusRetry     = "retry"
	OutboxStatusFailed    = "failed"
)

const (
	OutboxReasonDeadlineExceeded     = "deadline_exceeded"
	OutboxReasonDBLockTimeout        = "db_lock_timeout"
	OutboxReasonSerializationFailure = "serialization_failure"
	OutboxReasonUniqueViolation      = "unique_violation"
	OutboxReasonPublish              = "publish"
	OutboxReasonUnknown              = "unknown"
)

// OutboxMetrics captures notification dispatcher health on the Prometheus registry.
type OutboxMetrics struct {
	dispatched    *prometheus.CounterVec
	batchDuration prometheus.Histogram
	backlog       prometheus.Gauge
	errors        *prometheus.CounterVec
}

func NewOutboxMetrics(cfg Config) *OutboxMetrics {
	return newOutboxMetrics(prometheus.DefaultRegisterer, cfg)
}

func newOutboxMetrics(registerer prometheus.Registerer, cfg Config) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "paymentsvc"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	dispatched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "paymentsvc_outbox_dispatch_total",
		Help:        "Outbox messages handled by dispatch outcome.",
		ConstLabels: constLabels,
	}, []string{"status"})
	batchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "paymentsvc_outbox_dispatch_duration_seconds",
		Help:        "Outbox dispatch batch latency.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	})
	backlog := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "paymentsvc_outbox_backlog",
		Help:        "Pending outbox messages observed at the start of a batch.",
		ConstLabels: constLabels,
	})
	errs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "paymentsvc_outbox_errors_total",
		Help:        "Outbox dispatch errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"reason"})

	registerer.MustRegister(dispatched, batchDuration, backlog, errs)

	return &OutboxMetrics{
		dispatched:    dispatched,
		batchDuration: batchDuration,
		backlog:       backlog,
		errors:        errs,
	}
}

func (m *OutboxMetrics) AddDispatched(status string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.dispatched.WithLabelValues(status).Add(float64(count))
}

func (m *OutboxMetrics) ObserveBatch(duration time.Duration) {
	if m == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.batchDuration.Observe(duration.Seconds())
}

func (m *OutboxMetrics) SetBacklog(value int64) {
	if m == nil {
		return
	}
	m.backlog.Set(float64(value))
}

func (m *OutboxMetrics) IncError(err error) {
	if m == nil || err == nil {
		return
	}
	m.errors.WithLabelValues(ClassifyOutboxError(err)).Inc()
}

// PublishError marks an error as coming from the notification transport.
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string { return "publish: " + e.Err.Error() }

func (e *PublishError) Unwrap() error { return e.Err }

// ClassifyOutboxError maps an error to a bounded reason label.
func ClassifyOutboxError(err error) string {
	if err == nil {
		return OutboxReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return OutboxReasonDeadlineExceeded
	}
	var publishErr *PublishError
	if errors.As(err, &publishErr) {
		return OutboxReasonPublish
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return OutboxReasonUniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return OutboxReasonDBLockTimeout
		case "40001":
			return OutboxReasonSerializationFailure
		case "23505":
			return OutboxReasonUniqueViolation
		}
	}
	return OutboxReasonUnknown
}
