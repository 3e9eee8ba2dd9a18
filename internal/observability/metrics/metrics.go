package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes payment-level instruments.
type Metrics struct {
	charged        metric.Int64Counter
	scheduled      metric.Int64Counter
	refunded       metric.Int64Counter
	webhookEvents  metric.Int64Counter
	criticalErrors metric.Int64Counter
	rebinds        metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New configures the payment instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "paymentsvc"
	}
	meter := provider.Meter(name)

	charged, err := meter.Int64Counter("payments_charged_total")
	if err != nil {
		return nil, err
	}
	scheduled, err := meter.Int64Counter("payments_scheduled_total")
	if err != nil {
		return nil, err
	}
	refunded, err := meter.Int64Counter("payments_refunded_total")
	if err != nil {
		return nil, err
	}
	webhookEvents, err := meter.Int64Counter("payment_webhook_events_total")
	if err != nil {
		return nil, err
	}
	criticalErrors, err := meter.Int64Counter("payment_critical_errors_total")
	if err != nil {
		return nil, err
	}
	rebinds, err := meter.Int64Counter("payment_schedule_rebind_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		charged:        charged,
		scheduled:      scheduled,
		refunded:       refunded,
		webhookEvents:  webhookEvents,
		criticalErrors: criticalErrors,
		rebinds:        rebinds,
	}, nil
}

func (m *Metrics) RecordCharge(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.charged.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("provider", provider))...))
}

func (m *Metrics) RecordSchedule(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.scheduled.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("provider", provider))...))
}

func (m *Metrics) RecordRefund(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.refunded.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("provider", provider))...))
}

// RecordWebhookEvent counts reconciler invocations by reported status and outcome.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, status, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("status", strings.ToLower(strings.TrimSpace(status))),
		attribute.String("outcome", outcome),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCriticalError counts invariant and integration-contract violations.
func (m *Metrics) RecordCriticalError(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.criticalErrors.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("reason", reason))...))
}

func (m *Metrics) RecordScheduleRebind(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.rebinds.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("outcome", outcome))...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"provider":    {},
	"status":      {},
	"outcome":     {},
	"reason":      {},
	"method":      {},
	"route":       {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
