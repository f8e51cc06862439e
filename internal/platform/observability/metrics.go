package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/quickcart/commerce"

// Alert counter names. Operators page on any increment.
const (
	MetricReservationPartial = "inventory.reservation.partial"
	MetricRestockFailed      = "inventory.restock.failed"
	metricAuthVerification   = "auth.verification"
	metricAuthLatency        = "auth.verification.duration"
)

// DefaultMeter returns the meter registered with the global otel provider.
func DefaultMeter() metric.Meter { return otel.Meter(meterName) }

// Alerts counts stock inconsistencies that need manual repair.
type Alerts struct {
	partial metric.Int64Counter
	restock metric.Int64Counter
}

// NewAlerts registers the alert counters on meter.
func NewAlerts(meter metric.Meter) (*Alerts, error) {
	if meter == nil {
		meter = DefaultMeter()
	}
	partial, err := meter.Int64Counter(MetricReservationPartial,
		metric.WithDescription("Reservations that failed mid-sequence and left stock outstanding"),
		metric.WithUnit("{reservation}"))
	if err != nil {
		return nil, fmt.Errorf("observability: register %s: %w", MetricReservationPartial, err)
	}
	restock, err := meter.Int64Counter(MetricRestockFailed,
		metric.WithDescription("Stock lines that could not be returned after retries"),
		metric.WithUnit("{line}"))
	if err != nil {
		return nil, fmt.Errorf("observability: register %s: %w", MetricRestockFailed, err)
	}
	return &Alerts{partial: partial, restock: restock}, nil
}

// PartialReservation counts one partial reservation leaving outstanding units unreleased.
func (a *Alerts) PartialReservation(ctx context.Context, outstandingLines, outstandingUnits int) {
	if a == nil {
		return
	}
	a.partial.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("outstanding_lines", outstandingLines),
		attribute.Int("outstanding_units", outstandingUnits),
	))
}

// RestockFailed counts one stock line that stayed decremented.
func (a *Alerts) RestockFailed(ctx context.Context, source, productID string) {
	if a == nil {
		return
	}
	a.restock.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("product_id", productID),
	))
}

// VerificationMetrics records OIDC verification outcomes.
type VerificationMetrics struct {
	count   metric.Int64Counter
	latency metric.Float64Histogram
}

// NewVerificationMetrics registers the verification instruments on meter.
func NewVerificationMetrics(meter metric.Meter) (*VerificationMetrics, error) {
	if meter == nil {
		meter = DefaultMeter()
	}
	count, err := meter.Int64Counter(metricAuthVerification)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(metricAuthLatency, metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &VerificationMetrics{count: count, latency: latency}, nil
}

// RecordVerification implements auth.MetricsRecorder.
func (m *VerificationMetrics) RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("success", success),
		attribute.String("reason", reason),
	)
	m.count.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(duration)/float64(time.Millisecond), attrs)
}
