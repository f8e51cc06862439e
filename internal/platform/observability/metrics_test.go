package observability

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/quickcart/commerce/internal/platform/auth"
)

type countingMeter struct {
	noop.Meter

	mu     sync.Mutex
	counts map[string]int64
	attrs  map[string]attribute.Set
}

func newCountingMeter() *countingMeter {
	return &countingMeter{counts: map[string]int64{}, attrs: map[string]attribute.Set{}}
}

func (m *countingMeter) Int64Counter(name string, _ ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	return &countingCounter{meter: m, name: name}, nil
}

type countingCounter struct {
	noop.Int64Counter
	meter *countingMeter
	name  string
}

func (c *countingCounter) Add(_ context.Context, incr int64, opts ...metric.AddOption) {
	cfg := metric.NewAddConfig(opts)
	c.meter.mu.Lock()
	defer c.meter.mu.Unlock()
	c.meter.counts[c.name] += incr
	c.meter.attrs[c.name] = cfg.Attributes()
}

func TestAlertsCountFailures(t *testing.T) {
	meter := newCountingMeter()
	alerts, err := NewAlerts(meter)
	if err != nil {
		t.Fatalf("NewAlerts: %v", err)
	}
	ctx := context.Background()

	alerts.PartialReservation(ctx, 1, 3)
	alerts.RestockFailed(ctx, "compensate", "prod-1")
	alerts.RestockFailed(ctx, "cancel", "prod-2")

	if got := meter.counts[MetricReservationPartial]; got != 1 {
		t.Fatalf("expected 1 partial reservation, got %d", got)
	}
	if got := meter.counts[MetricRestockFailed]; got != 2 {
		t.Fatalf("expected 2 restock failures, got %d", got)
	}
	attrs := meter.attrs[MetricRestockFailed]
	if v, ok := attrs.Value("product_id"); !ok || v.AsString() != "prod-2" {
		t.Fatalf("expected product attribute, got %v", attrs)
	}
	partialAttrs := meter.attrs[MetricReservationPartial]
	if v, ok := partialAttrs.Value("outstanding_units"); !ok || v.AsInt64() != 3 {
		t.Fatalf("expected outstanding units attribute")
	}
}

func TestNilAlertsAreSafe(t *testing.T) {
	var alerts *Alerts
	alerts.PartialReservation(context.Background(), 1, 1)
	alerts.RestockFailed(context.Background(), "cancel", "prod-1")
}

func TestVerificationMetricsImplementsRecorder(t *testing.T) {
	meter := newCountingMeter()
	metrics, err := NewVerificationMetrics(meter)
	if err != nil {
		t.Fatalf("NewVerificationMetrics: %v", err)
	}
	var recorder auth.MetricsRecorder = metrics
	recorder.RecordVerification(context.Background(), "oidc", false, "audience_mismatch", 3*time.Millisecond)

	if got := meter.counts[metricAuthVerification]; got != 1 {
		t.Fatalf("expected one verification, got %d", got)
	}
	verifyAttrs := meter.attrs[metricAuthVerification]
	if v, _ := verifyAttrs.Value("reason"); v.AsString() != "audience_mismatch" {
		t.Fatalf("unexpected reason attribute %v", v)
	}
}
