// Package telemetry holds the core's OpenTelemetry instruments.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics bundles the counters the sync core reports. A nil *Metrics is
// valid and all methods are no-ops, so components never need to branch on
// whether telemetry is configured.
type Metrics struct {
	updatesEmitted   metric.Int64Counter
	deliveries       metric.Int64Counter
	deliveryFailures metric.Int64Counter
	activitySkipped  metric.Int64Counter
	activityFlushed  metric.Int64Counter
}

// NewMetrics creates the core counters on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	updatesEmitted, err := meter.Int64Counter("sync.updates_emitted",
		metric.WithDescription("Update events emitted after commit"))
	if err != nil {
		return nil, err
	}
	deliveries, err := meter.Int64Counter("sync.deliveries",
		metric.WithDescription("Payloads pushed to live connections"))
	if err != nil {
		return nil, err
	}
	deliveryFailures, err := meter.Int64Counter("sync.delivery_failures",
		metric.WithDescription("Pushes that failed at the transport"))
	if err != nil {
		return nil, err
	}
	activitySkipped, err := meter.Int64Counter("sync.activity_writes_skipped",
		metric.WithDescription("Heartbeat writes suppressed by the coalescing threshold"))
	if err != nil {
		return nil, err
	}
	activityFlushed, err := meter.Int64Counter("sync.activity_writes_flushed",
		metric.WithDescription("Coalesced activity timestamps persisted by a flush"))
	if err != nil {
		return nil, err
	}
	return &Metrics{
		updatesEmitted:   updatesEmitted,
		deliveries:       deliveries,
		deliveryFailures: deliveryFailures,
		activitySkipped:  activitySkipped,
		activityFlushed:  activityFlushed,
	}, nil
}

// UpdateEmitted records one emitted Update event of the given body kind.
func (m *Metrics) UpdateEmitted(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.updatesEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// Delivered records n successful pushes to connections.
func (m *Metrics) Delivered(ctx context.Context, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.deliveries.Add(ctx, n)
}

// DeliveryFailed records one failed transport push.
func (m *Metrics) DeliveryFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.deliveryFailures.Add(ctx, 1)
}

// ActivitySkipped records one heartbeat write dropped by the threshold.
func (m *Metrics) ActivitySkipped(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.activitySkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// ActivityFlushed records n pending timestamps persisted by one flush.
func (m *Metrics) ActivityFlushed(ctx context.Context, kind string, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.activityFlushed.Add(ctx, n, metric.WithAttributes(attribute.String("kind", kind)))
}
