package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/clockwatch/clockwatch/internal/telemetry"

// ProviderMetrics holds metrics for external provider calls.
type ProviderMetrics struct {
	provider         string
	requestDuration  metric.Float64Histogram
	requestTotal     metric.Int64Counter
	tokenRefreshes   metric.Int64Counter
	malformedRecords metric.Int64Counter
}

// NewProviderMetrics creates metrics for monitoring calls to the named provider.
func NewProviderMetrics(provider string) (*ProviderMetrics, error) {
	meter := otel.Meter(meterName)

	requestDuration, err := meter.Float64Histogram(
		"provider.request.duration",
		metric.WithDescription("Duration of provider requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	requestTotal, err := meter.Int64Counter(
		"provider.request.total",
		metric.WithDescription("Total number of provider requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	tokenRefreshes, err := meter.Int64Counter(
		"provider.token.refresh",
		metric.WithDescription("Number of bearer token acquisitions"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	malformedRecords, err := meter.Int64Counter(
		"provider.record.malformed",
		metric.WithDescription("Number of provider records skipped as malformed"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	return &ProviderMetrics{
		provider:         provider,
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		tokenRefreshes:   tokenRefreshes,
		malformedRecords: malformedRecords,
	}, nil
}

func (m *ProviderMetrics) attrs(operation string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("provider.name", m.provider),
		attribute.String("provider.operation", operation),
	}
}

// RecordRequest records metrics for a provider request.
// Safe to call on a nil receiver.
func (m *ProviderMetrics) RecordRequest(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	attrs := m.attrs(operation)
	if err != nil {
		attrs = append(attrs, attribute.Bool("error", true))
	}

	// Detached from the request context so cancellation never drops a sample
	ctx := context.Background()
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.requestTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTokenRefresh counts a bearer token acquisition.
func (m *ProviderMetrics) RecordTokenRefresh() {
	if m == nil {
		return
	}
	m.tokenRefreshes.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("provider.name", m.provider)))
}

// RecordMalformed counts records skipped during parsing.
func (m *ProviderMetrics) RecordMalformed(operation string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.malformedRecords.Add(context.Background(), int64(n), metric.WithAttributes(m.attrs(operation)...))
}
