// Package metrics records the engine's operational metrics through the
// OpenTelemetry metrics API and exposes them for Prometheus scraping. The
// aggregated handler additionally merges metric families scraped from
// runner subprocesses into the /metrics output.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all engine metrics.
const meterName = "github.com/edgehive/engine-runner"

// durationBuckets are histogram bucket boundaries in seconds, sized for
// on-device inference latencies.
var durationBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// Metrics holds the engine's metric instruments. A nil *Metrics is valid
// and records nothing, so components can carry it unconditionally.
type Metrics struct {
	// Requests counts completed requests by capability, mode, and status
	// (an error code, "ok", or "cancelled").
	Requests metric.Int64Counter

	// Duration tracks request processing time by capability and mode.
	Duration metric.Float64Histogram

	// Active tracks the number of in-flight requests.
	Active metric.Int64UpDownCounter

	// Loads and Unloads count model lifecycle transitions by runner.
	Loads   metric.Int64Counter
	Unloads metric.Int64Counter

	// Errors counts delivered errors by code.
	Errors metric.Int64Counter
}

// NewMetrics creates the engine instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.Requests, err = meter.Int64Counter("engine.requests",
		metric.WithDescription("Completed requests."),
	); err != nil {
		return nil, err
	}
	if m.Duration, err = meter.Float64Histogram("engine.request.duration",
		metric.WithDescription("Request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if m.Active, err = meter.Int64UpDownCounter("engine.requests.active",
		metric.WithDescription("In-flight requests."),
	); err != nil {
		return nil, err
	}
	if m.Loads, err = meter.Int64Counter("engine.model.loads",
		metric.WithDescription("Model loads by runner."),
	); err != nil {
		return nil, err
	}
	if m.Unloads, err = meter.Int64Counter("engine.model.unloads",
		metric.WithDescription("Model unloads by runner."),
	); err != nil {
		return nil, err
	}
	if m.Errors, err = meter.Int64Counter("engine.errors",
		metric.WithDescription("Delivered errors by code."),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordRequest records one completed request. status is an error code,
// "ok", or "cancelled".
func (m *Metrics) RecordRequest(ctx context.Context, capability, mode, status string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("capability", capability),
		attribute.String("mode", mode),
		attribute.String("status", status),
	)
	m.Requests.Add(ctx, 1, attrs)
	m.Duration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("capability", capability),
		attribute.String("mode", mode),
	))
	if status != "ok" && status != "cancelled" {
		m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", status)))
	}
}

// AddActive adjusts the in-flight request gauge.
func (m *Metrics) AddActive(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.Active.Add(ctx, delta)
}

// RecordLoad counts one model load on the named runner.
func (m *Metrics) RecordLoad(ctx context.Context, runner string) {
	if m == nil {
		return
	}
	m.Loads.Add(ctx, 1, metric.WithAttributes(attribute.String("runner", runner)))
}

// RecordUnload counts one model unload on the named runner.
func (m *Metrics) RecordUnload(ctx context.Context, runner string) {
	if m == nil {
		return
	}
	m.Unloads.Add(ctx, 1, metric.WithAttributes(attribute.String("runner", runner)))
}
