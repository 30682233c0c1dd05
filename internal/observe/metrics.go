// Package observe provides application-wide observability primitives for
// ReelSonar: OpenTelemetry metrics, distributed tracing, and Gin middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint on the ops listener. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all ReelSonar metrics.
const meterName = "github.com/MrWong99/reelsonar"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// StageDuration tracks per-video pipeline stage latency. Use with
	// attribute.String("stage", ...) — one of download, transcribe,
	// extract, index, commit.
	StageDuration metric.Float64Histogram

	// SearchDuration tracks semantic search latency end to end (embed +
	// scan + filter + snippet assembly).
	SearchDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("route", ...).
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// VideosProcessed counts per-video pipeline outcomes. Use with
	// attribute.String("outcome", ...) — complete, failed, skipped.
	VideosProcessed metric.Int64Counter

	// SegmentsIndexed counts vector segments appended to the index.
	SegmentsIndexed metric.Int64Counter

	// --- Gauges ---

	// ActiveJobs tracks the number of ingestion jobs currently executing.
	ActiveJobs metric.Int64UpDownCounter

	// ActiveVideoWorkers tracks per-video workers currently busy across
	// all jobs.
	ActiveVideoWorkers metric.Int64UpDownCounter
}

// stageBuckets defines histogram bucket boundaries (in seconds) sized for
// batch pipeline stages — a download or transcription can legitimately take
// minutes.
var stageBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// requestBuckets defines histogram bucket boundaries (in seconds) for the
// HTTP and search read paths.
var requestBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("reelsonar.pipeline.stage.duration",
		metric.WithDescription("Latency of one per-video pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SearchDuration, err = m.Float64Histogram("reelsonar.search.duration",
		metric.WithDescription("End-to-end semantic search latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(requestBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("reelsonar.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(requestBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("reelsonar.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("reelsonar.provider.errors",
		metric.WithDescription("Total provider errors by provider and fault kind."),
	); err != nil {
		return nil, err
	}
	if met.VideosProcessed, err = m.Int64Counter("reelsonar.pipeline.videos",
		metric.WithDescription("Total per-video pipeline outcomes."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsIndexed, err = m.Int64Counter("reelsonar.index.segments",
		metric.WithDescription("Total vector segments appended to the search index."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveJobs, err = m.Int64UpDownCounter("reelsonar.active_jobs",
		metric.WithDescription("Number of ingestion jobs currently executing."),
	); err != nil {
		return nil, err
	}
	if met.ActiveVideoWorkers, err = m.Int64UpDownCounter("reelsonar.active_video_workers",
		metric.WithDescription("Number of busy per-video workers across all jobs."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage records one pipeline stage duration with the standard
// attribute set.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordVideoOutcome records a per-video pipeline outcome.
func (m *Metrics) RecordVideoOutcome(ctx context.Context, outcome string) {
	m.VideosProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}
