// Package observe provides application-wide observability primitives for
// sagetalk: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [Init] bridges
// them to a Prometheus registry served on /metrics. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all sagetalk metrics.
const meterName = "github.com/SocialNOT/AgainINDIA"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks how long it takes a session to become active.
	ConnectDuration metric.Float64Histogram

	// --- Capture counters ---

	// FramesSent counts outbound audio frames handed to the transport.
	FramesSent metric.Int64Counter

	// FramesDropped counts outbound frames discarded before sending. Use with
	// attribute.String("reason", ...): "queue_full", "empty", "send_error".
	FramesDropped metric.Int64Counter

	// --- Playback counters ---

	// FramesReceived counts inbound audio chunks scheduled for playback.
	FramesReceived metric.Int64Counter

	// FramesMalformed counts inbound audio chunks that failed to decode.
	FramesMalformed metric.Int64Counter

	// LateStarts counts buffers that arrived after the playback cursor had
	// already passed, i.e. playback underruns.
	LateStarts metric.Int64Counter

	// Interruptions counts barge-in events applied to playback.
	Interruptions metric.Int64Counter

	// --- Transcript counters ---

	// TurnsCommitted counts committed turns. Use with attribute:
	//   attribute.String("speaker", ...)
	TurnsCommitted metric.Int64Counter

	// --- Session counters ---

	// SessionErrors counts fatal session errors. Use with attribute:
	//   attribute.String("kind", ...): "transport", "device", "remote".
	SessionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks operational endpoint latency. Use with attributes:
	//   attribute.String("route", ...), attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for connection setup latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ConnectDuration, err = m.Float64Histogram("sagetalk.session.connect.duration",
		metric.WithDescription("Time from connect request until the session is active."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.FramesSent, "sagetalk.capture.frames_sent", "Outbound audio frames handed to the transport."},
		{&met.FramesDropped, "sagetalk.capture.frames_dropped", "Outbound audio frames dropped by reason."},
		{&met.FramesReceived, "sagetalk.playback.frames_received", "Inbound audio chunks scheduled for playback."},
		{&met.FramesMalformed, "sagetalk.playback.frames_malformed", "Inbound audio chunks that failed to decode."},
		{&met.LateStarts, "sagetalk.playback.late_starts", "Buffers scheduled after the playback cursor had passed."},
		{&met.Interruptions, "sagetalk.playback.interruptions", "Barge-in interruptions applied to playback."},
		{&met.TurnsCommitted, "sagetalk.turns.committed", "Committed conversation turns by speaker."},
		{&met.SessionErrors, "sagetalk.session.errors", "Fatal session errors by kind."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("sagetalk.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("sagetalk.http.request.duration",
		metric.WithDescription("Operational endpoint latency by route and status class."),
		metric.WithUnit("s"),
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

// RecordFrameDropped records one dropped outbound frame.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordTurnCommitted records one committed turn for speaker.
func (m *Metrics) RecordTurnCommitted(ctx context.Context, speaker string) {
	m.TurnsCommitted.Add(ctx, 1, metric.WithAttributes(attribute.String("speaker", speaker)))
}

// RecordSessionError records a fatal session error of the given kind.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordConnectDuration records the connect latency in seconds.
func (m *Metrics) RecordConnectDuration(ctx context.Context, seconds float64) {
	m.ConnectDuration.Record(ctx, seconds)
}
