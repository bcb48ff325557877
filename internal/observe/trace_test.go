package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider as the global one for
// the duration of the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureDefaultLogger redirects slog.Default into a buffer.
func captureDefaultLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestTraceID_EmptyWithoutSpan(t *testing.T) {
	if got := TraceID(context.Background()); got != "" {
		t.Errorf("TraceID(background) = %q, want empty", got)
	}
}

func TestStartSpan_RecordsSpanAndTraceID(t *testing.T) {
	exp := useTestTracer(t)

	ctx, span := StartSpan(context.Background(), "session.connect")
	tid := TraceID(ctx)
	span.End()

	if len(tid) != 32 {
		t.Errorf("TraceID length = %d, want 32", len(tid))
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "session.connect" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "session.connect")
	}
	if got := spans[0].SpanContext.TraceID().String(); got != tid {
		t.Errorf("span trace ID = %q, want %q", got, tid)
	}
}

func TestLogger_IncludesTraceAndSpanID(t *testing.T) {
	useTestTracer(t)
	buf := captureDefaultLogger(t)

	ctx, span := StartSpan(context.Background(), "dispatch")
	defer span.End()

	Logger(ctx).Info("chunk scheduled")

	out := buf.String()
	if !strings.Contains(out, "trace_id="+TraceID(ctx)) {
		t.Errorf("log line %q missing trace_id", out)
	}
	if !strings.Contains(out, "span_id=") {
		t.Errorf("log line %q missing span_id", out)
	}
}

func TestLogger_NoSpan(t *testing.T) {
	buf := captureDefaultLogger(t)

	Logger(context.Background()).Info("idle")

	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log line %q should not carry trace_id", buf.String())
	}
}

// ── Session context ─────────────────────────────────────────────────────────

func TestSessionID_RoundTrip(t *testing.T) {
	t.Parallel()
	if got := SessionID(context.Background()); got != "" {
		t.Errorf("SessionID(background) = %q, want empty", got)
	}
	ctx := WithSession(context.Background(), "sess-42")
	if got := SessionID(ctx); got != "sess-42" {
		t.Errorf("SessionID = %q, want %q", got, "sess-42")
	}
}

func TestStartSpan_CarriesSessionAttribute(t *testing.T) {
	exp := useTestTracer(t)

	_, span := StartSpan(WithSession(context.Background(), "sess-42"), "session.connect")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	var found bool
	for _, a := range spans[0].Attributes {
		if a == attribute.String(SessionKey, "sess-42") {
			found = true
		}
	}
	if !found {
		t.Errorf("span attributes %v missing %s=sess-42", spans[0].Attributes, SessionKey)
	}
}

func TestLogger_SessionWithoutSpan(t *testing.T) {
	buf := captureDefaultLogger(t)

	Logger(WithSession(context.Background(), "sess-42")).Warn("dropping malformed audio chunk")

	out := buf.String()
	if !strings.Contains(out, "session_id=sess-42") {
		t.Errorf("log line %q missing session_id", out)
	}
	if strings.Contains(out, "trace_id") {
		t.Errorf("log line %q should not carry trace_id", out)
	}
}

func TestLogger_SessionSurvivesDetachedContext(t *testing.T) {
	useTestTracer(t)
	buf := captureDefaultLogger(t)

	ctx, span := StartSpan(WithSession(context.Background(), "sess-42"), "session.connect")
	defer span.End()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	Logger(runCtx).Info("remote voice interrupted")

	out := buf.String()
	for _, want := range []string{"session_id=sess-42", "trace_id=" + TraceID(ctx)} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %q missing %q", out, want)
		}
	}
}
