package telemetry

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

// scopeName identifies the SDK's OTEL meter and tracer.
const scopeName = "github.com/xiansaiplatform/sdk-go"

// Environment variables consulted by LevelFromEnv, newest spelling first.
const (
	EnvConsoleLogLevel = "CONSOLE_LOG_LEVEL"
	EnvServerLogLevel  = "SERVER_LOG_LEVEL"
	EnvLegacyLogLevel  = "API_LOG_LEVEL"
)

type (
	// clueLogger writes through goa.design/clue/log. Format and threshold
	// come from the context, so callers pass contexts descended from
	// LogContext.
	clueLogger struct{}

	// otelMetrics records counters, timers and gauges on an OTEL meter.
	otelMetrics struct {
		meter metric.Meter
	}

	// otelTracer opens spans on an OTEL tracer.
	otelTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewClueLogger returns the Logger used by default across the SDK. It emits
// through goa.design/clue/log, honoring whatever format and threshold
// LogContext put on the context.
func NewClueLogger() Logger { return clueLogger{} }

// NewClueMetrics returns a Metrics recorder on the global OTEL MeterProvider
// under the SDK instrumentation scope. Install a provider with
// otel.SetMeterProvider (or clue's ConfigureOpenTelemetry) before use;
// without one the recordings vanish.
func NewClueMetrics() Metrics {
	return &otelMetrics{meter: otel.Meter(scopeName)}
}

// NewClueTracer returns a Tracer on the global OTEL TracerProvider under the
// SDK instrumentation scope. Install a provider with otel.SetTracerProvider
// (or clue's ConfigureOpenTelemetry, or the OTEL_EXPORTER_OTLP_* environment
// variables) before use.
func NewClueTracer() Tracer {
	return &otelTracer{tracer: otel.Tracer(scopeName)}
}

// LogContext prepares ctx for Clue output: terminal format on a TTY, JSON
// otherwise, with "debug" or "trace" lowering the threshold below the info
// default. An empty level falls back to the environment via LevelFromEnv.
// Further options layer on with log.Context.
func LogContext(ctx context.Context, level string) context.Context {
	if strings.TrimSpace(level) == "" {
		level = LevelFromEnv()
	}
	opts := []log.LogOption{log.WithFormat(log.FormatJSON)}
	if log.IsTerminal() {
		opts[0] = log.WithFormat(log.FormatTerminal)
	}
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		opts = append(opts, log.WithDebug())
	}
	return log.Context(ctx, opts...)
}

// LevelFromEnv resolves the log threshold from CONSOLE_LOG_LEVEL, falling
// back to SERVER_LOG_LEVEL and then the deprecated API_LOG_LEVEL. Empty when
// none is set.
func LevelFromEnv() string {
	for _, key := range []string{EnvConsoleLogLevel, EnvServerLogLevel, EnvLegacyLogLevel} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

func (clueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, logFields(msg, keyvals)...)
}

func (clueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, logFields(msg, keyvals)...)
}

func (clueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	log.Warn(ctx, logFields(msg, keyvals)...)
}

func (clueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, logFields(msg, keyvals)...)
}

func (m *otelMetrics) IncCounter(name string, value float64, tags ...string) {
	counter, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(tagAttrs(tags)...))
}

func (m *otelMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	histogram, err := m.meter.Float64Histogram(name, metric.WithUnit("s"))
	if err != nil {
		return
	}
	histogram.Record(context.Background(), duration.Seconds(), metric.WithAttributes(tagAttrs(tags)...))
}

func (m *otelMetrics) RecordGauge(name string, value float64, tags ...string) {
	gauge, err := m.meter.Float64Gauge(name)
	if err != nil {
		return
	}
	gauge.Record(context.Background(), value, metric.WithAttributes(tagAttrs(tags)...))
}

func (t *otelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, opts...)
	return ctx, otelSpan{span: span}
}

func (t *otelTracer) Span(ctx context.Context) Span {
	return otelSpan{span: trace.SpanFromContext(ctx)}
}

func (s otelSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s otelSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name, trace.WithAttributes(eventAttrs(attrs)...))
}

func (s otelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s otelSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

// logFields prefixes the message to the alternating key-value pairs. Pairs
// with a non-string key are dropped; a trailing key without a value maps to
// nil.
func logFields(msg string, keyvals []any) []log.Fielder {
	fields := make([]log.Fielder, 0, 1+(len(keyvals)+1)/2)
	fields = append(fields, log.KV{K: "msg", V: msg})
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		var val any
		if i+1 < len(keyvals) {
			val = keyvals[i+1]
		}
		fields = append(fields, log.KV{K: key, V: val})
	}
	return fields
}

// tagAttrs maps alternating tag strings onto metric attributes; a trailing
// key gets an empty value.
func tagAttrs(tags []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, (len(tags)+1)/2)
	for i := 0; i < len(tags); i += 2 {
		val := ""
		if i+1 < len(tags) {
			val = tags[i+1]
		}
		attrs = append(attrs, attribute.String(tags[i], val))
	}
	return attrs
}

// eventAttrs maps alternating key-value pairs onto typed span attributes.
// Values outside the attribute primitives print with %v; pairs with a
// non-string key or no value are dropped.
func eventAttrs(keyvals []any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		switch val := keyvals[i+1].(type) {
		case string:
			attrs = append(attrs, attribute.String(key, val))
		case bool:
			attrs = append(attrs, attribute.Bool(key, val))
		case int:
			attrs = append(attrs, attribute.Int(key, val))
		case int64:
			attrs = append(attrs, attribute.Int64(key, val))
		case float64:
			attrs = append(attrs, attribute.Float64(key, val))
		default:
			attrs = append(attrs, attribute.String(key, fmt.Sprintf("%v", val)))
		}
	}
	return attrs
}
