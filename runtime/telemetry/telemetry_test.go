package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"goa.design/clue/log"
)

func TestLevelFromEnv(t *testing.T) {
	t.Setenv(EnvConsoleLogLevel, "")
	t.Setenv(EnvServerLogLevel, "")
	t.Setenv(EnvLegacyLogLevel, "")
	assert.Empty(t, LevelFromEnv())

	t.Setenv(EnvLegacyLogLevel, "debug")
	assert.Equal(t, "debug", LevelFromEnv(), "the deprecated spelling still counts")

	t.Setenv(EnvServerLogLevel, "warn")
	assert.Equal(t, "warn", LevelFromEnv())

	t.Setenv(EnvConsoleLogLevel, "info")
	assert.Equal(t, "info", LevelFromEnv(), "the console level wins")
}

func TestLogContextThreshold(t *testing.T) {
	t.Setenv(EnvConsoleLogLevel, "")
	t.Setenv(EnvServerLogLevel, "")
	t.Setenv(EnvLegacyLogLevel, "")

	var buf bytes.Buffer
	ctx := LogContext(context.Background(), "info")
	ctx = log.Context(ctx, log.WithOutput(&buf))
	NewClueLogger().Debug(ctx, "hidden")
	assert.Empty(t, buf.String(), "debug entries stay below the default threshold")

	buf.Reset()
	ctx = LogContext(context.Background(), "debug")
	ctx = log.Context(ctx, log.WithOutput(&buf))
	NewClueLogger().Debug(ctx, "shown", "key", "value")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "value")
}

func TestLogContextLevelFallsBackToEnv(t *testing.T) {
	t.Setenv(EnvConsoleLogLevel, "debug")
	t.Setenv(EnvServerLogLevel, "")
	t.Setenv(EnvLegacyLogLevel, "")

	var buf bytes.Buffer
	ctx := LogContext(context.Background(), "")
	ctx = log.Context(ctx, log.WithOutput(&buf))
	NewClueLogger().Debug(ctx, "from env")
	assert.Contains(t, buf.String(), "from env")
}

func TestLogFields(t *testing.T) {
	fields := logFields("the message", []any{"a", 1, 42, "dropped", "b"})
	require.Len(t, fields, 3)
	assert.Equal(t, log.KV{K: "msg", V: "the message"}, fields[0])
	assert.Equal(t, log.KV{K: "a", V: 1}, fields[1])
	assert.Equal(t, log.KV{K: "b", V: nil}, fields[2], "a trailing key pairs with nil")
}

func TestTagAttrs(t *testing.T) {
	attrs := tagAttrs([]string{"tenant", "acme", "dangling"})
	assert.Equal(t, []attribute.KeyValue{
		attribute.String("tenant", "acme"),
		attribute.String("dangling", ""),
	}, attrs)
}

func TestEventAttrs(t *testing.T) {
	attrs := eventAttrs([]any{
		"s", "v",
		"b", true,
		"i", 7,
		"i64", int64(8),
		"f", 1.5,
		"other", []string{"x"},
		9, "non-string key",
		"trailing",
	})
	assert.Equal(t, []attribute.KeyValue{
		attribute.String("s", "v"),
		attribute.Bool("b", true),
		attribute.Int("i", 7),
		attribute.Int64("i64", int64(8)),
		attribute.Float64("f", 1.5),
		attribute.String("other", "[x]"),
	}, attrs)
}

func TestDiscardIsInert(t *testing.T) {
	ctx := context.Background()

	l := NewNoopLogger()
	l.Debug(ctx, "m")
	l.Info(ctx, "m", "k", "v")
	l.Warn(ctx, "m")
	l.Error(ctx, "m")

	m := NewNoopMetrics()
	m.IncCounter("c", 1)
	m.RecordTimer("t", 0)
	m.RecordGauge("g", 2)

	tr := NewNoopTracer()
	sctx, span := tr.Start(ctx, "op")
	assert.Equal(t, ctx, sctx, "the context passes through untouched")
	span.AddEvent("e", "k", "v")
	span.SetStatus(codes.Error, "boom")
	span.RecordError(assert.AnError)
	span.End()
	tr.Span(ctx).End()
}

type recordedEntry struct {
	level string
	msg   string
	kv    []any
}

// recordingLogger captures entries for assertions.
type recordingLogger struct {
	entries []recordedEntry
}

func (r *recordingLogger) add(level, msg string, kv []any) {
	r.entries = append(r.entries, recordedEntry{level: level, msg: msg, kv: kv})
}

func (r *recordingLogger) Debug(_ context.Context, msg string, kv ...any) { r.add("debug", msg, kv) }
func (r *recordingLogger) Info(_ context.Context, msg string, kv ...any)  { r.add("info", msg, kv) }
func (r *recordingLogger) Warn(_ context.Context, msg string, kv ...any)  { r.add("warn", msg, kv) }
func (r *recordingLogger) Error(_ context.Context, msg string, kv ...any) { r.add("error", msg, kv) }

func TestTemporalLoggerForwards(t *testing.T) {
	rec := &recordingLogger{}
	tl := NewTemporalLogger(context.Background(), rec)

	tl.Debug("d")
	tl.Info("i", "k", "v")
	tl.Warn("w")
	tl.Error("e")

	require.Len(t, rec.entries, 4)
	assert.Equal(t, "debug", rec.entries[0].level)
	assert.Equal(t, "d", rec.entries[0].msg)
	assert.Equal(t, recordedEntry{level: "info", msg: "i", kv: []any{"k", "v"}}, rec.entries[1])
	assert.Equal(t, "warn", rec.entries[2].level)
	assert.Equal(t, "error", rec.entries[3].level)
}

func TestTemporalLoggerNilBase(t *testing.T) {
	tl := NewTemporalLogger(context.Background(), nil)
	tl.Info("dropped")
}
