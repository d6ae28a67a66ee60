package telemetry

import (
	"context"

	sdklog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/workflow"
)

type (
	// workflowLogger adapts Temporal's replay-safe workflow logger to the SDK
	// Logger interface so subsystems can log uniformly from workflow code.
	// Entries are deduplicated by the engine during replay.
	workflowLogger struct {
		base sdklog.Logger
	}

	// temporalLogger adapts an SDK Logger to Temporal's log.Logger so the
	// Temporal client and workers emit through the same sink as the rest of
	// the SDK.
	temporalLogger struct {
		ctx  context.Context
		base Logger
	}
)

// NewWorkflowLogger returns a Logger backed by workflow.GetLogger. The
// context.Context passed to its methods is ignored; the workflow context
// captured here determines the log attributes (workflow id, run id, type).
func NewWorkflowLogger(wctx workflow.Context) Logger {
	return workflowLogger{base: workflow.GetLogger(wctx)}
}

// NewTemporalLogger returns a Temporal log.Logger that forwards to the given
// SDK Logger using ctx for output configuration.
func NewTemporalLogger(ctx context.Context, base Logger) sdklog.Logger {
	if base == nil {
		base = NewNoopLogger()
	}
	return temporalLogger{ctx: ctx, base: base}
}

func (l workflowLogger) Debug(_ context.Context, msg string, keyvals ...any) {
	l.base.Debug(msg, keyvals...)
}

func (l workflowLogger) Info(_ context.Context, msg string, keyvals ...any) {
	l.base.Info(msg, keyvals...)
}

func (l workflowLogger) Warn(_ context.Context, msg string, keyvals ...any) {
	l.base.Warn(msg, keyvals...)
}

func (l workflowLogger) Error(_ context.Context, msg string, keyvals ...any) {
	l.base.Error(msg, keyvals...)
}

func (l temporalLogger) Debug(msg string, keyvals ...any) {
	l.base.Debug(l.ctx, msg, keyvals...)
}

func (l temporalLogger) Info(msg string, keyvals ...any) {
	l.base.Info(l.ctx, msg, keyvals...)
}

func (l temporalLogger) Warn(msg string, keyvals ...any) {
	l.base.Warn(l.ctx, msg, keyvals...)
}

func (l temporalLogger) Error(msg string, keyvals ...any) {
	l.base.Error(l.ctx, msg, keyvals...)
}
