// Package requestctx carries the request-scoped logger and trace ids.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type (
	loggerKey struct{}
	traceKey  struct{}
)

var noop = zap.NewNop()

// TraceInfo identifies the span serving the request.
type TraceInfo struct {
	TraceID string
	SpanID  string
	Sampled bool
}

// WithLogger attaches logger to ctx. A nil logger attaches the no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noop
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger returns the request logger, or a no-op logger outside a request.
func Logger(ctx context.Context) *zap.Logger {
	return LoggerOr(ctx, noop)
}

// LoggerOr returns the request logger, or fallback when ctx carries none.
func LoggerOr(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && logger != noop {
		return logger
	}
	if fallback == nil {
		return noop
	}
	return fallback
}

// NoopLogger is the logger returned when nothing else is available.
func NoopLogger() *zap.Logger { return noop }

// WithTrace attaches trace ids to ctx.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(ctx, traceKey{}, info)
}

// Trace returns the trace ids attached to ctx.
func Trace(ctx context.Context) (TraceInfo, bool) {
	info, ok := ctx.Value(traceKey{}).(TraceInfo)
	return info, ok
}

// TraceID returns the trace id, or "".
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// Detached keeps ctx's values but drops its cancellation, for work that outlives the request.
// Callers bound it with their own deadline.
func Detached(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
