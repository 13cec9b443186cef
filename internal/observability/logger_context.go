// Package observability carries request-scoped logging context from the
// HTTP edge down to the pipeline workers.
package observability

import (
	"context"
	"log/slog"
)

type loggerContextKey struct{}

// requestIDContextKey stores the originating HTTP request_id so that batch
// workers can correlate their logs with the upload.
type requestIDContextKey struct{}

type batchIDContextKey struct{}

// ContextWithLogger attaches a non-nil logger to the context.
func ContextWithLogger(ctx context.Context, lg *slog.Logger) context.Context {
	if ctx == nil || lg == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey{}, lg)
}

// LoggerFromContext returns the logger stored in the context or the default
// slog logger when none is present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if lg, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok && lg != nil {
		return lg
	}
	return slog.Default()
}

// ContextWithRequestID stores a non-empty request_id in the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestIDFromContext retrieves the request_id from the context, or an empty
// string when none is present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	rid, _ := ctx.Value(requestIDContextKey{}).(string)
	return rid
}

// ContextWithBatch stores the batch id and rebinds the context logger so
// every line logged for the batch carries batch_id. The request logger
// already carries request_id; a bare context gets it added here.
func ContextWithBatch(ctx context.Context, batchID string) context.Context {
	if ctx == nil || batchID == "" {
		return ctx
	}
	_, hasLogger := ctx.Value(loggerContextKey{}).(*slog.Logger)
	lg := LoggerFromContext(ctx).With(slog.String("batch_id", batchID))
	if rid := RequestIDFromContext(ctx); rid != "" && !hasLogger {
		lg = lg.With(slog.String("request_id", rid))
	}
	ctx = context.WithValue(ctx, batchIDContextKey{}, batchID)
	return ContextWithLogger(ctx, lg)
}

// BatchIDFromContext returns the batch id or "".
func BatchIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(batchIDContextKey{}).(string)
	return id
}
