package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey int

const (
	tickIDKey ctxKey = iota
	serverKey
	requestIDKey
)

// WithTickID tags ctx with the monitor tick it belongs to.
func WithTickID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tickIDKey, id)
}

// WithServer tags ctx with the stream server entry being evaluated.
func WithServer(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, serverKey, name)
}

// WithRequestID tags ctx with an HTTP request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// TickID returns the tick id stored in ctx, if any.
func TickID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(tickIDKey).(string)
	return id, ok
}

// ContextLogger provides context-aware logging
type ContextLogger struct {
	logger *zap.Logger
}

// NewContextLogger creates a new context logger
func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{
		logger: logger,
	}
}

// WithContext adds the tick, server and request fields found in ctx.
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	fields := []zapcore.Field{}

	if id, ok := ctx.Value(tickIDKey).(string); ok {
		fields = append(fields, zap.String("tick_id", id))
	}
	if name, ok := ctx.Value(serverKey).(string); ok {
		fields = append(fields, zap.String("server", name))
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		fields = append(fields, zap.String("request_id", id))
	}

	if len(fields) == 0 {
		return cl.logger
	}

	return cl.logger.With(fields...)
}

// Sugar returns the sugared form of WithContext.
func (cl *ContextLogger) Sugar(ctx context.Context) *zap.SugaredLogger {
	return cl.WithContext(ctx).Sugar()
}

// LogRequest logs an HTTP request with context
func (cl *ContextLogger) LogRequest(ctx context.Context, method, path string, statusCode int, durationMs int64) {
	cl.WithContext(ctx).Info("http_request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status_code", statusCode),
		zap.Int64("duration_ms", durationMs),
	)
}

// LogError logs an error with context
func (cl *ContextLogger) LogError(ctx context.Context, err error, message string, fields ...zapcore.Field) {
	cl.WithContext(ctx).With(zap.Error(err)).Error(message, fields...)
}
