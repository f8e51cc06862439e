package observability

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quickcart/commerce/internal/platform/requestctx"
)

const defaultLogLevel = "info"

// NewLogger constructs a zap logger emitting Cloud Logging compatible JSON at the given level.
// Unknown levels fall back to info.
func NewLogger(level string) (*zap.Logger, error) {
	atomic := zap.NewAtomicLevel()
	if err := atomic.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil || level == "" {
		_ = atomic.UnmarshalText([]byte(defaultLogLevel))
	}

	encoderCfg := zapcore.EncoderConfig{
		MessageKey: "message",
		TimeKey:    "timestamp",
		LevelKey:   "severity",
		EncodeTime: zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(strings.ToUpper(level.String()))
		},
		EncodeDuration: zapcore.StringDurationEncoder,
		CallerKey:      "caller",
		EncodeCaller:   zapcore.ShortCallerEncoder,
		StacktraceKey:  "stacktrace",
	}

	cfg := zap.Config{
		Level:             atomic,
		Encoding:          "json",
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}

	return cfg.Build()
}

// WithLogger installs logger as the context logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// FromContext returns the context logger, or a no-op logger when none is installed.
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := requestctx.Logger(ctx); ok {
		return logger
	}
	return nopLogger
}

var nopLogger = zap.NewNop()

// eventLevels lists service events that are not informational.
var eventLevels = map[string]zapcore.Level{
	"inventory.reservation.partial": zapcore.ErrorLevel,
	"inventory.restock.failed":      zapcore.ErrorLevel,
	"return.restock.incomplete":     zapcore.ErrorLevel,
	"order.cart.clear_failed":       zapcore.WarnLevel,
	"order.event.publish_failed":    zapcore.WarnLevel,
	"order.persist.failed":          zapcore.ErrorLevel,
	"order.restock.incomplete":      zapcore.ErrorLevel,
	"user.deleted.duplicate":        zapcore.DebugLevel,
}

// ServiceLogger adapts zap to the func(ctx, event, fields) logger taken by the services. The
// request logger on ctx wins over base so entries keep their trace correlation.
func ServiceLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger, ok := requestctx.Logger(ctx)
		if !ok {
			logger = base
		}
		level, ok := eventLevels[event]
		if !ok {
			level = zapcore.InfoLevel
		}
		if ce := logger.Check(level, event); ce != nil {
			ce.Write(serviceFields(fields)...)
		}
	}
}

func serviceFields(fields map[string]any) []zap.Field {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, key := range keys {
		switch v := fields[key].(type) {
		case error:
			out = append(out, zap.NamedError(key, v))
		case fmt.Stringer:
			out = append(out, zap.Stringer(key, v))
		default:
			out = append(out, zap.Any(key, v))
		}
	}
	return out
}
