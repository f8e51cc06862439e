// Package requestctx holds the per-request logger and trace so that low-level packages such as
// httpx can read them without importing observability.
package requestctx

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type (
	loggerKey struct{}
	traceKey  struct{}
)

// Trace identifies the server span handling a request.
type Trace struct {
	Project string
	TraceID string
	SpanID  string
	Sampled bool
}

// Resource is the value Cloud Logging groups entries by, or "" without a project.
func (t Trace) Resource() string {
	if t.Project == "" || t.TraceID == "" {
		return ""
	}
	return "projects/" + t.Project + "/traces/" + t.TraceID
}

// Header renders t in X-Cloud-Trace-Context form.
func (t Trace) Header() string {
	if t.TraceID == "" || t.SpanID == "" {
		return ""
	}
	flag := 0
	if t.Sampled {
		flag = 1
	}
	return fmt.Sprintf("%s/%s;o=%d", t.TraceID, t.SpanID, flag)
}

func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger reports the logger installed for the request, if any.
func Logger(ctx context.Context) (*zap.Logger, bool) {
	logger, ok := ctx.Value(loggerKey{}).(*zap.Logger)
	return logger, ok
}

func WithTrace(ctx context.Context, trace Trace) context.Context {
	return context.WithValue(ctx, traceKey{}, trace)
}

func TraceFrom(ctx context.Context) (Trace, bool) {
	trace, ok := ctx.Value(traceKey{}).(Trace)
	return trace, ok
}

func TraceID(ctx context.Context) string {
	trace, _ := TraceFrom(ctx)
	return trace.TraceID
}
