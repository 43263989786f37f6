// Package tracing wraps opentracing for the onboarding services. Spans are
// reported to whatever tracer is installed globally, a no-op one by default.
package tracing

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/opentracing/opentracing-go/log"
)

// LogError marks span as failed and records err on it. err is returned
// unchanged:
//
//	return nil, tracing.LogError(span, err)
func LogError(span opentracing.Span, err error) error {
	ext.Error.Set(span, true)
	span.LogFields(log.Error(err))
	return err
}

// InjectToHTTPHeader writes the context of span into h for an outgoing request.
func InjectToHTTPHeader(span opentracing.Span, h http.Header) {
	err := opentracing.GlobalTracer().Inject(span.Context(), opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(h))
	if err != nil {
		span.LogFields(log.String("trace-inject-error", err.Error()))
	}
}

// StartSpanFromContext starts a child span of the span in ctx, named after
// the calling function, for example "tenant.(*Builder).Build".
func StartSpanFromContext(ctx context.Context) (opentracing.Span, context.Context) {
	name, location := "unknown", "unknown"
	if pc, _, _, ok := runtime.Caller(1); ok {
		frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
		name = frame.Function[strings.LastIndex(frame.Function, "/")+1:]
		location = fmt.Sprintf("%s:%d", frame.File, frame.Line)
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, name)
	span.LogFields(log.String("location", location))
	return span, ctx
}
