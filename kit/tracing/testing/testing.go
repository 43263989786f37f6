package testing

import (
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/uber/jaeger-client-go"
)

// SetupInMemoryTracing installs a Jaeger tracer that samples every span into
// the returned reporter. The previous global tracer is restored when tb ends.
func SetupInMemoryTracing(tb testing.TB, service string) *jaeger.InMemoryReporter {
	tb.Helper()

	old := opentracing.GlobalTracer()
	reporter := jaeger.NewInMemoryReporter()
	tracer, closer := jaeger.NewTracer(service, jaeger.NewConstSampler(true), reporter)
	opentracing.SetGlobalTracer(tracer)

	tb.Cleanup(func() {
		_ = closer.Close()
		opentracing.SetGlobalTracer(old)
	})
	return reporter
}
