package cli

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dshills/langgraph-travel/internal/log"
)

// logExporter writes finished spans to the debug log.
type logExporter struct{}

func (logExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		log.Debugf("span %s trace=%s duration=%s status=%s",
			s.Name(), s.SpanContext().TraceID(), s.EndTime().Sub(s.StartTime()), s.Status().Code)
	}
	return nil
}

func (logExporter) Shutdown(context.Context) error { return nil }

func newTracerProvider() *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(logExporter{}))
}
