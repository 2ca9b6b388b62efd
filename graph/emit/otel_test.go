package emit

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

func newRecorder(t *testing.T) (*OTelEmitter, *tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewOTelEmitter(tp.Tracer("test")), exporter, tp
}

func attributeMap(attrs []attribute.KeyValue) map[string]interface{} {
	m := make(map[string]interface{}, len(attrs))
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}

func TestOTelEmitter_Emit(t *testing.T) {
	emitter, exporter, _ := newRecorder(t)

	emitter.Emit(Event{
		ThreadID: "t-1",
		Step:     2,
		NodeID:   "assistant",
		Msg:      "node completed",
		Meta: map[string]interface{}{
			"next_node":   "safe_tools",
			"duration_ms": int64(40),
			"tokens_in":   120,
			"messages":    []string{"ignored"},
		},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != "node completed" {
		t.Errorf("span name = %q", span.Name)
	}

	attrs := attributeMap(span.Attributes)
	if attrs["langgraph.thread_id"] != "t-1" || attrs["langgraph.step"] != int64(2) || attrs["langgraph.node_id"] != "assistant" {
		t.Errorf("standard attributes = %v", attrs)
	}
	if attrs["langgraph.next_node"] != "safe_tools" {
		t.Errorf("next_node = %v", attrs["langgraph.next_node"])
	}
	if attrs["langgraph.llm.tokens_in"] != int64(120) {
		t.Errorf("tokens_in = %v", attrs["langgraph.llm.tokens_in"])
	}
	if _, ok := attrs["langgraph.messages"]; ok {
		t.Error("messages should not become an attribute")
	}

	if got := span.EndTime.Sub(span.StartTime); got != 40*time.Millisecond {
		t.Errorf("span duration = %v, want 40ms", got)
	}
}

func TestOTelEmitter_Error(t *testing.T) {
	emitter, exporter, _ := newRecorder(t)

	emitter.Emit(Event{ThreadID: "t-1", NodeID: "assistant", Msg: "node error", Meta: map[string]interface{}{"error": "model overloaded"}})

	span := exporter.GetSpans()[0]
	if span.Status.Code != codes.Error || span.Status.Description != "model overloaded" {
		t.Errorf("status = %+v", span.Status)
	}
	if len(span.Events) == 0 || span.Events[0].Name != "exception" {
		t.Errorf("expected recorded exception event, got %+v", span.Events)
	}
}

func TestOTelEmitter_EmitBatch(t *testing.T) {
	emitter, exporter, _ := newRecorder(t)

	emitter.EmitBatch(context.Background(), []Event{
		{ThreadID: "t-1", Step: 0, Msg: "run started"},
		{ThreadID: "t-1", Step: 1, NodeID: "fetch_user_info", Msg: "node completed"},
		{ThreadID: "t-1", Step: 1, Msg: "run completed"},
	})
	emitter.EmitBatch(context.Background(), nil)

	if n := len(exporter.GetSpans()); n != 3 {
		t.Errorf("expected 3 spans, got %d", n)
	}
}

func TestOTelEmitter_MetadataTypes(t *testing.T) {
	emitter, exporter, _ := newRecorder(t)

	emitter.Emit(Event{Msg: "types", Meta: map[string]interface{}{
		"s":        "x",
		"f":        1.5,
		"b":        true,
		"d":        2 * time.Second,
		"list":     []string{"a", "b"},
		"other":    struct{ A int }{A: 1},
		"cost_usd": 0.002,
	}})

	attrs := attributeMap(exporter.GetSpans()[0].Attributes)
	checks := map[string]interface{}{
		"langgraph.s":            "x",
		"langgraph.f":            1.5,
		"langgraph.b":            true,
		"langgraph.d":            int64(2000),
		"langgraph.other":        "{1}",
		"langgraph.llm.cost_usd": 0.002,
	}
	for k, want := range checks {
		if attrs[k] != want {
			t.Errorf("%s = %v (%T), want %v", k, attrs[k], attrs[k], want)
		}
	}
	if list, ok := attrs["langgraph.list"].([]string); !ok || len(list) != 2 {
		t.Errorf("list = %v", attrs["langgraph.list"])
	}
}

func TestFlush(t *testing.T) {
	_, _, tp := newRecorder(t)
	if err := Flush(context.Background(), tp); err != nil {
		t.Errorf("Flush(sdk provider) = %v", err)
	}
	if err := Flush(context.Background(), noop.NewTracerProvider()); err != nil {
		t.Errorf("Flush(noop provider) = %v", err)
	}
}
