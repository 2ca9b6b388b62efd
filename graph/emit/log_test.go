package emit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogEmitter_Text(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, false)

	emitter.Emit(Event{
		ThreadID: "t-1",
		Step:     3,
		NodeID:   "assistant",
		Msg:      "node completed",
		Meta:     map[string]interface{}{"next_node": "sensitive_tools"},
	})
	emitter.Emit(Event{ThreadID: "t-1", Step: 3, Msg: "interrupted"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}

	want := `[node completed] thread=t-1 step=3 node=assistant meta={"next_node":"sensitive_tools"}`
	if lines[0] != want {
		t.Errorf("line 0 = %q, want %q", lines[0], want)
	}
	if lines[1] != "[interrupted] thread=t-1 step=3" {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestLogEmitter_JSON(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, true)

	emitter.Emit(Event{
		ThreadID: "t-2",
		Step:     1,
		NodeID:   "safe_tools",
		Msg:      "node completed",
		Meta:     map[string]interface{}{"duration_ms": 12},
	})

	var decoded struct {
		Thread string                 `json:"thread"`
		Step   int                    `json:"step"`
		Node   string                 `json:"node"`
		Msg    string                 `json:"msg"`
		Meta   map[string]interface{} `json:"meta"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if decoded.Thread != "t-2" || decoded.Step != 1 || decoded.Node != "safe_tools" || decoded.Msg != "node completed" {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.Meta["duration_ms"] != float64(12) {
		t.Errorf("meta = %v", decoded.Meta)
	}
}

func TestLogEmitter_UnmarshalableMeta(t *testing.T) {
	var buf bytes.Buffer
	NewLogEmitter(&buf, true).Emit(Event{Msg: "x", Meta: map[string]interface{}{"ch": make(chan int)}})
	if !strings.Contains(buf.String(), "failed to marshal event") {
		t.Errorf("expected marshal error line, got %q", buf.String())
	}

	buf.Reset()
	NewLogEmitter(&buf, false).Emit(Event{Msg: "x", Meta: map[string]interface{}{"ch": make(chan int)}})
	if !strings.Contains(buf.String(), "meta=map[") {
		t.Errorf("expected fallback formatting, got %q", buf.String())
	}
}
