package store

import (
	"context"
	"testing"
)

func TestMemStore_CheckpointsAreImmutable(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore[TestState]()

	interrupts := []string{"gate"}
	_, err := st.Append(ctx, "t", Checkpoint[TestState]{State: TestState{Counter: 1}, NextNode: "gate", Interrupts: interrupts, Source: SourceLoop})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	interrupts[0] = "mutated"

	cp, _ := st.Latest(ctx, "t")
	cp.State.Counter = 42
	cp.Interrupts[0] = "mutated-again"

	again, _ := st.Latest(ctx, "t")
	if again.State.Counter != 1 {
		t.Errorf("stored state was mutated: %d", again.State.Counter)
	}
	if again.Interrupts[0] != "gate" {
		t.Errorf("stored interrupts were mutated: %v", again.Interrupts)
	}
}

func TestMemStore_JSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore[TestState]()
	_, _ = st.Append(ctx, "a", Checkpoint[TestState]{State: TestState{Message: "first"}, NextNode: "x", Source: SourceInput})
	_, _ = st.Append(ctx, "a", Checkpoint[TestState]{State: TestState{Message: "second"}, NextNode: "y", Source: SourceLoop})
	_, _ = st.Append(ctx, "b", Checkpoint[TestState]{State: TestState{Message: "other"}, NextNode: "z", Source: SourceInput})

	data, err := st.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}

	restored := NewMemStore[TestState]()
	if err := restored.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}

	if got := len(restored.Threads()); got != 2 {
		t.Fatalf("expected 2 threads, got %d", got)
	}
	cp, err := restored.Latest(ctx, "a")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if cp.Seq != 1 || cp.State.Message != "second" {
		t.Errorf("unexpected restored checkpoint: %+v", cp)
	}
	seq, _ := restored.Append(ctx, "a", Checkpoint[TestState]{NextNode: "x", Source: SourceLoop})
	if seq != 2 {
		t.Errorf("expected sequence 2 after restore, got %d", seq)
	}
}

func TestMemStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := NewMemStore[TestState]()
	if _, err := st.Append(ctx, "t", Checkpoint[TestState]{}); err == nil {
		t.Error("expected error for canceled context")
	}
}

func TestMemStore_Delete(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore[TestState]()
	var _ Deleter = st

	_, _ = st.Append(ctx, "a", Checkpoint[TestState]{State: TestState{Counter: 1}, NextNode: "x", Source: SourceInput})
	_, _ = st.Append(ctx, "b", Checkpoint[TestState]{State: TestState{Counter: 2}, NextNode: "x", Source: SourceInput})

	if err := st.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := st.Delete(ctx, "unknown"); err != nil {
		t.Errorf("Delete of unknown thread: %v", err)
	}

	if _, err := st.Latest(ctx, "a"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if ids := st.Threads(); len(ids) != 1 || ids[0] != "b" {
		t.Errorf("expected only thread b, got %v", ids)
	}

	seq, err := st.Append(ctx, "a", Checkpoint[TestState]{State: TestState{Counter: 3}, NextNode: "x", Source: SourceInput})
	if err != nil || seq != 0 {
		t.Errorf("expected a fresh thread at seq 0, got seq=%d err=%v", seq, err)
	}
}
