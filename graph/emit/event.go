// Package emit carries engine events to logs, in-memory buffers and
// OpenTelemetry traces.
package emit

// Event represents an observability event emitted during graph execution.
//
// The engine emits:
//   - "run started" when an input checkpoint is written
//   - "node completed" after every node checkpoint (Meta: messages,
//     next_node, seq, duration_ms)
//   - "node error" / "node timeout" when a node fails
//   - "interrupted" when a run pauses before an interrupt node
//   - "message injected" when a message is applied to a thread
//   - "input ignored" when Run is called on a runnable thread
//   - "run completed" when the run reaches End
type Event struct {
	// ThreadID identifies the conversation thread that emitted this event.
	ThreadID string

	// Step is the checkpoint sequence number the event refers to.
	Step int

	// NodeID identifies which node emitted this event.
	// Empty string for thread-level events.
	NodeID string

	// Msg is a human-readable description of the event.
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "duration_ms": Execution duration in milliseconds
	//   - "error": Error details
	//   - "next_node": Node the thread will execute next
	//   - "messages": Messages appended by the node
	Meta map[string]interface{}
}

type multi []Emitter

// Multi fans every event out to each non-nil emitter in order.
func Multi(emitters ...Emitter) Emitter {
	out := make(multi, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

func (m multi) Emit(event Event) {
	for _, e := range m {
		e.Emit(event)
	}
}
