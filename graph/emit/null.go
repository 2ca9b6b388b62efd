package emit

// NullEmitter discards every event. It is the default when no emitter is
// configured.
type NullEmitter struct{}

// NewNullEmitter returns a NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit implements Emitter.
func (n *NullEmitter) Emit(Event) {}

// Func adapts a function to Emitter.
type Func func(Event)

// Emit implements Emitter.
func (f Func) Emit(event Event) { f(event) }
