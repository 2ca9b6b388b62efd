package emit

// Emitter receives events from graph execution.
//
// The engine calls Emit synchronously while holding the thread lock, so
// implementations should return quickly: buffer, hand off to a channel, or
// drop. Emit may be called concurrently for different threads and must not
// panic.
//
// Implementations in this package:
//   - LogEmitter: one text or JSON line per event
//   - BufferedEmitter: in-memory history per thread
//   - OTelEmitter: one OpenTelemetry span per event
//   - NullEmitter and Func: discard, or adapt a function
//
// Use Multi to fan out to several of them.
type Emitter interface {
	Emit(event Event)
}
