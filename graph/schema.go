package graph

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// MergeKind selects how a node's update to a field combines with the
// existing value.
type MergeKind int

const (
	// MergeReplace overwrites the previous value (last writer wins).
	MergeReplace MergeKind = iota

	// MergeAppend concatenates the update to the previous sequence.
	MergeAppend
)

func (k MergeKind) String() string {
	switch k {
	case MergeAppend:
		return "append"
	default:
		return "replace"
	}
}

// MessagesField is the reserved field name for State.Messages.
const MessagesField = "messages"

// Schema is the per-field merge policy for State.
//
// The policy is declared once while the graph is built and applied
// uniformly by the engine; nodes return partial updates and never choose
// how they are merged. Messages are always appended. Context fields default
// to MergeReplace unless declared otherwise.
//
// Example:
//
//	schema := graph.NewSchema().
//	    Declare("documents", graph.MergeAppend).
//	    Declare("user_info", graph.MergeReplace)
type Schema struct {
	mu     sync.RWMutex
	fields map[string]MergeKind
	err    error
}

// NewSchema returns a schema with messages declared as MergeAppend.
func NewSchema() *Schema {
	return &Schema{
		fields: map[string]MergeKind{MessagesField: MergeAppend},
	}
}

// Declare sets the merge kind of a context field.
//
// Redeclaring "messages" as anything but MergeAppend is recorded as a
// configuration error and reported by Err and by the engine at compile time.
func (s *Schema) Declare(field string, kind MergeKind) *Schema {
	s.mu.Lock()
	defer s.mu.Unlock()

	if field == MessagesField && kind != MergeAppend {
		s.err = &EngineError{
			Message: "messages field must use append merge",
			Code:    "INVALID_SCHEMA",
		}
		return s
	}
	s.fields[field] = kind
	return s
}

// Err returns the first declaration error, if any.
func (s *Schema) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Kind returns the merge kind declared for field.
func (s *Schema) Kind(field string) MergeKind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fields[field]
}

// Fields returns the declared field names in sorted order.
func (s *Schema) Fields() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.fields))
	for name := range s.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply merges delta into prev and returns the result. Neither argument is
// modified.
func (s *Schema) Apply(prev, delta State) State {
	out := State{
		Messages: make([]Message, 0, len(prev.Messages)+len(delta.Messages)),
	}
	out.Messages = append(out.Messages, prev.Messages...)
	out.Messages = append(out.Messages, delta.Messages...)

	if len(prev.Context) == 0 && len(delta.Context) == 0 {
		return out
	}

	out.Context = make(map[string]interface{}, len(prev.Context)+len(delta.Context))
	for k, v := range prev.Context {
		out.Context[k] = v
	}
	for k, v := range delta.Context {
		if s.Kind(k) == MergeAppend {
			out.Context[k] = appendValues(out.Context[k], v)
			continue
		}
		out.Context[k] = v
	}
	return out
}

// Validate checks messages (shape and call ID references) and that every
// append-only context field holds a sequence.
func (s *Schema) Validate(state State) error {
	if err := s.Err(); err != nil {
		return err
	}
	if err := ValidateMessages(state.Messages); err != nil {
		return err
	}
	for k, v := range state.Context {
		if s.Kind(k) != MergeAppend || v == nil {
			continue
		}
		if kind := reflect.TypeOf(v).Kind(); kind != reflect.Slice && kind != reflect.Array {
			return fmt.Errorf("context field %q is append-only but holds %T", k, v)
		}
	}
	return nil
}

// appendValues concatenates two sequence values into a []interface{}.
// Non-sequence values are treated as a single element.
func appendValues(prev, next interface{}) []interface{} {
	out := toSlice(prev)
	return append(out, toSlice(next)...)
}

func toSlice(v interface{}) []interface{} {
	if v == nil {
		return nil
	}
	if s, ok := v.([]interface{}); ok {
		out := make([]interface{}, len(s))
		copy(out, s)
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []interface{}{v}
	}
	out := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
