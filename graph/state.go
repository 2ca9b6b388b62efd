package graph

import (
	"encoding/json"
	"fmt"
)

// State is the conversation record threaded through the graph.
//
// Messages only ever grow: the schema appends a node's messages to the
// existing sequence. Context holds auxiliary fields (resolved user profile,
// retrieved documents, grading verdicts) whose merge behaviour is declared
// per field in the Schema.
type State struct {
	Messages []Message             `json:"messages"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

// NewState returns a state holding the given messages.
func NewState(msgs ...Message) State {
	return State{Messages: msgs}
}

// Get returns the context value stored under key.
func (s State) Get(key string) (interface{}, bool) {
	if s.Context == nil {
		return nil, false
	}
	v, ok := s.Context[key]
	return v, ok
}

// GetString returns the context value under key when it is a string.
func (s State) GetString(key string) string {
	v, ok := s.Get(key)
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}

// With returns a delta that sets a single context field.
func With(key string, value interface{}) State {
	return State{Context: map[string]interface{}{key: value}}
}

// Clone returns a deep copy of the state.
func (s State) Clone() (State, error) {
	return deepCopy(s)
}

// deepCopy creates a deep copy of v using JSON round-trip serialization.
//
// Unexported fields are dropped and numbers held in interface values come
// back as float64, which is the same shape a state has after being loaded
// from a durable store. Nodes therefore see identical values on first run
// and after a restart.
func deepCopy[S any](v S) (S, error) {
	var zero S

	data, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal state: %w", err)
	}

	var copied S
	if err := json.Unmarshal(data, &copied); err != nil {
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return copied, nil
}
