package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemStore is an in-memory implementation of Store[S].
//
// Designed for:
//   - Testing and development
//   - Single-process deployments where losing threads on restart is fine
//
// Each thread has its own lock, so appends to one thread never wait on
// another. Checkpoints are deep-copied on the way in and out; callers can
// not mutate stored history.
//
// Type parameter S is the state type to persist.
type MemStore[S any] struct {
	mu      sync.RWMutex
	threads map[string]*memThread[S]
}

type memThread[S any] struct {
	mu          sync.RWMutex
	checkpoints []Checkpoint[S]
}

// NewMemStore creates a new in-memory store.
//
// Example:
//
//	st := store.NewMemStore[graph.State]()
//	engine := graph.New(schema, st, emitter)
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		threads: make(map[string]*memThread[S]),
	}
}

func (m *MemStore[S]) thread(threadID string, create bool) *memThread[S] {
	m.mu.RLock()
	t, ok := m.threads[threadID]
	m.mu.RUnlock()
	if ok || !create {
		return t
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok = m.threads[threadID]; ok {
		return t
	}
	t = &memThread[S]{}
	m.threads[threadID] = t
	return t
}

// Append implements Store.
func (m *MemStore[S]) Append(ctx context.Context, threadID string, cp Checkpoint[S]) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t := m.thread(threadID, true)

	t.mu.Lock()
	defer t.mu.Unlock()

	seq := int64(len(t.checkpoints))
	stored, err := clone(prepare(threadID, seq, cp))
	if err != nil {
		return 0, err
	}
	t.checkpoints = append(t.checkpoints, stored)
	return seq, nil
}

// Latest implements Store.
func (m *MemStore[S]) Latest(ctx context.Context, threadID string) (Checkpoint[S], error) {
	if err := ctx.Err(); err != nil {
		return Checkpoint[S]{}, err
	}
	t := m.thread(threadID, false)
	if t == nil {
		return Checkpoint[S]{}, ErrNotFound
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.checkpoints) == 0 {
		return Checkpoint[S]{}, ErrNotFound
	}
	return clone(t.checkpoints[len(t.checkpoints)-1])
}

// History implements Store.
func (m *MemStore[S]) History(ctx context.Context, threadID string) ([]Checkpoint[S], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := m.thread(threadID, false)
	if t == nil {
		return []Checkpoint[S]{}, nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Checkpoint[S], 0, len(t.checkpoints))
	for _, cp := range t.checkpoints {
		c, err := clone(cp)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Delete implements Deleter.
func (m *MemStore[S]) Delete(ctx context.Context, threadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, threadID)
	return nil
}

// Threads returns the IDs of all threads with at least one checkpoint.
func (m *MemStore[S]) Threads() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.threads))
	for id := range m.threads {
		ids = append(ids, id)
	}
	return ids
}

// MarshalJSON serializes every thread, allowing a MemStore to be saved to a
// file and restored later.
func (m *MemStore[S]) MarshalJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]Checkpoint[S], len(m.threads))
	for id, t := range m.threads {
		t.mu.RLock()
		out[id] = t.checkpoints
		t.mu.RUnlock()
	}
	return json.Marshal(out)
}

// UnmarshalJSON replaces the store contents with the serialized threads.
func (m *MemStore[S]) UnmarshalJSON(data []byte) error {
	var in map[string][]Checkpoint[S]
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.threads = make(map[string]*memThread[S], len(in))
	for id, cps := range in {
		m.threads[id] = &memThread[S]{checkpoints: cps}
	}
	return nil
}

func clone[S any](cp Checkpoint[S]) (Checkpoint[S], error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	var out Checkpoint[S]
	if err := json.Unmarshal(data, &out); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return out, nil
}
