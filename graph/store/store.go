// Package store provides checkpoint persistence for graph threads.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a thread has no checkpoints.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Checkpoint sources.
const (
	// SourceInput marks a checkpoint holding externally supplied input.
	SourceInput = "input"

	// SourceLoop marks a checkpoint written after a node executed.
	SourceLoop = "loop"

	// SourceInject marks a checkpoint holding an injected message.
	SourceInject = "inject"
)

// Checkpoint is an immutable snapshot of a thread after one step.
//
// Checkpoints are append-only: once a store acknowledges an Append the
// record is never modified. Seq is assigned by the store, starts at 0 and
// increases by one per append on the same thread.
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type Checkpoint[S any] struct {
	// ThreadID identifies the conversation thread.
	ThreadID string `json:"thread_id"`

	// Seq is the per-thread sequence number.
	Seq int64 `json:"seq"`

	// State is the full accumulated state after this step.
	State S `json:"state"`

	// NextNode is the node to execute next, or the terminal sentinel.
	NextNode string `json:"next_node"`

	// Interrupts is the interrupt-before set in force for the thread.
	Interrupts []string `json:"interrupts,omitempty"`

	// Node is the node whose execution produced this checkpoint.
	// Empty for input checkpoints.
	Node string `json:"node,omitempty"`

	// Source is one of SourceInput, SourceLoop or SourceInject.
	Source string `json:"source"`

	// CreatedAt is when the checkpoint was written.
	CreatedAt time.Time `json:"created_at"`
}

// Interrupted reports whether NextNode is in the interrupt set.
func (c Checkpoint[S]) Interrupted() bool {
	for _, n := range c.Interrupts {
		if n == c.NextNode {
			return true
		}
	}
	return false
}

// Store persists thread checkpoints.
//
// Implementations must serialize appends per thread so that sequence
// numbers are gapless and monotonic, while allowing appends to different
// threads to proceed concurrently. No ordering is guaranteed across threads.
//
// Type parameter S is the state type to persist.
type Store[S any] interface {
	// Append stores cp as the next checkpoint of threadID and returns its
	// sequence number. cp.Seq and cp.ThreadID are ignored; a zero CreatedAt
	// is set to the current time. The checkpoint must be durable before
	// Append returns.
	Append(ctx context.Context, threadID string, cp Checkpoint[S]) (int64, error)

	// Latest returns the checkpoint with the highest sequence number.
	// Returns ErrNotFound if the thread has no checkpoints.
	Latest(ctx context.Context, threadID string) (Checkpoint[S], error)

	// History returns all checkpoints of the thread ordered by sequence.
	// Returns an empty slice for unknown threads.
	History(ctx context.Context, threadID string) ([]Checkpoint[S], error)
}

// Deleter is implemented by stores that can drop a thread. Deleting an
// unknown thread is not an error.
type Deleter interface {
	Delete(ctx context.Context, threadID string) error
}

// prepare fills in store-owned fields before a checkpoint is written.
func prepare[S any](threadID string, seq int64, cp Checkpoint[S]) Checkpoint[S] {
	cp.ThreadID = threadID
	cp.Seq = seq
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	return cp
}
