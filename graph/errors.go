package graph

import "errors"

// ErrMaxStepsExceeded indicates that a run reached the maximum allowed step
// count without reaching End or an interrupt. This prevents runaway loops
// such as an assistant that keeps rewriting its query.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// ErrThreadNotFound is returned by Resume, Inject and Snapshot for a thread
// with no checkpoints.
var ErrThreadNotFound = errors.New("thread not found")

// ErrThreadPaused is returned by Run when the thread is paused before an
// interrupt node. The caller must Resume or Inject instead.
var ErrThreadPaused = errors.New("thread is paused awaiting approval")

// EngineError represents an error from Engine operations.
//
// Code is one of NO_START_NODE, NODE_NOT_FOUND, DUPLICATE_NODE, NO_ROUTE,
// DUPLICATE_ROUTE, INVALID_ROUTE, UNDECLARED_LABEL, UNREACHABLE_END,
// INVALID_SCHEMA, INVALID_STATE, MAX_STEPS_EXCEEDED, NODE_TIMEOUT,
// STORE_ERROR, THREAD_NOT_FOUND or THREAD_PAUSED.
type EngineError struct {
	Message string
	Code    string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match engine errors carrying a sentinel code.
func (e *EngineError) Is(target error) bool {
	switch target {
	case ErrMaxStepsExceeded:
		return e.Code == "MAX_STEPS_EXCEEDED"
	case ErrThreadNotFound:
		return e.Code == "THREAD_NOT_FOUND"
	case ErrThreadPaused:
		return e.Code == "THREAD_PAUSED"
	}
	return false
}

// ErrorCode returns the EngineError or NodeError code carried by err, or
// the empty string.
func ErrorCode(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	var ne *NodeError
	if errors.As(err, &ne) {
		return ne.Code
	}
	return ""
}
