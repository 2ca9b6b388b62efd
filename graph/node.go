package graph

import "context"

// Node represents a processing unit in the workflow graph.
//
// A node receives a private copy of the accumulated state together with the
// run's read-only configuration and returns a partial update. Nodes must not
// write checkpoints or otherwise reach into the engine; the engine merges the
// returned Delta through the Schema, resolves the next node and persists the
// result.
type Node interface {
	// Run executes the node's logic. A non-nil NodeResult.Err fails the run
	// without writing a checkpoint for this attempt.
	Run(ctx context.Context, state State, cfg RunConfig) NodeResult
}

// NodeResult represents the output of a node execution.
type NodeResult struct {
	// Delta is the partial state update produced by this node.
	// It will be merged with the current state using the Schema.
	Delta State

	// Err contains any error that occurred during node execution.
	Err error
}

// NodeFunc is a function adapter that implements the Node interface.
//
// Example:
//
//	greet := graph.NodeFunc(func(ctx context.Context, s graph.State, cfg graph.RunConfig) graph.NodeResult {
//	    return graph.NodeResult{Delta: graph.NewState(graph.AssistantText("hello"))}
//	})
type NodeFunc func(ctx context.Context, state State, cfg RunConfig) NodeResult

// Run implements the Node interface for NodeFunc.
func (f NodeFunc) Run(ctx context.Context, state State, cfg RunConfig) NodeResult {
	return f(ctx, state, cfg)
}

// RunConfig is the read-only key/value context handed to every node of a run,
// for example the caller identity.
type RunConfig struct {
	// ThreadID is the conversation thread being executed.
	ThreadID string

	values map[string]string
}

// NewRunConfig returns a RunConfig holding a copy of values.
func NewRunConfig(values map[string]string) RunConfig {
	cp := make(map[string]string, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return RunConfig{values: cp}
}

// Value returns the configured value for key.
func (c RunConfig) Value(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// With returns a copy of c with key set to value.
func (c RunConfig) With(key, value string) RunConfig {
	out := NewRunConfig(c.values)
	out.ThreadID = c.ThreadID
	out.values[key] = value
	return out
}

// Values returns a copy of all configured values.
func (c RunConfig) Values() map[string]string {
	cp := make(map[string]string, len(c.values))
	for k, v := range c.values {
		cp[k] = v
	}
	return cp
}

type runConfigKey struct{}

// ContextWithRunConfig returns ctx carrying cfg. Tool nodes use it so that
// tools can read run configuration such as the signed-in passenger.
func ContextWithRunConfig(ctx context.Context, cfg RunConfig) context.Context {
	return context.WithValue(ctx, runConfigKey{}, cfg)
}

// RunConfigFromContext returns the RunConfig stored by ContextWithRunConfig.
func RunConfigFromContext(ctx context.Context) (RunConfig, bool) {
	cfg, ok := ctx.Value(runConfigKey{}).(RunConfig)
	return cfg, ok
}

// NodeError represents an error that occurred during node execution.
// It provides structured error information for better observability and debugging.
type NodeError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code for programmatic handling.
	Code string

	// NodeID identifies which node produced this error.
	NodeID string

	// Cause is the underlying error that caused this NodeError.
	Cause error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying cause error for error wrapping support.
func (e *NodeError) Unwrap() error {
	return e.Cause
}
