package graph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// executeNodeWithTimeout runs node with an optional deadline.
//
// When timeout is 0 the node runs with the caller's context. Otherwise a
// derived context is cancelled after timeout and, if the deadline fired,
// a NODE_TIMEOUT EngineError is returned alongside whatever the node
// produced. The caller must discard that result.
func executeNodeWithTimeout(
	ctx context.Context,
	node Node,
	nodeID string,
	state State,
	cfg RunConfig,
	timeout time.Duration,
) (NodeResult, error) {
	if timeout <= 0 {
		return node.Run(ctx, state, cfg), nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := node.Run(timeoutCtx, state, cfg)

	if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return result, &EngineError{
			Message: fmt.Sprintf("node %s exceeded timeout of %v", nodeID, timeout),
			Code:    "NODE_TIMEOUT",
			Cause:   context.DeadlineExceeded,
		}
	}

	return result, nil
}
