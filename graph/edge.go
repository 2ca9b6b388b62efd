// Package graph provides the interruptible graph execution engine: nodes,
// the router table, the state merge schema and the checkpointing run loop.
package graph

import (
	"fmt"
	"sort"
	"sync"
)

// End is the terminal sentinel. Routing to End finishes the run.
const End = "__end__"

// Classifier inspects the state and returns one label. Classifiers must be
// deterministic and must not perform I/O: they are re-evaluated when a
// thread is replayed.
type Classifier func(state State) string

// Edge is one entry of the router table.
//
// An unconditional edge has To set. A conditional edge has Classify and
// Routes set; the classifier's label is looked up in Routes. A classifier may
// always return End, whether or not it was declared.
type Edge struct {
	// From is the source node ID.
	From string

	// To is the destination of an unconditional edge.
	To string

	// Classify selects a label for a conditional edge.
	Classify Classifier

	// Routes maps each declared label to a destination node.
	Routes map[string]string
}

// Conditional reports whether the edge is conditional.
func (e Edge) Conditional() bool {
	return e.Classify != nil
}

// Targets returns every node the edge may route to, End included for
// conditional edges.
func (e Edge) Targets() []string {
	if !e.Conditional() {
		return []string{e.To}
	}
	seen := map[string]bool{End: true}
	out := []string{End}
	labels := make([]string, 0, len(e.Routes))
	for label := range e.Routes {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		to := e.Routes[label]
		if !seen[to] {
			seen[to] = true
			out = append(out, to)
		}
	}
	return out
}

// Router is the table from node name to outgoing edge. It is a pure mapping
// with no side effects.
type Router struct {
	mu    sync.RWMutex
	edges map[string]Edge
}

// NewRouter returns an empty router table.
func NewRouter() *Router {
	return &Router{edges: make(map[string]Edge)}
}

// Connect adds an unconditional edge.
func (r *Router) Connect(from, to string) error {
	if from == "" {
		return &EngineError{Message: "from node ID cannot be empty"}
	}
	if to == "" {
		return &EngineError{Message: "to node ID cannot be empty"}
	}
	return r.add(Edge{From: from, To: to})
}

// ConnectConditional adds a conditional edge with its declared label set.
func (r *Router) ConnectConditional(from string, classify Classifier, routes map[string]string) error {
	if from == "" {
		return &EngineError{Message: "from node ID cannot be empty"}
	}
	if classify == nil {
		return &EngineError{Message: "classifier cannot be nil"}
	}
	declared := make(map[string]string, len(routes))
	for label, to := range routes {
		if label == "" || to == "" {
			return &EngineError{
				Message: fmt.Sprintf("empty label or target in routes of %s", from),
				Code:    "INVALID_ROUTE",
			}
		}
		declared[label] = to
	}
	return r.add(Edge{From: from, Classify: classify, Routes: declared})
}

func (r *Router) add(e Edge) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.edges[e.From]; exists {
		return &EngineError{
			Message: "node already has an outgoing route: " + e.From,
			Code:    "DUPLICATE_ROUTE",
		}
	}
	r.edges[e.From] = e
	return nil
}

// Edge returns the outgoing edge of a node.
func (r *Router) Edge(from string) (Edge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.edges[from]
	return e, ok
}

// Edges returns all edges ordered by source node.
func (r *Router) Edges() []Edge {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Edge, 0, len(r.edges))
	for _, e := range r.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].From < out[j].From })
	return out
}

// Resolve returns the successor of from for the given state.
//
// Returns EngineError with code "NO_ROUTE" when from has no edge and
// "UNDECLARED_LABEL" when a classifier returns a label outside its declared
// set. Both are configuration errors and must not be retried.
func (r *Router) Resolve(from string, state State) (string, error) {
	e, ok := r.Edge(from)
	if !ok {
		return "", &EngineError{
			Message: "no valid route from node: " + from,
			Code:    "NO_ROUTE",
		}
	}
	if !e.Conditional() {
		return e.To, nil
	}

	label := e.Classify(state)
	if label == End {
		return End, nil
	}
	to, declared := e.Routes[label]
	if !declared {
		return "", &EngineError{
			Message: fmt.Sprintf("classifier for %s returned undeclared label %q", from, label),
			Code:    "UNDECLARED_LABEL",
		}
	}
	return to, nil
}
