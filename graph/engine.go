package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/langgraph-travel/graph/emit"
	"github.com/dshills/langgraph-travel/graph/store"
	"github.com/dshills/langgraph-travel/internal/log"
)

// Status is the outcome of a Run, Resume or Inject call.
type Status string

const (
	// StatusDone means the thread reached End.
	StatusDone Status = "done"

	// StatusPaused means the thread stopped before an interrupt node and
	// waits for Resume (approve) or Inject (reject).
	StatusPaused Status = "paused"
)

// ThreadStatus is derived from a thread's latest checkpoint.
type ThreadStatus string

const (
	ThreadRunnable   ThreadStatus = "runnable"
	ThreadPaused     ThreadStatus = "paused"
	ThreadTerminated ThreadStatus = "terminated"
)

// StatusOf derives the thread status from its latest checkpoint.
func StatusOf(cp store.Checkpoint[State]) ThreadStatus {
	switch {
	case cp.NextNode == End:
		return ThreadTerminated
	case cp.Interrupted():
		return ThreadPaused
	default:
		return ThreadRunnable
	}
}

// RunResult is returned by Run, Resume and Inject.
type RunResult struct {
	Status Status

	// State is the state of the last checkpoint written or loaded.
	State State

	// NextNode is End when done, or the gated node when paused.
	NextNode string

	// Seq is the sequence number of the thread's latest checkpoint.
	Seq int64

	// Appended holds the messages added to the thread during this call.
	// Run input messages are not included; an injected message is.
	Appended []Message
}

// Engine orchestrates interruptible, checkpointed graph execution.
//
// The Engine is the core runtime that:
//   - Holds the node registry and the router table
//   - Executes one node at a time per thread on a private copy of the state
//   - Merges node output through the Schema
//   - Appends a checkpoint after every node so a thread can stop at any
//     point and continue later, in this process or another
//   - Pauses before interrupt nodes until the thread is resumed or injected
//   - Emits observability events and records metrics
//
// Calls on the same thread are serialised; different threads run
// concurrently.
//
// Example:
//
//	schema := graph.NewSchema().Declare("user_info", graph.MergeReplace)
//	engine := graph.New(schema, store.NewMemStore[graph.State](), emit.NewNullEmitter(),
//	    graph.WithInterruptBefore("sensitive_tools"))
//	_ = engine.Add("assistant", assistant)
//	_ = engine.Add("sensitive_tools", graph.NewToolNode(bookHotel))
//	_ = engine.StartAt("assistant")
//	_ = engine.ConnectConditional("assistant", graph.ToolDispatch(),
//	    map[string]string{graph.LabelUseTools: "sensitive_tools"})
//	_ = engine.Connect("sensitive_tools", "assistant")
//
//	res, err := engine.Run(ctx, "thread-1", graph.NewState(graph.UserText("book hotel 42")))
type Engine struct {
	mu sync.RWMutex

	// schema merges partial state updates
	schema *Schema

	// nodes maps node IDs to Node implementations
	nodes map[string]Node

	// router holds one outgoing edge per node
	router *Router

	// startNode is the entry point for a new or terminated thread
	startNode string

	// store persists thread checkpoints
	store store.Store[State]

	// emitter receives observability events
	emitter emit.Emitter

	opts     Options
	optErr   error
	compiled bool
	locks    *threadLocks
}

// New creates a new Engine.
//
// A nil schema means NewSchema(). The emitter may be nil. Option errors are
// reported by Compile and by the first Run.
func New(schema *Schema, st store.Store[State], emitter emit.Emitter, opts ...Option) *Engine {
	if schema == nil {
		schema = NewSchema()
	}
	cfg := &engineConfig{}
	var optErr error
	for _, opt := range opts {
		if err := opt(cfg); err != nil && optErr == nil {
			optErr = err
		}
	}
	if cfg.opts.Logger == nil {
		cfg.opts.Logger = log.Default
	}
	return &Engine{
		schema:  schema,
		nodes:   make(map[string]Node),
		router:  NewRouter(),
		store:   st,
		emitter: emitter,
		opts:    cfg.opts,
		optErr:  optErr,
		locks:   newThreadLocks(),
	}
}

// Add registers a node in the workflow graph.
//
// Returns error if nodeID is empty or End, node is nil, or a node with
// this ID already exists.
func (e *Engine) Add(nodeID string, node Node) error {
	if nodeID == "" {
		return &EngineError{Message: "node ID cannot be empty"}
	}
	if nodeID == End {
		return &EngineError{Message: "node ID is reserved: " + End}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{
			Message: "duplicate node ID: " + nodeID,
			Code:    "DUPLICATE_NODE",
		}
	}

	e.nodes[nodeID] = node
	e.compiled = false
	return nil
}

// StartAt sets the entry point for workflow execution.
// The node must have been registered via Add() before calling StartAt.
func (e *Engine) StartAt(nodeID string) error {
	if nodeID == "" {
		return &EngineError{Message: "start node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{
			Message: "start node does not exist: " + nodeID,
			Code:    "NODE_NOT_FOUND",
		}
	}

	e.startNode = nodeID
	e.compiled = false
	return nil
}

// Connect adds an unconditional edge. Endpoint existence is checked by
// Compile so the graph can be wired in any order.
func (e *Engine) Connect(from, to string) error {
	if err := e.router.Connect(from, to); err != nil {
		return err
	}
	e.invalidate()
	return nil
}

// ConnectConditional adds a conditional edge with its declared label set.
// The classifier may also return End.
func (e *Engine) ConnectConditional(from string, classify Classifier, routes map[string]string) error {
	if err := e.router.ConnectConditional(from, classify, routes); err != nil {
		return err
	}
	e.invalidate()
	return nil
}

func (e *Engine) invalidate() {
	e.mu.Lock()
	e.compiled = false
	e.mu.Unlock()
}

// Router returns the engine's router table.
func (e *Engine) Router() *Router {
	return e.router
}

// Compile validates the graph. It is called lazily by Run, Resume and
// Inject; calling it up front reports wiring mistakes at startup.
//
// Checks: a start node is set, every node has a route, every edge endpoint
// is a registered node or End, and End is reachable from every node
// reachable from the start.
func (e *Engine) Compile() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.compiled {
		return nil
	}
	if err := e.validate(); err != nil {
		return err
	}
	e.compiled = true
	return nil
}

func (e *Engine) validate() error {
	if e.optErr != nil {
		return e.optErr
	}
	if err := e.schema.Err(); err != nil {
		return err
	}
	if e.store == nil {
		return &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}
	if e.startNode == "" {
		return &EngineError{
			Message: "start node not set (call StartAt before Run)",
			Code:    "NO_START_NODE",
		}
	}

	for id := range e.nodes {
		if _, ok := e.router.Edge(id); !ok {
			return &EngineError{Message: "node has no outgoing route: " + id, Code: "NO_ROUTE"}
		}
	}

	successors := make(map[string][]string)
	for _, edge := range e.router.Edges() {
		if _, ok := e.nodes[edge.From]; !ok {
			return &EngineError{Message: "edge from unknown node: " + edge.From, Code: "NODE_NOT_FOUND"}
		}
		for _, to := range edge.Targets() {
			if to == End {
				continue
			}
			if _, ok := e.nodes[to]; !ok {
				return &EngineError{
					Message: fmt.Sprintf("edge %s -> %s targets unknown node", edge.From, to),
					Code:    "NODE_NOT_FOUND",
				}
			}
		}
		successors[edge.From] = edge.Targets()
	}

	// Nodes that can reach End, by fixed point over the successor lists.
	reachesEnd := map[string]bool{End: true}
	for changed := true; changed; {
		changed = false
		for from, targets := range successors {
			if reachesEnd[from] {
				continue
			}
			for _, to := range targets {
				if reachesEnd[to] {
					reachesEnd[from] = true
					changed = true
					break
				}
			}
		}
	}

	visited := map[string]bool{e.startNode: true}
	queue := []string{e.startNode}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if !reachesEnd[id] {
			return &EngineError{
				Message: "end is unreachable from node: " + id,
				Code:    "UNREACHABLE_END",
			}
		}
		for _, to := range successors[id] {
			if to != End && !visited[to] {
				visited[to] = true
				queue = append(queue, to)
			}
		}
	}
	return nil
}

// Run starts or continues a thread with new input.
//
// Behaviour depends on the thread's latest checkpoint:
//   - no checkpoint: input becomes checkpoint 0 and execution starts at the
//     start node
//   - terminated: input is merged into the last state and execution starts
//     again at the start node
//   - runnable (a previous call stopped mid-pass): execution resumes from
//     the latest checkpoint and input is ignored
//   - paused: ErrThreadPaused; use Resume or Inject
func (e *Engine) Run(ctx context.Context, threadID string, input State, opts ...RunOption) (RunResult, error) {
	if threadID == "" {
		return RunResult{}, &EngineError{Message: "thread ID cannot be empty"}
	}
	if err := e.Compile(); err != nil {
		return RunResult{}, err
	}
	ro := buildRunOptions(opts)

	unlock := e.locks.lock(threadID)
	defer unlock()

	latest, err := e.store.Latest(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return e.start(ctx, threadID, State{}, input, ro)
	}
	if err != nil {
		return RunResult{}, e.fail(storeError("failed to load latest checkpoint", err))
	}

	switch StatusOf(latest) {
	case ThreadTerminated:
		return e.start(ctx, threadID, latest.State, input, ro)
	case ThreadPaused:
		return RunResult{}, e.fail(&EngineError{
			Message: fmt.Sprintf("thread %s is paused before %s", threadID, latest.NextNode),
			Code:    "THREAD_PAUSED",
		})
	}

	if len(input.Messages) > 0 || len(input.Context) > 0 {
		e.opts.Logger.Warnf("thread %s is mid-run at %s; ignoring new input", threadID, latest.NextNode)
		e.emit(ro, emit.Event{
			ThreadID: threadID,
			Step:     int(latest.Seq),
			NodeID:   latest.NextNode,
			Msg:      "input ignored",
		})
	}
	return e.loop(ctx, latest, e.interruptsFor(ro, latest), false, ro, len(latest.State.Messages))
}

// Resume continues a thread from its latest checkpoint without new input.
//
// On a paused thread the gated node executes: this is approval. On a
// terminated thread Resume returns StatusDone immediately.
func (e *Engine) Resume(ctx context.Context, threadID string, opts ...RunOption) (RunResult, error) {
	if err := e.Compile(); err != nil {
		return RunResult{}, err
	}
	ro := buildRunOptions(opts)

	unlock := e.locks.lock(threadID)
	defer unlock()

	latest, err := e.latest(ctx, threadID)
	if err != nil {
		return RunResult{}, e.fail(err)
	}
	approving := StatusOf(latest) == ThreadPaused
	return e.loop(ctx, latest, e.interruptsFor(ro, latest), approving, ro, len(latest.State.Messages))
}

// Inject applies msg to a thread as if the gated node had produced it.
//
// When the thread is paused the gated node is skipped: the message is
// merged and the next node is resolved from the gated node's edge. This is
// rejection. Otherwise the message is merged and the next node is
// unchanged. Execution then continues with normal interrupt checks.
func (e *Engine) Inject(ctx context.Context, threadID string, msg Message, opts ...RunOption) (RunResult, error) {
	return e.InjectMessages(ctx, threadID, []Message{msg}, opts...)
}

// InjectMessages is Inject for several messages written in one checkpoint,
// for example one tool result per call of a rejected request.
func (e *Engine) InjectMessages(ctx context.Context, threadID string, msgs []Message, opts ...RunOption) (RunResult, error) {
	if len(msgs) == 0 {
		return RunResult{}, fmt.Errorf("%w: nothing to inject", ErrInvalidMessage)
	}
	for _, msg := range msgs {
		if err := msg.Validate(); err != nil {
			return RunResult{}, err
		}
	}
	if err := e.Compile(); err != nil {
		return RunResult{}, err
	}
	ro := buildRunOptions(opts)

	unlock := e.locks.lock(threadID)
	defer unlock()

	latest, err := e.latest(ctx, threadID)
	if err != nil {
		return RunResult{}, e.fail(err)
	}

	merged := e.schema.Apply(latest.State, NewState(msgs...))
	if err := e.schema.Validate(merged); err != nil {
		return RunResult{}, e.fail(invalidState(err))
	}

	next, gated := latest.NextNode, ""
	if StatusOf(latest) == ThreadPaused {
		gated = latest.NextNode
		if next, err = e.router.Resolve(gated, merged); err != nil {
			return RunResult{}, e.fail(err)
		}
	}

	interrupts := e.interruptsFor(ro, latest)
	cp := store.Checkpoint[State]{
		State:      merged,
		NextNode:   next,
		Interrupts: interrupts,
		Node:       gated,
		Source:     store.SourceInject,
	}
	seq, err := e.store.Append(ctx, threadID, cp)
	if err != nil {
		return RunResult{}, e.fail(storeError("failed to append checkpoint", err))
	}
	cp.ThreadID, cp.Seq = threadID, seq
	e.opts.Metrics.IncCheckpoint(store.SourceInject)
	e.emit(ro, emit.Event{
		ThreadID: threadID,
		Step:     int(seq),
		NodeID:   gated,
		Msg:      "message injected",
		Meta: map[string]interface{}{
			"messages":  msgs,
			"next_node": next,
			"seq":       seq,
		},
	})

	return e.loop(ctx, cp, interrupts, false, ro, len(latest.State.Messages))
}

// Snapshot returns the thread's latest checkpoint.
func (e *Engine) Snapshot(ctx context.Context, threadID string) (store.Checkpoint[State], error) {
	return e.latest(ctx, threadID)
}

// History returns all checkpoints of the thread in sequence order.
func (e *Engine) History(ctx context.Context, threadID string) ([]store.Checkpoint[State], error) {
	if e.store == nil {
		return nil, &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}
	history, err := e.store.History(ctx, threadID)
	if err != nil {
		return nil, storeError("failed to load history", err)
	}
	return history, nil
}

func (e *Engine) latest(ctx context.Context, threadID string) (store.Checkpoint[State], error) {
	if e.store == nil {
		return store.Checkpoint[State]{}, &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}
	cp, err := e.store.Latest(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return cp, &EngineError{Message: "no checkpoints for thread " + threadID, Code: "THREAD_NOT_FOUND", Cause: err}
	}
	if err != nil {
		return cp, storeError("failed to load latest checkpoint", err)
	}
	return cp, nil
}

// start writes an input checkpoint positioned at the start node and runs.
func (e *Engine) start(ctx context.Context, threadID string, prev, input State, ro runOptions) (RunResult, error) {
	state := e.schema.Apply(prev, input)
	if err := e.schema.Validate(state); err != nil {
		return RunResult{}, e.fail(invalidState(err))
	}

	interrupts := e.opts.InterruptBefore
	if ro.interruptsSet {
		interrupts = ro.interrupts
	}

	cp := store.Checkpoint[State]{
		State:      state,
		NextNode:   e.startNode,
		Interrupts: interrupts,
		Source:     store.SourceInput,
	}
	seq, err := e.store.Append(ctx, threadID, cp)
	if err != nil {
		return RunResult{}, e.fail(storeError("failed to append checkpoint", err))
	}
	cp.ThreadID, cp.Seq = threadID, seq
	e.opts.Metrics.IncCheckpoint(store.SourceInput)
	e.emit(ro, emit.Event{
		ThreadID: threadID,
		Step:     int(seq),
		Msg:      "run started",
		Meta:     map[string]interface{}{"next_node": e.startNode},
	})

	return e.loop(ctx, cp, interrupts, false, ro, len(state.Messages))
}

// loop executes nodes from cp until End, an interrupt or an error.
//
// approving lets the first node run even though it is in interrupts.
// base is the message count that precedes this call's appended messages.
func (e *Engine) loop(ctx context.Context, cp store.Checkpoint[State], interrupts []string, approving bool, ro runOptions, base int) (RunResult, error) {
	threadID := cp.ThreadID
	state, next, seq := cp.State, cp.NextNode, cp.Seq

	cfg := ro.config
	cfg.ThreadID = threadID

	for steps := 0; ; {
		if next == End {
			e.opts.Metrics.IncRun(string(StatusDone))
			e.emit(ro, emit.Event{ThreadID: threadID, Step: int(seq), Msg: "run completed"})
			return newResult(StatusDone, state, next, seq, base), nil
		}

		if err := ctx.Err(); err != nil {
			return RunResult{}, e.fail(err)
		}

		if !approving && contains(interrupts, next) {
			e.opts.Metrics.IncInterrupt(next)
			e.opts.Metrics.IncRun(string(StatusPaused))
			e.opts.Logger.Infof("thread %s paused before %s", threadID, next)
			e.emit(ro, emit.Event{ThreadID: threadID, Step: int(seq), NodeID: next, Msg: "interrupted"})
			return newResult(StatusPaused, state, next, seq, base), nil
		}
		approving = false

		steps++
		if e.opts.MaxSteps > 0 && steps > e.opts.MaxSteps {
			return RunResult{}, e.fail(&EngineError{
				Message: fmt.Sprintf("thread %s exceeded %d steps", threadID, e.opts.MaxSteps),
				Code:    "MAX_STEPS_EXCEEDED",
			})
		}

		e.mu.RLock()
		node, exists := e.nodes[next]
		e.mu.RUnlock()
		if !exists {
			return RunResult{}, e.fail(&EngineError{
				Message: "node not found during execution: " + next,
				Code:    "NODE_NOT_FOUND",
			})
		}

		input, err := state.Clone()
		if err != nil {
			return RunResult{}, e.fail(invalidState(err))
		}

		started := time.Now()
		result, timeoutErr := executeNodeWithTimeout(ctx, node, next, input, cfg, e.opts.NodeTimeout)
		elapsed := time.Since(started)

		if timeoutErr != nil {
			e.opts.Metrics.RecordStepLatency(next, elapsed, "timeout")
			e.emit(ro, emit.Event{ThreadID: threadID, Step: int(seq), NodeID: next, Msg: "node timeout",
				Meta: map[string]interface{}{"error": timeoutErr.Error()}})
			return RunResult{}, e.fail(timeoutErr)
		}
		if err := ctx.Err(); err != nil {
			e.opts.Metrics.RecordStepLatency(next, elapsed, "error")
			return RunResult{}, e.fail(err)
		}
		if result.Err != nil {
			e.opts.Metrics.RecordStepLatency(next, elapsed, "error")
			nodeErr := wrapNodeError(next, result.Err)
			e.emit(ro, emit.Event{ThreadID: threadID, Step: int(seq), NodeID: next, Msg: "node error",
				Meta: map[string]interface{}{"error": nodeErr.Error()}})
			return RunResult{}, e.fail(nodeErr)
		}

		merged := e.schema.Apply(state, result.Delta)
		if err := e.schema.Validate(merged); err != nil {
			return RunResult{}, e.fail(invalidState(fmt.Errorf("node %s: %w", next, err)))
		}

		to, err := e.router.Resolve(next, merged)
		if err != nil {
			return RunResult{}, e.fail(err)
		}

		seq, err = e.store.Append(ctx, threadID, store.Checkpoint[State]{
			State:      merged,
			NextNode:   to,
			Interrupts: interrupts,
			Node:       next,
			Source:     store.SourceLoop,
		})
		if err != nil {
			return RunResult{}, e.fail(storeError("failed to append checkpoint", err))
		}

		e.opts.Metrics.RecordStepLatency(next, elapsed, "success")
		e.opts.Metrics.IncCheckpoint(store.SourceLoop)
		e.emit(ro, emit.Event{
			ThreadID: threadID,
			Step:     int(seq),
			NodeID:   next,
			Msg:      "node completed",
			Meta: map[string]interface{}{
				"messages":    copyMessages(merged.Messages[len(state.Messages):]),
				"next_node":   to,
				"seq":         seq,
				"duration_ms": elapsed.Milliseconds(),
			},
		})

		state, next = merged, to
	}
}

func (e *Engine) interruptsFor(ro runOptions, latest store.Checkpoint[State]) []string {
	if ro.interruptsSet {
		return ro.interrupts
	}
	return latest.Interrupts
}

func (e *Engine) emit(ro runOptions, event emit.Event) {
	if e.emitter != nil {
		e.emitter.Emit(event)
	}
	if ro.emitter != nil {
		ro.emitter.Emit(event)
	}
}

func (e *Engine) fail(err error) error {
	e.opts.Metrics.IncRun("error")
	return err
}

func newResult(status Status, state State, next string, seq int64, base int) RunResult {
	var appended []Message
	if base < len(state.Messages) {
		appended = copyMessages(state.Messages[base:])
	}
	return RunResult{
		Status:   status,
		State:    state,
		NextNode: next,
		Seq:      seq,
		Appended: appended,
	}
}

func wrapNodeError(nodeID string, err error) error {
	var ne *NodeError
	if errors.As(err, &ne) {
		if ne.NodeID != "" {
			return err
		}
		wrapped := *ne
		wrapped.NodeID = nodeID
		return &wrapped
	}
	return &NodeError{Message: err.Error(), NodeID: nodeID, Cause: err}
}

func storeError(msg string, err error) error {
	return &EngineError{Message: msg + ": " + err.Error(), Code: "STORE_ERROR", Cause: err}
}

func invalidState(err error) error {
	return &EngineError{Message: err.Error(), Code: "INVALID_STATE", Cause: err}
}

func copyMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
