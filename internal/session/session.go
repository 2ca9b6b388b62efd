// Package session layers the approve/reject protocol over a graph engine
// whose runs pause before sensitive nodes.
//
// A Controller owns the per-thread run configuration and serializes calls
// on the same thread. Different threads proceed concurrently.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/langgraph-travel/graph"
	"github.com/dshills/langgraph-travel/graph/emit"
	"github.com/dshills/langgraph-travel/internal/log"
)

// ErrNotPaused is returned by Approve and Reject when the thread is not
// waiting for approval.
var ErrNotPaused = errors.New("thread is not awaiting approval")

// ErrEmptyMessage is returned by Send for blank input.
var ErrEmptyMessage = errors.New("message text is required")

// Anomaly kinds counted in langgraph_anomalies_total.
const (
	AnomalyNoPendingCall = "paused_without_tool_call"
	AnomalyNoCallID      = "reject_without_call_id"
)

// RejectContent returns the tool result shown to the model when the user
// denies a call.
func RejectContent(reason string) string {
	return fmt.Sprintf("API call denied by user. Reasoning: '%s'. Continue assisting, accounting for the user's input.", reason)
}

// Action is the tool call waiting for approval.
type Action struct {
	CallID string                 `json:"call_id"`
	Name   string                 `json:"name"`
	Args   map[string]interface{} `json:"args"`
}

// DefaultIdleTimeout is how long an unused thread record is kept.
const DefaultIdleTimeout = 24 * time.Hour

// PendingSelector picks the call that approval acts on from the calls of
// the paused request. It returns false when none applies.
type PendingSelector = graph.CallSelector

// FirstCall selects the first call. Approving it executes only that call;
// the other calls of the request are answered with
// graph.NotExecutedContent and must be requested again.
func FirstCall(calls []graph.ToolCall) (graph.ToolCall, bool) {
	return graph.FirstCall(calls)
}

// Snapshot is the observable state of a thread.
type Snapshot struct {
	ThreadID      string             `json:"thread_id"`
	State         graph.State        `json:"state"`
	NextNode      string             `json:"next_node"`
	Status        graph.ThreadStatus `json:"status"`
	Seq           int64              `json:"seq"`
	NeedsApproval bool               `json:"needs_approval"`
	Pending       *Action            `json:"pending_action,omitempty"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithMetrics counts anomalies in metrics.
func WithMetrics(metrics *graph.PrometheusMetrics) Option {
	return func(c *Controller) { c.metrics = metrics }
}

// WithPendingSelector replaces FirstCall.
func WithPendingSelector(sel PendingSelector) Option {
	return func(c *Controller) { c.selector = sel }
}

// WithIdleTimeout sets how long a thread record without callers is kept
// before it is forgotten. Zero keeps records forever. A forgotten thread
// runs with the defaults, like a thread started by an earlier process.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Controller) { c.idle = d }
}

// WithDefaults sets run configuration values applied to every thread
// unless Start overrides them.
func WithDefaults(values map[string]string) Option {
	return func(c *Controller) {
		c.defaults = make(map[string]string, len(values))
		for k, v := range values {
			c.defaults[k] = v
		}
	}
}

// Controller drives conversation threads of one engine.
type Controller struct {
	engine   *graph.Engine
	metrics  *graph.PrometheusMetrics
	selector PendingSelector
	defaults map[string]string

	idle time.Duration
	now  func() time.Time

	mu        sync.Mutex
	threads   map[string]*thread
	lastSweep time.Time
}

type thread struct {
	mu       sync.Mutex
	cfg      graph.RunConfig
	started  bool
	lastCall *graph.ToolCall

	// Guarded by Controller.mu.
	refs     int
	lastUsed time.Time
}

// New creates a controller for engine.
func New(engine *graph.Engine, opts ...Option) *Controller {
	c := &Controller{
		engine:   engine,
		selector: FirstCall,
		idle:     DefaultIdleTimeout,
		now:      time.Now,
		threads:  make(map[string]*thread),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start registers a thread and returns its id. An empty threadID gets a
// new one. values are merged over the controller defaults and passed to
// every node of the thread's runs.
func (c *Controller) Start(ctx context.Context, threadID string, values map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if threadID == "" {
		threadID = uuid.NewString()
	}

	merged := make(map[string]string, len(c.defaults)+len(values))
	for k, v := range c.defaults {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}
	cfg := graph.NewRunConfig(merged)
	cfg.ThreadID = threadID

	t := c.acquire(threadID)
	defer c.release(threadID, t)
	t.mu.Lock()
	t.cfg, t.started = cfg, true
	t.mu.Unlock()

	log.Debugf("session %s started", threadID)
	return threadID, nil
}

// acquire returns the thread record, creating one with the defaults for
// threads that were started in an earlier process. Every acquire is paired
// with a release.
func (c *Controller) acquire(threadID string) *thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweep()

	t, ok := c.threads[threadID]
	if !ok {
		cfg := graph.NewRunConfig(c.defaults)
		cfg.ThreadID = threadID
		t = &thread{cfg: cfg}
		c.threads[threadID] = t
	}
	t.refs++
	return t
}

// release drops a reference. A record holding nothing beyond the defaults
// is forgotten as soon as nobody uses it.
func (c *Controller) release(threadID string, t *thread) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t.refs--
	t.lastUsed = c.now()
	if t.refs == 0 && !t.started && t.lastCall == nil {
		delete(c.threads, threadID)
	}
}

// sweep forgets records unused for longer than the idle timeout. It runs
// at most four times per timeout. c.mu must be held.
func (c *Controller) sweep() {
	now := c.now()
	if c.idle <= 0 || now.Sub(c.lastSweep) < c.idle/4 {
		return
	}
	c.lastSweep = now
	for id, t := range c.threads {
		if t.refs == 0 && now.Sub(t.lastUsed) > c.idle {
			delete(c.threads, id)
			log.Debugf("session %s forgotten after %s idle", id, c.idle)
		}
	}
}

func (c *Controller) anomaly(kind, threadID string) {
	log.Warnf("session %s: %s", threadID, strings.ReplaceAll(kind, "_", " "))
	c.metrics.IncAnomaly(kind)
}

// NeedsApproval reports whether the thread is paused before an interrupt
// node. Unknown threads do not need approval.
func (c *Controller) NeedsApproval(ctx context.Context, threadID string) (bool, error) {
	cp, err := c.engine.Snapshot(ctx, threadID)
	if errors.Is(err, graph.ErrThreadNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return graph.StatusOf(cp) == graph.ThreadPaused, nil
}

// PendingAction returns the tool call waiting for approval, or nil when
// the thread is not paused. A paused thread without a tool call is an
// inconsistent state: it is logged and counted, and nil is returned.
func (c *Controller) PendingAction(ctx context.Context, threadID string) (*Action, error) {
	t := c.acquire(threadID)
	defer c.release(threadID, t)
	t.mu.Lock()
	defer t.mu.Unlock()
	return c.pending(ctx, threadID, t)
}

func (c *Controller) pending(ctx context.Context, threadID string, t *thread) (*Action, error) {
	_, action, err := c.request(ctx, threadID, t)
	return action, err
}

// request returns the calls of the paused request and the one approval
// acts on. Both are nil when the thread is not paused.
func (c *Controller) request(ctx context.Context, threadID string, t *thread) ([]graph.ToolCall, *Action, error) {
	cp, err := c.engine.Snapshot(ctx, threadID)
	if errors.Is(err, graph.ErrThreadNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if graph.StatusOf(cp) != graph.ThreadPaused {
		return nil, nil, nil
	}

	if last, ok := graph.LastMessage(cp.State.Messages); ok && last.HasToolCalls() {
		if call, ok := c.selector(last.ToolCalls); ok {
			t.lastCall = &call
			return last.ToolCalls, &Action{CallID: call.ID, Name: call.Name, Args: call.Args}, nil
		}
	}
	c.anomaly(AnomalyNoPendingCall, threadID)
	return nil, nil, nil
}

// Approve executes the pending action, and only that call, then continues
// the run. It returns the messages appended during the call.
func (c *Controller) Approve(ctx context.Context, threadID string) ([]graph.Message, error) {
	t := c.acquire(threadID)
	defer c.release(threadID, t)
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := c.requirePaused(ctx, threadID); err != nil {
		return nil, err
	}
	action, err := c.pending(ctx, threadID, t)
	if err != nil {
		return nil, err
	}
	// Nothing was shown, so nothing may run.
	approved := graph.PlaceholderCallID
	if action != nil {
		approved = action.CallID
	}
	cfg := t.cfg.With(graph.ApprovedCallKey, approved)

	res, err := c.engine.Resume(ctx, threadID, graph.WithConfig(cfg), graph.WithEmitter(t.tracker()))
	if err != nil {
		return nil, err
	}
	log.Infof("session %s: approved, run %s", threadID, res.Status)
	return res.Appended, nil
}

// Reject answers the pending call with a denial carrying reason instead of
// executing it, then continues the run from the decision node. Every other
// call of the request is answered with graph.NotExecutedContent. It returns
// the messages appended during the call, the tool results first.
func (c *Controller) Reject(ctx context.Context, threadID, reason string) ([]graph.Message, error) {
	t := c.acquire(threadID)
	defer c.release(threadID, t)
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := c.requirePaused(ctx, threadID); err != nil {
		return nil, err
	}

	calls, action, err := c.request(ctx, threadID, t)
	if err != nil {
		return nil, err
	}
	var results []graph.Message
	switch {
	case action != nil:
		for _, call := range calls {
			content := graph.NotExecutedContent
			if call.ID == action.CallID {
				content = RejectContent(reason)
			}
			results = append(results, graph.ToolResult(call.ID, call.Name, content))
		}
	case t.lastCall != nil:
		results = append(results, graph.ToolResult(t.lastCall.ID, t.lastCall.Name, RejectContent(reason)))
	default:
		c.anomaly(AnomalyNoCallID, threadID)
		results = append(results, graph.ToolResult(graph.PlaceholderCallID, "", RejectContent(reason)))
	}

	res, err := c.engine.InjectMessages(ctx, threadID, results, graph.WithConfig(t.cfg), graph.WithEmitter(t.tracker()))
	if err != nil {
		return nil, err
	}
	log.Infof("session %s: rejected %d call(s), run %s", threadID, len(results), res.Status)
	return res.Appended, nil
}

func (c *Controller) requirePaused(ctx context.Context, threadID string) error {
	cp, err := c.engine.Snapshot(ctx, threadID)
	if err != nil {
		return err
	}
	if graph.StatusOf(cp) != graph.ThreadPaused {
		return fmt.Errorf("session %s: %w", threadID, ErrNotPaused)
	}
	return nil
}

// GetState returns the thread's latest state, next node and, when paused,
// the pending action.
func (c *Controller) GetState(ctx context.Context, threadID string) (Snapshot, error) {
	t := c.acquire(threadID)
	defer c.release(threadID, t)
	t.mu.Lock()
	defer t.mu.Unlock()

	cp, err := c.engine.Snapshot(ctx, threadID)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		ThreadID: threadID,
		State:    cp.State,
		NextNode: cp.NextNode,
		Status:   graph.StatusOf(cp),
		Seq:      cp.Seq,
	}
	if snap.Status == graph.ThreadPaused {
		snap.NeedsApproval = true
		if snap.Pending, err = c.pending(ctx, threadID, t); err != nil {
			return Snapshot{}, err
		}
	}
	return snap, nil
}

// History returns every checkpoint of the thread.
func (c *Controller) History(ctx context.Context, threadID string) ([]Checkpoint, error) {
	cps, err := c.engine.History(ctx, threadID)
	if err != nil {
		return nil, err
	}
	out := make([]Checkpoint, len(cps))
	for i, cp := range cps {
		out[i] = Checkpoint{
			Seq:       cp.Seq,
			Node:      cp.Node,
			Source:    cp.Source,
			NextNode:  cp.NextNode,
			Messages:  len(cp.State.Messages),
			CreatedAt: cp.CreatedAt,
		}
	}
	return out, nil
}

// tracker remembers the last tool call the thread produced, the fallback
// call id for Reject.
func (t *thread) tracker() emit.Emitter {
	return emit.Func(func(ev emit.Event) {
		msgs, _ := ev.Meta["messages"].([]graph.Message)
		if call, ok := graph.LastToolCall(msgs); ok {
			t.lastCall = &call
		}
	})
}
