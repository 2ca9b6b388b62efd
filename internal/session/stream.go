package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/langgraph-travel/graph"
	"github.com/dshills/langgraph-travel/graph/emit"
)

// Event types sent by Send.
const (
	EventNode   = "node"
	EventDone   = "done"
	EventPaused = "paused"
	EventError  = "error"

	// EventIgnored reports that the message was not applied because the
	// thread resumed an unfinished run instead.
	EventIgnored = "ignored"
)

// Event is one item of a Send stream: node completions with the messages
// each node added, possibly preceded by an ignored event, then exactly one
// final done, paused or error event.
type Event struct {
	Type     string          `json:"type"`
	NodeID   string          `json:"node_id,omitempty"`
	Messages []graph.Message `json:"messages,omitempty"`
	NextNode string          `json:"next_node,omitempty"`
	Pending  *Action         `json:"pending_action,omitempty"`
	Notice   string          `json:"notice,omitempty"`
	Error    string          `json:"error,omitempty"`

	// Result is set on the final event of a successful run.
	Result *graph.RunResult `json:"-"`
	// Err is set on error events.
	Err error `json:"-"`
}

// Checkpoint summarizes one checkpoint of a thread.
type Checkpoint struct {
	Seq       int64     `json:"seq"`
	Node      string    `json:"node,omitempty"`
	Source    string    `json:"source"`
	NextNode  string    `json:"next_node"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
}

// Send runs the thread with a new user message and streams its progress.
// The channel is closed after the final event. A paused thread is refused
// with graph.ErrThreadPaused before anything runs.
//
// The run stops early when ctx is cancelled; events not yet received are
// dropped.
func (c *Controller) Send(ctx context.Context, threadID, text string) (<-chan Event, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	t := c.acquire(threadID)
	t.mu.Lock()
	paused, err := c.NeedsApproval(ctx, threadID)
	if err == nil && paused {
		err = fmt.Errorf("session %s: %w", threadID, graph.ErrThreadPaused)
	}
	if err != nil {
		t.mu.Unlock()
		c.release(threadID, t)
		return nil, err
	}

	events := make(chan Event, 16)
	send := func(ev Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
	progress := emit.Func(func(ev emit.Event) {
		switch ev.Msg {
		case "node completed":
			msgs, _ := ev.Meta["messages"].([]graph.Message)
			next, _ := ev.Meta["next_node"].(string)
			send(Event{Type: EventNode, NodeID: ev.NodeID, Messages: msgs, NextNode: next})
		case "input ignored":
			send(Event{Type: EventIgnored, NodeID: ev.NodeID, Notice: IgnoredNotice(ev.NodeID)})
		}
	})

	go func() {
		defer close(events)
		defer c.release(threadID, t)
		defer t.mu.Unlock()

		res, err := c.engine.Run(ctx, threadID, graph.NewState(graph.UserText(text)),
			graph.WithConfig(t.cfg), graph.WithEmitter(emit.Multi(t.tracker(), progress)))
		if err != nil {
			send(Event{Type: EventError, Error: err.Error(), Err: err})
			return
		}

		final := Event{Type: EventDone, NextNode: res.NextNode, Result: &res}
		if res.Status == graph.StatusPaused {
			final.Type = EventPaused
			final.Pending, err = c.pending(ctx, threadID, t)
			if err != nil {
				send(Event{Type: EventError, Error: err.Error(), Err: err})
				return
			}
		}
		send(final)
	}()
	return events, nil
}

// IgnoredNotice explains an EventIgnored to the user.
func IgnoredNotice(node string) string {
	return fmt.Sprintf("your message was not applied: the previous turn did not finish and was resumed at %s. Send it again once this turn completes.", node)
}

// Wait drains a Send stream and returns the run result.
func Wait(events <-chan Event) (graph.RunResult, error) {
	var (
		res  graph.RunResult
		err  error
		seen bool
	)
	for ev := range events {
		switch ev.Type {
		case EventDone, EventPaused:
			res, seen = *ev.Result, true
		case EventError:
			err = ev.Err
		}
	}
	if err == nil && !seen {
		err = context.Canceled
	}
	return res, err
}
