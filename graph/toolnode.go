package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dshills/langgraph-travel/graph/tool"
	"github.com/dshills/langgraph-travel/internal/log"
)

// ToolNode executes the tool calls of the latest message and answers each
// with a tool-result message.
//
// Tool failures never fail the run. An error returned by a tool, or a call
// naming an unknown tool, becomes the result content
//
//	Error: <err>
//	 please fix your mistakes.
//
// so the model can correct its call on the next turn. Only context
// cancellation is propagated as a node error. Tools can read the run
// configuration with RunConfigFromContext.
//
// A gated ToolNode (see Gate) executes at most one call per run.
type ToolNode struct {
	tools map[string]tool.Tool
	order []tool.Tool
	gate  CallSelector
}

// ApprovedCallKey is the RunConfig key naming the call a gated ToolNode
// executes. Approval sets it to the call that was shown to the user.
const ApprovedCallKey = "approved_call_id"

// NotExecutedContent answers the calls a gated ToolNode skipped.
const NotExecutedContent = "Not executed: each action needs its own approval. Request it again if it is still needed."

// CallSelector picks the call that approval acts on from the calls of one
// request. It returns false when none applies.
type CallSelector func(calls []ToolCall) (ToolCall, bool)

// FirstCall selects the first call.
func FirstCall(calls []ToolCall) (ToolCall, bool) {
	if len(calls) == 0 {
		return ToolCall{}, false
	}
	return calls[0], true
}

// NewToolNode returns a node that dispatches to the given tools by name.
// Later tools with a duplicate name replace earlier ones.
func NewToolNode(tools ...tool.Tool) *ToolNode {
	n := &ToolNode{tools: make(map[string]tool.Tool, len(tools))}
	for _, t := range tools {
		if _, dup := n.tools[t.Name()]; !dup {
			n.order = append(n.order, t)
		}
		n.tools[t.Name()] = t
	}
	return n
}

// Gate restricts n to one call per execution: the call named by the run's
// ApprovedCallKey value, or the one sel picks when the value is unset
// (sel defaults to FirstCall). Every other call is answered with
// NotExecutedContent. It returns n.
func (n *ToolNode) Gate(sel CallSelector) *ToolNode {
	if sel == nil {
		sel = FirstCall
	}
	n.gate = sel
	return n
}

// selected returns the id of the call a gated node executes, or "" when
// none may run.
func (n *ToolNode) selected(calls []ToolCall, cfg RunConfig) string {
	if id, ok := cfg.Value(ApprovedCallKey); ok && id != "" {
		for _, call := range calls {
			if call.ID == id {
				return id
			}
		}
		log.Warnf("approved call %s is not part of the pending request", id)
		return ""
	}
	if call, ok := n.gate(calls); ok {
		return call.ID
	}
	return ""
}

// Tools returns the registered tools in registration order.
func (n *ToolNode) Tools() []tool.Tool {
	out := make([]tool.Tool, 0, len(n.order))
	for _, t := range n.order {
		out = append(out, n.tools[t.Name()])
	}
	return out
}

// Run implements Node.
func (n *ToolNode) Run(ctx context.Context, state State, cfg RunConfig) NodeResult {
	last, ok := LastMessage(state.Messages)
	if !ok || !last.HasToolCalls() {
		return NodeResult{Err: &NodeError{
			Message: "tool node reached without a pending tool call",
			Code:    "NO_TOOL_CALL",
		}}
	}

	var only string
	if n.gate != nil {
		only = n.selected(last.ToolCalls, cfg)
	}

	ctx = ContextWithRunConfig(ctx, cfg)
	results := make([]Message, 0, len(last.ToolCalls))
	for _, call := range last.ToolCalls {
		if n.gate != nil && call.ID != only {
			results = append(results, ToolResult(call.ID, call.Name, NotExecutedContent))
			continue
		}
		content, err := n.invoke(ctx, call)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return NodeResult{Err: ctxErr}
		}
		if err != nil {
			log.Warnf("tool %s (%s) failed: %v", call.Name, call.ID, err)
			content = ToolErrorContent(err)
		}
		results = append(results, ToolResult(call.ID, call.Name, content))
	}

	return NodeResult{Delta: NewState(results...)}
}

func (n *ToolNode) invoke(ctx context.Context, call ToolCall) (string, error) {
	t, ok := n.tools[call.Name]
	if !ok {
		return "", fmt.Errorf("%s is not a valid tool, try one of %v", call.Name, n.names())
	}

	args := call.Args
	if args == nil {
		args = map[string]interface{}{}
	}
	out, err := t.Call(ctx, args)
	if err != nil {
		return "", err
	}
	return ResultContent(out)
}

func (n *ToolNode) names() []string {
	names := make([]string, len(n.order))
	for i, t := range n.order {
		names[i] = t.Name()
	}
	return names
}

// ToolErrorContent formats a tool failure as the content shown to the model.
func ToolErrorContent(err error) string {
	return fmt.Sprintf("Error: %v\n please fix your mistakes.", err)
}

// ResultContent renders a tool output as message content: a string
// "content" value verbatim, otherwise the whole output as JSON.
func ResultContent(out map[string]interface{}) (string, error) {
	if s, ok := out["content"].(string); ok {
		return s, nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode tool output: %w", err)
	}
	return string(data), nil
}
