package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/langgraph-travel/graph"
	"github.com/dshills/langgraph-travel/graph/model"
	"github.com/dshills/langgraph-travel/graph/tool"
	"github.com/dshills/langgraph-travel/internal/log"
)

const (
	// MaxAttempts bounds the model calls per assistant turn when the model
	// keeps returning empty replies.
	MaxAttempts = 3

	// RepromptText is sent after an empty reply.
	RepromptText = "Respond with a real output."
)

// Assistant is the node that asks the chat model for the next step: a text
// reply for the user or one or more tool calls.
type Assistant struct {
	model model.ChatModel
	specs []model.ToolSpec
	cost  *graph.CostTracker
	now   func() time.Time
}

// NewAssistant creates the assistant node. tools are offered to the model;
// cost may be nil.
func NewAssistant(m model.ChatModel, tools []tool.Tool, cost *graph.CostTracker) *Assistant {
	return &Assistant{
		model: m,
		specs: tool.Specs(tools...),
		cost:  cost,
		now:   time.Now,
	}
}

// Run implements graph.Node.
func (a *Assistant) Run(ctx context.Context, state graph.State, cfg graph.RunConfig) graph.NodeResult {
	system, err := SystemPrompt(state.GetString(UserInfoField), a.now())
	if err != nil {
		return graph.NodeResult{Err: fmt.Errorf("render system prompt: %w", err)}
	}
	msgs := graph.ModelMessages(system, state.Messages)

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		out, err := a.model.Chat(ctx, msgs, a.specs)
		if err != nil {
			return graph.NodeResult{Err: &graph.NodeError{
				Message: "chat model failed: " + err.Error(),
				Code:    "MODEL_ERROR",
				Cause:   err,
			}}
		}
		a.cost.Record(cfg.ThreadID, NodeAssistant, out)

		if !out.Empty() {
			return graph.NodeResult{Delta: graph.NewState(graph.MessageFromChat(out))}
		}
		log.Debugf("thread %s: empty model reply (attempt %d), re-prompting", cfg.ThreadID, attempt)
		msgs = append(msgs, model.Message{Role: model.RoleUser, Content: RepromptText})
	}

	return graph.NodeResult{Err: &graph.NodeError{
		Message: fmt.Sprintf("model returned no output after %d attempts", MaxAttempts),
		Code:    "EMPTY_RESPONSE",
	}}
}

// fetchUserInfo resolves the signed-in passenger's flights into the
// user_info context field before the first assistant turn.
func fetchUserInfo(flights tool.Tool) graph.NodeFunc {
	return func(ctx context.Context, state graph.State, cfg graph.RunConfig) graph.NodeResult {
		out, err := flights.Call(graph.ContextWithRunConfig(ctx, cfg), map[string]interface{}{})
		if err != nil {
			return graph.NodeResult{Err: &graph.NodeError{
				Message: "failed to fetch user flight information: " + err.Error(),
				Code:    "USER_INFO",
				Cause:   err,
			}}
		}
		info, err := graph.ResultContent(out)
		if err != nil {
			return graph.NodeResult{Err: err}
		}
		return graph.NodeResult{Delta: graph.With(UserInfoField, info)}
	}
}
