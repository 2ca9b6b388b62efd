// Package rag implements the agentic retrieval flow:
//
//	agent -> retrieve -> grade -> generate
//	  ^                    |
//	  \------ rewrite <----/
//
// The agent decides whether to call the retriever. Retrieved chunks are
// graded for relevance; relevant ones feed the answer, otherwise the
// question is rewritten and the agent tries again.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/langgraph-travel/graph"
	"github.com/dshills/langgraph-travel/graph/emit"
	"github.com/dshills/langgraph-travel/graph/model"
	"github.com/dshills/langgraph-travel/graph/store"
	"github.com/dshills/langgraph-travel/graph/tool"
	"github.com/dshills/langgraph-travel/internal/log"
)

// Node IDs of the retrieval graph.
const (
	NodeAgent    = "agent"
	NodeRetrieve = "retrieve"
	NodeGrade    = "grade"
	NodeGenerate = "generate"
	NodeRewrite  = "rewrite"
)

// RelevanceField holds the grader's verdict, "yes" or "no".
const RelevanceField = "relevance"

// DefaultMaxSteps bounds the rewrite loop.
const DefaultMaxSteps = 25

// RetrieverToolName is the name under which the index is offered to the agent.
const RetrieverToolName = "retrieve_blog_posts"

// Models holds one chat model per step. Any of them may share a model.
type Models struct {
	Agent     model.ChatModel
	Grader    model.ChatModel
	Rewrite   model.ChatModel
	Generator model.ChatModel
}

func (m Models) validate() error {
	switch {
	case m.Agent == nil:
		return errors.New("rag: agent model is required")
	case m.Grader == nil:
		return errors.New("rag: grader model is required")
	case m.Rewrite == nil:
		return errors.New("rag: rewrite model is required")
	case m.Generator == nil:
		return errors.New("rag: generator model is required")
	}
	return nil
}

// GraphConfig wires the retrieval graph.
type GraphConfig struct {
	Models    Models
	Retriever tool.Tool
	Store     store.Store[graph.State]
	Emitter   emit.Emitter
	Cost      *graph.CostTracker
	Options   []graph.Option
}

// NewGraph builds and compiles the retrieval engine.
func NewGraph(cfg GraphConfig) (*graph.Engine, error) {
	if err := cfg.Models.validate(); err != nil {
		return nil, err
	}
	if cfg.Retriever == nil {
		return nil, errors.New("rag: retriever tool is required")
	}

	schema := graph.NewSchema().Declare(RelevanceField, graph.MergeReplace)
	opts := append([]graph.Option{graph.WithMaxSteps(DefaultMaxSteps)}, cfg.Options...)
	engine := graph.New(schema, cfg.Store, cfg.Emitter, opts...)

	steps := []func() error{
		func() error { return engine.Add(NodeAgent, agentNode(cfg.Models.Agent, cfg.Retriever, cfg.Cost)) },
		func() error { return engine.Add(NodeRetrieve, graph.NewToolNode(cfg.Retriever)) },
		func() error { return engine.Add(NodeGrade, gradeNode(cfg.Models.Grader, cfg.Cost)) },
		func() error { return engine.Add(NodeGenerate, generateNode(cfg.Models.Generator, cfg.Cost)) },
		func() error { return engine.Add(NodeRewrite, rewriteNode(cfg.Models.Rewrite, cfg.Cost)) },
		func() error { return engine.StartAt(NodeAgent) },
		func() error {
			return engine.ConnectConditional(NodeAgent, graph.ToolDispatch(),
				map[string]string{graph.LabelUseTools: NodeRetrieve})
		},
		func() error { return engine.Connect(NodeRetrieve, NodeGrade) },
		func() error {
			return engine.ConnectConditional(NodeGrade, graph.ContextLabel(RelevanceField, "no"),
				map[string]string{"yes": NodeGenerate, "no": NodeRewrite})
		},
		func() error { return engine.Connect(NodeGenerate, graph.End) },
		func() error { return engine.Connect(NodeRewrite, NodeAgent) },
		engine.Compile,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

// RetrieverTool offers the top k chunks of index as a tool.
func RetrieverTool(index *Index, k int) tool.Tool {
	return tool.New(RetrieverToolName,
		"Search and return information about Lilian Weng blog posts on LLM agents, prompt engineering, and adversarial attacks on LLMs.",
		tool.Object(map[string]interface{}{
			"query": tool.String("query to look up in retriever"),
		}, "query"),
		func(ctx context.Context, in map[string]interface{}) (map[string]interface{}, error) {
			query, _ := in["query"].(string)
			if strings.TrimSpace(query) == "" {
				return nil, errors.New("query is required")
			}
			hits, err := index.Search(ctx, query, k)
			if err != nil {
				return nil, err
			}
			parts := make([]string, len(hits))
			for i, h := range hits {
				parts[i] = h.Content
			}
			return map[string]interface{}{"content": strings.Join(parts, "\n\n")}, nil
		})
}

func modelError(err error) graph.NodeResult {
	return graph.NodeResult{Err: &graph.NodeError{
		Message: "chat model failed: " + err.Error(),
		Code:    "MODEL_ERROR",
		Cause:   err,
	}}
}

func agentNode(m model.ChatModel, retriever tool.Tool, cost *graph.CostTracker) graph.NodeFunc {
	specs := tool.Specs(retriever)
	return func(ctx context.Context, state graph.State, cfg graph.RunConfig) graph.NodeResult {
		out, err := m.Chat(ctx, graph.ModelMessages("", state.Messages), specs)
		if err != nil {
			return modelError(err)
		}
		cost.Record(cfg.ThreadID, NodeAgent, out)
		return graph.NodeResult{Delta: graph.NewState(graph.MessageFromChat(out))}
	}
}

// gradeSpec lets models with tool support answer in structured form.
var gradeSpec = model.ToolSpec{
	Name:        "grade",
	Description: "Binary score for relevance check.",
	Schema: tool.Object(map[string]interface{}{
		"binary_score": map[string]interface{}{
			"type":        "string",
			"enum":        []string{"yes", "no"},
			"description": "Relevance score 'yes' or 'no'",
		},
	}, "binary_score"),
}

func gradeNode(m model.ChatModel, cost *graph.CostTracker) graph.NodeFunc {
	return func(ctx context.Context, state graph.State, cfg graph.RunConfig) graph.NodeResult {
		docs := lastContent(state.Messages)
		prompt := gradePrompt(docs, question(state.Messages))

		out, err := m.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: prompt}}, []model.ToolSpec{gradeSpec})
		if err != nil {
			return modelError(err)
		}
		cost.Record(cfg.ThreadID, NodeGrade, out)

		verdict := parseVerdict(out)
		log.Debugf("thread %s: documents graded %q", cfg.ThreadID, verdict)
		return graph.NodeResult{Delta: graph.With(RelevanceField, verdict)}
	}
}

// parseVerdict reads a structured binary_score first, then a leading yes or
// no in the text. Anything else counts as not relevant.
func parseVerdict(out model.ChatOut) string {
	for _, call := range out.ToolCalls {
		if s, ok := call.Input["binary_score"].(string); ok {
			if v := normalizeVerdict(s); v != "" {
				return v
			}
		}
	}
	if v := normalizeVerdict(out.Text); v != "" {
		return v
	}
	return "no"
}

func normalizeVerdict(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimLeft(s, "'\"`*")
	switch {
	case strings.HasPrefix(s, "yes"):
		return "yes"
	case strings.HasPrefix(s, "no"):
		return "no"
	}
	return ""
}

func generateNode(m model.ChatModel, cost *graph.CostTracker) graph.NodeFunc {
	return func(ctx context.Context, state graph.State, cfg graph.RunConfig) graph.NodeResult {
		prompt := answerPrompt(question(state.Messages), lastContent(state.Messages))
		out, err := m.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: prompt}}, nil)
		if err != nil {
			return modelError(err)
		}
		cost.Record(cfg.ThreadID, NodeGenerate, out)
		return graph.NodeResult{Delta: graph.NewState(graph.AssistantText(out.Text))}
	}
}

func rewriteNode(m model.ChatModel, cost *graph.CostTracker) graph.NodeFunc {
	return func(ctx context.Context, state graph.State, cfg graph.RunConfig) graph.NodeResult {
		out, err := m.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: improvePrompt(question(state.Messages))}}, nil)
		if err != nil {
			return modelError(err)
		}
		cost.Record(cfg.ThreadID, NodeRewrite, out)
		if strings.TrimSpace(out.Text) == "" {
			return graph.NodeResult{Err: &graph.NodeError{
				Message: fmt.Sprintf("%s produced an empty question", NodeRewrite),
				Code:    "EMPTY_RESPONSE",
			}}
		}
		return graph.NodeResult{Delta: graph.NewState(graph.UserText(out.Text))}
	}
}

// question is the original user question of the run.
func question(msgs []graph.Message) string {
	for _, m := range msgs {
		if m.Kind == graph.KindUser {
			return m.Content
		}
	}
	return ""
}

func lastContent(msgs []graph.Message) string {
	if last, ok := graph.LastMessage(msgs); ok {
		return last.Content
	}
	return ""
}
