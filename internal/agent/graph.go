// Package agent builds the travel assistant graph:
//
//	fetch_user_info -> assistant -> safe_tools -> assistant
//	                            \-> sensitive_tools (approval) -> assistant
//
// Sensitive tools change bookings, so the graph pauses before
// sensitive_tools until the user approves or rejects the call.
package agent

import (
	"errors"

	"github.com/dshills/langgraph-travel/graph"
	"github.com/dshills/langgraph-travel/graph/emit"
	"github.com/dshills/langgraph-travel/graph/model"
	"github.com/dshills/langgraph-travel/graph/store"
	"github.com/dshills/langgraph-travel/internal/travel"
)

// Node IDs of the travel assistant graph.
const (
	NodeFetchUserInfo  = "fetch_user_info"
	NodeAssistant      = "assistant"
	NodeSafeTools      = "safe_tools"
	NodeSensitiveTools = "sensitive_tools"
)

// UserInfoField holds the passenger's flights as rendered for the prompt.
const UserInfoField = "user_info"

// PassengerKey is the run config key of the signed-in passenger.
const PassengerKey = "passenger_id"

// Config wires the assistant graph.
type Config struct {
	Model   model.ChatModel
	Tools   *travel.Toolset
	Store   store.Store[graph.State]
	Emitter emit.Emitter

	// Cost is optional.
	Cost *graph.CostTracker

	// Selector picks the one sensitive call an approval executes when the
	// run does not name it. Defaults to graph.FirstCall.
	Selector graph.CallSelector

	// Options are passed to graph.New after the interrupt before
	// sensitive_tools.
	Options []graph.Option
}

// New builds and compiles the travel assistant engine.
func New(cfg Config) (*graph.Engine, error) {
	if cfg.Model == nil {
		return nil, errors.New("agent: chat model is required")
	}
	if cfg.Tools == nil {
		return nil, errors.New("agent: toolset is required")
	}
	flights, ok := cfg.Tools.Get("fetch_user_flight_information")
	if !ok {
		return nil, errors.New("agent: toolset has no fetch_user_flight_information tool")
	}

	schema := graph.NewSchema().Declare(UserInfoField, graph.MergeReplace)
	opts := append([]graph.Option{graph.WithInterruptBefore(NodeSensitiveTools)}, cfg.Options...)
	engine := graph.New(schema, cfg.Store, cfg.Emitter, opts...)

	steps := []func() error{
		func() error { return engine.Add(NodeFetchUserInfo, fetchUserInfo(flights)) },
		func() error { return engine.Add(NodeAssistant, NewAssistant(cfg.Model, cfg.Tools.All(), cfg.Cost)) },
		func() error { return engine.Add(NodeSafeTools, graph.NewToolNode(cfg.Tools.Safe...)) },
		func() error { return engine.Add(NodeSensitiveTools, graph.NewToolNode(cfg.Tools.Sensitive...).Gate(cfg.Selector)) },
		func() error { return engine.StartAt(NodeFetchUserInfo) },
		func() error { return engine.Connect(NodeFetchUserInfo, NodeAssistant) },
		func() error {
			return engine.ConnectConditional(NodeAssistant,
				graph.Dispatch(graph.ToolDispatch(), graph.LabelUseTools, graph.Sensitivity(cfg.Tools.SensitiveNames()...)),
				map[string]string{
					graph.LabelSafe:      NodeSafeTools,
					graph.LabelSensitive: NodeSensitiveTools,
				})
		},
		func() error { return engine.Connect(NodeSafeTools, NodeAssistant) },
		func() error { return engine.Connect(NodeSensitiveTools, NodeAssistant) },
		engine.Compile,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

// RunConfig returns the run configuration for passengerID.
func RunConfig(passengerID string) graph.RunConfig {
	return graph.NewRunConfig(map[string]string{PassengerKey: passengerID})
}
