package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/langgraph-travel/graph"
	"github.com/dshills/langgraph-travel/graph/model"
	"github.com/dshills/langgraph-travel/graph/store"
	"github.com/dshills/langgraph-travel/internal/log"
	"github.com/dshills/langgraph-travel/internal/travel"
)

const passenger = "3442 587242"

func TestSystemPrompt_Golden(t *testing.T) {
	at := time.Date(2024, 4, 30, 12, 0, 0, 0, time.UTC)
	prompt, err := SystemPrompt(`[{"ticket_no":"7240005432906569","flight_no":"LX0112","seat_no":"18E"}]`, at)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "assistant_prompt", []byte(prompt))
}

type harness struct {
	engine *graph.Engine
	db     *travel.DB
	model  *model.MockChatModel
	cost   *graph.CostTracker
}

func newHarness(t *testing.T, replies ...model.ChatOut) *harness {
	t.Helper()

	db, err := travel.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Seed(context.Background()))

	h := &harness{
		db:    db,
		model: &model.MockChatModel{Responses: replies},
		cost:  graph.NewCostTracker(),
	}
	h.engine, err = New(Config{
		Model:   h.model,
		Tools:   travel.NewToolset(db, nil, nil),
		Store:   store.NewMemStore[graph.State](),
		Cost:    h.cost,
		Options: []graph.Option{graph.WithLogger(log.Nop())},
	})
	require.NoError(t, err)
	return h
}

func (h *harness) booked(t *testing.T, hotelID int) bool {
	t.Helper()
	var booked int
	require.NoError(t, h.db.SQL().QueryRow("SELECT booked FROM hotels WHERE id = ?", hotelID).Scan(&booked))
	return booked == 1
}

func toolCall(id, name string, args map[string]interface{}) model.ChatOut {
	return model.ChatOut{ToolCalls: []model.ToolCall{{ID: id, Name: name, Input: args}}}
}

func TestAgent_SafeToolRunsWithoutApproval(t *testing.T) {
	h := newHarness(t,
		toolCall("call_1", "search_hotels", map[string]interface{}{"location": "Zurich"}),
		model.ChatOut{Text: "Baur au Lac has rooms.", Model: "claude-3-5-haiku-latest", Usage: model.Usage{InputTokens: 100, OutputTokens: 20}},
	)

	res, err := h.engine.Run(context.Background(), "t1",
		graph.NewState(graph.UserText("Any hotels in Zurich?")),
		graph.WithConfig(RunConfig(passenger)))
	require.NoError(t, err)

	assert.Equal(t, graph.StatusDone, res.Status)
	require.Len(t, res.State.Messages, 4)
	assert.Equal(t, graph.KindToolResult, res.State.Messages[2].Kind)
	assert.Equal(t, "call_1", res.State.Messages[2].CallID)
	assert.Contains(t, res.State.Messages[2].Content, "Baur au Lac")
	assert.Equal(t, "Baur au Lac has rooms.", res.State.Messages[3].Content)
	assert.Contains(t, res.State.GetString(UserInfoField), "7240005432906569")

	first := h.model.Calls[0]
	assert.Equal(t, model.RoleSystem, first.Messages[0].Role)
	assert.Contains(t, first.Messages[0].Content, "<User>\n[{")
	assert.Len(t, first.Tools, 16)
	assert.Len(t, h.cost.Calls("t1"), 2)
}

func TestAgent_SensitiveToolWaitsForApproval(t *testing.T) {
	h := newHarness(t,
		toolCall("call_b", "book_hotel", map[string]interface{}{"hotel_id": float64(42)}),
		model.ChatOut{Text: "Your stay at Baur au Lac is booked."},
	)
	ctx := context.Background()
	cfg := graph.WithConfig(RunConfig(passenger))

	res, err := h.engine.Run(ctx, "t2", graph.NewState(graph.UserText("Book hotel 42")), cfg)
	require.NoError(t, err)
	assert.Equal(t, graph.StatusPaused, res.Status)
	assert.Equal(t, NodeSensitiveTools, res.NextNode)
	assert.False(t, h.booked(t, 42), "nothing runs before approval")

	res, err = h.engine.Resume(ctx, "t2", cfg)
	require.NoError(t, err)
	assert.Equal(t, graph.StatusDone, res.Status)
	assert.True(t, h.booked(t, 42))
	require.Len(t, res.Appended, 2)
	assert.Equal(t, "Hotel 42 successfully booked.", res.Appended[0].Content)
	assert.Equal(t, "Your stay at Baur au Lac is booked.", res.Appended[1].Content)
}

func TestAgent_RejectedToolNeverRuns(t *testing.T) {
	h := newHarness(t,
		toolCall("call_b", "book_hotel", map[string]interface{}{"hotel_id": float64(42)}),
		model.ChatOut{Text: "Understood, I did not book it."},
	)
	ctx := context.Background()
	cfg := graph.WithConfig(RunConfig(passenger))

	_, err := h.engine.Run(ctx, "t3", graph.NewState(graph.UserText("Book hotel 42")), cfg)
	require.NoError(t, err)

	res, err := h.engine.Inject(ctx, "t3", graph.ToolResult("call_b", "book_hotel", "API call denied by user. Reasoning: 'too pricey'. Continue assisting, accounting for the user's input."), cfg)
	require.NoError(t, err)
	assert.Equal(t, graph.StatusDone, res.Status)
	assert.False(t, h.booked(t, 42))
	assert.Equal(t, "Understood, I did not book it.", res.State.Messages[len(res.State.Messages)-1].Content)
}

func TestAgent_RequiresPassenger(t *testing.T) {
	h := newHarness(t, model.ChatOut{Text: "hi"})

	_, err := h.engine.Run(context.Background(), "t4", graph.NewState(graph.UserText("hello")))
	var nodeErr *graph.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "USER_INFO", nodeErr.Code)
	assert.Equal(t, NodeFetchUserInfo, nodeErr.NodeID)
	assert.Empty(t, h.model.Calls)
}

func TestAssistant_Reprompts(t *testing.T) {
	mock := &model.MockChatModel{Responses: []model.ChatOut{{}, {Text: "Hello!"}}}
	cost := graph.NewCostTracker()
	a := NewAssistant(mock, nil, cost)

	res := a.Run(context.Background(), graph.NewState(graph.UserText("hi")), graph.RunConfig{ThreadID: "t"})
	require.NoError(t, res.Err)
	require.Len(t, res.Delta.Messages, 1)
	assert.Equal(t, "Hello!", res.Delta.Messages[0].Content)

	require.Len(t, mock.Calls, 2)
	second := mock.Calls[1].Messages
	assert.Equal(t, RepromptText, second[len(second)-1].Content)
	assert.Equal(t, model.RoleUser, second[len(second)-1].Role)
	assert.Len(t, cost.Calls("t"), 2, "empty replies are still billed")
}

func TestAssistant_GivesUp(t *testing.T) {
	mock := &model.MockChatModel{Responses: []model.ChatOut{{}}}
	res := NewAssistant(mock, nil, nil).Run(context.Background(), graph.NewState(graph.UserText("hi")), graph.RunConfig{})

	var nodeErr *graph.NodeError
	require.ErrorAs(t, res.Err, &nodeErr)
	assert.Equal(t, "EMPTY_RESPONSE", nodeErr.Code)
	assert.Len(t, mock.Calls, MaxAttempts)
}

func TestAssistant_ModelError(t *testing.T) {
	boom := errors.New("overloaded")
	res := NewAssistant(&model.MockChatModel{Err: boom}, nil, nil).
		Run(context.Background(), graph.NewState(graph.UserText("hi")), graph.RunConfig{})

	assert.ErrorIs(t, res.Err, boom)
	var nodeErr *graph.NodeError
	require.ErrorAs(t, res.Err, &nodeErr)
	assert.Equal(t, "MODEL_ERROR", nodeErr.Code)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Tools: &travel.Toolset{}})
	assert.ErrorContains(t, err, "chat model is required")

	_, err = New(Config{Model: &model.MockChatModel{}})
	assert.ErrorContains(t, err, "toolset is required")

	_, err = New(Config{Model: &model.MockChatModel{}, Tools: &travel.Toolset{}})
	assert.ErrorContains(t, err, "fetch_user_flight_information")
}
