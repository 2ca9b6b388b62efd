package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/langgraph-travel/graph"
	"github.com/dshills/langgraph-travel/graph/emit"
	"github.com/dshills/langgraph-travel/graph/model"
	"github.com/dshills/langgraph-travel/graph/store"
	"github.com/dshills/langgraph-travel/graph/tool"
	"github.com/dshills/langgraph-travel/internal/agent"
	"github.com/dshills/langgraph-travel/internal/log"
	"github.com/dshills/langgraph-travel/internal/rag"
	"github.com/dshills/langgraph-travel/internal/session"
	"github.com/dshills/langgraph-travel/internal/travel"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	router *gin.Engine
	db     *travel.DB
}

func newFixture(t *testing.T, replies ...model.ChatOut) *fixture {
	t.Helper()

	db, err := travel.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Seed(context.Background()))

	registry := prometheus.NewRegistry()
	metrics := graph.NewPrometheusMetrics(registry)
	events := emit.NewBufferedEmitter()
	engine, err := agent.New(agent.Config{
		Model:   &model.MockChatModel{Responses: replies},
		Tools:   travel.NewToolset(db, nil, nil),
		Store:   store.NewMemStore[graph.State](),
		Emitter: events,
		Options: []graph.Option{graph.WithLogger(log.Nop()), graph.WithMetrics(metrics)},
	})
	require.NoError(t, err)
	ctl := session.New(engine,
		session.WithDefaults(map[string]string{agent.PassengerKey: "3442 587242"}),
		session.WithMetrics(metrics))

	blog := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<p>Agents plan, remember and use tools.</p>"))
	}))
	t.Cleanup(blog.Close)
	pipeline, err := rag.NewPipeline(rag.PipelineConfig{
		Models: rag.Models{
			Agent: &model.MockChatModel{Responses: []model.ChatOut{{ToolCalls: []model.ToolCall{
				{ID: "r1", Name: rag.RetrieverToolName, Input: map[string]interface{}{"query": "agents"}},
			}}}},
			Grader:    &model.MockChatModel{Responses: []model.ChatOut{{Text: "yes"}}},
			Rewrite:   &model.MockChatModel{},
			Generator: &model.MockChatModel{Responses: []model.ChatOut{{Text: "They plan and use tools."}}},
		},
		Loader:   rag.NewLoader(tool.NewHTTPTool(), 100, 50),
		Embedder: &model.MockEmbedder{},
		URLs:     []string{blog.URL},
		Options:  []graph.Option{graph.WithLogger(log.Nop())},
	})
	require.NoError(t, err)

	return &fixture{router: New(ctl, pipeline, registry, WithEvents(events)).Router(), db: db}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func bookHotel42() model.ChatOut {
	return model.ChatOut{ToolCalls: []model.ToolCall{{ID: "call_b", Name: "book_hotel", Input: map[string]interface{}{"hotel_id": float64(42)}}}}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestThreads_ApprovalOverHTTP(t *testing.T) {
	f := newFixture(t, bookHotel42(), model.ChatOut{Text: "Booked."})

	w := f.do(t, http.MethodPost, "/threads", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	id, _ := decode(t, w)["thread_id"].(string)
	require.NotEmpty(t, id)

	w = f.do(t, http.MethodPost, "/threads/"+id+"/messages", map[string]string{"text": "book hotel id 42"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")
	assert.Contains(t, w.Body.String(), `"type":"node"`)
	assert.Contains(t, w.Body.String(), `"type":"paused"`)
	assert.Contains(t, w.Body.String(), `"name":"book_hotel"`)

	w = f.do(t, http.MethodPost, "/threads/"+id+"/messages", map[string]string{"text": "hello?"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodGet, "/threads/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	state := decode(t, w)
	assert.Equal(t, true, state["needs_approval"])
	assert.Equal(t, agent.NodeSensitiveTools, state["next_node"])
	pending, _ := state["pending_action"].(map[string]interface{})
	assert.Equal(t, "book_hotel", pending["name"])

	w = f.do(t, http.MethodPost, "/threads/"+id+"/approve", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Hotel 42 successfully booked.")

	w = f.do(t, http.MethodPost, "/threads/"+id+"/approve", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodGet, "/threads/"+id+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	checkpoints, _ := decode(t, w)["checkpoints"].([]interface{})
	assert.NotEmpty(t, checkpoints)

	w = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "langgraph_interrupts_total")
}

func TestThreads_Events(t *testing.T) {
	f := newFixture(t, model.ChatOut{Text: "Hi."}, model.ChatOut{Text: "Still here."})

	w := f.do(t, http.MethodPost, "/threads", map[string]string{"thread_id": "ev"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodPost, "/threads/ev/messages", map[string]string{"text": "hello"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/threads/ev/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	events, _ := decode(t, w)["events"].([]interface{})
	require.NotEmpty(t, events)
	first, _ := events[0].(map[string]interface{})
	assert.Equal(t, "run started", first["msg"])
	assert.Contains(t, w.Body.String(), `"msg":"run completed"`)

	w = f.do(t, http.MethodGet, "/threads/ev/events?node="+agent.NodeAssistant, nil)
	require.Equal(t, http.StatusOK, w.Code)
	events, _ = decode(t, w)["events"].([]interface{})
	require.Len(t, events, 1)
	assert.Equal(t, "node completed", events[0].(map[string]interface{})["msg"])

	// A new turn replaces the buffered events.
	w = f.do(t, http.MethodPost, "/threads/ev/messages", map[string]string{"text": "again"})
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodGet, "/threads/ev/events?msg=run+started", nil)
	events, _ = decode(t, w)["events"].([]interface{})
	assert.Len(t, events, 1)

	w = f.do(t, http.MethodGet, "/threads/unknown/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	events, _ = decode(t, w)["events"].([]interface{})
	assert.Empty(t, events)
}

func TestThreads_Reject(t *testing.T) {
	f := newFixture(t, bookHotel42(), model.ChatOut{Text: "Not booked."})

	w := f.do(t, http.MethodPost, "/threads", map[string]string{"thread_id": "t1"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "t1", decode(t, w)["thread_id"])

	w = f.do(t, http.MethodPost, "/threads/t1/messages", map[string]string{"text": "book hotel id 42"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/threads/t1/reject", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/threads/t1/reject", map[string]string{"reason": "too expensive"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Reasoning: 'too expensive'")
	assert.Contains(t, w.Body.String(), "Not booked.")

	var booked int
	require.NoError(t, f.db.SQL().QueryRow("SELECT booked FROM hotels WHERE id = 42").Scan(&booked))
	assert.Zero(t, booked)
}

func TestThreads_Errors(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/threads/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/threads/missing/messages", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/threads/missing/approve", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestThreads_EngineFailureIsGeneric(t *testing.T) {
	// A thread without a passenger fails in fetch_user_info.
	f := newFixture(t, model.ChatOut{Text: "hi"})

	w := f.do(t, http.MethodPost, "/threads", map[string]interface{}{
		"thread_id": "anon",
		"config":    map[string]string{agent.PassengerKey: ""},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodPost, "/threads/anon/messages", map[string]string{"text": "hello"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"type":"error"`)
	assert.Contains(t, w.Body.String(), GenericError)
	assert.NotContains(t, w.Body.String(), "No passenger ID configured")
}

func TestRAG_Endpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/rag/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["initialized"])

	w = f.do(t, http.MethodPost, "/rag/query", map[string]string{"query": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Query text is required", decode(t, w)["message"])

	w = f.do(t, http.MethodPost, "/rag/initialize", map[string]interface{}{"urls": []string{"not a url"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/rag/initialize", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Pipeline initialized successfully", decode(t, w)["message"])

	w = f.do(t, http.MethodPost, "/rag/query", map[string]string{"query": "What do agents do?"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "They plan and use tools.", body["answer"])
	steps, _ := body["steps"].([]interface{})
	assert.Len(t, steps, 4)

	w = f.do(t, http.MethodGet, "/rag/history", nil)
	history, _ := decode(t, w)["history"].([]interface{})
	assert.Len(t, history, 2)

	w = f.do(t, http.MethodPost, "/rag/clear", nil)
	assert.Equal(t, "History cleared", decode(t, w)["message"])

	w = f.do(t, http.MethodGet, "/rag/history", nil)
	history, _ = decode(t, w)["history"].([]interface{})
	assert.Empty(t, history)

	w = f.do(t, http.MethodGet, "/rag/status", nil)
	status := decode(t, w)
	assert.Equal(t, true, status["initialized"])
	assert.Equal(t, float64(1), status["documents"])
}
