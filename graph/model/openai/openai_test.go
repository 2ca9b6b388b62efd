package openai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openai/openai-go"

	"github.com/dshills/langgraph-travel/graph/model"
)

func TestOpenAIChatModel_Construction(t *testing.T) {
	m := NewChatModel("test-api-key", "")
	if m.modelName != DefaultModel {
		t.Errorf("modelName = %q, want %q", m.modelName, DefaultModel)
	}
	if m.maxRetries != 3 {
		t.Errorf("maxRetries = %d", m.maxRetries)
	}

	t.Run("empty API key fails without retrying", func(t *testing.T) {
		m := NewChatModel("", "gpt-4o-mini")
		_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Test"}}, nil)
		if err == nil {
			t.Error("expected error for empty API key")
		}
	})
}

func TestOpenAIChatModel_Chat(t *testing.T) {
	t.Run("returns text and usage", func(t *testing.T) {
		client := &mockOpenAIClient{responses: []*openai.ChatCompletion{
			completion("Your flight departs at 10:00.", nil),
		}}
		m := newTestModel(client)

		out, err := m.Chat(context.Background(), []model.Message{
			{Role: model.RoleSystem, Content: "You are a travel assistant."},
			{Role: model.RoleUser, Content: "When is my flight?"},
		}, nil)
		if err != nil {
			t.Fatalf("Chat: %v", err)
		}
		if out.Text != "Your flight departs at 10:00." {
			t.Errorf("Text = %q", out.Text)
		}
		if out.Usage.InputTokens != 50 || out.Usage.OutputTokens != 7 {
			t.Errorf("Usage = %+v", out.Usage)
		}
		if len(client.lastChat.Messages) != 2 || client.lastChat.Messages[0].OfSystem == nil {
			t.Errorf("messages = %+v", client.lastChat.Messages)
		}
	})

	t.Run("decodes tool calls", func(t *testing.T) {
		client := &mockOpenAIClient{responses: []*openai.ChatCompletion{
			completion("", []openai.ChatCompletionMessageToolCall{{
				ID:       "call_abc",
				Function: openai.ChatCompletionMessageToolCallFunction{Name: "search_flights", Arguments: `{"departure_airport":"CDG"}`},
			}}),
		}}
		m := newTestModel(client)

		out, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Flights from Paris"}},
			[]model.ToolSpec{{Name: "search_flights", Description: "Search flights", Schema: map[string]interface{}{"type": "object"}}})
		if err != nil {
			t.Fatalf("Chat: %v", err)
		}
		if len(out.ToolCalls) != 1 {
			t.Fatalf("ToolCalls = %+v", out.ToolCalls)
		}
		if out.ToolCalls[0].ID != "call_abc" || out.ToolCalls[0].Input["departure_airport"] != "CDG" {
			t.Errorf("call = %+v", out.ToolCalls[0])
		}
		if len(client.lastChat.Tools) != 1 || client.lastChat.Tools[0].Function.Name != "search_flights" {
			t.Errorf("tools = %+v", client.lastChat.Tools)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		client := &mockOpenAIClient{}
		m := newTestModel(client)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := m.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: "Test"}}, nil); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if client.callCount != 0 {
			t.Errorf("callCount = %d", client.callCount)
		}
	})
}

func TestOpenAIChatModel_MessageConversion(t *testing.T) {
	msgs, err := convertMessages([]model.Message{
		{Role: model.RoleUser, Content: "Cancel ticket 7"},
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{ID: "c1", Name: "cancel_ticket", Input: map[string]interface{}{"ticket_no": "7"}}}},
		{Role: model.RoleTool, ToolCallID: "c1", Name: "cancel_ticket", Content: "Ticket successfully cancelled."},
		{Role: model.RoleAssistant, Content: "Done."},
	})
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("len = %d", len(msgs))
	}

	call := msgs[1].OfAssistant
	if call == nil || len(call.ToolCalls) != 1 {
		t.Fatalf("assistant = %+v", msgs[1])
	}
	if call.ToolCalls[0].ID != "c1" || call.ToolCalls[0].Function.Arguments != `{"ticket_no":"7"}` {
		t.Errorf("tool call = %+v", call.ToolCalls[0])
	}
	if msgs[2].OfTool == nil || msgs[2].OfTool.ToolCallID != "c1" {
		t.Errorf("tool message = %+v", msgs[2])
	}

	if _, err := convertMessages([]model.Message{{Role: "narrator"}}); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestOpenAIChatModel_RetryLogic(t *testing.T) {
	t.Run("retries on transient errors", func(t *testing.T) {
		client := &mockOpenAIClient{
			errs:      []error{errors.New("503 service unavailable"), &rateLimitError{}},
			responses: []*openai.ChatCompletion{completion("ok", nil)},
		}
		m := newTestModel(client)

		out, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Test"}}, nil)
		if err != nil {
			t.Fatalf("Chat: %v", err)
		}
		if out.Text != "ok" || client.callCount != 3 {
			t.Errorf("out=%q callCount=%d", out.Text, client.callCount)
		}
	})

	t.Run("does not retry on non-transient errors", func(t *testing.T) {
		client := &mockOpenAIClient{errs: []error{errors.New("invalid request: bad schema")}}
		m := newTestModel(client)

		if _, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Test"}}, nil); err == nil {
			t.Fatal("expected error")
		}
		if client.callCount != 1 {
			t.Errorf("callCount = %d, want 1", client.callCount)
		}
	})

	t.Run("respects max retries limit", func(t *testing.T) {
		client := &mockOpenAIClient{always: errors.New("connection refused")}
		m := newTestModel(client)

		_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Test"}}, nil)
		if err == nil {
			t.Fatal("expected error")
		}
		if client.callCount != m.maxRetries+1 {
			t.Errorf("callCount = %d, want %d", client.callCount, m.maxRetries+1)
		}
	})
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{&rateLimitError{}, true},
		{errors.New("network unreachable"), true},
		{errors.New("invalid api key"), false},
	}
	for _, tt := range tests {
		if got := isTransientError(tt.err); got != tt.want {
			t.Errorf("isTransientError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestEmbedder(t *testing.T) {
	client := &mockOpenAIClient{embeddings: &openai.CreateEmbeddingResponse{
		Data: []openai.Embedding{
			{Index: 1, Embedding: []float64{0, 1}},
			{Index: 0, Embedding: []float64{1, 0}},
		},
	}}
	e := &Embedder{modelName: DefaultEmbeddingModel, client: client, retryDelay: time.Millisecond}

	vecs, err := e.Embed(context.Background(), []string{"refund policy", "baggage"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("vectors not ordered by index: %v", vecs)
	}
	if len(client.lastEmbed.Input.OfArrayOfStrings) != 2 {
		t.Errorf("input = %+v", client.lastEmbed.Input)
	}

	t.Run("count mismatch", func(t *testing.T) {
		if _, err := e.Embed(context.Background(), []string{"one"}); err == nil {
			t.Error("expected mismatch error")
		}
	})

	t.Run("empty input", func(t *testing.T) {
		vecs, err := e.Embed(context.Background(), nil)
		if err != nil || vecs != nil {
			t.Errorf("vecs=%v err=%v", vecs, err)
		}
	})
}

func newTestModel(client openaiClient) *ChatModel {
	return &ChatModel{
		client:     client,
		modelName:  DefaultModel,
		maxRetries: 3,
		retryDelay: time.Millisecond,
	}
}

func completion(text string, calls []openai.ChatCompletionMessageToolCall) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		Model: DefaultModel,
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Content: text, ToolCalls: calls},
		}},
		Usage: openai.CompletionUsage{PromptTokens: 50, CompletionTokens: 7},
	}
}

type mockOpenAIClient struct {
	responses  []*openai.ChatCompletion
	errs       []error
	always     error
	embeddings *openai.CreateEmbeddingResponse
	callCount  int
	lastChat   openai.ChatCompletionNewParams
	lastEmbed  openai.EmbeddingNewParams
}

func (m *mockOpenAIClient) createChatCompletion(_ context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	m.callCount++
	m.lastChat = params
	if m.always != nil {
		return nil, m.always
	}
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	if len(m.responses) == 0 {
		return &openai.ChatCompletion{}, nil
	}
	return m.responses[0], nil
}

func (m *mockOpenAIClient) createEmbeddings(_ context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error) {
	m.lastEmbed = params
	return m.embeddings, nil
}
