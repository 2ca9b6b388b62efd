package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/dshills/langgraph-travel/graph/model"
)

func TestAnthropicChatModel_Construction(t *testing.T) {
	t.Run("uses default model name", func(t *testing.T) {
		m := NewChatModel("test-api-key", "")
		if m.modelName != DefaultModel {
			t.Errorf("modelName = %q, want %q", m.modelName, DefaultModel)
		}
	})

	t.Run("empty API key fails on first call", func(t *testing.T) {
		m := NewChatModel("", "claude-3-5-haiku-latest")
		_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Test"}}, nil)
		if err == nil {
			t.Error("expected error for empty API key")
		}
	})
}

func TestAnthropicChatModel_Chat(t *testing.T) {
	t.Run("returns text and usage", func(t *testing.T) {
		client := &mockAnthropicClient{
			response: &anthropic.Message{
				Model: "claude-3-5-haiku-latest",
				Content: []anthropic.ContentBlockUnion{
					{Type: "text", Text: "You have one upcoming flight."},
				},
				Usage: anthropic.Usage{InputTokens: 120, OutputTokens: 9},
			},
		}
		m := &ChatModel{client: client, modelName: DefaultModel, maxTokens: defaultMaxTokens}

		out, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Hi"}}, nil)
		if err != nil {
			t.Fatalf("Chat: %v", err)
		}
		if out.Text != "You have one upcoming flight." {
			t.Errorf("Text = %q", out.Text)
		}
		if out.Usage.InputTokens != 120 || out.Usage.OutputTokens != 9 {
			t.Errorf("Usage = %+v", out.Usage)
		}
		if client.callCount != 1 {
			t.Errorf("callCount = %d", client.callCount)
		}
	})

	t.Run("decodes tool_use blocks", func(t *testing.T) {
		client := &mockAnthropicClient{
			response: &anthropic.Message{
				Content: []anthropic.ContentBlockUnion{
					{Type: "text", Text: "Let me check."},
					{Type: "tool_use", ID: "toolu_01", Name: "search_hotels", Input: json.RawMessage(`{"location":"Zurich"}`)},
				},
			},
		}
		m := &ChatModel{client: client, modelName: DefaultModel}

		out, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Hotels?"}}, []model.ToolSpec{
			{Name: "search_hotels", Description: "Search hotels", Schema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"location": map[string]interface{}{"type": "string"}},
				"required":   []string{"location"},
			}},
		})
		if err != nil {
			t.Fatalf("Chat: %v", err)
		}
		if len(out.ToolCalls) != 1 {
			t.Fatalf("ToolCalls = %+v", out.ToolCalls)
		}
		call := out.ToolCalls[0]
		if call.ID != "toolu_01" || call.Name != "search_hotels" || call.Input["location"] != "Zurich" {
			t.Errorf("call = %+v", call)
		}

		if len(client.last.Tools) != 1 || client.last.Tools[0].OfTool == nil {
			t.Fatalf("tools not sent: %+v", client.last.Tools)
		}
		sent := client.last.Tools[0].OfTool
		if sent.Name != "search_hotels" || len(sent.InputSchema.Required) != 1 {
			t.Errorf("tool param = %+v", sent)
		}
	})

	t.Run("malformed tool input is an error", func(t *testing.T) {
		client := &mockAnthropicClient{
			response: &anthropic.Message{
				Content: []anthropic.ContentBlockUnion{
					{Type: "tool_use", ID: "toolu_02", Name: "cancel_ticket", Input: json.RawMessage(`{`)},
				},
			},
		}
		m := &ChatModel{client: client, modelName: DefaultModel}
		if _, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "x"}}, nil); err == nil {
			t.Error("expected decode error")
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		client := &mockAnthropicClient{response: &anthropic.Message{}}
		m := &ChatModel{client: client, modelName: DefaultModel}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := m.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: "Test"}}, nil)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if client.callCount != 0 {
			t.Errorf("client should not be called, callCount = %d", client.callCount)
		}
	})
}

func TestAnthropicChatModel_MessageConversion(t *testing.T) {
	t.Run("extracts system prompt", func(t *testing.T) {
		client := &mockAnthropicClient{response: &anthropic.Message{}}
		m := &ChatModel{client: client, modelName: DefaultModel}

		_, err := m.Chat(context.Background(), []model.Message{
			{Role: model.RoleSystem, Content: "You are a travel assistant."},
			{Role: model.RoleUser, Content: "Hi"},
		}, nil)
		if err != nil {
			t.Fatalf("Chat: %v", err)
		}
		if len(client.last.System) != 1 || client.last.System[0].Text != "You are a travel assistant." {
			t.Errorf("System = %+v", client.last.System)
		}
		if len(client.last.Messages) != 1 {
			t.Errorf("expected 1 message, got %d", len(client.last.Messages))
		}
	})

	t.Run("round trips tool calls and groups results", func(t *testing.T) {
		msgs, err := convertMessages([]model.Message{
			{Role: model.RoleUser, Content: "Book hotel 42 and car 3"},
			{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{
				{ID: "a", Name: "book_hotel", Input: map[string]interface{}{"hotel_id": 42}},
				{ID: "b", Name: "book_car_rental", Input: map[string]interface{}{"rental_id": 3}},
			}},
			{Role: model.RoleTool, ToolCallID: "a", Content: "Hotel 42 successfully booked."},
			{Role: model.RoleTool, ToolCallID: "b", Content: "Car rental 3 successfully booked."},
			{Role: model.RoleAssistant, Content: "Done."},
		})
		if err != nil {
			t.Fatalf("convertMessages: %v", err)
		}
		if len(msgs) != 4 {
			t.Fatalf("expected 4 turns, got %d", len(msgs))
		}

		assistant := msgs[1]
		if len(assistant.Content) != 2 || assistant.Content[0].OfToolUse == nil {
			t.Fatalf("assistant turn = %+v", assistant.Content)
		}
		if assistant.Content[0].OfToolUse.ID != "a" || assistant.Content[1].OfToolUse.Name != "book_car_rental" {
			t.Errorf("tool use blocks = %+v", assistant.Content)
		}

		results := msgs[2]
		if string(results.Role) != "user" || len(results.Content) != 2 {
			t.Fatalf("result turn = %+v", results)
		}
		if results.Content[1].OfToolResult == nil || results.Content[1].OfToolResult.ToolUseID != "b" {
			t.Errorf("tool result = %+v", results.Content[1])
		}
	})

	t.Run("rejects unknown roles", func(t *testing.T) {
		if _, err := convertMessages([]model.Message{{Role: "narrator", Content: "x"}}); err == nil {
			t.Error("expected error")
		}
	})
}

func TestAnthropicChatModel_ErrorHandling(t *testing.T) {
	t.Run("passes through plain errors", func(t *testing.T) {
		want := errors.New("connection reset")
		m := &ChatModel{client: &mockAnthropicClient{err: want}, modelName: DefaultModel}

		_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Test"}}, nil)
		if !errors.Is(err, want) {
			t.Errorf("expected %v, got %v", want, err)
		}
	})

	t.Run("keeps typed errors", func(t *testing.T) {
		m := &ChatModel{
			client:    &mockAnthropicClient{err: &anthropicError{Type: "overloaded_error", Message: "busy", StatusCode: 529}},
			modelName: DefaultModel,
		}

		_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Test"}}, nil)
		var apiErr *anthropicError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected anthropicError, got %T", err)
		}
		if !apiErr.Retryable() {
			t.Error("overloaded_error should be retryable")
		}
	})

	t.Run("error types by status", func(t *testing.T) {
		tests := map[int]string{
			400: "invalid_request_error",
			401: "authentication_error",
			429: "rate_limit_error",
			529: "overloaded_error",
			502: "api_error",
		}
		for status, want := range tests {
			if got := errorType(status); got != want {
				t.Errorf("errorType(%d) = %q, want %q", status, got, want)
			}
		}
	})
}

type mockAnthropicClient struct {
	response  *anthropic.Message
	err       error
	callCount int
	last      anthropic.MessageNewParams
}

func (m *mockAnthropicClient) newMessage(_ context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	m.callCount++
	m.last = params
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}
