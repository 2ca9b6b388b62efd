package google

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"

	"github.com/dshills/langgraph-travel/graph/model"
)

func TestGoogleChatModel_Construction(t *testing.T) {
	m := NewChatModel("test-api-key", "")
	if m.modelName != DefaultModel {
		t.Errorf("modelName = %q", m.modelName)
	}

	t.Run("empty API key", func(t *testing.T) {
		m := NewChatModel("", "")
		if _, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Hi"}}, nil); err == nil {
			t.Error("expected error for empty API key")
		}
	})
}

func TestGoogleChatModel_Chat(t *testing.T) {
	t.Run("returns text and usage", func(t *testing.T) {
		client := &mockGoogleClient{response: &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{Role: roleModel, Parts: []genai.Part{genai.Text("Zurich has three hotels.")}},
			}},
			UsageMetadata: &genai.UsageMetadata{PromptTokenCount: 30, CandidatesTokenCount: 6},
		}}
		m := newTestModel(client)

		out, err := m.Chat(context.Background(), []model.Message{
			{Role: model.RoleSystem, Content: "You are a travel assistant."},
			{Role: model.RoleUser, Content: "Hotels in Zurich?"},
		}, nil)
		if err != nil {
			t.Fatalf("Chat: %v", err)
		}
		if out.Text != "Zurich has three hotels." || out.Usage.OutputTokens != 6 {
			t.Errorf("out = %+v", out)
		}
		if client.last.system != "You are a travel assistant." {
			t.Errorf("system = %q", client.last.system)
		}
		if len(client.last.history) != 0 || len(client.last.parts) != 1 {
			t.Errorf("request = %+v", client.last)
		}
	})

	t.Run("function calls get generated IDs", func(t *testing.T) {
		client := &mockGoogleClient{response: &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{Role: roleModel, Parts: []genai.Part{
					genai.FunctionCall{Name: "search_hotels", Args: map[string]any{"location": "Zurich"}},
				}},
			}},
		}}
		m := newTestModel(client)

		out, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Hotels?"}},
			[]model.ToolSpec{{Name: "search_hotels", Description: "Search hotels"}})
		if err != nil {
			t.Fatalf("Chat: %v", err)
		}
		if len(out.ToolCalls) != 1 || out.ToolCalls[0].ID != "call_1" || out.ToolCalls[0].Input["location"] != "Zurich" {
			t.Errorf("ToolCalls = %+v", out.ToolCalls)
		}
		if len(client.last.tools) != 1 || client.last.tools[0].FunctionDeclarations[0].Name != "search_hotels" {
			t.Errorf("tools = %+v", client.last.tools)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		client := &mockGoogleClient{}
		m := newTestModel(client)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := m.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: "Hi"}}, nil); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if client.callCount != 0 {
			t.Errorf("callCount = %d", client.callCount)
		}
	})
}

func TestGoogleChatModel_SafetyFilters(t *testing.T) {
	t.Run("blocked error from SDK", func(t *testing.T) {
		client := &mockGoogleClient{err: &genai.BlockedError{
			Candidate: &genai.Candidate{
				FinishReason: genai.FinishReasonSafety,
				SafetyRatings: []*genai.SafetyRating{
					{Category: genai.HarmCategoryDangerousContent, Blocked: true},
				},
			},
		}}
		m := newTestModel(client)

		_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "x"}}, nil)
		var safetyErr *SafetyFilterError
		if !errors.As(err, &safetyErr) {
			t.Fatalf("expected SafetyFilterError, got %T", err)
		}
		if safetyErr.Category() != genai.HarmCategoryDangerousContent.String() {
			t.Errorf("Category() = %q", safetyErr.Category())
		}
		if safetyErr.Reason() != "SAFETY" {
			t.Errorf("Reason() = %q", safetyErr.Reason())
		}
	})

	t.Run("safety finish reason in response", func(t *testing.T) {
		client := &mockGoogleClient{response: &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
		}}
		m := newTestModel(client)

		_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "x"}}, nil)
		var safetyErr *SafetyFilterError
		if !errors.As(err, &safetyErr) || safetyErr.Category() != "unknown" {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("passes through other errors", func(t *testing.T) {
		want := errors.New("quota exceeded")
		m := newTestModel(&mockGoogleClient{err: want})

		_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "x"}}, nil)
		if !errors.Is(err, want) {
			t.Errorf("expected %v, got %v", want, err)
		}
	})
}

func TestBuildRequest(t *testing.T) {
	t.Run("history with function round trip", func(t *testing.T) {
		req, err := buildRequest([]model.Message{
			{Role: model.RoleUser, Content: "Book hotel 42"},
			{Role: model.RoleAssistant, Content: "Booking.", ToolCalls: []model.ToolCall{
				{ID: "call_1", Name: "book_hotel", Input: map[string]interface{}{"hotel_id": 42}},
			}},
			{Role: model.RoleTool, ToolCallID: "call_1", Name: "book_hotel", Content: "Hotel 42 successfully booked."},
		}, nil)
		if err != nil {
			t.Fatalf("buildRequest: %v", err)
		}
		if len(req.history) != 2 {
			t.Fatalf("history = %d contents", len(req.history))
		}
		if req.history[1].Role != roleModel || len(req.history[1].Parts) != 2 {
			t.Errorf("model turn = %+v", req.history[1])
		}
		resp, ok := req.parts[0].(genai.FunctionResponse)
		if !ok || resp.Name != "book_hotel" || resp.Response["content"] != "Hotel 42 successfully booked." {
			t.Errorf("parts = %+v", req.parts)
		}
	})

	t.Run("merges consecutive user turns", func(t *testing.T) {
		req, err := buildRequest([]model.Message{
			{Role: model.RoleUser, Content: "a"},
			{Role: model.RoleUser, Content: "b"},
		}, nil)
		if err != nil {
			t.Fatalf("buildRequest: %v", err)
		}
		if len(req.history) != 0 || len(req.parts) != 2 {
			t.Errorf("request = %+v", req)
		}
	})

	t.Run("must end with a user turn", func(t *testing.T) {
		_, err := buildRequest([]model.Message{
			{Role: model.RoleUser, Content: "a"},
			{Role: model.RoleAssistant, Content: "b"},
		}, nil)
		if err == nil {
			t.Error("expected error")
		}
		if _, err := buildRequest(nil, nil); err == nil {
			t.Error("expected error for empty conversation")
		}
	})
}

func TestConvertSchema(t *testing.T) {
	schema := convertSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"ticket_no": map[string]interface{}{"type": "string", "description": "Ticket number"},
			"keywords": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		},
		"required": []interface{}{"ticket_no"},
	})

	if schema.Type != genai.TypeObject {
		t.Errorf("Type = %v", schema.Type)
	}
	if p := schema.Properties["ticket_no"]; p == nil || p.Type != genai.TypeString || p.Description != "Ticket number" {
		t.Errorf("ticket_no = %+v", p)
	}
	if p := schema.Properties["keywords"]; p == nil || p.Items == nil || p.Items.Type != genai.TypeString {
		t.Errorf("keywords = %+v", p)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "ticket_no" {
		t.Errorf("Required = %v", schema.Required)
	}
	if convertSchema(nil) != nil {
		t.Error("nil schema should convert to nil")
	}
}

func newTestModel(client googleClient) *ChatModel {
	n := 0
	return &ChatModel{
		modelName: DefaultModel,
		client:    client,
		newID: func() string {
			n++
			return "call_" + string(rune('0'+n))
		},
	}
}

type mockGoogleClient struct {
	response  *genai.GenerateContentResponse
	err       error
	callCount int
	last      request
}

func (m *mockGoogleClient) generateContent(_ context.Context, _ string, req request) (*genai.GenerateContentResponse, error) {
	m.callCount++
	m.last = req
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}
