package graph

import (
	"github.com/google/uuid"

	"github.com/dshills/langgraph-travel/graph/model"
)

// ModelMessages converts conversation history into the provider-neutral
// form consumed by model.ChatModel. The system prompt, if any, is prepended.
func ModelMessages(system string, msgs []Message) []model.Message {
	out := make([]model.Message, 0, len(msgs)+1)
	if system != "" {
		out = append(out, model.Message{Role: model.RoleSystem, Content: system})
	}

	for _, m := range msgs {
		switch m.Kind {
		case KindUser:
			out = append(out, model.Message{Role: model.RoleUser, Content: m.Content})
		case KindAssistant:
			out = append(out, model.Message{Role: model.RoleAssistant, Content: m.Content})
		case KindToolRequest:
			calls := make([]model.ToolCall, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				calls[i] = model.ToolCall{ID: tc.ID, Name: tc.Name, Input: tc.Args}
			}
			out = append(out, model.Message{Role: model.RoleAssistant, Content: m.Content, ToolCalls: calls})
		case KindToolResult:
			out = append(out, model.Message{Role: model.RoleTool, Content: m.Content, ToolCallID: m.CallID, Name: m.Name})
		}
	}
	return out
}

// MessageFromChat converts a model reply into a conversation message.
// Tool calls without a provider ID are given a generated one so that tool
// results can reference them.
func MessageFromChat(out model.ChatOut) Message {
	if len(out.ToolCalls) == 0 {
		return AssistantText(out.Text)
	}

	calls := make([]ToolCall, len(out.ToolCalls))
	for i, tc := range out.ToolCalls {
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		calls[i] = ToolCall{ID: id, Name: tc.Name, Args: tc.Input}
	}
	return ToolRequest(out.Text, calls...)
}
