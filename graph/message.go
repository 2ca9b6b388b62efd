package graph

import (
	"errors"
	"fmt"
)

// MessageKind discriminates the variants of a conversation Message.
type MessageKind string

const (
	// KindUser is plain text authored by the end user.
	KindUser MessageKind = "user"

	// KindAssistant is plain text authored by the model.
	KindAssistant MessageKind = "assistant"

	// KindToolRequest is a model turn that asks for one or more tool
	// invocations. It may also carry text.
	KindToolRequest MessageKind = "tool_request"

	// KindToolResult is the outcome of a single tool invocation, keyed by
	// the call ID of the request it answers.
	KindToolResult MessageKind = "tool_result"
)

// PlaceholderCallID is used when a tool result must be produced but no call
// ID can be resolved. It is the only call ID exempt from reference checks.
const PlaceholderCallID = "unknown_tool_call_id"

var (
	// ErrInvalidMessage reports a message whose fields do not match its kind.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrDanglingToolResult reports a tool result whose call ID does not
	// appear in any earlier tool request.
	ErrDanglingToolResult = errors.New("tool result references unknown call id")
)

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Message is one entry of the conversation history.
//
// Message is a tagged union: Kind selects which of the remaining fields are
// meaningful. Use the constructors (UserText, AssistantText, ToolRequest,
// ToolResult) rather than building the struct by hand; Validate reports any
// combination of fields that does not match the kind.
//
//	KindUser, KindAssistant: Content
//	KindToolRequest:         Content (optional), ToolCalls (at least one)
//	KindToolResult:          CallID, Name, Content
type Message struct {
	Kind      MessageKind `json:"kind"`
	Content   string      `json:"content,omitempty"`
	ToolCalls []ToolCall  `json:"tool_calls,omitempty"`
	CallID    string      `json:"call_id,omitempty"`
	Name      string      `json:"name,omitempty"`
}

// UserText returns a user message.
func UserText(text string) Message {
	return Message{Kind: KindUser, Content: text}
}

// AssistantText returns an assistant message without tool calls.
func AssistantText(text string) Message {
	return Message{Kind: KindAssistant, Content: text}
}

// ToolRequest returns an assistant turn requesting the given tool calls.
func ToolRequest(text string, calls ...ToolCall) Message {
	return Message{Kind: KindToolRequest, Content: text, ToolCalls: calls}
}

// ToolResult returns the result of the tool call identified by callID.
func ToolResult(callID, toolName, content string) Message {
	return Message{Kind: KindToolResult, CallID: callID, Name: toolName, Content: content}
}

// HasToolCalls reports whether the message requests at least one tool call.
func (m Message) HasToolCalls() bool {
	return m.Kind == KindToolRequest && len(m.ToolCalls) > 0
}

// Validate checks that the populated fields match the message kind.
func (m Message) Validate() error {
	switch m.Kind {
	case KindUser, KindAssistant:
		if len(m.ToolCalls) > 0 || m.CallID != "" {
			return fmt.Errorf("%w: %s message cannot carry tool fields", ErrInvalidMessage, m.Kind)
		}
	case KindToolRequest:
		if len(m.ToolCalls) == 0 {
			return fmt.Errorf("%w: tool request without tool calls", ErrInvalidMessage)
		}
		seen := make(map[string]bool, len(m.ToolCalls))
		for _, tc := range m.ToolCalls {
			if tc.ID == "" || tc.Name == "" {
				return fmt.Errorf("%w: tool call requires id and name", ErrInvalidMessage)
			}
			if seen[tc.ID] {
				return fmt.Errorf("%w: duplicate call id %q", ErrInvalidMessage, tc.ID)
			}
			seen[tc.ID] = true
		}
		if m.CallID != "" {
			return fmt.Errorf("%w: tool request cannot carry a call id", ErrInvalidMessage)
		}
	case KindToolResult:
		if m.CallID == "" {
			return fmt.Errorf("%w: tool result without call id", ErrInvalidMessage)
		}
		if len(m.ToolCalls) > 0 {
			return fmt.Errorf("%w: tool result cannot carry tool calls", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Kind)
	}
	return nil
}

// ValidateMessages checks every message and the call ID reference rule:
// a tool result must answer a call ID requested by a strictly earlier
// message.
func ValidateMessages(msgs []Message) error {
	requested := make(map[string]bool)
	for i, m := range msgs {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		switch m.Kind {
		case KindToolRequest:
			for _, tc := range m.ToolCalls {
				requested[tc.ID] = true
			}
		case KindToolResult:
			if m.CallID != PlaceholderCallID && !requested[m.CallID] {
				return fmt.Errorf("message %d: %w: %q", i, ErrDanglingToolResult, m.CallID)
			}
		}
	}
	return nil
}

// LastMessage returns the final message of msgs and false when msgs is empty.
func LastMessage(msgs []Message) (Message, bool) {
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// LastToolCall returns the most recent tool call found in msgs.
func LastToolCall(msgs []Message) (ToolCall, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].HasToolCalls() {
			return msgs[i].ToolCalls[0], true
		}
	}
	return ToolCall{}, false
}
