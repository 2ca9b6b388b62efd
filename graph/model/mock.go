package model

import (
	"context"
	"sync"
)

// MockChatModel is a test implementation of ChatModel.
//
// Use MockChatModel in tests to verify workflow behavior without making
// actual LLM API calls. Respond, when set, computes each reply from the
// conversation; otherwise Responses are returned in order and the last one
// repeats.
//
// Example usage:
//
//	mock := &MockChatModel{
//	    Responses: []ChatOut{
//	        {ToolCalls: []ToolCall{{ID: "call_1", Name: "search_hotels", Input: map[string]interface{}{"location": "Zurich"}}}},
//	        {Text: "I found three hotels in Zurich."},
//	    },
//	}
type MockChatModel struct {
	// Responses contains the sequence of responses to return.
	Responses []ChatOut

	// Respond, if set, is called instead of consuming Responses.
	Respond func(messages []Message, tools []ToolSpec) (ChatOut, error)

	// Err, if set, will be returned by Chat() instead of a response.
	Err error

	// Calls tracks the history of all Chat() invocations.
	Calls []MockChatCall

	mu        sync.Mutex
	callIndex int
}

// MockChatCall records a single invocation of Chat().
type MockChatCall struct {
	Messages []Message
	Tools    []ToolSpec
}

// Chat implements the ChatModel interface.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if ctx.Err() != nil {
		return ChatOut{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockChatCall{Messages: messages, Tools: tools})

	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if m.Respond != nil {
		return m.Respond(messages, tools)
	}
	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Reset clears the call history and resets the response index.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of times Chat() has been called.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}

// LastCall returns the most recent call, if any.
func (m *MockChatModel) LastCall() (MockChatCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.Calls) == 0 {
		return MockChatCall{}, false
	}
	return m.Calls[len(m.Calls)-1], true
}

// MockEmbedder embeds texts with a caller-supplied function. With no
// function it returns a bag-of-letters vector, enough for ranking tests.
type MockEmbedder struct {
	EmbedFunc func(text string) []float64
	Err       error

	mu    sync.Mutex
	calls int
}

// Embed implements Embedder.
func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		if m.EmbedFunc != nil {
			out[i] = m.EmbedFunc(text)
		} else {
			out[i] = letterVector(text)
		}
	}
	return out, nil
}

// CallCount returns the number of Embed calls.
func (m *MockEmbedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func letterVector(text string) []float64 {
	v := make([]float64, 26)
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z':
			v[r-'a']++
		case r >= 'A' && r <= 'Z':
			v[r-'A']++
		}
	}
	return v
}
