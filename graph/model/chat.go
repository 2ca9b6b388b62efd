// Package model provides LLM integration adapters.
package model

import "context"

// ChatModel defines the interface for LLM chat providers.
//
// This interface abstracts the differences between LLM providers
// (Anthropic, OpenAI, Google) providing a unified API for chat-based
// interactions with tool calling.
//
// Implementations should:
//   - Handle provider-specific authentication
//   - Convert Message (including tool calls and tool results) to the
//     provider format
//   - Parse provider responses back to ChatOut, keeping tool call IDs
//   - Respect context cancellation and timeouts
//
// Example usage:
//
//	m := anthropic.NewChatModel(apiKey, "claude-3-5-haiku-latest")
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleSystem, Content: "You are a travel assistant."},
//	    {Role: model.RoleUser, Content: "Find hotels in Zurich"},
//	}, specs)
//	for _, call := range out.ToolCalls {
//	    fmt.Printf("Tool: %s (%s), Input: %v\n", call.Name, call.ID, call.Input)
//	}
type ChatModel interface {
	// Chat sends messages to the LLM and returns the response.
	//
	// The LLM may respond with text, tool calls, or both.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Embedder turns texts into embedding vectors.
type Embedder interface {
	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Message represents a single message in an LLM conversation.
//
// Typical conversation structure:
//   - System message (optional): sets context and behavior
//   - User messages: user input or questions
//   - Assistant messages: LLM responses, possibly with ToolCalls
//   - Tool messages: the result of one tool call, linked by ToolCallID
type Message struct {
	// Role identifies the message sender. Use the Role* constants.
	Role string

	// Content contains the message text.
	// May be empty for assistant messages that only contain tool calls.
	Content string

	// ToolCalls lists the calls requested by an assistant message.
	ToolCalls []ToolCall

	// ToolCallID links a tool message to the call it answers.
	ToolCallID string

	// Name is the tool name of a tool message.
	Name string
}

// Standard role constants for LLM conversations.
const (
	// RoleSystem indicates a system message that sets context or instructions.
	RoleSystem = "system"

	// RoleUser indicates a message from the human user.
	RoleUser = "user"

	// RoleAssistant indicates a response from the LLM.
	RoleAssistant = "assistant"

	// RoleTool indicates the result of a tool call.
	RoleTool = "tool"
)

// ToolSpec describes a tool that an LLM can call.
//
// The Schema field follows JSON Schema format and describes the expected
// input parameters.
type ToolSpec struct {
	// Name uniquely identifies the tool.
	Name string

	// Description explains what the tool does.
	// The LLM uses this to decide when to call the tool.
	Description string

	// Schema defines the tool's input parameters using JSON Schema format.
	// Optional for tools with no parameters.
	Schema map[string]interface{}
}

// ChatOut represents the output from an LLM chat completion.
type ChatOut struct {
	// Text contains the LLM's generated response.
	// May be empty if the LLM only wants to call tools.
	Text string

	// ToolCalls contains tools the LLM wants to invoke.
	ToolCalls []ToolCall

	// Usage reports token consumption when the provider returns it.
	Usage Usage

	// Model is the provider model that produced the response.
	Model string
}

// Empty reports whether the model produced neither text nor tool calls.
func (o ChatOut) Empty() bool {
	return o.Text == "" && len(o.ToolCalls) == 0
}

// Usage is the token count of one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ToolCall represents a request from the LLM to invoke a specific tool.
type ToolCall struct {
	// ID is the provider-assigned call identifier. Tool results must echo
	// it back. Providers without call IDs get a generated one.
	ID string

	// Name identifies which tool to call.
	Name string

	// Input contains the parameters for the tool call.
	Input map[string]interface{}
}

// SystemPrompt splits leading and interleaved system messages from the
// conversation. Providers with a separate system parameter use it.
func SystemPrompt(messages []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		rest = append(rest, msg)
	}
	return system, rest
}
