// Package anthropic provides a ChatModel adapter for Anthropic's Claude API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/langgraph-travel/graph/model"
)

// DefaultModel is used when NewChatModel receives an empty model name.
const DefaultModel = "claude-3-5-haiku-latest"

const defaultMaxTokens = 4096

// ChatModel implements model.ChatModel for Anthropic's Claude API.
//
// Provides access to Claude models with:
//   - Tool calling, including tool_use and tool_result round trips
//   - System prompt extraction (Anthropic uses a separate system parameter)
//   - Error translation to anthropicError
//   - Context cancellation
//
// Example usage:
//
//	m := anthropic.NewChatModel(os.Getenv("ANTHROPIC_API_KEY"), "claude-3-5-haiku-latest")
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleUser, Content: "Which flights do I have?"},
//	}, specs)
type ChatModel struct {
	modelName   string
	maxTokens   int64
	temperature *float64
	client      anthropicClient
}

// anthropicClient is the slice of the SDK used by ChatModel.
// Tests replace it with a fake.
type anthropicClient interface {
	newMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

// NewChatModel creates a new Anthropic ChatModel.
//
// An empty modelName uses DefaultModel.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}

	return &ChatModel{
		modelName: modelName,
		maxTokens: defaultMaxTokens,
		client:    newDefaultClient(apiKey),
	}
}

// WithTemperature sets the sampling temperature and returns the model.
func (m *ChatModel) WithTemperature(t float64) *ChatModel {
	m.temperature = &t
	return m
}

// Chat implements the model.ChatModel interface.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	params, err := m.buildParams(messages, tools)
	if err != nil {
		return model.ChatOut{}, err
	}

	resp, err := m.client.newMessage(ctx, params)
	if err != nil {
		return model.ChatOut{}, translateError(err)
	}

	return convertResponse(resp)
}

func (m *ChatModel) buildParams(messages []model.Message, tools []model.ToolSpec) (anthropic.MessageNewParams, error) {
	systemPrompt, conversation := model.SystemPrompt(messages)

	converted, err := convertMessages(conversation)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.modelName),
		MaxTokens: m.maxTokens,
		Messages:  converted,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}
	if m.temperature != nil {
		params.Temperature = anthropic.Float(*m.temperature)
	}
	return params, nil
}

// convertMessages maps the conversation to Anthropic message params.
// Consecutive tool results are grouped into a single user turn, which is
// what the API expects after an assistant turn with several tool_use blocks.
func convertMessages(messages []model.Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))
	var pending []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pending) > 0 {
			out = append(out, anthropic.NewUserMessage(pending...))
			pending = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleTool:
			pending = append(pending, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))

		case model.RoleAssistant:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				input := call.Input
				if input == nil {
					input = map[string]interface{}{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))

		case model.RoleUser:
			flush()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))

		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", msg.Role)
		}
	}
	flush()

	return out, nil
}

func convertTools(tools []model.ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, spec := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		if props, ok := spec.Schema["properties"]; ok {
			schema.Properties = props
		}
		schema.Required = requiredFields(spec.Schema)

		tool := &anthropic.ToolParam{
			Name:        spec.Name,
			InputSchema: schema,
		}
		if spec.Description != "" {
			tool.Description = anthropic.String(spec.Description)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: tool})
	}
	return out
}

func requiredFields(schema map[string]interface{}) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func convertResponse(resp *anthropic.Message) (model.ChatOut, error) {
	if resp == nil {
		return model.ChatOut{}, nil
	}

	out := model.ChatOut{
		Model: string(resp.Model),
		Usage: model.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += block.Text

		case "tool_use":
			var input map[string]interface{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &input); err != nil {
					return model.ChatOut{}, fmt.Errorf("anthropic: decode tool input for %s: %w", block.Name, err)
				}
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: input,
			})
		}
	}

	return out, nil
}

// translateError converts SDK API errors into anthropicError so callers can
// inspect the error class with errors.As.
func translateError(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	return &anthropicError{
		Type:       errorType(apiErr.StatusCode),
		Message:    apiErr.Error(),
		StatusCode: apiErr.StatusCode,
	}
}

func errorType(status int) string {
	switch status {
	case 400:
		return "invalid_request_error"
	case 401:
		return "authentication_error"
	case 403:
		return "permission_error"
	case 404:
		return "not_found_error"
	case 429:
		return "rate_limit_error"
	case 529:
		return "overloaded_error"
	default:
		return "api_error"
	}
}

// defaultClient wraps the official anthropic-sdk-go client.
type defaultClient struct {
	apiKey string
	client *anthropic.Client
}

func newDefaultClient(apiKey string) *defaultClient {
	c := &defaultClient{apiKey: apiKey}
	if apiKey != "" {
		client := anthropic.NewClient(option.WithAPIKey(apiKey))
		c.client = &client
	}
	return c
}

func (c *defaultClient) newMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	if c.client == nil {
		return nil, errors.New("anthropic API key is required")
	}
	return c.client.Messages.New(ctx, params)
}

// anthropicError represents an Anthropic API error.
type anthropicError struct {
	Type       string
	Message    string
	StatusCode int
}

func (e *anthropicError) Error() string {
	return e.Type + ": " + e.Message
}

// Retryable reports whether the request may succeed if sent again.
func (e *anthropicError) Retryable() bool {
	return e.Type == "rate_limit_error" || e.Type == "overloaded_error" || e.StatusCode >= 500
}
