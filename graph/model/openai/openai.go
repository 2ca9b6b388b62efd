// Package openai provides ChatModel and Embedder adapters for the OpenAI API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/langgraph-travel/graph/model"
)

const (
	// DefaultModel is used when NewChatModel receives an empty model name.
	DefaultModel = "gpt-4o-mini"

	// DefaultEmbeddingModel is the embedding model used by NewEmbedder.
	DefaultEmbeddingModel = "text-embedding-3-small"
)

// ChatModel implements model.ChatModel for OpenAI's API.
//
// Provides access to OpenAI chat models with:
//   - Automatic retry logic for transient errors
//   - Rate limit handling
//   - Tool calling with call IDs preserved across turns
//   - Context cancellation
//
// Example usage:
//
//	m := openai.NewChatModel(os.Getenv("OPENAI_API_KEY"), "gpt-4o-mini")
//	out, err := m.Chat(ctx, messages, specs)
type ChatModel struct {
	modelName   string
	temperature *float64
	client      openaiClient
	maxRetries  int
	retryDelay  time.Duration
}

// openaiClient is the slice of the SDK used by this package.
// Tests replace it with a fake.
type openaiClient interface {
	createChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
	createEmbeddings(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error)
}

// NewChatModel creates a new OpenAI ChatModel.
//
// Returns a ChatModel configured with:
//   - 3 retry attempts for transient errors
//   - 1 second delay between retries
//   - Linear backoff for rate limits
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}

	return &ChatModel{
		modelName:  modelName,
		client:     newDefaultClient(apiKey),
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// WithTemperature sets the sampling temperature and returns the model.
func (m *ChatModel) WithTemperature(t float64) *ChatModel {
	m.temperature = &t
	return m
}

// Chat implements the model.ChatModel interface.
//
// Automatically retries on transient errors (network issues, rate limits).
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	params, err := m.buildParams(messages, tools)
	if err != nil {
		return model.ChatOut{}, err
	}

	var resp *openai.ChatCompletion
	err = withRetry(ctx, m.maxRetries, m.retryDelay, func() error {
		var callErr error
		resp, callErr = m.client.createChatCompletion(ctx, params)
		return callErr
	})
	if err != nil {
		return model.ChatOut{}, err
	}

	return convertResponse(resp)
}

func (m *ChatModel) buildParams(messages []model.Message, tools []model.ToolSpec) (openai.ChatCompletionNewParams, error) {
	converted, err := convertMessages(messages)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.modelName),
		Messages: converted,
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}
	if m.temperature != nil {
		params.Temperature = openai.Float(*m.temperature)
	}
	return params, nil
}

func convertMessages(messages []model.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))

		case model.RoleUser:
			out = append(out, openai.UserMessage(msg.Content))

		case model.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))

		case model.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				args, err := json.Marshal(call.Input)
				if err != nil {
					return nil, fmt.Errorf("openai: encode arguments for %s: %w", call.Name, err)
				}
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})

		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", msg.Role)
		}
	}
	return out, nil
}

func convertTools(tools []model.ToolSpec) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, spec := range tools {
		fn := shared.FunctionDefinitionParam{
			Name:       spec.Name,
			Parameters: shared.FunctionParameters(spec.Schema),
		}
		if spec.Description != "" {
			fn.Description = openai.String(spec.Description)
		}
		out = append(out, openai.ChatCompletionToolParam{Function: fn})
	}
	return out
}

func convertResponse(resp *openai.ChatCompletion) (model.ChatOut, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return model.ChatOut{}, nil
	}

	msg := resp.Choices[0].Message
	out := model.ChatOut{
		Text:  msg.Content,
		Model: resp.Model,
		Usage: model.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}

	for _, call := range msg.ToolCalls {
		var input map[string]interface{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
				return model.ChatOut{}, fmt.Errorf("openai: decode arguments for %s: %w", call.Function.Name, err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: input,
		})
	}

	return out, nil
}

// Embedder implements model.Embedder with OpenAI embeddings.
type Embedder struct {
	modelName  string
	client     openaiClient
	maxRetries int
	retryDelay time.Duration
}

// NewEmbedder creates an Embedder. An empty modelName uses
// DefaultEmbeddingModel.
func NewEmbedder(apiKey, modelName string) *Embedder {
	if modelName == "" {
		modelName = DefaultEmbeddingModel
	}
	return &Embedder{
		modelName:  modelName,
		client:     newDefaultClient(apiKey),
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// Embed implements model.Embedder.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if len(texts) == 0 {
		return nil, nil
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(e.modelName),
	}

	var resp *openai.CreateEmbeddingResponse
	err := withRetry(ctx, e.maxRetries, e.retryDelay, func() error {
		var callErr error
		resp, callErr = e.client.createEmbeddings(ctx, params)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("openai: embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func withRetry(ctx context.Context, maxRetries int, retryDelay time.Duration, call func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		err = translateError(err)
		lastErr = err

		if !isTransientError(err) {
			return err
		}
		if attempt >= maxRetries {
			break
		}

		delay := retryDelay
		if isRateLimitError(err) {
			delay = retryDelay * time.Duration(attempt+1)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("OpenAI API failed after %d retries: %w", maxRetries, lastErr)
}

// translateError maps SDK status errors onto rateLimitError.
func translateError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
		return &rateLimitError{cause: err}
	}
	return err
}

// isTransientError determines if an error should trigger a retry.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if isRateLimitError(err) {
		return true
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}

	msgLower := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "network", "connection", "temporary", "503", "502", "500"} {
		if strings.Contains(msgLower, pattern) {
			return true
		}
	}
	return false
}

func isRateLimitError(err error) bool {
	var rateLimitErr *rateLimitError
	return errors.As(err, &rateLimitErr)
}

// rateLimitError marks an HTTP 429 response.
type rateLimitError struct {
	cause error
}

func (e *rateLimitError) Error() string {
	if e.cause == nil {
		return "rate limit exceeded"
	}
	return "rate limit exceeded: " + e.cause.Error()
}

func (e *rateLimitError) Unwrap() error { return e.cause }

// defaultClient wraps the official openai-go client.
type defaultClient struct {
	client *openai.Client
}

func newDefaultClient(apiKey string) *defaultClient {
	c := &defaultClient{}
	if apiKey != "" {
		client := openai.NewClient(option.WithAPIKey(apiKey))
		c.client = &client
	}
	return c
}

func (c *defaultClient) createChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	if c.client == nil {
		return nil, errors.New("OpenAI API key is required")
	}
	return c.client.Chat.Completions.New(ctx, params)
}

func (c *defaultClient) createEmbeddings(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error) {
	if c.client == nil {
		return nil, errors.New("OpenAI API key is required")
	}
	return c.client.Embeddings.New(ctx, params)
}
