// Package google provides ChatModel adapter for Google Gemini API.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/dshills/langgraph-travel/graph/model"
)

// DefaultModel is used when NewChatModel receives an empty model name.
const DefaultModel = "gemini-2.5-flash"

const (
	roleUser  = "user"
	roleModel = "model"
)

// ChatModel implements model.ChatModel for Google's Gemini API.
//
// Provides access to Gemini models with:
//   - Safety filter handling
//   - Tool calling via function declarations
//   - Multi-turn history, including function responses
//   - Context cancellation
//
// Gemini does not assign call IDs, so each returned tool call gets a
// generated one. Tool results are matched back by tool name.
//
// Example usage:
//
//	m := google.NewChatModel(os.Getenv("GOOGLE_API_KEY"), "gemini-2.5-flash")
//	out, err := m.Chat(ctx, messages, specs)
//	if err != nil {
//	    var safetyErr *google.SafetyFilterError
//	    if errors.As(err, &safetyErr) {
//	        log.Printf("Content blocked: %s", safetyErr.Category())
//	    }
//	}
type ChatModel struct {
	modelName   string
	temperature *float32
	client      googleClient
	newID       func() string
}

// request is one Gemini call: the system instruction, prior turns, and the
// parts of the final user turn.
type request struct {
	system  string
	history []*genai.Content
	parts   []genai.Part
	tools   []*genai.Tool
	temp    *float32
}

// googleClient is the slice of the SDK used by ChatModel.
// Tests replace it with a fake.
type googleClient interface {
	generateContent(ctx context.Context, modelName string, req request) (*genai.GenerateContentResponse, error)
}

// NewChatModel creates a new Google ChatModel.
//
// An empty modelName uses DefaultModel.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}

	return &ChatModel{
		modelName: modelName,
		client:    &defaultClient{apiKey: apiKey},
		newID:     func() string { return "call_" + uuid.NewString() },
	}
}

// WithTemperature sets the sampling temperature and returns the model.
func (m *ChatModel) WithTemperature(t float64) *ChatModel {
	v := float32(t)
	m.temperature = &v
	return m
}

// Chat implements the model.ChatModel interface.
//
// Safety blocks are returned as *SafetyFilterError.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	req, err := buildRequest(messages, tools)
	if err != nil {
		return model.ChatOut{}, err
	}
	req.temp = m.temperature

	resp, err := m.client.generateContent(ctx, m.modelName, req)
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return model.ChatOut{}, safetyErrorFromBlocked(blocked)
		}
		return model.ChatOut{}, err
	}

	if safetyErr := safetyErrorFromResponse(resp); safetyErr != nil {
		return model.ChatOut{}, safetyErr
	}

	out := convertResponse(resp, m.newID)
	out.Model = m.modelName
	return out, nil
}

// buildRequest maps the conversation onto Gemini contents. Consecutive
// messages with the same Gemini role are merged into one content, and the
// final user content becomes the parts sent with the request.
func buildRequest(messages []model.Message, tools []model.ToolSpec) (request, error) {
	system, conversation := model.SystemPrompt(messages)
	req := request{system: system}
	if len(tools) > 0 {
		req.tools = convertTools(tools)
	}

	var contents []*genai.Content
	appendParts := func(role string, parts ...genai.Part) {
		if len(parts) == 0 {
			return
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			return
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	for _, msg := range conversation {
		switch msg.Role {
		case model.RoleUser:
			appendParts(roleUser, genai.Text(msg.Content))

		case model.RoleTool:
			appendParts(roleUser, genai.FunctionResponse{
				Name:     msg.Name,
				Response: map[string]any{"content": msg.Content},
			})

		case model.RoleAssistant:
			var parts []genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				parts = append(parts, genai.FunctionCall{Name: call.Name, Args: call.Input})
			}
			appendParts(roleModel, parts...)

		default:
			return request{}, fmt.Errorf("google: unsupported message role %q", msg.Role)
		}
	}

	if len(contents) == 0 {
		return request{}, errors.New("google: conversation has no user turn")
	}
	last := contents[len(contents)-1]
	if last.Role != roleUser {
		return request{}, errors.New("google: conversation must end with a user or tool message")
	}
	req.history = contents[:len(contents)-1]
	req.parts = last.Parts
	return req, nil
}

// convertTools converts our ToolSpec format to Google's format.
func convertTools(tools []model.ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  convertSchema(tool.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// convertSchema converts a JSON schema map to genai.Schema, recursing into
// object properties and array items.
func convertSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}

	result := &genai.Schema{Type: genai.TypeObject}
	if typeStr, ok := schema["type"].(string); ok {
		result.Type = convertTypeString(typeStr)
	}
	if desc, ok := schema["description"].(string); ok {
		result.Description = desc
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		result.Items = convertSchema(items)
	}

	if props, ok := schema["properties"].(map[string]interface{}); ok {
		properties := make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			if propMap, ok := val.(map[string]interface{}); ok {
				properties[key] = convertSchema(propMap)
			}
		}
		result.Properties = properties
	}

	switch required := schema["required"].(type) {
	case []string:
		result.Required = required
	case []interface{}:
		for _, v := range required {
			if s, ok := v.(string); ok {
				result.Required = append(result.Required, s)
			}
		}
	}

	return result
}

// convertTypeString converts a JSON Schema type string to genai.Type constant.
func convertTypeString(typeStr string) genai.Type {
	switch typeStr {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

// convertResponse converts Google's response to our ChatOut format.
func convertResponse(resp *genai.GenerateContentResponse, newID func() string) model.ChatOut {
	out := model.ChatOut{}
	if resp == nil {
		return out
	}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(p)

		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:    newID(),
				Name:  p.Name,
				Input: p.Args,
			})
		}
	}

	return out
}

func safetyErrorFromBlocked(blocked *genai.BlockedError) *SafetyFilterError {
	if blocked.Candidate != nil {
		return &SafetyFilterError{reason: "SAFETY", category: blockedCategory(blocked.Candidate.SafetyRatings)}
	}
	if blocked.PromptFeedback != nil {
		return &SafetyFilterError{
			reason:   blocked.PromptFeedback.BlockReason.String(),
			category: blockedCategory(blocked.PromptFeedback.SafetyRatings),
		}
	}
	return &SafetyFilterError{reason: "SAFETY", category: "unknown"}
}

func safetyErrorFromResponse(resp *genai.GenerateContentResponse) *SafetyFilterError {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	c := resp.Candidates[0]
	if c.FinishReason != genai.FinishReasonSafety {
		return nil
	}
	return &SafetyFilterError{reason: "SAFETY", category: blockedCategory(c.SafetyRatings)}
}

func blockedCategory(ratings []*genai.SafetyRating) string {
	for _, r := range ratings {
		if r != nil && r.Blocked {
			return r.Category.String()
		}
	}
	return "unknown"
}

// defaultClient wraps the official Google Gemini SDK client.
type defaultClient struct {
	apiKey string
}

func (c *defaultClient) generateContent(ctx context.Context, modelName string, req request) (*genai.GenerateContentResponse, error) {
	if c.apiKey == "" {
		return nil, errors.New("google API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}
	defer func() { _ = client.Close() }()

	genModel := client.GenerativeModel(modelName)
	if req.system != "" {
		genModel.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.system)}}
	}
	if len(req.tools) > 0 {
		genModel.Tools = req.tools
	}
	if req.temp != nil {
		genModel.SetTemperature(*req.temp)
	}

	session := genModel.StartChat()
	session.History = req.history

	resp, err := session.SendMessage(ctx, req.parts...)
	if err != nil {
		return nil, fmt.Errorf("google API error: %w", err)
	}
	return resp, nil
}

// SafetyFilterError represents a Google safety filter block.
//
// Use errors.As to check for this error type:
//
//	var safetyErr *google.SafetyFilterError
//	if errors.As(err, &safetyErr) {
//	    log.Printf("Content blocked: %s", safetyErr.Category())
//	}
type SafetyFilterError struct {
	reason   string
	category string
}

// Error implements the error interface.
func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.category
}

// Category returns the safety category that triggered the block.
func (e *SafetyFilterError) Category() string {
	return e.category
}

// Reason returns why the content was blocked.
func (e *SafetyFilterError) Reason() string {
	return e.reason
}
