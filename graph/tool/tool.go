// Package tool defines executable tools that chat models can call.
package tool

import (
	"context"

	"github.com/dshills/langgraph-travel/graph/model"
)

// Tool defines the interface for executable tools that LLMs can invoke.
//
// Implementations should:
//   - Validate input parameters
//   - Respect context cancellation and timeouts
//   - Return structured output as map[string]interface{}
//   - Return errors with a message the model can act on; tool nodes show
//     the error text to the model rather than failing the run
//
// A tool that should be offered to a model also implements Describer.
type Tool interface {
	// Name returns the unique identifier for this tool.
	//
	// The name must match the tool name in ToolSpec used by the LLM.
	// Examples: "search_hotels", "book_hotel", "lookup_policy"
	Name() string

	// Call executes the tool with the provided input and returns the result.
	//
	// A string "content" key, when present, is used verbatim as the tool
	// result shown to the model. Otherwise the whole output is shown as JSON.
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// Describer is implemented by tools that carry a model-facing description
// and JSON schema.
type Describer interface {
	Spec() model.ToolSpec
}

// Func adapts a function into a described Tool.
//
// Example:
//
//	search := tool.New("search_hotels", "Search for hotels by location.",
//	    tool.Object(map[string]interface{}{
//	        "location": tool.String("City name"),
//	    }),
//	    func(ctx context.Context, in map[string]interface{}) (map[string]interface{}, error) {
//	        return map[string]interface{}{"content": "..."}, nil
//	    })
type Func struct {
	spec model.ToolSpec
	fn   func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// New creates a Func tool.
func New(name, description string, schema map[string]interface{}, fn func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)) *Func {
	return &Func{
		spec: model.ToolSpec{Name: name, Description: description, Schema: schema},
		fn:   fn,
	}
}

// Name implements Tool.
func (f *Func) Name() string { return f.spec.Name }

// Spec implements Describer.
func (f *Func) Spec() model.ToolSpec { return f.spec }

// Call implements Tool.
func (f *Func) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.fn(ctx, input)
}

// Specs returns the specs of every tool that implements Describer, in order.
// Tools without a description are offered by name only.
func Specs(tools ...Tool) []model.ToolSpec {
	specs := make([]model.ToolSpec, 0, len(tools))
	for _, t := range tools {
		if d, ok := t.(Describer); ok {
			specs = append(specs, d.Spec())
			continue
		}
		specs = append(specs, model.ToolSpec{Name: t.Name()})
	}
	return specs
}

// Names returns the names of tools, in order.
func Names(tools ...Tool) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	return names
}

// Object builds a JSON schema object from property schemas. Trailing
// required names are listed as required.
func Object(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// String returns a string property schema.
func String(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

// Integer returns an integer property schema.
func Integer(description string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": description}
}

// StringList returns an array-of-strings property schema.
func StringList(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": "string"},
		"description": description,
	}
}
