package tool

import (
	"fmt"

	"github.com/casualjim/relay/dialect/blocks"
	"github.com/casualjim/relay/dialect/choices"
	"github.com/casualjim/relay/messages"
)

// ToolSet is a set of tool definitions serialized for one provider dialect.
// Only the slice matching Provider is populated.
type ToolSet struct {
	Provider messages.Provider
	Blocks   []blocks.Tool
	Choices  []choices.Tool
}

func (s ToolSet) Len() int {
	return len(s.Blocks) + len(s.Choices)
}

// ForProvider serializes every registered tool for the given provider.
func (r *Registry) ForProvider(provider messages.Provider) (ToolSet, error) {
	return SchemasFor(provider, r.Schemas())
}

// SchemasFor serializes schemas for the given provider.
func SchemasFor(provider messages.Provider, schemas []Schema) (ToolSet, error) {
	set := ToolSet{Provider: provider}
	switch provider {
	case messages.Anthropic:
		set.Blocks = make([]blocks.Tool, 0, len(schemas))
		for _, s := range schemas {
			params, err := s.ParametersMap()
			if err != nil {
				return ToolSet{}, err
			}
			set.Blocks = append(set.Blocks, blocks.Tool{
				Name:        s.Name,
				Description: s.Description,
				InputSchema: params,
			})
		}
	case messages.OpenAI:
		set.Choices = make([]choices.Tool, 0, len(schemas))
		for _, s := range schemas {
			params, err := s.ParametersMap()
			if err != nil {
				return ToolSet{}, err
			}
			set.Choices = append(set.Choices, FunctionTool(s.Name, s.Description, params))
		}
	default:
		return ToolSet{}, fmt.Errorf("unknown provider %q", provider)
	}
	return set, nil
}

// FunctionTool wraps a parameter schema in the function-call envelope, closing
// every object schema it contains.
func FunctionTool(name, description string, parameters map[string]any) choices.Tool {
	return choices.Tool{
		Type: choices.TypeFunction,
		Function: choices.Function{
			Name:        name,
			Description: description,
			Parameters:  CloseObjectSchemas(parameters),
		},
	}
}

// CloseObjectSchemas returns a deep copy of schema where every object schema
// has additionalProperties set to false.
func CloseObjectSchemas(schema map[string]any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}, "additionalProperties": false}
	}
	closed, _ := closeSchema(schema).(map[string]any)
	return closed
}

func closeSchema(node any) any {
	switch n := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(n)+1)
		for k, v := range n {
			if named, ok := v.(map[string]any); ok && schemaMapKeys[k] {
				props := make(map[string]any, len(named))
				for name, sub := range named {
					props[name] = closeSchema(sub)
				}
				out[k] = props
				continue
			}
			out[k] = closeSchema(v)
		}
		if isObjectSchema(n) {
			out["additionalProperties"] = false
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			out[i] = closeSchema(v)
		}
		return out
	default:
		return node
	}
}

// keys whose value maps names to schemas rather than being a schema itself
var schemaMapKeys = map[string]bool{
	"properties":        true,
	"patternProperties": true,
	"$defs":             true,
	"definitions":       true,
}

func isObjectSchema(n map[string]any) bool {
	switch t := n["type"].(type) {
	case string:
		return t == "object"
	case []any:
		for _, v := range t {
			if v == "object" {
				return true
			}
		}
	}
	_, hasProps := n["properties"]
	return hasProps
}
