package tool

import (
	"context"
	"fmt"
	"reflect"

	"github.com/casualjim/relay/pkg/jsonx"
	"github.com/casualjim/relay/pkg/stdx"
	"github.com/fogfish/opts"
	json "github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Tool is the capability every tool exposes to the orchestrator.
type Tool interface {
	Schema() Schema
	Execute(ctx context.Context, input map[string]any) (any, error)
}

// Schema is the canonical description of a tool.
type Schema struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
}

// ParametersMap renders the parameter schema as a dynamic JSON object. A tool
// without parameters gets an empty object schema.
func (s Schema) ParametersMap() (map[string]any, error) {
	if s.Parameters == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}, nil
	}
	result, err := jsonx.ToDynamicJSON(s.Parameters)
	if err != nil {
		return nil, fmt.Errorf("failed to convert schema for tool %s: %w", s.Name, err)
	}
	delete(result, "$schema")
	delete(result, "$id")
	if _, ok := result["type"]; !ok {
		result["type"] = "object"
	}
	return result, nil
}

// Func is the signature of a function-backed tool.
type Func func(ctx context.Context, input map[string]any) (any, error)

// Definition is a function-backed Tool.
type Definition struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
	Function    Func
}

func (d Definition) Schema() Schema {
	return Schema{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
}

func (d Definition) Execute(ctx context.Context, input map[string]any) (any, error) {
	if d.Function == nil {
		return nil, fmt.Errorf("tool %s has nil function", d.Name)
	}
	return d.Function(ctx, input)
}

var schemaReflector = jsonschema.Reflector{
	AllowAdditionalProperties: true,
	DoNotReference:            true,
	Anonymous:                 true,
}

// ReflectParameters builds an object schema from the exported fields of T.
func ReflectParameters[T any]() *jsonschema.Schema {
	var zero T
	schema := schemaReflector.ReflectFromType(reflect.TypeOf(zero))
	schema.Version = ""
	if schema.Properties == nil {
		schema.Properties = orderedmap.New[string, *jsonschema.Schema]()
	}
	return schema
}

// Option configures a Definition.
type Option = opts.Option[Definition]

// Name sets the tool name the model calls it by.
var Name = opts.ForName[Definition, string]("Name")

// Description sets the human readable description sent to the model.
var Description = opts.ForName[Definition, string]("Description")

// Parameters sets an explicit parameter schema.
var Parameters = opts.ForName[Definition, *jsonschema.Schema]("Parameters")

// New creates a function-backed tool. A name is required.
func New(fn Func, options ...Option) (Definition, error) {
	if fn == nil {
		return Definition{}, fmt.Errorf("provided function is nil")
	}

	var def Definition
	if err := opts.Apply(&def, options); err != nil {
		return Definition{}, err
	}
	if def.Name == "" {
		return Definition{}, fmt.Errorf("tool name is required")
	}
	def.Function = fn
	return def, nil
}

// Must is New that panics on error.
func Must(fn Func, options ...Option) Definition {
	return stdx.Must1(New(fn, options...))
}

// Typed creates a tool whose input is decoded into T and whose parameter schema
// is reflected from T unless Parameters is given.
func Typed[T any](fn func(context.Context, T) (any, error), options ...Option) (Definition, error) {
	if fn == nil {
		return Definition{}, fmt.Errorf("provided function is nil")
	}
	options = append([]Option{Parameters(ReflectParameters[T]())}, options...)
	return New(func(ctx context.Context, input map[string]any) (any, error) {
		var in T
		if err := decodeInput(input, &in); err != nil {
			return nil, err
		}
		return fn(ctx, in)
	}, options...)
}

// MustTyped is Typed that panics on error.
func MustTyped[T any](fn func(context.Context, T) (any, error), options ...Option) Definition {
	return stdx.Must1(Typed(fn, options...))
}

func decodeInput(input map[string]any, dst any) error {
	if len(input) == 0 {
		return nil
	}
	b, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to encode tool input: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("invalid tool input: %w", err)
	}
	return nil
}
