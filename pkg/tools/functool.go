package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
)

// FuncTool adapts a typed Go function into a Tool. The input schema is
// derived from the input struct's fields and json tags.
type FuncTool[In any] struct {
	name        string
	description string
	schema      map[string]any
	fn          func(ctx context.Context, input In) (string, error)
}

// NewFuncTool builds a tool from a function taking a typed input struct.
func NewFuncTool[In any](name, description string, fn func(ctx context.Context, input In) (string, error)) (*FuncTool[In], error) {
	if name == "" {
		return nil, fmt.Errorf("tool name cannot be empty")
	}
	if fn == nil {
		return nil, fmt.Errorf("tool function cannot be nil")
	}

	var zero In
	schema, err := SchemaFor(zero)
	if err != nil {
		return nil, fmt.Errorf("failed to derive schema for tool '%s': %w", name, err)
	}

	return &FuncTool[In]{
		name:        name,
		description: description,
		schema:      schema,
		fn:          fn,
	}, nil
}

func (t *FuncTool[In]) Name() string           { return t.name }
func (t *FuncTool[In]) Description() string    { return t.description }
func (t *FuncTool[In]) Schema() map[string]any { return t.schema }

func (t *FuncTool[In]) Invoke(ctx context.Context, input map[string]any) (string, error) {
	var decoded In
	if err := DecodeInput(input, &decoded); err != nil {
		return "", fmt.Errorf("invalid input for tool '%s': %w", t.name, err)
	}
	return t.fn(ctx, decoded)
}

// SchemaFor derives a JSON schema document for a value's type.
func SchemaFor(v any) (map[string]any, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}
	schema := reflector.Reflect(v)

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	delete(out, "$schema")
	return out, nil
}

// DecodeInput maps a loosely typed tool input onto a typed struct. JSON
// numbers arrive as float64 so numeric fields are weakly converted.
func DecodeInput(input map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      false,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}
