package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"finchcore/internal/llm"
)

// Tool is an executable capability the agent can call.
type Tool interface {
	Name() string
	JSONSchema() map[string]any
	Call(ctx context.Context, raw json.RawMessage) (any, error)
}

// Registry keeps track of tools and dispatches calls by name.
type Registry interface {
	Schemas() []llm.ToolSchema
	Dispatch(ctx context.Context, name string, raw json.RawMessage) ([]byte, error)
	Register(t Tool)
}

type defaultRegistry struct {
	byName map[string]Tool
}

// NewRegistry returns a basic in-memory registry.
func NewRegistry() Registry {
	return &defaultRegistry{byName: make(map[string]Tool)}
}

func (r *defaultRegistry) Register(t Tool) { r.byName[t.Name()] = t }

func (r *defaultRegistry) Schemas() []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(r.byName))
	for name, t := range r.byName {
		schema := t.JSONSchema()
		out = append(out, llm.ToolSchema{
			Name:        name,
			Description: strFrom(schema["description"]),
			Parameters:  flattenSchema(mapFrom(schema["parameters"])),
		})
	}
	return out
}

// Dispatch runs the named tool and returns its JSON payload alongside the
// real error, if any, so a caller (the Agent Loop's OnTool callback) can
// distinguish a failed call from a successful one instead of having to parse
// the payload body (§4.1 status ∈ {completed, error}).
func (r *defaultRegistry) Dispatch(ctx context.Context, name string, raw json.RawMessage) ([]byte, error) {
	t := r.byName[name]
	if t == nil {
		return []byte(`{"error":"tool not found"}`), fmt.Errorf("tool not found: %s", name)
	}
	val, err := t.Call(ctx, raw)
	if err != nil {
		b, _ := json.Marshal(map[string]any{"ok": false, "error": err.Error()})
		return b, err
	}
	b, _ := json.Marshal(val)
	return b, nil
}

func strFrom(v any) string         { s, _ := v.(string); return s }
func mapFrom(v any) map[string]any { m, _ := v.(map[string]any); return m }

// forbiddenSchemaKeys strips draft-2020-12 metadata the LLM tool-call surface
// doesn't need and that some providers reject outright (§4.2/§6.3).
var forbiddenSchemaKeys = map[string]bool{
	"$schema":              true,
	"$defs":                true,
	"$ref":                 true,
	"title":                true,
	"additionalProperties": true,
}

// maxSchemaDepth bounds recursion so a cyclic $ref (which flattenSchema
// cannot resolve anyway, since $ref is stripped outright) can't recurse
// forever; schemas this deep don't occur in any tool in this module.
const maxSchemaDepth = 32

// flattenSchema returns a deep copy of schema with forbidden keys removed at
// every level. Tool authors in this module never emit $ref/$defs (every
// schema here is a flat object literal), so this is a defensive pass rather
// than an active rewrite, but it keeps the Tool Registry's contract honest
// for any future schema that does nest definitions.
func flattenSchema(schema map[string]any) map[string]any {
	return flattenSchemaDepth(schema, 0)
}

func flattenSchemaDepth(schema map[string]any, depth int) map[string]any {
	if schema == nil || depth >= maxSchemaDepth {
		return schema
	}
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		if forbiddenSchemaKeys[k] {
			continue
		}
		out[k] = flattenSchemaValue(v, depth+1)
	}
	return out
}

func flattenSchemaValue(v any, depth int) any {
	switch val := v.(type) {
	case map[string]any:
		return flattenSchemaDepth(val, depth)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = flattenSchemaValue(item, depth)
		}
		return out
	default:
		return v
	}
}
