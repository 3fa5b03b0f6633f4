package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
)

type echoTool struct {
	name   string
	schema map[string]any
}

func (t *echoTool) Name() string               { return t.name }
func (t *echoTool) JSONSchema() map[string]any  { return t.schema }
func (t *echoTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	return map[string]any{"ok": true, "echo": string(raw)}, nil
}

func TestRegistryDispatchRoundTrips(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{name: "echo", schema: map[string]any{
		"description": "echoes its input",
		"parameters":  map[string]any{"type": "object", "properties": map[string]any{}},
	}})

	out, err := reg.Dispatch(context.Background(), "echo", json.RawMessage(`{"a":1}`))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["ok"] != true {
		t.Fatalf("expected ok=true, got %+v", decoded)
	}
}

func TestRegistryDispatchUnknownTool(t *testing.T) {
	reg := NewRegistry()
	out, err := reg.Dispatch(context.Background(), "missing", json.RawMessage(`{}`))
	if err == nil {
		t.Fatalf("expected an error for an unknown tool")
	}
	if string(out) != `{"error":"tool not found"}` {
		t.Fatalf("unexpected payload: %s", out)
	}
}

type failingTool struct{ name string }

func (t *failingTool) Name() string              { return t.name }
func (t *failingTool) JSONSchema() map[string]any { return map[string]any{"parameters": map[string]any{}} }
func (t *failingTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	return nil, fmt.Errorf("boom")
}

func TestRegistryDispatchSurfacesToolError(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&failingTool{name: "fails"})

	out, err := reg.Dispatch(context.Background(), "fails", json.RawMessage(`{}`))
	if err == nil {
		t.Fatalf("expected Dispatch to surface the tool's error")
	}
	var decoded map[string]any
	if decErr := json.Unmarshal(out, &decoded); decErr != nil {
		t.Fatalf("decode: %v", decErr)
	}
	if decoded["ok"] != false || decoded["error"] != "boom" {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestSchemasFlattensForbiddenKeys(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{name: "nested", schema: map[string]any{
		"description": "has nested metadata to strip",
		"parameters": map[string]any{
			"$schema": "https://json-schema.org/draft/2020-12/schema",
			"title":   "should be stripped",
			"type":    "object",
			"properties": map[string]any{
				"inner": map[string]any{
					"title":                "also stripped",
					"type":                 "object",
					"additionalProperties": false,
					"properties":           map[string]any{},
				},
			},
		},
	}})

	schemas := reg.Schemas()
	if len(schemas) != 1 {
		t.Fatalf("expected 1 schema, got %d", len(schemas))
	}
	params := schemas[0].Parameters
	if _, ok := params["$schema"]; ok {
		t.Fatalf("expected $schema to be stripped, got %+v", params)
	}
	if _, ok := params["title"]; ok {
		t.Fatalf("expected title to be stripped, got %+v", params)
	}
	inner := params["properties"].(map[string]any)["inner"].(map[string]any)
	if _, ok := inner["title"]; ok {
		t.Fatalf("expected nested title to be stripped, got %+v", inner)
	}
	if _, ok := inner["additionalProperties"]; ok {
		t.Fatalf("expected nested additionalProperties to be stripped, got %+v", inner)
	}
}

func TestFilteredRegistryHidesUnlistedTools(t *testing.T) {
	base := NewRegistry()
	base.Register(&echoTool{name: "a", schema: map[string]any{"parameters": map[string]any{}}})
	base.Register(&echoTool{name: "b", schema: map[string]any{"parameters": map[string]any{}}})

	filtered := NewFilteredRegistry(base, []string{"a"})
	names := map[string]bool{}
	for _, s := range filtered.Schemas() {
		names[s.Name] = true
	}
	if !names["a"] || names["b"] {
		t.Fatalf("expected only 'a' visible, got %+v", names)
	}

	if _, err := filtered.Dispatch(context.Background(), "b", json.RawMessage(`{}`)); err == nil {
		t.Fatalf("expected Dispatch to reject a tool outside the allow-list")
	}
}
