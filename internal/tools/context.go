package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"finchcore/internal/llm"
)

type providerKey struct{}

// WithProvider attaches the active LLM provider to ctx so tools that need to
// make their own model calls (e.g. a summarization helper tool) can reach it
// without a constructor-time dependency on llm.Provider.
func WithProvider(ctx context.Context, p llm.Provider) context.Context {
	return context.WithValue(ctx, providerKey{}, p)
}

// ProviderFromContext returns the provider attached by WithProvider, if any.
func ProviderFromContext(ctx context.Context) (llm.Provider, bool) {
	p, ok := ctx.Value(providerKey{}).(llm.Provider)
	return p, ok
}

// NewFilteredRegistry returns a view over base exposing only the named tools.
// An empty allow list exposes no tools (EnableTools with no allow-list means
// "nothing", not "everything" — callers that want the full set pass base
// directly instead of filtering).
func NewFilteredRegistry(base Registry, allow []string) Registry {
	set := make(map[string]struct{}, len(allow))
	for _, name := range allow {
		set[name] = struct{}{}
	}
	return &filteredRegistry{base: base, allow: set}
}

type filteredRegistry struct {
	base  Registry
	allow map[string]struct{}
}

func (r *filteredRegistry) Register(t Tool) { r.base.Register(t) }

func (r *filteredRegistry) Schemas() []llm.ToolSchema {
	all := r.base.Schemas()
	out := make([]llm.ToolSchema, 0, len(all))
	for _, s := range all {
		if _, ok := r.allow[s.Name]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (r *filteredRegistry) Dispatch(ctx context.Context, name string, raw json.RawMessage) ([]byte, error) {
	if _, ok := r.allow[name]; !ok {
		return []byte(`{"error":"tool not allowed for this specialist"}`), fmt.Errorf("tool not allowed for this specialist: %s", name)
	}
	return r.base.Dispatch(ctx, name, raw)
}
