package providers

import (
	"fmt"
	"net/http"

	"finchcore/internal/config"
	"finchcore/internal/llm"
	"finchcore/internal/llm/anthropic"
	"finchcore/internal/llm/google"
	openaillm "finchcore/internal/llm/openai"
)

// Build constructs an llm.Provider based on the configured provider name.
// - openai: uses the OpenAI client
// - local: uses the OpenAI client with completions API
// - anthropic: uses the Anthropic client
// - google: uses the Google client; its construction error is returned
func Build(cfg config.Config, httpClient *http.Client) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		return openaillm.New(cfg.LLM.OpenAI, httpClient), nil
	case "local":
		oc := cfg.LLM.OpenAI
		oc.API = "completions"
		return openaillm.New(oc, httpClient), nil
	case "anthropic":
		return anthropic.New(cfg.LLM.Anthropic, httpClient), nil
	case "google":
		gc, err := google.New(cfg.LLM.Google, httpClient)
		if err != nil {
			return nil, err
		}
		return gc, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLM.Provider)
	}
}
