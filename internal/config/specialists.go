package config

import (
	"fmt"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

// specialistsFile is the on-disk shape of the specialists/routes config file.
// Two top-level keys: specialists (addressable sub-agents, C8) and routes
// (free-text routing heuristics used when the orchestrator doesn't delegate
// explicitly).
type specialistsFile struct {
	Specialists []specialistYAML `yaml:"specialists"`
	Routes      []routeYAML      `yaml:"routes"`
}

type specialistYAML struct {
	Name                       string            `yaml:"name"`
	Description                string            `yaml:"description"`
	System                     string            `yaml:"system"`
	Provider                   string            `yaml:"provider"`
	API                        string            `yaml:"api"`
	BaseURL                    string            `yaml:"baseURL"`
	APIKey                     string            `yaml:"apiKey"`
	Model                      string            `yaml:"model"`
	ExtraParams                map[string]any    `yaml:"extraParams"`
	ExtraHeaders               map[string]string `yaml:"extraHeaders"`
	AllowTools                 []string          `yaml:"allowTools"`
	EnableTools                bool              `yaml:"enableTools"`
	ReasoningEffort            string            `yaml:"reasoningEffort"`
	Paused                     bool              `yaml:"paused"`
	SummaryContextWindowTokens int               `yaml:"summaryContextWindowTokens"`
}

type routeYAML struct {
	Name     string   `yaml:"name"`
	Contains []string `yaml:"contains"`
	Regex    []string `yaml:"regex"`
}

// loadSpecialists populates cfg.Specialists and cfg.Routes from an optional
// YAML file. The path may be set with SPECIALISTS_CONFIG; otherwise
// specialists.yaml / specialists.yml in the working directory is used if
// present. Absence of the file is not an error — specialists are optional.
func loadSpecialists(cfg *Config) error {
	if strings.EqualFold(strings.TrimSpace(os.Getenv("SPECIALISTS_DISABLED")), "true") {
		return nil
	}

	var candidates []string
	if p := strings.TrimSpace(os.Getenv("SPECIALISTS_CONFIG")); p != "" {
		candidates = append(candidates, p)
	}
	candidates = append(candidates, "specialists.yaml", "specialists.yml")

	var data []byte
	for _, p := range candidates {
		b, err := os.ReadFile(p)
		if err == nil {
			data = b
			break
		}
		if os.IsNotExist(err) {
			continue
		}
		return fmt.Errorf("read %s: %w", p, err)
	}
	if len(data) == 0 {
		return nil
	}

	var file specialistsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse specialists config: %w", err)
	}

	for _, s := range file.Specialists {
		cfg.Specialists = append(cfg.Specialists, SpecialistConfig{
			Name:                       s.Name,
			Description:                s.Description,
			System:                     s.System,
			Provider:                   s.Provider,
			API:                        s.API,
			BaseURL:                    s.BaseURL,
			APIKey:                     s.APIKey,
			Model:                      s.Model,
			ExtraParams:                s.ExtraParams,
			ExtraHeaders:               s.ExtraHeaders,
			AllowTools:                 s.AllowTools,
			EnableTools:                s.EnableTools,
			ReasoningEffort:            s.ReasoningEffort,
			Paused:                     s.Paused,
			SummaryContextWindowTokens: s.SummaryContextWindowTokens,
		})
	}
	for _, r := range file.Routes {
		cfg.Routes = append(cfg.Routes, SpecialistRoute{
			Name:     r.Name,
			Contains: r.Contains,
			Regex:    r.Regex,
		})
	}

	for i := range cfg.Specialists {
		if strings.TrimSpace(cfg.Specialists[i].Provider) == "" {
			cfg.Specialists[i].Provider = cfg.LLM.Provider
		}
	}

	return nil
}
