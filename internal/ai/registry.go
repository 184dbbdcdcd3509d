package ai

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type ProviderConfig struct {
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"`
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"api_key"`
	APIKeys []string `yaml:"api_keys,omitempty"`
}

// Keys returns the key pool of the provider. APIKeys wins over APIKey;
// blank entries are dropped.
func (p *ProviderConfig) Keys() []string {
	var keys []string
	for _, k := range p.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		if k := strings.TrimSpace(p.APIKey); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

type ModelConfig struct {
	Name      string   `yaml:"name"`
	Code      string   `yaml:"code"`
	Provider  string   `yaml:"provider"`
	Intellect string   `yaml:"intellect"`
	Speed     string   `yaml:"speed"`
	Cost      string   `yaml:"cost"`
	Skills    []string `yaml:"skills"`
}

func (m *ModelConfig) IntellectRank() int {
	switch m.Intellect {
	case "full":
		return 4
	case "excellent":
		return 3
	case "good":
		return 2
	case "usable":
		return 1
	default:
		return 0
	}
}

// Registry holds the providers and models available for branch generation.
type Registry struct {
	providers  map[string]*ProviderConfig
	models     map[string]*ModelConfig
	modelOrder []string
}

type registryFile struct {
	Providers []*ProviderConfig `yaml:"providers"`
	Models    []*ModelConfig    `yaml:"models"`
}

// NewRegistry builds a registry in memory. Models keep their given order;
// a repeated name replaces the earlier entry in place.
func NewRegistry(providers []*ProviderConfig, models []*ModelConfig) *Registry {
	r := &Registry{
		providers:  make(map[string]*ProviderConfig),
		models:     make(map[string]*ModelConfig),
		modelOrder: make([]string, 0, len(models)),
	}
	for _, p := range providers {
		r.providers[p.Name] = p
	}
	for _, m := range models {
		if _, exists := r.models[m.Name]; !exists {
			r.modelOrder = append(r.modelOrder, m.Name)
		}
		r.models[m.Name] = m
	}
	return r
}

// LoadRegistry reads a YAML file with top-level providers and models lists.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry %s: %w", path, err)
	}

	var rf registryFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse registry %s: %w", path, err)
	}

	r := NewRegistry(rf.Providers, rf.Models)
	if len(r.models) == 0 {
		return nil, fmt.Errorf("no models found in %s", path)
	}
	for _, m := range r.models {
		if _, ok := r.providers[m.Provider]; !ok {
			return nil, fmt.Errorf("model %s references unknown provider %s", m.Name, m.Provider)
		}
	}
	return r, nil
}

func (r *Registry) GetProvider(name string) (*ProviderConfig, bool) {
	p, ok := r.providers[name]
	return p, ok
}

func (r *Registry) GetModel(name string) (*ModelConfig, bool) {
	m, ok := r.models[name]
	return m, ok
}

func (r *Registry) ListModels() []*ModelConfig {
	models := make([]*ModelConfig, 0, len(r.modelOrder))
	for _, name := range r.modelOrder {
		if m, ok := r.models[name]; ok {
			models = append(models, m)
		}
	}
	return models
}

func (r *Registry) GetDefaultModel() *ModelConfig {
	for _, name := range r.modelOrder {
		if m, ok := r.models[name]; ok {
			return m
		}
	}
	return nil
}
