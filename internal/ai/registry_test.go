package ai

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeRegistry(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "models.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	return path
}

func TestLoadRegistry(t *testing.T) {
	path := writeRegistry(t, `providers:
  - name: ds
    type: deepseek
    api_key: k
  - name: anthropic
    type: claude
    api_keys: [a, b]
models:
  - name: fast
    code: deepseek-chat
    provider: ds
    intellect: good
  - name: smart
    code: claude-3-5-sonnet-latest
    provider: anthropic
    intellect: full
  - name: fast
    code: deepseek-reasoner
    provider: ds
    intellect: excellent
`)
	r, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}

	models := r.ListModels()
	if len(models) != 2 || models[0].Name != "fast" || models[1].Name != "smart" {
		t.Fatalf("unexpected model order: %v", models)
	}
	if models[0].Code != "deepseek-reasoner" {
		t.Fatalf("expected later duplicate to replace earlier entry, got %s", models[0].Code)
	}
	if d := r.GetDefaultModel(); d == nil || d.Name != "fast" {
		t.Fatalf("unexpected default model %#v", d)
	}
	p, ok := r.GetProvider("anthropic")
	if !ok || len(p.Keys()) != 2 {
		t.Fatalf("unexpected provider %#v", p)
	}
}

func TestLoadRegistryErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"no models", "providers: []\n", "no models"},
		{"unknown provider", "models:\n  - name: m\n    provider: nope\n", "unknown provider"},
		{"bad yaml", "models: [", "failed to parse"},
	}
	for _, tt := range tests {
		_, err := LoadRegistry(writeRegistry(t, tt.body))
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: expected error containing %q, got %v", tt.name, tt.want, err)
		}
	}

	if _, err := LoadRegistry(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestIntellectRank(t *testing.T) {
	for intellect, want := range map[string]int{"full": 4, "excellent": 3, "good": 2, "usable": 1, "": 0} {
		m := &ModelConfig{Intellect: intellect}
		if got := m.IntellectRank(); got != want {
			t.Fatalf("%q: expected rank %d, got %d", intellect, want, got)
		}
	}
}
