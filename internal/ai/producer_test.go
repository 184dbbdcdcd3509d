package ai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kayz/thespian/internal/config"
)

type fakeProvider struct {
	name  string
	fail  bool
	mu    sync.Mutex
	calls int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail {
		return "", errors.New(f.name + " unavailable")
	}
	return f.name + ": " + prompt, nil
}

func routedFixture(providers map[string]*fakeProvider, models ...*ModelConfig) *RoutedProducer {
	reg := NewRegistry([]*ProviderConfig{{Name: "p", Type: "openai", APIKey: "k"}}, models)
	factory := func(cfg *ProviderConfig, modelCode string, opts GenerationOptions) (Provider, error) {
		p, ok := providers[modelCode]
		if !ok {
			return nil, errors.New("no such model " + modelCode)
		}
		return p, nil
	}
	return NewRoutedProducer(reg, NewModelRouter(reg, time.Minute), GenerationOptions{}, time.Second, factory)
}

func TestRoutedProducerFailsOver(t *testing.T) {
	primary := &fakeProvider{name: "primary", fail: true}
	backup := &fakeProvider{name: "backup"}
	p := routedFixture(map[string]*fakeProvider{"m1": primary, "m2": backup},
		&ModelConfig{Name: "one", Code: "m1", Provider: "p", Intellect: "excellent"},
		&ModelConfig{Name: "two", Code: "m2", Provider: "p", Intellect: "good"},
	)

	text, err := p.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "backup: hello" {
		t.Fatalf("unexpected text %q", text)
	}
	if p.Router().GetCurrentModel().Name != "two" {
		t.Fatalf("expected router to stay on the backup")
	}
	if s, f := p.Router().Stats("one"); s != 0 || f != 1 {
		t.Fatalf("unexpected primary stats %d/%d", s, f)
	}

	// The backup stays current, so the failed primary is not retried.
	if _, err := p.Generate(context.Background(), "again"); err != nil {
		t.Fatalf("second Generate failed: %v", err)
	}
	if primary.calls != 1 || backup.calls != 2 {
		t.Fatalf("unexpected call counts primary=%d backup=%d", primary.calls, backup.calls)
	}
}

func TestRoutedProducerAllFail(t *testing.T) {
	p := routedFixture(map[string]*fakeProvider{
		"m1": {name: "a", fail: true},
		"m2": {name: "b", fail: true},
	},
		&ModelConfig{Name: "one", Code: "m1", Provider: "p"},
		&ModelConfig{Name: "two", Code: "m2", Provider: "p"},
	)
	_, err := p.Generate(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "unavailable") {
		t.Fatalf("expected wrapped provider error, got %v", err)
	}
}

func TestRoutedProducerUnknownProvider(t *testing.T) {
	reg := NewRegistry(nil, []*ModelConfig{{Name: "one", Code: "m1", Provider: "missing"}})
	p := NewRoutedProducer(reg, NewModelRouter(reg, time.Minute), GenerationOptions{}, 0, nil)
	if _, err := p.Generate(context.Background(), "x"); err == nil || !strings.Contains(err.Error(), "provider not found") {
		t.Fatalf("expected provider lookup error, got %v", err)
	}
}

func TestNewProviderDefaults(t *testing.T) {
	tests := []struct {
		typ       string
		wantName  string
		wantModel string
	}{
		{"deepseek", "deepseek", "deepseek-chat"},
		{"moonshot", "kimi", "moonshot-v1-8k"},
		{"tongyi", "qwen", "qwen-plus"},
		{"gpt", "openai", "gpt-4o"},
		{"glm", "zhipu", "glm-4-flash"},
	}
	for _, tt := range tests {
		p, err := NewProvider(&ProviderConfig{Type: tt.typ, APIKey: "k"}, "", GenerationOptions{})
		if err != nil {
			t.Fatalf("%s: NewProvider failed: %v", tt.typ, err)
		}
		compat, ok := p.(*OpenAICompatProvider)
		if !ok {
			t.Fatalf("%s: expected OpenAI-compatible provider, got %T", tt.typ, p)
		}
		if compat.Name() != tt.wantName || compat.Model() != tt.wantModel {
			t.Fatalf("%s: got %s/%s", tt.typ, compat.Name(), compat.Model())
		}
	}

	claude, err := NewProvider(&ProviderConfig{Type: "anthropic", APIKeys: []string{"a", "b"}}, "", GenerationOptions{})
	if err != nil {
		t.Fatalf("claude: NewProvider failed: %v", err)
	}
	c, ok := claude.(*ClaudeProvider)
	if !ok || c.Model() != defaultClaudeModel || len(c.clients) != 2 {
		t.Fatalf("unexpected claude provider %#v", claude)
	}
}

func TestNewProviderErrors(t *testing.T) {
	if _, err := NewProvider(&ProviderConfig{Type: "openai"}, "", GenerationOptions{}); err == nil {
		t.Fatalf("expected missing key error")
	}
	if _, err := NewProvider(&ProviderConfig{Type: "mystery", APIKey: "k"}, "m", GenerationOptions{}); err == nil {
		t.Fatalf("expected unknown provider error")
	}
	if _, err := NewProvider(&ProviderConfig{Type: "local", APIKey: "k", BaseURL: "http://localhost:8080/v1"}, "", GenerationOptions{}); err == nil {
		t.Fatalf("expected missing model error for custom endpoint")
	}
	p, err := NewProvider(&ProviderConfig{Type: "local", APIKey: "k", BaseURL: "http://localhost:8080/v1"}, "llama", GenerationOptions{})
	if err != nil || p.(*OpenAICompatProvider).Model() != "llama" {
		t.Fatalf("custom endpoint provider failed: %v", err)
	}
}

func TestNewProducer(t *testing.T) {
	single, err := NewProducer(config.AIConfig{Provider: "deepseek", APIKey: "k"})
	if err != nil {
		t.Fatalf("NewProducer failed: %v", err)
	}
	if single.Name() != "deepseek" {
		t.Fatalf("unexpected provider %s", single.Name())
	}

	path := writeRegistry(t, `providers:
  - name: ds
    type: deepseek
    api_key: k
models:
  - name: a
    provider: ds
  - name: b
    provider: ds
`)
	routed, err := NewProducer(config.AIConfig{Registry: path, Model: "b"})
	if err != nil {
		t.Fatalf("NewProducer with registry failed: %v", err)
	}
	rp, ok := routed.(*RoutedProducer)
	if !ok || rp.Router().GetCurrentModel().Name != "b" {
		t.Fatalf("expected routed producer starting on b, got %#v", routed)
	}

	if _, err := NewProducer(config.AIConfig{Registry: path, Model: "zzz"}); err == nil {
		t.Fatalf("expected error for unknown starting model")
	}
}
