package ai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kayz/thespian/internal/config"
	"github.com/kayz/thespian/internal/logger"
)

// ProviderFactory creates the provider serving one model.
type ProviderFactory func(cfg *ProviderConfig, modelCode string, opts GenerationOptions) (Provider, error)

// RoutedProducer generates text with the router's current model and fails
// over to the next healthy model when a call fails.
type RoutedProducer struct {
	registry *Registry
	router   *ModelRouter
	opts     GenerationOptions
	timeout  time.Duration
	factory  ProviderFactory

	providerCache map[string]Provider
	providerMu    sync.RWMutex
}

// NewRoutedProducer wires a router over registry. A nil factory uses
// NewProvider.
func NewRoutedProducer(registry *Registry, router *ModelRouter, opts GenerationOptions, timeout time.Duration, factory ProviderFactory) *RoutedProducer {
	if factory == nil {
		factory = NewProvider
	}
	return &RoutedProducer{
		registry:      registry,
		router:        router,
		opts:          opts,
		timeout:       timeout,
		factory:       factory,
		providerCache: make(map[string]Provider),
	}
}

// Name implements Provider.
func (p *RoutedProducer) Name() string {
	return "router"
}

// Router exposes the model router.
func (p *RoutedProducer) Router() *ModelRouter {
	return p.router
}

// Generate tries the current model, then every failover candidate until one
// succeeds or none is left.
func (p *RoutedProducer) Generate(ctx context.Context, prompt string) (string, error) {
	model := p.router.GetCurrentModel()
	if model == nil {
		return "", fmt.Errorf("no current model")
	}

	var lastErr error
	for attempt := 0; attempt < len(p.registry.ListModels()); attempt++ {
		text, err := p.generateWith(ctx, model, prompt)
		if err == nil {
			p.router.RecordSuccess(model)
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		logger.Warn("[AI] Model %s failed: %v", model.Name, err)
		p.router.RecordFailure(model)
		lastErr = err

		next, failoverErr := p.router.Failover()
		if failoverErr != nil {
			return "", fmt.Errorf("model %s failed, and failover failed: %w", model.Name, lastErr)
		}
		logger.Info("[AI] Failover to model: %s", next.Name)
		model = next
	}
	return "", fmt.Errorf("all models failed, last error: %w", lastErr)
}

func (p *RoutedProducer) generateWith(ctx context.Context, model *ModelConfig, prompt string) (string, error) {
	provider, err := p.providerFor(model)
	if err != nil {
		return "", err
	}
	logger.Debug("[AI] Using model: %s (provider: %s)", model.Name, model.Provider)
	return generateWithTimeout(ctx, provider, prompt, p.timeout)
}

func (p *RoutedProducer) providerFor(model *ModelConfig) (Provider, error) {
	key := model.Provider + ":" + model.Code

	p.providerMu.RLock()
	if provider, ok := p.providerCache[key]; ok {
		p.providerMu.RUnlock()
		return provider, nil
	}
	p.providerMu.RUnlock()

	p.providerMu.Lock()
	defer p.providerMu.Unlock()

	if provider, ok := p.providerCache[key]; ok {
		return provider, nil
	}

	providerConfig, ok := p.registry.GetProvider(model.Provider)
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", model.Provider)
	}

	provider, err := p.factory(providerConfig, model.Code, p.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider %s: %w", model.Provider, err)
	}

	p.providerCache[key] = provider
	return provider, nil
}

// timedProvider bounds every call of a single provider.
type timedProvider struct {
	Provider
	timeout time.Duration
}

func (t timedProvider) Generate(ctx context.Context, prompt string) (string, error) {
	return generateWithTimeout(ctx, t.Provider, prompt, t.timeout)
}

func generateWithTimeout(ctx context.Context, provider Provider, prompt string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return provider.Generate(ctx, prompt)
}

// NewProducer builds the text producer described by cfg: a routed producer
// when a registry file is configured, otherwise a single provider.
func NewProducer(cfg config.AIConfig) (Provider, error) {
	opts := GenerationOptions{MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature}

	if cfg.Registry != "" {
		registry, err := LoadRegistry(cfg.Registry)
		if err != nil {
			return nil, err
		}
		router := NewModelRouter(registry, cfg.CooldownDuration())
		if cfg.Model != "" {
			if err := router.SwitchToModel(cfg.Model, true); err != nil {
				return nil, err
			}
		}
		logger.Info("[AI] Routing across %d models, starting with %s", len(registry.ListModels()), router.GetCurrentModel().Name)
		return NewRoutedProducer(registry, router, opts, cfg.TimeoutDuration(), nil), nil
	}

	provider, err := NewProvider(&ProviderConfig{
		Name:    cfg.Provider,
		Type:    cfg.Provider,
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
	}, cfg.Model, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider %s: %w", cfg.Provider, err)
	}
	logger.Info("[AI] Using provider %s", provider.Name())
	return timedProvider{Provider: provider, timeout: cfg.TimeoutDuration()}, nil
}
