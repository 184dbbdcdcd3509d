package ai

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ModelRouter tracks the model branch generation currently uses and moves to
// the closest healthy alternative when it fails. A failed model sits out a
// cooldown before it can be picked again.
type ModelRouter struct {
	registry *Registry
	current  *ModelConfig
	health   map[string]*modelHealth
	cooldown time.Duration
	mu       sync.RWMutex
}

type modelHealth struct {
	successes     int
	failures      int
	lastSuccess   time.Time
	lastFailure   time.Time
	cooldownUntil time.Time
}

// NewModelRouter starts on the registry's first model.
func NewModelRouter(registry *Registry, cooldown time.Duration) *ModelRouter {
	return &ModelRouter{
		registry: registry,
		current:  registry.GetDefaultModel(),
		health:   make(map[string]*modelHealth),
		cooldown: cooldown,
	}
}

func (r *ModelRouter) ListModels() []*ModelConfig {
	return r.registry.ListModels()
}

func (r *ModelRouter) GetCurrentModel() *ModelConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// SwitchToModel makes name current. Without force a model in cooldown is
// refused.
func (r *ModelRouter) SwitchToModel(name string, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	model, ok := r.registry.GetModel(name)
	if !ok {
		return fmt.Errorf("model not found: %s", name)
	}
	if !force && r.inCooldown(name, time.Now()) {
		return fmt.Errorf("model %s is in cooldown", name)
	}
	r.current = model
	return nil
}

// Stats returns the recorded success and failure counts of a model.
func (r *ModelRouter) Stats(name string) (successes, failures int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.health[name]; ok {
		return h.successes, h.failures
	}
	return 0, 0
}

func (r *ModelRouter) RecordSuccess(model *ModelConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.healthOf(model.Name)
	h.successes++
	h.lastSuccess = time.Now()
}

// RecordFailure counts a failure and starts the model's cooldown.
func (r *ModelRouter) RecordFailure(model *ModelConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	h := r.healthOf(model.Name)
	h.failures++
	h.lastFailure = now
	h.cooldownUntil = now.Add(r.cooldown)
}

func (r *ModelRouter) healthOf(name string) *modelHealth {
	h, ok := r.health[name]
	if !ok {
		h = &modelHealth{}
		r.health[name] = h
	}
	return h
}

// Failover switches to the best model outside cooldown: closest intellect
// to the current model, then same speed, then higher intellect, then fewer
// failures.
func (r *ModelRouter) Failover() (*ModelConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	models := r.registry.ListModels()
	if len(models) == 0 {
		return nil, fmt.Errorf("no models available")
	}

	now := time.Now()
	var candidates []*ModelConfig
	for _, m := range models {
		if !r.inCooldown(m.Name, now) {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no available models for failover")
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return r.preferred(candidates[i], candidates[j])
	})
	r.current = candidates[0]
	return r.current, nil
}

// preferred reports whether a ranks before b as a failover target.
func (r *ModelRouter) preferred(a, b *ModelConfig) bool {
	rank := 0
	if r.current != nil {
		rank = r.current.IntellectRank()
	}
	if da, db := abs(a.IntellectRank()-rank), abs(b.IntellectRank()-rank); da != db {
		return da < db
	}
	if r.current != nil {
		if sa, sb := a.Speed == r.current.Speed, b.Speed == r.current.Speed; sa != sb {
			return sa
		}
	}
	if a.IntellectRank() != b.IntellectRank() {
		return a.IntellectRank() > b.IntellectRank()
	}
	return r.failures(a.Name) < r.failures(b.Name)
}

func (r *ModelRouter) failures(name string) int {
	if h, ok := r.health[name]; ok {
		return h.failures
	}
	return 0
}

// IsInCooldown reports whether a model failed within the cooldown window.
func (r *ModelRouter) IsInCooldown(modelName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inCooldown(modelName, time.Now())
}

func (r *ModelRouter) inCooldown(name string, now time.Time) bool {
	h, ok := r.health[name]
	return ok && now.Before(h.cooldownUntil)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
