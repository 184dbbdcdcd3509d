// Package branching turns a narrative state into candidate continuations by
// asking a content producer to re-imagine the scene through a fixed set of
// lenses: character psychology, thematic direction and dramatic structure.
package branching

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kayz/thespian/internal/config"
	"github.com/kayz/thespian/internal/logger"
	"github.com/kayz/thespian/internal/narrative"
	"github.com/kayz/thespian/internal/promptbuild"
)

// Producer generates text for a prompt. Implementations may block on
// network calls and must honor ctx.
type Producer interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ProducerFunc adapts a function to Producer.
type ProducerFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f ProducerFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Options tunes a Generator.
type Options struct {
	// Concurrency bounds parallel producer calls within one lens family.
	// Values below 2 call the producer sequentially.
	Concurrency int
	// KeepDuplicates disables content-hash deduplication among the results
	// of one call.
	KeepDuplicates bool
	// Prompts assembles lens prompts. Nil uses a builder with defaults.
	Prompts *promptbuild.Builder
}

// Generator produces candidate branches. It never attaches them to a tree;
// callers offer them to ExplorationTree.AddBranch.
type Generator struct {
	producer Producer
	profiles ProfileSource
	prompts  *promptbuild.Builder

	concurrency    int
	keepDuplicates bool
}

// NewGenerator returns a Generator backed by producer. profiles may be nil,
// in which case psychology lenses yield nothing.
func NewGenerator(producer Producer, profiles ProfileSource, opts Options) *Generator {
	prompts := opts.Prompts
	if prompts == nil {
		prompts = promptbuild.NewBuilder(config.PromptConfig{})
	}
	return &Generator{
		producer:       producer,
		profiles:       profiles,
		prompts:        prompts,
		concurrency:    opts.Concurrency,
		keepDuplicates: opts.KeepDuplicates,
	}
}

// lensCall is one producer request of a lens family.
type lensCall struct {
	name   string
	prompt string
	text   string
	err    error
}

// run fills text or err of every call. Results keep lens order.
func (g *Generator) run(ctx context.Context, calls []lensCall) {
	if g.concurrency < 2 {
		for i := range calls {
			calls[i].text, calls[i].err = g.generate(ctx, calls[i].prompt)
		}
		return
	}

	semaphore := make(chan struct{}, g.concurrency)
	var wg sync.WaitGroup
	for i := range calls {
		wg.Add(1)
		go func(c *lensCall) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()
			c.text, c.err = g.generate(ctx, c.prompt)
		}(&calls[i])
	}
	wg.Wait()
}

func (g *Generator) generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := g.producer.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty response")
	}
	return text, nil
}

// collect builds a branch for every successful call, skipping failures and
// content duplicates.
func (g *Generator) collect(family string, calls []lensCall, build func(c lensCall) *narrative.NarrativeState) []*narrative.NarrativeState {
	var branches []*narrative.NarrativeState
	seen := make(map[string]bool, len(calls))
	for _, c := range calls {
		if c.err != nil {
			logger.Error("[Branching] Error generating %s branch %s: %v", family, c.name, c.err)
			continue
		}
		b := build(c)
		if !g.keepDuplicates {
			hash := b.ContentHash()
			if seen[hash] {
				logger.Debug("[Branching] Skipping duplicate %s branch %s", family, c.name)
				continue
			}
			seen[hash] = true
		}
		branches = append(branches, b)
	}
	return branches
}

func (g *Generator) buildPrompt(req promptbuild.BuildRequest) (string, bool) {
	prompt, err := g.prompts.Build(req)
	if err != nil {
		logger.Error("[Branching] Failed to build prompt %s: %v", req.Lens, err)
		return "", false
	}
	return prompt, true
}
