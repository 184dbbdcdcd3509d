package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/kayz/thespian/internal/ai"
	"github.com/spf13/cobra"
)

var modelBenchTimeout int

const benchPrompt = "Reply with one short line of stage direction."

// probe is the outcome of sending benchPrompt to one model.
type probe struct {
	model   *ai.ModelConfig
	err     error
	latency time.Duration
}

func (p probe) verdict() string {
	if p.err != nil {
		return "FAIL"
	}
	return "PASS"
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect the model registry used for failover (status, bench)",
}

var modelStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List registry models and flag providers without keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MODEL\tPROVIDER\tINTELLECT\tSPEED\tCOST\tKEYS")
		missing := 0
		for _, m := range reg.ListModels() {
			keys := 0
			if provider, ok := reg.GetProvider(m.Provider); ok {
				keys = len(provider.Keys())
			}
			if keys == 0 {
				missing++
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n", m.Name, m.Provider,
				defaultIfEmpty(m.Intellect, "-"), defaultIfEmpty(m.Speed, "-"), defaultIfEmpty(m.Cost, "-"), keys)
		}
		w.Flush()

		if missing > 0 {
			fmt.Printf("\n%d model(s) have no usable api key\n", missing)
		}
		return nil
	},
}

var modelBenchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Probe every model with a short prompt and show the failover order",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		models := reg.ListModels()
		if len(models) == 0 {
			return fmt.Errorf("registry has no models")
		}

		probes := make([]probe, len(models))
		var wg sync.WaitGroup
		for i, model := range models {
			wg.Add(1)
			go func(i int, model *ai.ModelConfig) {
				defer wg.Done()
				probes[i] = probeModel(cmd.Context(), reg, model)
			}(i, model)
		}
		wg.Wait()

		router := ai.NewModelRouter(reg, cfg.AI.CooldownDuration())
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MODEL\tRESULT\tLATENCY\tDETAIL")
		passed := 0
		for _, p := range probes {
			detail := "ok"
			if p.err != nil {
				router.RecordFailure(p.model)
				detail = p.err.Error()
			} else {
				router.RecordSuccess(p.model)
				passed++
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.model.Name, p.verdict(), p.latency.Truncate(time.Millisecond), detail)
		}
		w.Flush()

		fmt.Printf("\npass=%d fail=%d\n", passed, len(probes)-passed)
		if current := router.GetCurrentModel(); current != nil && router.IsInCooldown(current.Name) {
			if next, err := router.Failover(); err == nil {
				fmt.Printf("default model %s failed; generation would fail over to %s\n", current.Name, next.Name)
			} else {
				fmt.Printf("default model %s failed and no model is available for failover\n", current.Name)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelStatusCmd)
	modelsCmd.AddCommand(modelBenchCmd)

	modelBenchCmd.Flags().IntVar(&modelBenchTimeout, "timeout", 12, "Per-model timeout in seconds")
}

func loadRegistry() (*ai.Registry, error) {
	if cfg.AI.Registry == "" {
		return nil, fmt.Errorf("no model registry configured (ai.registry)")
	}
	return ai.LoadRegistry(cfg.AI.Registry)
}

func probeModel(ctx context.Context, reg *ai.Registry, model *ai.ModelConfig) probe {
	p := probe{model: model}
	providerCfg, ok := reg.GetProvider(model.Provider)
	if !ok {
		p.err = fmt.Errorf("provider %s not found", model.Provider)
		return p
	}
	if len(providerCfg.Keys()) == 0 {
		p.err = fmt.Errorf("provider %s has no api key", model.Provider)
		return p
	}
	provider, err := ai.NewProvider(providerCfg, model.Code, ai.GenerationOptions{MaxTokens: 64})
	if err != nil {
		p.err = err
		return p
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(modelBenchTimeout)*time.Second)
	defer cancel()
	start := time.Now()
	text, err := provider.Generate(ctx, benchPrompt)
	p.latency = time.Since(start)
	switch {
	case err != nil:
		p.err = err
	case strings.TrimSpace(text) == "":
		p.err = fmt.Errorf("empty response")
	}
	return p
}

func defaultIfEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
