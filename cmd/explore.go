package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kayz/thespian/internal/ai"
	"github.com/kayz/thespian/internal/branching"
	"github.com/kayz/thespian/internal/explore"
	"github.com/kayz/thespian/internal/logger"
	"github.com/kayz/thespian/internal/persist"
	"github.com/kayz/thespian/internal/promptbuild"
	"github.com/spf13/cobra"
)

var (
	exploreMode     string
	exploreFocus    string
	exploreCollapse bool
	exploreSeed     int64
	exploreRounds   int
	exploreProfiles string
	exploreResume   string
	exploreNoSave   bool
	exploreJSON     bool
)

var exploreCmd = &cobra.Command{
	Use:   "explore <scene.yaml>",
	Short: "Explore alternative continuations of a scene",
	Long: `Generate the scene described by a requirements file, branch it through the
lenses of the exploration mode and either collapse onto one path or report
the open alternatives. The session is stored unless --no-save is given.

Modes: disabled, character_focused, thematic_focused, structural_focused,
full_exploration`,
	Args: cobra.ExactArgs(1),
	RunE: runExplore,
}

func init() {
	exploreCmd.Flags().StringVar(&exploreMode, "mode", "", "Exploration mode (default from config)")
	exploreCmd.Flags().StringVar(&exploreFocus, "focus", "", "Explore the psychology of this character only")
	exploreCmd.Flags().BoolVar(&exploreCollapse, "collapse", false, "Collapse even if no trigger fires")
	exploreCmd.Flags().Int64Var(&exploreSeed, "seed", 0, "Seed for the collapse draw (default from config)")
	exploreCmd.Flags().IntVar(&exploreRounds, "rounds", 1, "Number of expansion passes")
	exploreCmd.Flags().StringVar(&exploreProfiles, "profiles", "", "YAML file with character profiles")
	exploreCmd.Flags().StringVar(&exploreResume, "resume", "", "Continue the stored session with this id")
	exploreCmd.Flags().BoolVar(&exploreNoSave, "no-save", false, "Do not store the session")
	exploreCmd.Flags().BoolVar(&exploreJSON, "json", false, "Print the full result as JSON")
	rootCmd.AddCommand(exploreCmd)
}

func runExplore(cmd *cobra.Command, args []string) error {
	req, err := explore.LoadRequirements(args[0])
	if err != nil {
		return err
	}

	exploration := cfg.Exploration
	if exploreMode != "" {
		exploration.Mode = exploreMode
	}
	if exploreSeed != 0 {
		exploration.Seed = exploreSeed
	}
	opts, err := explore.OptionsFromConfig(exploration)
	if err != nil {
		return err
	}
	opts.Prompts = promptbuild.NewBuilder(cfg.Prompts)

	profiles := branching.NewProfileSet()
	if exploreProfiles != "" {
		if profiles, err = branching.LoadProfiles(exploreProfiles); err != nil {
			return err
		}
	}

	producer, err := ai.NewProducer(cfg.AI)
	if err != nil {
		return err
	}

	var store *persist.Store
	if !exploreNoSave || exploreResume != "" {
		if store, err = openStore(); err != nil {
			return err
		}
		defer store.Close()
	}

	session := explore.NewSession(producer, profiles, opts)
	record := &persist.Session{Title: req.Title(), Mode: string(opts.Mode)}
	if exploreResume != "" {
		if record, err = resumeInto(session, store, exploreResume, req); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := session.Run(ctx, req, explore.RunOptions{
		ForceCollapse: exploreCollapse,
		Focus:         exploreFocus,
		Rounds:        exploreRounds,
	})
	if err != nil {
		return err
	}

	if store != nil && !exploreNoSave && session.Tree() != nil {
		snap := session.Tree().Snapshot()
		record.Tree = &snap
		record.Title = req.Title()
		if err := store.SaveSession(record); err != nil {
			return err
		}
		logger.Info("[Explore] Stored session %s", record.ID)
	}

	if exploreJSON {
		return printJSON(result)
	}
	printResult(result, record.ID)
	return nil
}

func resumeInto(session *explore.Session, store *persist.Store, id string, req explore.SceneRequirements) (*persist.Session, error) {
	record, tree, err := loadTree(store, id)
	if err != nil {
		return nil, err
	}
	session.Attach(tree, req)
	return record, nil
}

func printResult(result *explore.Result, sessionID string) {
	fmt.Println(result.Scene)
	fmt.Println()
	fmt.Printf("Timeline: %s (%s)\n", result.TimelineState, result.Mode)
	if result.Trigger != nil {
		fmt.Printf("Collapse trigger: %s\n", result.Trigger.Reason)
	}
	fmt.Printf("Branches: %d, producer calls: %d, %.1fs\n", result.BranchesExplored, result.ProducerCalls, result.ExplorationSeconds)
	if sessionID != "" {
		fmt.Printf("Session: %s\n", sessionID)
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
