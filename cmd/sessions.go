package cmd

import (
	"errors"
	"fmt"

	"github.com/kayz/thespian/internal/explore"
	"github.com/kayz/thespian/internal/narrative"
	"github.com/kayz/thespian/internal/persist"
	"github.com/spf13/cobra"
)

var (
	sessionsLimit  int
	collapseReason string
	showTree       bool
	showHistory    bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored exploration sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		sessions, err := store.ListSessions(sessionsLimit)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No stored sessions")
			return nil
		}
		for _, s := range sessions {
			fmt.Printf("%s  %s  [%s] active=%d pruned=%d collapses=%d  %s\n",
				s.ID, s.UpdatedAt.Format("2006-01-02 15:04"), s.Mode,
				s.ActiveBranches, s.PrunedBranches, s.Collapses, s.Title)
		}
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteSession(args[0]); err != nil {
			if errors.Is(err, persist.ErrSessionNotFound) {
				return fmt.Errorf("no stored session %s", args[0])
			}
			return err
		}
		fmt.Printf("Deleted session %s\n", args[0])
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the summary, tree or collapse history of a stored session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		record, tree, err := loadTree(store, args[0])
		if err != nil {
			return err
		}
		switch {
		case showTree:
			return printJSON(tree.Visualization())
		case showHistory:
			collapses, err := store.ListCollapses(record.ID)
			if err != nil {
				return err
			}
			return printJSON(collapses)
		default:
			return printJSON(tree.Summary())
		}
	},
}

var collapseCmd = &cobra.Command{
	Use:   "collapse <id>",
	Short: "Collapse a stored session onto one branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		record, tree, err := loadTree(store, args[0])
		if err != nil {
			return err
		}

		opts, err := explore.OptionsFromConfig(cfg.Exploration)
		if err != nil {
			return err
		}
		// collapsing draws no new content, so no producer is wired
		session := explore.NewSession(nil, nil, opts)
		session.Attach(tree, explore.SceneRequirements{})

		outcome, err := session.Collapse(collapseReason)
		if err != nil {
			return err
		}
		snap := tree.Snapshot()
		record.Tree = &snap
		if err := store.SaveSession(record); err != nil {
			return err
		}

		fmt.Println(outcome.Content)
		fmt.Println()
		fmt.Printf("Collapsed to %s (quality %.2f): %s\n", outcome.SelectedID, outcome.Quality, outcome.Reason)
		return nil
	},
}

func loadTree(store *persist.Store, id string) (*persist.Session, *narrative.ExplorationTree, error) {
	record, err := store.LoadSession(id)
	if errors.Is(err, persist.ErrSessionNotFound) {
		return nil, nil, fmt.Errorf("no stored session %s", id)
	}
	if err != nil {
		return nil, nil, err
	}
	tree, err := narrative.Restore(*record.Tree)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to restore session %s: %w", id, err)
	}
	return record, tree, nil
}

func init() {
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum sessions to list (0 for all)")
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)

	showCmd.Flags().BoolVar(&showTree, "tree", false, "Print the active tree instead of the summary")
	showCmd.Flags().BoolVar(&showHistory, "history", false, "Print the collapse history")
	rootCmd.AddCommand(showCmd)

	collapseCmd.Flags().StringVar(&collapseReason, "reason", "", "Reason recorded with the collapse")
	rootCmd.AddCommand(collapseCmd)
}
