package cmd

import (
	"fmt"
	"os"

	"github.com/kayz/thespian/internal/config"
	"github.com/kayz/thespian/internal/logger"
	"github.com/kayz/thespian/internal/persist"
	"github.com/spf13/cobra"
)

var (
	logLevel   string
	configPath string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "thespian",
	Short: "Branching narrative exploration for theatrical scenes",
	Long: `thespian grows a tree of alternative scene continuations through
character psychology, thematic and dramatic structure lenses, then collapses
it onto one path when the story demands it.

Commands:
  thespian explore scene.yaml   Explore a scene and store the session
  thespian collapse <id>        Collapse a stored session by hand
  thespian sessions             List or delete stored sessions
  thespian show <id>            Print a session summary or tree
  thespian mcp                  Serve stored sessions as MCP tools`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.LoadFromPath(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}

		// --log wins over the config file
		raw := cfg.Logging.Level
		if cmd.Flags().Changed("log") {
			raw = logLevel
		}
		level, err := logger.ParseLevel(raw)
		if err != nil {
			return err
		}
		logger.SetLevel(level)

		if cfg.Logging.File != "" {
			f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			logger.SetOutput(f)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info",
		"Log level: trace, debug, info, warn, error, fatal, panic")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file (default: .thespian.yaml next to the executable)")
}

// openStore opens the session store named in the config.
func openStore() (*persist.Store, error) {
	store, err := persist.NewStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return store, nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
