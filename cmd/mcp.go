package cmd

import (
	"os"

	"github.com/kayz/thespian/internal/logger"
	"github.com/kayz/thespian/internal/mcpserver"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve stored sessions as MCP tools on stdio",
	Long: `Start an MCP server on stdio exposing the session store:

  narrative_sessions   list stored sessions
  narrative_summary    summary and collapse history of a session
  narrative_tree       active branch tree of a session
  narrative_branch     full state of one branch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// stdout carries the protocol
		if cfg.Logging.File == "" {
			logger.SetOutput(os.Stderr)
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		return mcpserver.New(store).Serve()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
