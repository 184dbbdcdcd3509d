package cmd

import (
	"fmt"
	"os"

	"github.com/kayz/thespian/internal/promptbuild"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var promptBuildOutputPath string

// promptRequest is the file form of a promptbuild.BuildRequest.
type promptRequest struct {
	Lens        string            `yaml:"lens"`
	Instruction string            `yaml:"instruction"`
	Vars        map[string]string `yaml:"vars"`
	Headers     *bool             `yaml:"headers"`
	Sections    []struct {
		Title    string `yaml:"title"`
		Content  string `yaml:"content"`
		MaxChars int    `yaml:"max_chars"`
	} `yaml:"sections"`
}

var promptBuildCmd = &cobra.Command{
	Use:   "promptbuild <request.yaml>",
	Short: "Preview a lens prompt assembled from sections and templates",
	Long: `Assemble a prompt the way branch generation does: sections in order, then
the lens instruction, where a <lens>.md file in the templates directory
replaces the instruction. JSON requests are accepted too.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read request: %w", err)
		}
		var pr promptRequest
		if err := yaml.Unmarshal(data, &pr); err != nil {
			return fmt.Errorf("failed to parse request: %w", err)
		}

		req := promptbuild.BuildRequest{
			Lens:                  pr.Lens,
			Instruction:           pr.Instruction,
			Vars:                  pr.Vars,
			IncludeSectionHeaders: pr.Headers,
		}
		for _, s := range pr.Sections {
			req.Sections = append(req.Sections, promptbuild.Section{Title: s.Title, Content: s.Content, MaxChars: s.MaxChars})
		}

		out, err := promptbuild.NewBuilder(cfg.Prompts).Build(req)
		if err != nil {
			return err
		}

		if promptBuildOutputPath == "" {
			fmt.Println(out)
			return nil
		}
		if err := os.WriteFile(promptBuildOutputPath, []byte(out), 0644); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	},
}

func init() {
	promptBuildCmd.Flags().StringVar(&promptBuildOutputPath, "output", "", "Write output to file (default: stdout)")
	rootCmd.AddCommand(promptBuildCmd)
}
