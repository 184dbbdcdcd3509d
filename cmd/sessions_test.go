package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kayz/thespian/internal/config"
	"github.com/kayz/thespian/internal/narrative"
	"github.com/kayz/thespian/internal/persist"
)

func useTempConfig(t *testing.T) {
	t.Helper()
	cfg = config.DefaultConfig()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "sessions.db")
	cfg.Prompts.AuditEnabled = false
}

func TestLoadTree(t *testing.T) {
	useTempConfig(t)
	store, err := openStore()
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer store.Close()

	if _, _, err := loadTree(store, "missing"); err == nil || !strings.Contains(err.Error(), "no stored session") {
		t.Fatalf("expected missing session error, got %v", err)
	}

	root := narrative.NewState()
	root.Content = "Enter the ghost."
	snap := narrative.NewExplorationTree(root, narrative.DefaultOptions()).Snapshot()
	record := &persist.Session{Title: "Act 1, Scene 1", Tree: &snap}
	if err := store.SaveSession(record); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, tree, err := loadTree(store, record.ID)
	if err != nil {
		t.Fatalf("loadTree: %v", err)
	}
	if got.Title != "Act 1, Scene 1" || tree.Root().Content != "Enter the ghost." {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestPromptBuildCommand(t *testing.T) {
	useTempConfig(t)
	dir := t.TempDir()
	reqPath := filepath.Join(dir, "request.yaml")
	outPath := filepath.Join(dir, "prompt.txt")
	data := `lens: tension_escalation
instruction: Raise the stakes of {position}.
vars:
  position: Act 2, Scene 1
sections:
  - title: Current Scene
    content: HAMLET waits.
`
	if err := os.WriteFile(reqPath, []byte(data), 0644); err != nil {
		t.Fatalf("write request: %v", err)
	}

	promptBuildOutputPath = outPath
	defer func() { promptBuildOutputPath = "" }()
	if err := promptBuildCmd.RunE(promptBuildCmd, []string{reqPath}); err != nil {
		t.Fatalf("promptbuild: %v", err)
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(out), "HAMLET waits.") || !strings.Contains(string(out), "Raise the stakes of Act 2, Scene 1.") {
		t.Fatalf("unexpected prompt:\n%s", out)
	}
}
