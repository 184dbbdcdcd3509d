package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromPathMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("THESPIAN_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Exploration.MaxActiveBranches != 50 || cfg.Exploration.MaxDepth != 25 {
		t.Fatalf("unexpected tree limits: %+v", cfg.Exploration)
	}
	if cfg.Exploration.MinQualityThreshold != 0.3 || !cfg.Exploration.AutoCollapse {
		t.Fatalf("unexpected exploration defaults: %+v", cfg.Exploration)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("expected info log level, got %q", cfg.Logging.Level)
	}
}

func TestLoadFromPathReadsExplorationSection(t *testing.T) {
	t.Setenv("THESPIAN_API_KEY", "")
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, ".thespian.yaml")
	content := `exploration:
  mode: thematic_focused
  max_active_branches: 8
  expansion_depth: 2
  min_quality_threshold: 0.45
  auto_collapse: false
  seed: 42
ai:
  provider: deepseek
  model: deepseek-chat
  timeout: 30s
storage:
  path: /tmp/thespian-test.db
`
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Exploration.Mode != "thematic_focused" || cfg.Exploration.MaxActiveBranches != 8 {
		t.Fatalf("unexpected exploration: %+v", cfg.Exploration)
	}
	if cfg.Exploration.MaxDepth != 25 {
		t.Fatalf("unset max_depth should keep default, got %d", cfg.Exploration.MaxDepth)
	}
	if cfg.Exploration.AutoCollapse || cfg.Exploration.Seed != 42 {
		t.Fatalf("unexpected collapse settings: %+v", cfg.Exploration)
	}
	if cfg.Exploration.Weights.Sum() < 0.999 {
		t.Fatalf("default weights should survive a partial file")
	}
	if cfg.AI.TimeoutDuration() != 30*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.AI.TimeoutDuration())
	}
	if cfg.AI.CooldownDuration() != 5*time.Minute {
		t.Fatalf("unexpected cooldown %v", cfg.AI.CooldownDuration())
	}
	if cfg.Storage.Path != "/tmp/thespian-test.db" {
		t.Fatalf("unexpected storage path %q", cfg.Storage.Path)
	}
}

func TestLoadFromPathRejectsBadYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(cfgPath, []byte("exploration: [unclosed"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFromPath(cfgPath); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestEnvironmentAPIKeys(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "claude.yaml")
	if err := os.WriteFile(cfgPath, []byte("ai:\n  provider: claude\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("THESPIAN_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "anthropic-key")
	t.Setenv("OPENAI_API_KEY", "openai-key")
	cfg, err := LoadFromPath(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.AI.APIKey != "anthropic-key" {
		t.Fatalf("expected anthropic key, got %q", cfg.AI.APIKey)
	}

	t.Setenv("THESPIAN_API_KEY", "override")
	cfg, err = LoadFromPath(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.AI.APIKey != "override" {
		t.Fatalf("THESPIAN_API_KEY should win, got %q", cfg.AI.APIKey)
	}
}

func TestSaveToRoundTrip(t *testing.T) {
	t.Setenv("THESPIAN_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	path := filepath.Join(t.TempDir(), "nested", "cfg.yaml")

	cfg := DefaultConfig()
	cfg.Exploration.Mode = "character_focused"
	cfg.AI.Model = "gpt-4o"
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("save config: %v", err)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if loaded.Exploration.Mode != "character_focused" || loaded.AI.Model != "gpt-4o" {
		t.Fatalf("round trip lost values: %+v %+v", loaded.Exploration, loaded.AI)
	}
}
