package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kayz/thespian/internal/narrative"
	"gopkg.in/yaml.v3"
)

var (
	exeDirCache string
)

// getExecutableDir returns the directory where the executable is located
func getExecutableDir() string {
	if exeDirCache != "" {
		return exeDirCache
	}
	execPath, err := os.Executable()
	if err != nil {
		exeDirCache = "."
		return exeDirCache
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		exeDirCache = "."
		return exeDirCache
	}
	exeDirCache = filepath.Dir(execPath)
	return exeDirCache
}

type Config struct {
	Exploration ExplorationConfig `yaml:"exploration"`
	AI          AIConfig          `yaml:"ai,omitempty"`
	Prompts     PromptConfig      `yaml:"prompts,omitempty"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ExplorationConfig bounds the branching tree and the driver that grows it.
type ExplorationConfig struct {
	Mode                string                   `yaml:"mode"` // disabled, character_focused, thematic_focused, structural_focused, full_exploration
	MaxActiveBranches   int                      `yaml:"max_active_branches"`
	MaxDepth            int                      `yaml:"max_depth"`
	ExpansionDepth      int                      `yaml:"expansion_depth"`
	MinQualityThreshold float64                  `yaml:"min_quality_threshold"`
	AutoCollapse        bool                     `yaml:"auto_collapse"`
	Concurrency         int                      `yaml:"concurrency"`
	Seed                int64                    `yaml:"seed,omitempty"`
	Weights             narrative.QualityWeights `yaml:"weights,omitempty"`
}

type AIConfig struct {
	Provider    string  `yaml:"provider,omitempty"`
	APIKey      string  `yaml:"api_key,omitempty"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	Model       string  `yaml:"model,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
	Temperature float32 `yaml:"temperature,omitempty"`
	Timeout     string  `yaml:"timeout,omitempty"`
	// Registry points at a providers/models file enabling failover across models.
	Registry string `yaml:"registry,omitempty"`
	Cooldown string `yaml:"cooldown,omitempty"`
}

// TimeoutDuration parses Timeout, falling back to two minutes.
func (a AIConfig) TimeoutDuration() time.Duration {
	return parseDuration(a.Timeout, 2*time.Minute)
}

// CooldownDuration parses Cooldown, falling back to five minutes.
func (a AIConfig) CooldownDuration() time.Duration {
	return parseDuration(a.Cooldown, 5*time.Minute)
}

func parseDuration(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// PromptConfig controls lens prompt templates and the prompt audit trail.
type PromptConfig struct {
	RootDir            string `yaml:"root_dir,omitempty"`
	TemplatesDir       string `yaml:"templates_dir,omitempty"`
	AuditEnabled       bool   `yaml:"audit_enabled"`
	AuditDir           string `yaml:"audit_dir,omitempty"`
	AuditRetentionDays int    `yaml:"audit_retention_days,omitempty"`
	AuditFilePrefix    string `yaml:"audit_file_prefix,omitempty"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

func DefaultConfig() *Config {
	return &Config{
		Exploration: ExplorationConfig{
			Mode:                "full_exploration",
			MaxActiveBranches:   narrative.DefaultMaxActiveBranches,
			MaxDepth:            narrative.DefaultMaxDepth,
			ExpansionDepth:      3,
			MinQualityThreshold: narrative.DefaultMinQualityThreshold,
			AutoCollapse:        true,
			Concurrency:         1,
			Weights:             narrative.DefaultQualityWeights,
		},
		AI: AIConfig{
			Provider:  "openai",
			MaxTokens: 2048,
			Timeout:   "2m",
			Cooldown:  "5m",
		},
		Prompts: PromptConfig{
			TemplatesDir:       "prompts",
			AuditDir:           filepath.Join(ConfigDir(), "prompt-audit"),
			AuditRetentionDays: 7,
			AuditFilePrefix:    "prompts",
		},
		Storage: StorageConfig{
			Path: filepath.Join(ConfigDir(), "sessions.db"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func ConfigDir() string {
	exeDir := getExecutableDir()
	return filepath.Join(exeDir, ".thespian")
}

func ConfigPath() string {
	exeDir := getExecutableDir()
	return filepath.Join(exeDir, ".thespian.yaml")
}

func Load() (*Config, error) {
	return LoadFromPath(ConfigPath())
}

// LoadFromPath reads path on top of the defaults. A missing file yields the
// defaults. API keys found in the environment fill in an empty api_key.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if key := os.Getenv("THESPIAN_API_KEY"); key != "" {
		c.AI.APIKey = key
		return
	}
	if c.AI.APIKey != "" {
		return
	}
	switch strings.ToLower(c.AI.Provider) {
	case "claude", "anthropic":
		c.AI.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	default:
		c.AI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

func (c *Config) Save() error {
	return c.SaveTo(ConfigPath())
}

// SaveTo writes the configuration to path, creating its directory.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}
