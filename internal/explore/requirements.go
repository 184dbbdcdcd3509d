package explore

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kayz/thespian/internal/branching"
)

// Mode selects which lens families an exploration runs.
type Mode string

const (
	ModeDisabled          Mode = "disabled"
	ModeCharacterFocused  Mode = "character_focused"
	ModeThematicFocused   Mode = "thematic_focused"
	ModeStructuralFocused Mode = "structural_focused"
	ModeFullExploration   Mode = "full_exploration"
)

// ParseMode accepts a mode name; an empty string means full exploration.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeFullExploration, nil
	case ModeDisabled, ModeCharacterFocused, ModeThematicFocused, ModeStructuralFocused, ModeFullExploration:
		return m, nil
	default:
		return "", fmt.Errorf("unknown exploration mode: %s", s)
	}
}

func (m Mode) character() bool  { return m == ModeCharacterFocused || m == ModeFullExploration }
func (m Mode) thematic() bool   { return m == ModeThematicFocused || m == ModeFullExploration }
func (m Mode) structural() bool { return m == ModeStructuralFocused || m == ModeFullExploration }

// SceneRequirements describe the scene an exploration starts from.
type SceneRequirements struct {
	Act          int      `yaml:"act" json:"act_number"`
	Scene        int      `yaml:"scene" json:"scene_number"`
	Setting      string   `yaml:"setting" json:"setting"`
	Characters   []string `yaml:"characters" json:"characters"`
	KeyConflict  string   `yaml:"key_conflict,omitempty" json:"key_conflict,omitempty"`
	EmotionalArc string   `yaml:"emotional_arc,omitempty" json:"emotional_arc,omitempty"`
	Style        string   `yaml:"style,omitempty" json:"style,omitempty"`
	Period       string   `yaml:"period,omitempty" json:"period,omitempty"`

	Profiles []*branching.CharacterProfile `yaml:"profiles,omitempty" json:"profiles,omitempty"`
}

// Title names the scene for listings.
func (r SceneRequirements) Title() string {
	title := fmt.Sprintf("Act %d, Scene %d", r.Act, r.Scene)
	if r.Setting != "" {
		title += ": " + r.Setting
	}
	return title
}

// Validate checks the fields exploration depends on.
func (r SceneRequirements) Validate() error {
	if r.Act <= 0 || r.Scene <= 0 {
		return fmt.Errorf("act and scene must be positive, got act %d scene %d", r.Act, r.Scene)
	}
	if len(r.Characters) == 0 {
		return fmt.Errorf("scene needs at least one character")
	}
	return nil
}

// LoadRequirements reads scene requirements from a YAML file.
func LoadRequirements(path string) (SceneRequirements, error) {
	var req SceneRequirements
	data, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("failed to read scene file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("failed to parse scene file %s: %w", path, err)
	}
	if err := req.Validate(); err != nil {
		return req, fmt.Errorf("invalid scene file %s: %w", path, err)
	}
	return req, nil
}
