package branching

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// EmotionalMoment is one recorded emotion of a character.
type EmotionalMoment struct {
	Emotion   string  `yaml:"emotion" json:"emotion"`
	Intensity float64 `yaml:"intensity,omitempty" json:"intensity,omitempty"`
	Trigger   string  `yaml:"trigger,omitempty" json:"trigger,omitempty"`
}

// CharacterProfile is the psychological sketch the psychology lenses read.
type CharacterProfile struct {
	Name       string            `yaml:"name" json:"name"`
	Background string            `yaml:"background,omitempty" json:"background,omitempty"`
	Fears      []string          `yaml:"fears,omitempty" json:"fears,omitempty"`
	Desires    []string          `yaml:"desires,omitempty" json:"desires,omitempty"`
	Values     []string          `yaml:"values,omitempty" json:"values,omitempty"`
	Flaws      []string          `yaml:"flaws,omitempty" json:"flaws,omitempty"`
	Strengths  []string          `yaml:"strengths,omitempty" json:"strengths,omitempty"`
	Emotions   []EmotionalMoment `yaml:"emotions,omitempty" json:"emotions,omitempty"`
}

// CurrentEmotion returns the most recently recorded emotion.
func (p *CharacterProfile) CurrentEmotion() (EmotionalMoment, bool) {
	if p == nil || len(p.Emotions) == 0 {
		return EmotionalMoment{}, false
	}
	return p.Emotions[len(p.Emotions)-1], true
}

// traits are the fears, desires and values, the keywords consistency is
// scored against.
func (p *CharacterProfile) traits() []string {
	out := make([]string, 0, len(p.Fears)+len(p.Desires)+len(p.Values))
	out = append(out, p.Fears...)
	out = append(out, p.Desires...)
	out = append(out, p.Values...)
	return out
}

// CharacterID normalizes a display name into the key used for character
// state and profile lookup: lowercased, spaces replaced by underscores.
func CharacterID(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// ProfileSource looks up character profiles by CharacterID.
type ProfileSource interface {
	Profile(id string) (*CharacterProfile, bool)
}

// ProfileSet is an in-memory ProfileSource.
type ProfileSet map[string]*CharacterProfile

// NewProfileSet indexes profiles by the CharacterID of their names.
func NewProfileSet(profiles ...*CharacterProfile) ProfileSet {
	set := make(ProfileSet, len(profiles))
	for _, p := range profiles {
		set.Add(p)
	}
	return set
}

// Add registers p under CharacterID(p.Name).
func (s ProfileSet) Add(p *CharacterProfile) {
	if p == nil || strings.TrimSpace(p.Name) == "" {
		return
	}
	s[CharacterID(p.Name)] = p
}

// Profile implements ProfileSource.
func (s ProfileSet) Profile(id string) (*CharacterProfile, bool) {
	p, ok := s[id]
	return p, ok
}

type profilesFile struct {
	Characters []*CharacterProfile `yaml:"characters"`
}

// LoadProfiles reads a YAML file with a top-level characters list.
func LoadProfiles(path string) (ProfileSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles %s: %w", path, err)
	}
	var pf profilesFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse profiles %s: %w", path, err)
	}
	return NewProfileSet(pf.Characters...), nil
}
