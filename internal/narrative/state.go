// Package narrative models a tree of mutually exclusive scene continuations
// that is grown under resource bounds, pruned by quality and collapsed to a
// single path.
package narrative

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DivergenceType tags the kind of narrative moment a branch diverged at.
type DivergenceType string

const (
	DivergenceCharacterDecision   DivergenceType = "character_decision"
	DivergenceThematicExploration DivergenceType = "thematic_exploration"
	DivergenceDramaticStructure   DivergenceType = "dramatic_structure"
	DivergenceRelationshipDynamic DivergenceType = "relationship_dynamic"
	DivergenceExternalForce       DivergenceType = "external_force"
	DivergenceEmotionalState      DivergenceType = "emotional_state"
	DivergenceMoralDilemma        DivergenceType = "moral_dilemma"
	DivergenceGenreShift          DivergenceType = "genre_shift"
)

// Valid reports whether d is one of the known divergence kinds.
func (d DivergenceType) Valid() bool {
	switch d {
	case DivergenceCharacterDecision, DivergenceThematicExploration, DivergenceDramaticStructure,
		DivergenceRelationshipDynamic, DivergenceExternalForce, DivergenceEmotionalState,
		DivergenceMoralDilemma, DivergenceGenreShift:
		return true
	}
	return false
}

// Scores holds the five independent quality metrics of a branch.
type Scores struct {
	EmotionalResonance   float64 `json:"emotional_resonance"`
	ThematicAlignment    float64 `json:"thematic_alignment"`
	DramaticTension      float64 `json:"dramatic_tension"`
	CharacterConsistency float64 `json:"character_consistency"`
	NarrativeCoherence   float64 `json:"narrative_coherence"`
}

// Clamped returns a copy with every metric limited to [0,1].
func (s Scores) Clamped() Scores {
	return Scores{
		EmotionalResonance:   Clamp01(s.EmotionalResonance),
		ThematicAlignment:    Clamp01(s.ThematicAlignment),
		DramaticTension:      Clamp01(s.DramaticTension),
		CharacterConsistency: Clamp01(s.CharacterConsistency),
		NarrativeCoherence:   Clamp01(s.NarrativeCoherence),
	}
}

// QualityWeights weight the metrics in the overall quality score. The weights
// of a usable configuration sum to 1.
type QualityWeights struct {
	EmotionalResonance   float64 `json:"emotional_resonance" yaml:"emotional_resonance"`
	ThematicAlignment    float64 `json:"thematic_alignment" yaml:"thematic_alignment"`
	DramaticTension      float64 `json:"dramatic_tension" yaml:"dramatic_tension"`
	CharacterConsistency float64 `json:"character_consistency" yaml:"character_consistency"`
	NarrativeCoherence   float64 `json:"narrative_coherence" yaml:"narrative_coherence"`
}

// DefaultQualityWeights are the empirically chosen weights 0.25/0.20/0.20/0.20/0.15.
var DefaultQualityWeights = QualityWeights{
	EmotionalResonance:   0.25,
	ThematicAlignment:    0.20,
	DramaticTension:      0.20,
	CharacterConsistency: 0.20,
	NarrativeCoherence:   0.15,
}

// Sum returns the total of all weights.
func (w QualityWeights) Sum() float64 {
	return w.EmotionalResonance + w.ThematicAlignment + w.DramaticTension +
		w.CharacterConsistency + w.NarrativeCoherence
}

// IsZero reports whether no weight has been set.
func (w QualityWeights) IsZero() bool {
	return w == QualityWeights{}
}

// Overall computes the weighted sum of s.
func (w QualityWeights) Overall(s Scores) float64 {
	return s.EmotionalResonance*w.EmotionalResonance +
		s.ThematicAlignment*w.ThematicAlignment +
		s.DramaticTension*w.DramaticTension +
		s.CharacterConsistency*w.CharacterConsistency +
		s.NarrativeCoherence*w.NarrativeCoherence
}

// Clamp01 limits v to [0,1].
func Clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

const neutralScore = 0.5

// NarrativeState is one candidate continuation of a scene.
//
// Payload, context and metric fields are filled in by whoever produces the
// candidate. Lineage (parent, children, depth) is owned by the
// ExplorationTree and only changes through admission and pruning.
type NarrativeState struct {
	ID        string
	CreatedAt time.Time

	parentID string
	children []string
	depth    int

	Content         string
	Outline         string
	Dialogue        []string
	StageDirections []string

	CharacterStates map[string]map[string]any
	WorldState      map[string]any
	Relationships   map[string]map[string]float64

	DivergencePoint       string
	DivergenceType        DivergenceType
	DivergenceDescription string

	Scores Scores

	ProbabilityWeight float64
	CreativeRisk      float64
	InnovationScore   float64

	notes []string
}

// NewState returns a root-level state with neutral metrics and a fresh id.
func NewState() *NarrativeState {
	return &NarrativeState{
		ID:              uuid.NewString(),
		CreatedAt:       time.Now(),
		CharacterStates: make(map[string]map[string]any),
		WorldState:      make(map[string]any),
		Relationships:   make(map[string]map[string]float64),
		DivergenceType:  DivergenceCharacterDecision,
		Scores: Scores{
			EmotionalResonance:   neutralScore,
			ThematicAlignment:    neutralScore,
			DramaticTension:      neutralScore,
			CharacterConsistency: neutralScore,
			NarrativeCoherence:   neutralScore,
		},
		ProbabilityWeight: neutralScore,
		CreativeRisk:      neutralScore,
		InnovationScore:   neutralScore,
	}
}

// Derive creates a child candidate of s. The character, world and
// relationship snapshots are deep copies, so later edits on the child never
// reach s. The candidate is not attached to s until a tree admits it.
func (s *NarrativeState) Derive() *NarrativeState {
	child := NewState()
	child.depth = s.depth + 1
	child.CharacterStates = copyCharacterStates(s.CharacterStates)
	child.WorldState = copyAnyMap(s.WorldState)
	child.Relationships = copyRelationships(s.Relationships)
	return child
}

// ParentID returns the parent branch id, or "" for a root.
func (s *NarrativeState) ParentID() string { return s.parentID }

// Depth returns the distance from the root.
func (s *NarrativeState) Depth() int { return s.depth }

// Children returns a copy of the ordered child ids.
func (s *NarrativeState) Children() []string {
	out := make([]string, len(s.children))
	copy(out, s.children)
	return out
}

// OverallQuality is the weighted sum of the metrics under
// DefaultQualityWeights. A tree configured with other weights ranks its
// branches by ExplorationTree.Quality instead.
func (s *NarrativeState) OverallQuality() float64 {
	return DefaultQualityWeights.Overall(s.Scores)
}

// ContentHash identifies near-duplicate branches cheaply. It hashes the text,
// the outline and the dialogue fragments.
func (s *NarrativeState) ContentHash() string {
	sum := md5.Sum([]byte(s.Content + s.Outline + strings.Join(s.Dialogue, "")))
	return hex.EncodeToString(sum[:])[:12]
}

// Log appends a timestamped entry to the exploration log.
func (s *NarrativeState) Log(note string) {
	s.notes = append(s.notes, fmt.Sprintf("%s: %s", time.Now().Format(time.RFC3339Nano), note))
}

// Notes returns a copy of the exploration log.
func (s *NarrativeState) Notes() []string {
	out := make([]string, len(s.notes))
	copy(out, s.notes)
	return out
}

// LastNote returns the most recent log entry, or "".
func (s *NarrativeState) LastNote() string {
	if len(s.notes) == 0 {
		return ""
	}
	return s.notes[len(s.notes)-1]
}

// Preview returns at most n characters of the content, with "..." appended
// when the content was cut.
func (s *NarrativeState) Preview(n int) string {
	runes := []rune(s.Content)
	if len(runes) <= n {
		return s.Content
	}
	return string(runes[:n]) + "..."
}

func (s *NarrativeState) removeChild(id string) {
	for i, c := range s.children {
		if c == id {
			s.children = append(s.children[:i], s.children[i+1:]...)
			return
		}
	}
}

func copyCharacterStates(in map[string]map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(in))
	for k, v := range in {
		out[k] = copyAnyMap(v)
	}
	return out
}

func copyRelationships(in map[string]map[string]float64) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(in))
	for k, row := range in {
		cp := make(map[string]float64, len(row))
		for kk, v := range row {
			cp[kk] = v
		}
		out[k] = cp
	}
	return out
}

func copyAnyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyAny(v)
	}
	return out
}

func copyAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyAnyMap(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = copyAny(e)
		}
		return cp
	case []string:
		cp := make([]string, len(t))
		copy(cp, t)
		return cp
	case map[string]string:
		cp := make(map[string]string, len(t))
		for k, s := range t {
			cp[k] = s
		}
		return cp
	default:
		return v
	}
}
