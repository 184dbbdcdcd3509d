package explore

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kayz/thespian/internal/narrative"
)

// TimelineState tells whether a result settled on one scene.
type TimelineState string

const (
	TimelineLinear        TimelineState = "linear"
	TimelineCollapsed     TimelineState = "collapsed"
	TimelineSuperposition TimelineState = "superposition"
)

// Result is the outcome of one Run.
type Result struct {
	Scene              string                     `json:"scene"`
	SceneID            string                     `json:"scene_id,omitempty"`
	Mode               Mode                       `json:"exploration_mode"`
	TimelineState      TimelineState              `json:"timeline_state"`
	ExplorationSeconds float64                    `json:"exploration_time"`
	BranchesExplored   int                        `json:"branches_explored"`
	ProducerCalls      int64                      `json:"producer_calls"`
	Trigger            *narrative.CollapseTrigger `json:"collapse_trigger,omitempty"`
	Summary            *narrative.Summary         `json:"exploration_summary,omitempty"`
	Alternatives       []Alternative              `json:"alternative_branches,omitempty"`
	Evaluation         *Evaluation                `json:"best_branch_evaluation,omitempty"`
	Notes              []string                   `json:"exploration_notes,omitempty"`

	Analysis             string                          `json:"branch_analysis,omitempty"`
	CharacterDevelopment map[string]CharacterDevelopment `json:"character_development,omitempty"`
	ThematicElements     *ThematicElements               `json:"thematic_elements,omitempty"`
}

// Evaluation breaks a branch's quality into its metrics.
type Evaluation struct {
	BranchID       string           `json:"branch_id"`
	OverallQuality float64          `json:"overall_quality"`
	Scores         narrative.Scores `json:"scores"`
	Innovation     float64          `json:"innovation_score"`
	CreativeRisk   float64          `json:"creative_risk"`
}

func evaluationOf(s *narrative.NarrativeState, quality float64) *Evaluation {
	return &Evaluation{
		BranchID:       s.ID,
		OverallQuality: quality,
		Scores:         s.Scores,
		Innovation:     s.InnovationScore,
		CreativeRisk:   s.CreativeRisk,
	}
}

// Alternative describes an open branch.
type Alternative struct {
	ID              string                   `json:"branch_id"`
	DivergencePoint string                   `json:"divergence_point"`
	DivergenceType  narrative.DivergenceType `json:"divergence_type"`
	Quality         float64                  `json:"quality_score"`
	Preview         string                   `json:"content_preview"`
	Depth           int                      `json:"depth"`
	Note            string                   `json:"exploration_note,omitempty"`
}

// alternatives ranks active branches by quality, admission order on ties.
func (s *Session) alternatives() []Alternative {
	if s.tree == nil {
		return nil
	}
	weights := s.tree.Options().Weights
	states := s.tree.ActiveStates()
	out := make([]Alternative, 0, len(states))
	for _, st := range states {
		out = append(out, Alternative{
			ID:              st.ID,
			DivergencePoint: st.DivergencePoint,
			DivergenceType:  st.DivergenceType,
			Quality:         weights.Overall(st.Scores),
			Preview:         st.Preview(150),
			Depth:           st.Depth(),
			Note:            st.LastNote(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Quality > out[j].Quality })
	return out
}

const superpositionShown = 5

func (s *Session) superpositionSummary() string {
	if s.tree == nil {
		return ""
	}
	alts := s.alternatives()
	maxDepth := 0
	for _, a := range alts {
		if a.Depth > maxDepth {
			maxDepth = a.Depth
		}
	}

	var b strings.Builder
	b.WriteString("=== NARRATIVE SUPERPOSITION ===\n")
	fmt.Fprintf(&b, "Active Branches: %d\n", len(alts))
	fmt.Fprintf(&b, "Exploration Depth: %d\n\n", maxDepth)
	b.WriteString("Branch Possibilities:\n")
	for i, a := range alts {
		if i == superpositionShown {
			break
		}
		fmt.Fprintf(&b, "%d. %s (Quality: %.2f)\n", i+1, a.DivergencePoint, a.Quality)
		preview := []rune(a.Preview)
		if len(preview) > 100 {
			preview = preview[:100]
		}
		fmt.Fprintf(&b, "   Preview: %s...\n\n", string(preview))
	}
	b.WriteString("=== COLLAPSE REQUIRED FOR FINAL SCENE ===\n")
	b.WriteString("Run with --collapse to select the final narrative path")
	return b.String()
}

func analysisOf(s *narrative.NarrativeState, weights narrative.QualityWeights) string {
	notes := s.Notes()
	if len(notes) > 3 {
		notes = notes[len(notes)-3:]
	}
	return fmt.Sprintf("Branch Analysis (ID: %s)\nDivergence: %s\nType: %s\nDepth: %d\nQuality Score: %.3f\nExploration Notes: %s",
		s.ID, s.DivergencePoint, s.DivergenceType, s.Depth(), weights.Overall(s.Scores), strings.Join(notes, "; "))
}

// CharacterDevelopment is where a branch leaves one character.
type CharacterDevelopment struct {
	EmotionalState   string `json:"emotional_state"`
	ArcStage         string `json:"character_arc_stage"`
	PsychologyFocus  string `json:"psychology_focus"`
	DevelopmentNotes string `json:"development_notes,omitempty"`
}

func characterDevelopmentOf(s *narrative.NarrativeState) map[string]CharacterDevelopment {
	if len(s.CharacterStates) == 0 {
		return nil
	}
	out := make(map[string]CharacterDevelopment, len(s.CharacterStates))
	for id, cs := range s.CharacterStates {
		out[id] = CharacterDevelopment{
			EmotionalState:   stringOr(cs["emotional_state"], "unknown"),
			ArcStage:         stringOr(cs["character_arc_stage"], "unknown"),
			PsychologyFocus:  stringOr(cs["psychological_state"], "general"),
			DevelopmentNotes: stringOr(cs["character_growth"], ""),
		}
	}
	return out
}

// ThematicElements are the theme markers a branch carries.
type ThematicElements struct {
	DominantTheme       string `json:"dominant_theme"`
	ThematicTension     string `json:"thematic_tension"`
	PhilosophicalStance string `json:"philosophical_stance"`
	Development         string `json:"thematic_development"`
}

func thematicElementsOf(s *narrative.NarrativeState) *ThematicElements {
	return &ThematicElements{
		DominantTheme:       stringOr(s.WorldState["dominant_theme"], "unclear"),
		ThematicTension:     stringOr(s.WorldState["thematic_tension"], "none identified"),
		PhilosophicalStance: stringOr(s.WorldState["philosophical_stance"], "neutral"),
		Development:         stringOr(s.WorldState["thematic_development"], "static"),
	}
}

func stringOr(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}
