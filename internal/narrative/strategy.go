package narrative

import "strings"

// GenerationStrategy is a stateless policy describing which dimension of
// variation is worth exploring at a given moment.
type GenerationStrategy struct {
	Name                   string `json:"strategy_name" yaml:"name"`
	Priority               int    `json:"priority" yaml:"priority"`
	MaxBranchesPerCall     int    `json:"max_branches_per_call" yaml:"max_branches_per_call"`
	AttachmentStyles       bool   `json:"explore_attachment_styles" yaml:"attachment_styles"`
	TraumaResponses        bool   `json:"explore_trauma_responses" yaml:"trauma_responses"`
	ValueConflicts         bool   `json:"explore_value_conflicts" yaml:"value_conflicts"`
	PhilosophicalContrasts bool   `json:"explore_philosophical_contrasts" yaml:"philosophical_contrasts"`
	MoralComplexity        bool   `json:"explore_moral_complexity" yaml:"moral_complexity"`
	GenreVariations        bool   `json:"explore_genre_variations" yaml:"genre_variations"`
	PacingAlternatives     bool   `json:"explore_pacing_alternatives" yaml:"pacing_alternatives"`
}

// NewStrategy returns a strategy with the stock flags: every dimension on
// except genre variation, three branches per call.
func NewStrategy(name string, priority int) GenerationStrategy {
	return GenerationStrategy{
		Name:                   name,
		Priority:               priority,
		MaxBranchesPerCall:     3,
		AttachmentStyles:       true,
		TraumaResponses:        true,
		ValueConflicts:         true,
		PhilosophicalContrasts: true,
		MoralComplexity:        true,
		PacingAlternatives:     true,
	}
}

// ShouldApply reports whether the strategy is worth running for state in ctx.
func (g GenerationStrategy) ShouldApply(ctx Context, state *NarrativeState) bool {
	switch {
	case strings.Contains(g.Name, "character_decision"):
		return ctx.Bool(KeyHasCharacterChoice)
	case strings.Contains(g.Name, "thematic"):
		return ctx.Bool(KeyThematicTension)
	case strings.Contains(g.Name, "structural"):
		return ctx.Bool(KeyStructuralTurningPoint)
	}
	if state == nil {
		return true
	}
	return len(state.children) < g.MaxBranchesPerCall
}

// Names of the built-in strategies.
const (
	StrategyCharacterPsychology = "character_psychology_exploration"
	StrategyThematicDivergence  = "thematic_divergence_exploration"
	StrategyDramaticStructure   = "dramatic_structure_alternatives"
	StrategyRelationshipDynamic = "relationship_dynamic_variations"
)

// DefaultStrategies returns the built-in strategy set used when a tree is
// created without one.
func DefaultStrategies() []GenerationStrategy {
	psychology := NewStrategy(StrategyCharacterPsychology, 9)
	psychology.MaxBranchesPerCall = 4

	thematic := NewStrategy(StrategyThematicDivergence, 8)

	structure := NewStrategy(StrategyDramaticStructure, 7)

	relationship := NewStrategy(StrategyRelationshipDynamic, 6)
	relationship.MaxBranchesPerCall = 2

	return []GenerationStrategy{psychology, thematic, structure, relationship}
}
