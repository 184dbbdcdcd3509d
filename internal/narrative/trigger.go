package narrative

// TriggerKind is the condition family of a CollapseTrigger.
type TriggerKind string

const (
	TriggerCharacterCommitment TriggerKind = "character_commitment"
	TriggerDramaticNecessity   TriggerKind = "dramatic_necessity"
	TriggerResourceConstraint  TriggerKind = "resource_constraint"
	TriggerExternalDeadline    TriggerKind = "external_deadline"
	TriggerThematicResolution  TriggerKind = "thematic_resolution"
	TriggerAudienceFeedback    TriggerKind = "audience_feedback"
	TriggerHumanDecision       TriggerKind = "human_decision"
)

// Scope is how much of the story a collapse settles.
type Scope string

const (
	ScopeScene     Scope = "scene"
	ScopeAct       Scope = "act"
	ScopeStory     Scope = "story"
	ScopeImmediate Scope = "immediate"
)

// Context keys read by triggers and strategies.
const (
	KeyIrreversibleChoice     = "character_makes_irreversible_choice"
	KeyActEndingApproaches    = "act_ending_approaches"
	KeyClimaxApproaching      = "climax_approaching"
	KeyBranchCount            = "branch_count"
	KeyMaxBranches            = "max_branches"
	KeyThemeNeedsResolution   = "theme_needs_resolution"
	KeyHasCharacterChoice     = "has_character_choice_point"
	KeyThematicTension        = "thematic_tension_present"
	KeyStructuralTurningPoint = "at_structural_turning_point"
)

// Context is the caller-supplied situation a trigger or strategy is
// evaluated against.
type Context map[string]any

// Bool returns the value at key when it is a bool, false otherwise.
func (c Context) Bool(key string) bool {
	v, ok := c[key].(bool)
	return ok && v
}

// Int returns the value at key as an int, or def when missing or not numeric.
func (c Context) Int(key string, def int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// Clone returns a shallow copy of c.
func (c Context) Clone() Context {
	out := make(Context, len(c)+2)
	for k, v := range c {
		out[k] = v
	}
	return out
}

// CollapseTrigger describes when the superposition must end. It holds no
// state; it is evaluated against a fresh Context every time.
type CollapseTrigger struct {
	Kind      TriggerKind `json:"trigger_type" yaml:"kind"`
	Urgency   float64     `json:"urgency" yaml:"urgency"`
	Scope     Scope       `json:"scope" yaml:"scope"`
	Condition string      `json:"condition,omitempty" yaml:"condition,omitempty"`
	Threshold float64     `json:"threshold" yaml:"threshold"`
	Reason    string      `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// ShouldTrigger reports whether the trigger fires in ctx.
func (t CollapseTrigger) ShouldTrigger(ctx Context) bool {
	switch t.Kind {
	case TriggerCharacterCommitment:
		return ctx.Bool(KeyIrreversibleChoice)
	case TriggerDramaticNecessity:
		return ctx.Bool(KeyActEndingApproaches) || ctx.Bool(KeyClimaxApproaching)
	case TriggerResourceConstraint:
		return ctx.Int(KeyBranchCount, 0) > ctx.Int(KeyMaxBranches, 5)
	case TriggerThematicResolution:
		return ctx.Bool(KeyThemeNeedsResolution)
	case TriggerExternalDeadline, TriggerAudienceFeedback, TriggerHumanDecision:
		return false
	}
	return false
}

// favoredTrait returns the metric a collapse under this kind boosts.
func (k TriggerKind) favoredTrait(s Scores) (float64, bool) {
	switch k {
	case TriggerCharacterCommitment:
		return s.CharacterConsistency, true
	case TriggerDramaticNecessity:
		return s.DramaticTension, true
	case TriggerThematicResolution:
		return s.ThematicAlignment, true
	case TriggerResourceConstraint, TriggerExternalDeadline, TriggerAudienceFeedback, TriggerHumanDecision:
		return 0, false
	}
	return 0, false
}

// DefaultTriggers returns the built-in trigger set used when a tree is
// created without one.
func DefaultTriggers() []CollapseTrigger {
	return []CollapseTrigger{
		{
			Kind:      TriggerCharacterCommitment,
			Urgency:   0.9,
			Scope:     ScopeScene,
			Condition: "irreversible_character_decision",
			Threshold: 0.7,
			Reason:    "Character has made a commitment that eliminates other possibilities",
		},
		{
			Kind:      TriggerDramaticNecessity,
			Urgency:   0.8,
			Scope:     ScopeAct,
			Condition: "structural_checkpoint_reached",
			Threshold: 0.6,
			Reason:    "Story structure requires resolution of current tension",
		},
		{
			Kind:      TriggerResourceConstraint,
			Urgency:   0.7,
			Scope:     ScopeImmediate,
			Condition: "too_many_active_branches",
			Threshold: 0.5,
			Reason:    "Computational limits require branch reduction",
		},
	}
}

// ManualTrigger builds the human-decision trigger used for an explicit
// collapse request.
func ManualTrigger(reason string) CollapseTrigger {
	if reason == "" {
		reason = "manual_collapse"
	}
	return CollapseTrigger{
		Kind:      TriggerHumanDecision,
		Urgency:   1.0,
		Scope:     ScopeImmediate,
		Condition: "manual_collapse_requested",
		Threshold: 0.7,
		Reason:    reason,
	}
}
