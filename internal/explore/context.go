package explore

import (
	"fmt"
	"strings"

	"github.com/kayz/thespian/internal/narrative"
)

// DefaultThematicTension is explored when neither the branch nor the scene
// names a tension.
const DefaultThematicTension = "individual desires vs collective needs"

var decisionIndicators = []string{
	"should", "could", "must", "what if", "either", "or",
	"choose", "decide", "question", "dilemma", "conflict",
}

// decisionSentences returns the sentences of content that hint at a choice.
func decisionSentences(content string) []string {
	var out []string
	for _, sentence := range strings.Split(content, ".") {
		lower := strings.ToLower(sentence)
		for _, indicator := range decisionIndicators {
			if strings.Contains(lower, indicator) {
				out = append(out, strings.TrimSpace(sentence))
				break
			}
		}
	}
	return out
}

// ExtractDecisionContext describes the choice a character faces in content:
// the first two decision sentences, or the scene's key conflict.
func ExtractDecisionContext(content string, req SceneRequirements) string {
	if sentences := decisionSentences(content); len(sentences) > 0 {
		if len(sentences) > 2 {
			sentences = sentences[:2]
		}
		return strings.Join(sentences, ". ")
	}
	if req.KeyConflict != "" {
		return req.KeyConflict
	}
	return fmt.Sprintf("responding to the events in Act %d, Scene %d", req.Act, req.Scene)
}

// ThematicTension picks the tension to explore from state: its world state,
// then the scene's emotional arc, then DefaultThematicTension.
func ThematicTension(state *narrative.NarrativeState, req SceneRequirements) string {
	if t, ok := state.WorldState["thematic_tension"].(string); ok && t != "" {
		return t
	}
	if req.EmotionalArc != "" {
		return req.EmotionalArc
	}
	return DefaultThematicTension
}

// BuildCollapseContext is the situation collapse triggers are evaluated
// against after an exploration pass.
func BuildCollapseContext(req SceneRequirements, branchCount, maxBranches int) narrative.Context {
	return narrative.Context{
		"act_number":                      req.Act,
		"scene_number":                    req.Scene,
		narrative.KeyActEndingApproaches:  req.Scene >= 4,
		narrative.KeyClimaxApproaching:    req.Act == 3 && req.Scene >= 3,
		narrative.KeyIrreversibleChoice:   false,
		narrative.KeyThemeNeedsResolution: req.Act == 3,
		narrative.KeyBranchCount:          branchCount,
		narrative.KeyMaxBranches:          maxBranches,
	}
}

// explorationContext is the situation generation strategies are evaluated
// against for one branch.
func explorationContext(state *narrative.NarrativeState, req SceneRequirements) narrative.Context {
	return narrative.Context{
		"act_number":                        req.Act,
		"scene_number":                      req.Scene,
		narrative.KeyHasCharacterChoice:     len(decisionSentences(state.Content)) > 0,
		narrative.KeyThematicTension:        ThematicTension(state, req) != "",
		narrative.KeyStructuralTurningPoint: req.Scene >= 3,
	}
}
