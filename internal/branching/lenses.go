package branching

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kayz/thespian/internal/logger"
	"github.com/kayz/thespian/internal/narrative"
	"github.com/kayz/thespian/internal/promptbuild"
	"github.com/kayz/thespian/internal/scoring"
)

// Psychology lenses, in generation order.
const (
	LensFear       = "fear_driven"
	LensDesire     = "desire_driven"
	LensValues     = "values_driven"
	LensAttachment = "attachment_driven"
)

// Structural lenses, in generation order.
const (
	LensTensionEscalation   = "tension_escalation"
	LensEmotionalRevelation = "emotional_revelation"
	LensRelationshipShift   = "relationship_shift"
	LensPlotAdvancement     = "plot_advancement"
)

type lens struct {
	name        string
	instruction string
}

var psychologyLenses = []lens{
	{LensFear, "Generate a scene continuation where {character} responds primarily from their fears, especially their fear of {fear}. Show how fear shapes their choices, dialogue and actions."},
	{LensDesire, "Generate a scene continuation where {character} acts on their deepest desire for {desire}. Show their passion and the risks they are willing to take."},
	{LensValues, "Generate a scene continuation where {character} holds to their core value of {value}, even at personal cost. Show the internal struggle and the principled choice."},
	{LensAttachment, "Generate a scene continuation where {character}'s response is shaped by their attachment patterns and their need for connection, or their fear of it."},
}

var emotionalStates = map[string]string{
	LensFear:       "anxious and defensive",
	LensDesire:     "passionate and vulnerable",
	LensValues:     "determined and principled",
	LensAttachment: "seeking connection or avoiding intimacy",
}

var psychologyProbability = map[string]float64{
	LensFear:       0.3,
	LensDesire:     0.25,
	LensValues:     0.25,
	LensAttachment: 0.2,
}

// emotionAffinity maps a current emotion to the lens it reinforces.
var emotionAffinity = map[string]string{
	"fear":  LensFear,
	"joy":   LensDesire,
	"anger": LensValues,
}

// reinforces reports whether an emotion label such as "Fearful" or
// "fear and dread" names an emotion that boosts lens.
func reinforces(emotion, lens string) bool {
	lower := strings.ToLower(emotion)
	for key, boosted := range emotionAffinity {
		if boosted == lens && strings.Contains(lower, key) {
			return true
		}
	}
	return false
}

var structuralLenses = []lens{
	{LensTensionEscalation, "Focus on building tension and conflict"},
	{LensEmotionalRevelation, "Focus on character emotional discovery"},
	{LensRelationshipShift, "Focus on changing character relationships"},
	{LensPlotAdvancement, "Focus on advancing the main plot"},
}

// PsychologyBranches re-imagines current through each psychology lens of the
// named character. An unknown character yields no branches.
func (g *Generator) PsychologyBranches(ctx context.Context, name, decision string, current *narrative.NarrativeState) []*narrative.NarrativeState {
	id := CharacterID(name)
	var profile *CharacterProfile
	if g.profiles != nil {
		profile, _ = g.profiles.Profile(id)
	}
	if profile == nil {
		logger.Warn("[Branching] No profile for character %s", name)
		return nil
	}

	sections := []promptbuild.Section{
		{Title: "Character", Content: fmt.Sprintf("Character: %s\nBackground: %s", profile.Name, profile.Background)},
		{Title: "Current Situation", Content: decision},
		{Title: "Psychological Profile", Content: strings.Join([]string{
			"Fears: " + promptbuild.JoinTop(profile.Fears, 3, "Unknown"),
			"Desires: " + promptbuild.JoinTop(profile.Desires, 3, "Unknown"),
			"Values: " + promptbuild.JoinTop(profile.Values, 3, "Unknown"),
			"Flaws: " + promptbuild.JoinTop(profile.Flaws, 3, "Unknown"),
		}, "\n")},
	}
	vars := map[string]string{
		"character": profile.Name,
		"fear":      firstOr(profile.Fears, "failure"),
		"desire":    firstOr(profile.Desires, "fulfillment"),
		"value":     firstOr(profile.Values, "integrity"),
	}

	var calls []lensCall
	for _, l := range psychologyLenses {
		prompt, ok := g.buildPrompt(promptbuild.BuildRequest{Lens: l.name, Sections: sections, Instruction: l.instruction, Vars: vars})
		if !ok {
			continue
		}
		calls = append(calls, lensCall{name: l.name, prompt: prompt})
	}
	g.run(ctx, calls)

	emotion, hasEmotion := profile.CurrentEmotion()
	traits := profile.traits()
	return g.collect("psychology", calls, func(c lensCall) *narrative.NarrativeState {
		b := current.Derive()
		b.Content = c.text
		b.DivergencePoint = fmt.Sprintf("%s %s response to %s", profile.Name, c.name, decision)
		b.DivergenceType = narrative.DivergenceCharacterDecision
		b.DivergenceDescription = "Character responds based on " + c.name
		b.CharacterStates[id] = map[string]any{
			"psychological_state": c.name,
			"decision_rationale":  "Acting from " + c.name,
			"emotional_state":     emotionalStates[c.name],
			"character_growth":    "Expressing " + c.name + " aspect of personality",
		}
		b.Scores.CharacterConsistency = scoring.CharacterConsistency(c.text, profile.Name, traits)
		b.Scores.EmotionalResonance = scoring.EmotionalResonance(c.text, c.name)

		p := psychologyProbability[c.name]
		if hasEmotion && reinforces(emotion.Emotion, c.name) {
			p += 0.2
		}
		b.ProbabilityWeight = narrative.Clamp01(p)
		b.Log("Generated from " + c.name + " psychological response")
		return b
	})
}

// ThematicConcepts splits a tension like "duty vs desire" into its two
// poles.
func ThematicConcepts(tension string) (string, string) {
	lower := strings.ToLower(tension)
	if !strings.Contains(lower, "vs") && !strings.Contains(lower, "versus") {
		return "traditional approach", "innovative approach"
	}
	normalized := strings.ReplaceAll(tension, " versus ", " vs ")
	var parts []string
	for _, p := range strings.Split(normalized, " vs ") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return "individual autonomy", "collective responsibility"
	}
	return parts[0], parts[1]
}

// ThematicLenses returns the four thematic lens names for tension.
func ThematicLenses(tension string) []string {
	a, b := ThematicConcepts(tension)
	return []string{a + "_emphasis", b + "_emphasis", "synthesis_exploration", "paradox_exploration"}
}

func thematicInstruction(theme, a, b string) string {
	switch theme {
	case "synthesis_exploration":
		return fmt.Sprintf("Generate a scene continuation that searches for a way to reconcile %s and %s, showing characters working toward integration.", a, b)
	case "paradox_exploration":
		return fmt.Sprintf("Generate a scene continuation that embraces the contradiction between %s and %s, leaving the tension productively unresolved.", a, b)
	}
	focus := strings.ReplaceAll(strings.TrimSuffix(theme, "_emphasis"), "_", " ")
	return fmt.Sprintf("Generate a scene continuation that emphasizes %s, showing its value and its cost for the characters.", focus)
}

func philosophicalStance(theme string) string {
	switch {
	case strings.HasSuffix(theme, "_emphasis"):
		return "Prioritizing " + strings.ReplaceAll(strings.TrimSuffix(theme, "_emphasis"), "_", " ")
	case strings.Contains(theme, "synthesis"):
		return "Seeking integration and balance"
	case strings.Contains(theme, "paradox"):
		return "Embracing complexity and contradiction"
	}
	return "Philosophical exploration"
}

func thematicProbability(theme string) float64 {
	switch {
	case strings.Contains(theme, "synthesis"):
		return 0.35
	case strings.Contains(theme, "paradox"):
		return 0.30
	case strings.Contains(theme, "emphasis"):
		return 0.20
	}
	return 0.15
}

// ThematicBranches re-imagines current through four thematic directions
// derived from tension.
func (g *Generator) ThematicBranches(ctx context.Context, tension string, current *narrative.NarrativeState) []*narrative.NarrativeState {
	a, b := ThematicConcepts(tension)
	world, err := json.MarshalIndent(current.WorldState, "", "  ")
	if err != nil {
		logger.Warn("[Branching] Failed to encode world state: %v", err)
		world = []byte("{}")
	}
	sections := []promptbuild.Section{
		{Title: "Current Narrative", Content: current.Content, MaxChars: 500},
		{Title: "Central Thematic Tension", Content: tension},
		{Title: "World State", Content: string(world)},
	}

	var calls []lensCall
	for _, theme := range ThematicLenses(tension) {
		prompt, ok := g.buildPrompt(promptbuild.BuildRequest{
			Lens:        theme,
			Sections:    sections,
			Instruction: thematicInstruction(theme, a, b),
			Vars:        map[string]string{"tension": tension, "theme": theme},
		})
		if !ok {
			continue
		}
		calls = append(calls, lensCall{name: theme, prompt: prompt})
	}
	g.run(ctx, calls)

	return g.collect("thematic", calls, func(c lensCall) *narrative.NarrativeState {
		br := current.Derive()
		br.Content = c.text
		br.DivergencePoint = "Thematic exploration: " + c.name
		br.DivergenceType = narrative.DivergenceThematicExploration
		br.DivergenceDescription = "Scene explores " + c.name + " thematic direction"
		br.WorldState["dominant_theme"] = c.name
		br.WorldState["thematic_tension"] = tension
		br.WorldState["philosophical_stance"] = philosophicalStance(c.name)
		br.WorldState["thematic_development"] = "Exploring " + c.name + " implications"
		br.Scores.ThematicAlignment = scoring.ThematicAlignment(c.text, c.name)
		br.InnovationScore = scoring.ThematicInnovation(c.text, c.name)
		br.ProbabilityWeight = thematicProbability(c.name)
		br.Log("Thematic exploration of " + c.name)
		return br
	})
}

// StructuralBranches re-imagines current through the four dramatic
// structure lenses at the given act and scene.
func (g *Generator) StructuralBranches(ctx context.Context, current *narrative.NarrativeState, act, scene int) []*narrative.NarrativeState {
	position := fmt.Sprintf("Act %d, Scene %d", act, scene)
	sections := []promptbuild.Section{
		{Title: "Current Scene", Content: current.Content, MaxChars: 300},
		{Title: "Position", Content: position},
	}

	var calls []lensCall
	for _, l := range structuralLenses {
		prompt, ok := g.buildPrompt(promptbuild.BuildRequest{
			Lens:        l.name,
			Sections:    sections,
			Instruction: "Generate a scene alternative for {position}. " + l.instruction + ".",
			Vars:        map[string]string{"position": position},
		})
		if !ok {
			continue
		}
		calls = append(calls, lensCall{name: l.name, prompt: prompt})
	}
	g.run(ctx, calls)

	descriptions := make(map[string]string, len(structuralLenses))
	for _, l := range structuralLenses {
		descriptions[l.name] = l.instruction
	}
	return g.collect("structural", calls, func(c lensCall) *narrative.NarrativeState {
		b := current.Derive()
		b.Content = c.text
		b.DivergencePoint = "Structural focus: " + c.name
		b.DivergenceType = narrative.DivergenceDramaticStructure
		b.DivergenceDescription = descriptions[c.name]
		b.WorldState["structural_focus"] = c.name
		b.Scores.DramaticTension = scoreIf(c.name, "tension", 0.7, 0.5)
		b.Scores.EmotionalResonance = scoreIf(c.name, "emotional", 0.7, 0.5)
		b.Scores.NarrativeCoherence = 0.6
		b.Log("Structural alternative: " + c.name)
		return b
	})
}

func scoreIf(name, substr string, hit, miss float64) float64 {
	if strings.Contains(name, substr) {
		return hit
	}
	return miss
}

func firstOr(items []string, fallback string) string {
	for _, item := range items {
		if strings.TrimSpace(item) != "" {
			return item
		}
	}
	return fallback
}
