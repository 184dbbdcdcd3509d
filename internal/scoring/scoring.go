// Package scoring holds the keyword heuristics used to give generated
// branches their quality metrics. Every scorer returns a value in [0,1]
// and never fails.
package scoring

import "strings"

const baseScore = 0.5

// substantialChars is the content length above which a branch earns the
// length bonus in CharacterConsistency.
const substantialChars = 500

// EmotionKeywords lists the vocabulary each psychology lens is expected to
// evoke.
var EmotionKeywords = map[string][]string{
	"fear_driven":       {"afraid", "scared", "anxious", "worried", "trembling", "panic", "nervous"},
	"desire_driven":     {"want", "need", "passion", "love", "longing", "dream", "hope"},
	"values_driven":     {"right", "wrong", "principle", "believe", "stand", "moral", "ethics"},
	"attachment_driven": {"together", "alone", "relationship", "connect", "love", "trust", "bond"},
}

// ThemeKeywords expands a theme word into the vocabulary that signals it.
// Words outside the table stand for themselves.
var ThemeKeywords = map[string][]string{
	"freedom":    {"choice", "liberty", "independence", "autonomy", "self-determination"},
	"security":   {"safety", "protection", "stability", "certainty", "order"},
	"individual": {"personal", "self", "unique", "private", "individual"},
	"collective": {"together", "community", "group", "shared", "collective"},
	"tradition":  {"heritage", "custom", "established", "proven", "traditional"},
	"innovation": {"new", "creative", "change", "progress", "innovation"},
}

// InnovationIndicators signal an unconventional treatment of a theme.
var InnovationIndicators = []string{
	"paradox", "irony", "unexpected", "surprise", "twist",
	"complex", "nuanced", "layered", "subtle", "contradiction",
}

// KeywordDensity returns base plus half the fraction of keywords found as
// substrings of the lowercased text, capped at 1.
func KeywordDensity(text string, keywords []string) float64 {
	if len(keywords) == 0 {
		return baseScore
	}
	return min1(baseScore + matchRatio(strings.ToLower(text), keywords)*0.5)
}

// CharacterConsistency scores how well text reflects a character: trait
// mentions add up to 0.3, naming the character adds 0.1 and substantial
// content adds 0.1, on top of the 0.5 base.
func CharacterConsistency(text, name string, traits []string) float64 {
	content := strings.ToLower(text)
	score := baseScore

	if len(traits) > 0 {
		score += matchRatio(content, traits) * 0.3
	}
	if name != "" && strings.Contains(content, strings.ToLower(name)) {
		score += 0.1
	}
	if len(content) > substantialChars {
		score += 0.1
	}
	return min1(score)
}

// EmotionalResonance scores text against the vocabulary of a psychology lens.
// Unknown lenses get the base score.
func EmotionalResonance(text, lens string) float64 {
	return KeywordDensity(text, EmotionKeywords[lens])
}

// ThemeVocabulary expands a theme label such as "freedom_emphasis" or
// "synthesis_exploration" into the keywords it is scored against.
func ThemeVocabulary(themeType string) []string {
	label := strings.ReplaceAll(themeType, "_emphasis", "")
	label = strings.ReplaceAll(label, "_exploration", "")

	var keywords []string
	for _, word := range strings.Split(label, "_") {
		if word == "" {
			continue
		}
		if expanded, ok := ThemeKeywords[word]; ok {
			keywords = append(keywords, expanded...)
		} else {
			keywords = append(keywords, word)
		}
	}
	return keywords
}

// ThematicAlignment scores how strongly text explores themeType.
func ThematicAlignment(text, themeType string) float64 {
	return KeywordDensity(text, ThemeVocabulary(themeType))
}

// ThematicInnovation scores the unconventionality of a thematic branch.
// Synthesis and paradox treatments earn a 0.1 bonus.
func ThematicInnovation(text, themeType string) float64 {
	score := KeywordDensity(text, InnovationIndicators)
	if strings.Contains(themeType, "synthesis") || strings.Contains(themeType, "paradox") {
		score += 0.1
	}
	return min1(score)
}

func matchRatio(content string, keywords []string) float64 {
	matches := 0
	for _, k := range keywords {
		if k != "" && strings.Contains(content, strings.ToLower(k)) {
			matches++
		}
	}
	return float64(matches) / float64(len(keywords))
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
