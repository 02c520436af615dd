package graph

import (
	"math"
	"strings"

	"threadloom/internal/types"
)

// =============================================================================
// QUALITY SCORING
// =============================================================================

// Score runs the deterministic heuristic scorer over a compiled article.
// Weights depend on the article type: troubleshooting is code-centric, the
// other types shift the code weight onto solution depth and treat code as a
// small bonus. The result is rounded to two decimals and clamped to [0,1].
// A nil article scores zero.
func Score(article *types.CompiledArticle, articleType types.Classification) float64 {
	if article == nil {
		return 0
	}

	tags := NormalizeTags(article.Tags)
	solution := len(article.Solution)
	code := len(article.CodeSnippet)
	diagnosis := len(article.Diagnosis)
	summary := len(article.ThreadSummary)

	var score float64

	if articleType == types.ClassTroubleshooting {
		switch {
		case solution > 200:
			score += 0.25
		case solution > 100:
			score += 0.15
		case solution > 50:
			score += 0.08
		}
		switch {
		case code > 50:
			score += 0.20
		case code > 0:
			score += 0.10
		}
		score += article.Confidence * 0.20
		switch {
		case len(tags) >= 5:
			score += 0.15
		case len(tags) >= 3:
			score += 0.10
		case len(tags) >= 1:
			score += 0.05
		}
		switch {
		case diagnosis > 80:
			score += 0.10
		case diagnosis > 30:
			score += 0.05
		}
		if summary > 10 {
			score += 0.10
		}
	} else {
		switch {
		case solution > 200:
			score += 0.35
		case solution > 100:
			score += 0.25
		case solution > 50:
			score += 0.15
		}
		score += article.Confidence * 0.20
		switch {
		case len(tags) >= 5:
			score += 0.15
		case len(tags) >= 3:
			score += 0.10
		case len(tags) >= 1:
			score += 0.05
		}
		switch {
		case diagnosis > 80:
			score += 0.15
		case diagnosis > 30:
			score += 0.08
		}
		if summary > 10 {
			score += 0.10
		}
		if code > 50 {
			score += 0.05
		}
	}

	score = math.Round(score*100) / 100
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// NormalizeTags lowercases tags, converts separators to kebab form, drops
// empties and duplicates, and caps the list at seven entries.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		tag = strings.ReplaceAll(tag, " ", "-")
		tag = strings.ReplaceAll(tag, "_", "-")
		tag = strings.Trim(tag, "-")
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
		if len(out) == 7 {
			break
		}
	}
	return out
}

// feedback names the weakest components of a failing article so the compiler
// retry prompt can target them.
func feedback(article *types.CompiledArticle, articleType types.Classification) string {
	if article == nil {
		return "previous attempt produced no parseable article; emit valid JSON matching the schema"
	}
	var notes []string
	if len(article.Solution) <= 100 {
		notes = append(notes, "expand the solution with concrete steps")
	}
	if articleType == types.ClassTroubleshooting && len(article.CodeSnippet) == 0 {
		notes = append(notes, "include the relevant code snippet")
	}
	if len(NormalizeTags(article.Tags)) < 3 {
		notes = append(notes, "provide at least 3 specific tags")
	}
	if len(article.Diagnosis) <= 30 {
		notes = append(notes, "explain the root cause in the diagnosis")
	}
	if len(article.ThreadSummary) <= 10 {
		notes = append(notes, "write a one-line thread summary")
	}
	if len(notes) == 0 {
		notes = append(notes, "improve overall depth and specificity")
	}
	return strings.Join(notes, "; ")
}
