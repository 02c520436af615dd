// Package types provides shared type definitions used across threadloom
// packages. This package exists to break import cycles between the stream,
// graph, store, and export layers. Types here are foundational data
// structures with no complex dependencies.
package types

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// SOURCES
// =============================================================================

// SourceType identifies the platform a message batch came from.
type SourceType string

const (
	// SourceDiscord is the push-driven chat platform. Private-source
	// semantics apply: consent gating is on.
	SourceDiscord SourceType = "discord"

	// SourceGitHub is the pull-driven discussion forum. Public-source
	// semantics: consent gating is skipped and batches arrive pre-threaded.
	SourceGitHub SourceType = "github"
)

// Public reports whether the source is public. Public-source batches skip
// consent filtering and disentanglement.
func (s SourceType) Public() bool {
	return s == SourceGitHub
}

// =============================================================================
// MESSAGES AND THREADS
// =============================================================================

// RawMessage is a single incoming item before threading. Immutable once
// accepted; the only permitted mutation is content redaction before
// persistence.
type RawMessage struct {
	ID         string    `json:"id"`
	AuthorHash string    `json:"author_hash"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	ReplyTo    string    `json:"reply_to,omitempty"`
	Mentions   []string  `json:"mentions,omitempty"`
	HasCode    bool      `json:"has_code"`
}

// HasCodeFence reports whether content contains a fenced code marker.
func HasCodeFence(content string) bool {
	return strings.Contains(content, "```")
}

// Thread is an ordered sequence of messages the disentangler grouped
// together, sorted by timestamp ascending. It carries no identity of its
// own; it exists for the duration of one pipeline invocation unless the
// graph checkpoints it.
type Thread []RawMessage

// =============================================================================
// CLASSIFICATION
// =============================================================================

// Classification is the router's verdict on a thread.
type Classification string

const (
	ClassNoise             Classification = "NOISE"
	ClassTroubleshooting   Classification = "TROUBLESHOOTING"
	ClassQuestionAnswer    Classification = "QUESTION_ANSWER"
	ClassGuide             Classification = "GUIDE"
	ClassDiscussionSummary Classification = "DISCUSSION_SUMMARY"
)

// ArticleTypes lists the non-terminal classifications.
var ArticleTypes = []Classification{
	ClassTroubleshooting,
	ClassQuestionAnswer,
	ClassGuide,
	ClassDiscussionSummary,
}

// Valid reports whether c is a known classification label.
func (c Classification) Valid() bool {
	switch c {
	case ClassNoise, ClassTroubleshooting, ClassQuestionAnswer, ClassGuide, ClassDiscussionSummary:
		return true
	}
	return false
}

// =============================================================================
// EVALUATION
// =============================================================================

// Evaluation is the evaluator node's structured output.
// Invariant: IsResolved implies HasSolution.
type Evaluation struct {
	HasSolution bool   `json:"has_solution"`
	HasCode     bool   `json:"has_code"`
	IsResolved  bool   `json:"is_resolved"`
	Reasoning   string `json:"reasoning"`
}

// =============================================================================
// COMPILED ARTICLE
// =============================================================================

// DefaultLanguage is the sentinel language for non-code articles.
const DefaultLanguage = "general"

// CompiledArticle is the compiler node's structured extraction.
type CompiledArticle struct {
	ArticleType   Classification `json:"article_type"`
	Symptom       string         `json:"symptom"`
	Diagnosis     string         `json:"diagnosis"`
	Solution      string         `json:"solution"`
	CodeSnippet   string         `json:"code_snippet,omitempty"`
	Language      string         `json:"language"`
	Framework     string         `json:"framework,omitempty"`
	Tags          []string       `json:"tags"`
	Confidence    float64        `json:"confidence"`
	ThreadSummary string         `json:"thread_summary"`
	SourceURL     string         `json:"source_url,omitempty"`
}

// Validate checks the CompiledArticle invariants: the three text cores are
// non-empty, confidence is within bounds, and tags contain no duplicates.
// A violation escaping the compiler is a fatal pipeline error.
func (a *CompiledArticle) Validate() error {
	if strings.TrimSpace(a.Symptom) == "" {
		return fmt.Errorf("compiled article: empty symptom")
	}
	if strings.TrimSpace(a.Diagnosis) == "" {
		return fmt.Errorf("compiled article: empty diagnosis")
	}
	if strings.TrimSpace(a.Solution) == "" {
		return fmt.Errorf("compiled article: empty solution")
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("compiled article: confidence %v out of [0,1]", a.Confidence)
	}
	seen := make(map[string]bool, len(a.Tags))
	for _, tag := range a.Tags {
		if seen[tag] {
			return fmt.Errorf("compiled article: duplicate tag %q", tag)
		}
		seen[tag] = true
	}
	return nil
}

// Normalize fills defaulted fields: empty language becomes the "general"
// sentinel when no code was extracted.
func (a *CompiledArticle) Normalize() {
	if a.Language == "" && a.CodeSnippet == "" {
		a.Language = DefaultLanguage
	}
}

// =============================================================================
// QUALITY
// =============================================================================

// QualityReport is the quality gate's verdict for one compile attempt.
type QualityReport struct {
	Score       float64 `json:"score"`
	RetriesUsed int     `json:"retries_used"`
}

// Terminal reports whether the gate's retry loop is finished under the
// given threshold and retry cap.
func (q QualityReport) Terminal(threshold float64, maxRetries int) bool {
	return q.Score >= threshold || q.RetriesUsed >= maxRetries
}

// =============================================================================
// BATCHES
// =============================================================================

// Batch is the unit of work dispatched to a worker: a flushed stream buffer
// carrying all pending messages for one (source, channel).
type Batch struct {
	Source      SourceType   `json:"source"`
	ServerScope string       `json:"server_scope"` // guild id or owner/repo
	ChannelID   string       `json:"channel_id"`   // external channel id
	Messages    []RawMessage `json:"messages"`
	CreatedAt   time.Time    `json:"created_at"`

	// PreThreaded marks batches that already form one logical thread
	// (forum discussions). The disentangle node preserves them verbatim.
	PreThreaded bool `json:"pre_threaded"`

	// SourceURL is the canonical URL of a pre-threaded discussion, when known.
	SourceURL string `json:"source_url,omitempty"`
}
