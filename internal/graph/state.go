// Package graph implements the extraction state machine that turns a
// disentangled conversation into a quality-gated knowledge article.
//
// Five nodes run in sequence: disentangle, router, evaluator, compiler, and
// quality gate. The only loop is compiler <-> quality gate, bounded by
// MaxRetries. A run that cannot proceed yet (an unanswered question, say)
// suspends: the state is checkpointed under its thread id and a later
// invocation with fresh messages resumes from the merged state.
package graph

import (
	"fmt"
	"time"

	"threadloom/internal/types"
)

// Retry and scoring bounds shared by every article type.
const (
	// QualityThreshold is the minimum score for an article to pass the gate.
	QualityThreshold = 0.70

	// MaxRetries bounds the compiler <-> quality gate loop.
	MaxRetries = 3
)

// State is the shared record every node reads and writes. Messages is
// append-only across checkpoint resumptions; every other field is
// last-writer-wins.
type State struct {
	ThreadID     string           `json:"thread_id"`
	Source       types.SourceType `json:"source_type"`
	ServerScope  string           `json:"server_scope"`
	ChannelScope string           `json:"channel_scope"`
	SourceURL    string           `json:"source_url,omitempty"`

	// SkipDisentangle marks pre-threaded public-source batches; the
	// disentangle node preserves them as one thread.
	SkipDisentangle bool `json:"skip_disentangle"`

	Messages      []types.RawMessage `json:"messages"`
	Threads       []types.Thread     `json:"threads,omitempty"`
	CurrentThread int                `json:"current_thread_idx"`

	Classification types.Classification   `json:"classification,omitempty"`
	ArticleType    types.Classification   `json:"article_type,omitempty"`
	Evaluation     *types.Evaluation      `json:"evaluation,omitempty"`
	Article        *types.CompiledArticle `json:"compiled_article,omitempty"`
	QualityScore   float64                `json:"quality_score"`
	RetryCount     int                    `json:"retry_count"`

	// Suspended is set when the evaluator gate fails and the run exits with
	// a checkpoint, awaiting more messages.
	Suspended bool `json:"suspended,omitempty"`

	// Err carries a terminal rejection reason. It never holds node errors;
	// those abort the run without touching the checkpoint.
	Err string `json:"error,omitempty"`
}

// ThreadID derives the stable checkpoint key for a batch. Two flushes of the
// same channel in the same wall-clock window resume the same conversation.
func ThreadID(source types.SourceType, channelScope string, createdAt time.Time) string {
	return fmt.Sprintf("%s:%s:%d", source, channelScope, createdAt.Unix())
}

// Merge combines a checkpointed state with a fresh invocation. Messages are
// the union (prior order preserved, duplicates by ID dropped); all other
// fields take the incoming value so the resumed run recomputes them.
func Merge(prior, incoming State) State {
	merged := incoming
	if prior.ThreadID != "" && merged.ThreadID == "" {
		merged.ThreadID = prior.ThreadID
	}

	seen := make(map[string]bool, len(prior.Messages))
	messages := make([]types.RawMessage, 0, len(prior.Messages)+len(incoming.Messages))
	for _, m := range prior.Messages {
		seen[m.ID] = true
		messages = append(messages, m)
	}
	for _, m := range incoming.Messages {
		if !seen[m.ID] {
			seen[m.ID] = true
			messages = append(messages, m)
		}
	}
	merged.Messages = messages

	// Derived fields are recomputed from scratch on resume.
	merged.Threads = nil
	merged.CurrentThread = 0
	merged.Suspended = false
	return merged
}
