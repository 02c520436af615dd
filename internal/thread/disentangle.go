// Package thread clusters a mixed chronological stream of messages into
// logical conversation threads.
//
// Chat channels are chaotic: multiple conversations happen simultaneously.
// The engine combines semantic similarity, temporal proximity, explicit
// reply/mention edges, and same-author continuation:
//
//  1. Embed all message contents in one batch.
//  2. Compute the pairwise cosine similarity matrix.
//  3. Build an undirected adjacency graph on message indices where
//     shouldLink is true.
//  4. Take connected components via BFS.
//  5. Sort messages within each component by timestamp ascending.
//
// The thresholds below are part of the engine's contract; tuning them
// changes which conversations merge.
package thread

import (
	"context"
	"sort"
	"time"

	"threadloom/internal/embedding"
	"threadloom/internal/logging"
	"threadloom/internal/types"
)

// Clustering thresholds.
const (
	// SimilarityThreshold is the minimum boosted cosine similarity for an
	// implicit edge between two messages.
	SimilarityThreshold = 0.45

	// TemporalWindow is the hard gate: messages further apart than this are
	// never linked directly.
	TemporalWindow = 4 * time.Hour

	// SameAuthorBoost is added when both messages share an author within
	// SameAuthorWindow (likely continuation).
	SameAuthorBoost = 0.25

	// SameAuthorWindow bounds the same-author continuation boost.
	SameAuthorWindow = 10 * time.Minute

	// CodeBoost is added when both messages carry fenced code (likely the
	// same technical discussion).
	CodeBoost = 0.20

	// partitionLimit bounds the O(N²) similarity pass. Above this size the
	// input is partitioned at temporal gaps wider than TemporalWindow,
	// which is lossless: no edge can cross such a gap.
	partitionLimit = 2000
)

// Engine clusters raw messages into logical conversation threads.
type Engine struct {
	embedder embedding.Engine
}

// NewEngine creates a disentanglement engine backed by the given embedder.
func NewEngine(embedder embedding.Engine) *Engine {
	return &Engine{embedder: embedder}
}

// Cluster takes chronologically ordered raw messages and returns grouped
// threads. Every input message appears in exactly one thread; isolated
// messages come back as single-element threads. Empty input yields nil.
func (e *Engine) Cluster(ctx context.Context, messages []types.RawMessage) []types.Thread {
	timer := logging.StartTimer(logging.CategoryThread, "Cluster")
	defer timer.Stop()

	if len(messages) == 0 {
		return nil
	}
	if len(messages) == 1 {
		return []types.Thread{{messages[0]}}
	}

	if len(messages) > partitionLimit {
		var threads []types.Thread
		for _, part := range partitionAtGaps(messages) {
			threads = append(threads, e.clusterPart(ctx, part)...)
		}
		return threads
	}

	return e.clusterPart(ctx, messages)
}

func (e *Engine) clusterPart(ctx context.Context, messages []types.RawMessage) []types.Thread {
	n := len(messages)

	simMatrix := e.similarities(ctx, messages)

	// Adjacency lists; the full N×N bool matrix is avoided so large batches
	// stay within memory bounds.
	adjacency := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if shouldLink(messages, simMatrix, i, j) {
				adjacency[i] = append(adjacency[i], j)
				adjacency[j] = append(adjacency[j], i)
			}
		}
	}

	// Connected components via BFS.
	visited := make([]bool, n)
	var threads []types.Thread

	for start := 0; start < n; start++ {
		if visited[start] {
			continue
		}

		queue := []int{start}
		var component []int

		for len(queue) > 0 {
			node := queue[0]
			queue = queue[1:]
			if visited[node] {
				continue
			}
			visited[node] = true
			component = append(component, node)

			for _, neighbor := range adjacency[node] {
				if !visited[neighbor] {
					queue = append(queue, neighbor)
				}
			}
		}

		sort.Slice(component, func(a, b int) bool {
			return messages[component[a]].Timestamp.Before(messages[component[b]].Timestamp)
		})

		thread := make(types.Thread, len(component))
		for i, idx := range component {
			thread[i] = messages[idx]
		}
		threads = append(threads, thread)
	}

	logging.Get(logging.CategoryThread).Debug("clustered %d messages into %d threads", n, len(threads))
	return threads
}

// similarities embeds all contents in one batch and returns the cosine
// matrix. On embedding failure the engine degrades to the identity matrix:
// only explicit reply/mention edges can then link messages.
func (e *Engine) similarities(ctx context.Context, messages []types.RawMessage) [][]float64 {
	if e.embedder == nil {
		return embedding.IdentityMatrix(len(messages))
	}

	texts := make([]string, len(messages))
	for i, m := range messages {
		texts[i] = m.Content
	}

	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		logging.Get(logging.CategoryThread).Warn("embedding failed, degrading to identity similarity: %v", err)
		return embedding.IdentityMatrix(len(messages))
	}
	return embedding.SimilarityMatrix(vectors)
}

// shouldLink decides whether messages i and j belong to the same thread.
// Evaluated for i < j; the relation is symmetric.
func shouldLink(messages []types.RawMessage, simMatrix [][]float64, i, j int) bool {
	mi := &messages[i]
	mj := &messages[j]

	// Temporal gate: messages must be within the time window.
	delta := mi.Timestamp.Sub(mj.Timestamp)
	if delta < 0 {
		delta = -delta
	}
	if delta > TemporalWindow {
		return false
	}

	// Explicit link: reply_to in either direction.
	if mj.ReplyTo != "" && mj.ReplyTo == mi.ID {
		return true
	}
	if mi.ReplyTo != "" && mi.ReplyTo == mj.ID {
		return true
	}

	// Explicit link: mention of the other author.
	if containsHandle(mj.Mentions, mi.AuthorHash) {
		return true
	}
	if containsHandle(mi.Mentions, mj.AuthorHash) {
		return true
	}

	// Effective similarity with boosts.
	similarity := simMatrix[i][j]

	if mi.AuthorHash == mj.AuthorHash && delta <= SameAuthorWindow {
		similarity += SameAuthorBoost
	}
	if mi.HasCode && mj.HasCode {
		similarity += CodeBoost
	}

	return similarity >= SimilarityThreshold
}

func containsHandle(handles []string, handle string) bool {
	if handle == "" {
		return false
	}
	for _, h := range handles {
		if h == handle {
			return true
		}
	}
	return false
}

// partitionAtGaps splits chronologically ordered messages wherever the gap
// between consecutive messages exceeds TemporalWindow. No adjacency edge can
// cross such a gap, so clustering each part independently is exact.
func partitionAtGaps(messages []types.RawMessage) [][]types.RawMessage {
	var parts [][]types.RawMessage
	start := 0
	for i := 1; i < len(messages); i++ {
		if messages[i].Timestamp.Sub(messages[i-1].Timestamp) > TemporalWindow {
			parts = append(parts, messages[start:i])
			start = i
		}
	}
	parts = append(parts, messages[start:])
	return parts
}
