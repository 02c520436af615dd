package graph

import (
	"context"
	"fmt"
	"sort"

	"threadloom/internal/logging"
	"threadloom/internal/types"
)

// Disentangler groups raw messages into conversation threads. Satisfied by
// *thread.Engine.
type Disentangler interface {
	Cluster(ctx context.Context, messages []types.RawMessage) []types.Thread
}

// Runtime sequences the graph nodes, persists checkpoints at suspensions
// and terminal transitions, and merges state on resumption. Nodes run to
// completion one at a time; the only loop is compiler <-> quality gate.
type Runtime struct {
	Disentangler Disentangler
	Classifier   Classifier
	Evaluator    Evaluator
	Compiler     Compiler
	Checkpoints  CheckpointStore
}

// Run executes one graph invocation. A checkpoint stored under the initial
// state's thread id is loaded and merged first (messages append, the rest
// recomputed). The returned state is terminal or suspended; a non-nil error
// means a node failed and the prior checkpoint was left untouched so a later
// invocation may retry.
func (r *Runtime) Run(ctx context.Context, initial State) (State, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "Run")
	defer timer.Stop()

	state := initial
	if prior, ok, err := r.Checkpoints.Load(ctx, initial.ThreadID); err != nil {
		return state, err
	} else if ok {
		state = Merge(prior, initial)
		logging.Graph("resumed thread %s with %d messages", state.ThreadID, len(state.Messages))
	}

	if len(state.Messages) == 0 {
		state.Err = "empty batch"
		return state, nil
	}

	// Disentangle.
	if err := ctx.Err(); err != nil {
		return state, err
	}
	state.Threads = r.disentangle(ctx, state)
	state.CurrentThread = 0
	current := state.Threads[state.CurrentThread]

	// Router.
	if err := ctx.Err(); err != nil {
		return state, err
	}
	classification, err := r.Classifier.Classify(ctx, current)
	if err != nil {
		return state, err
	}
	state.Classification = classification
	if classification == types.ClassNoise {
		state.ArticleType = ""
		state.QualityScore = 0
		logging.Graph("thread %s classified NOISE, terminating", state.ThreadID)
		return r.terminal(ctx, state)
	}
	state.ArticleType = classification

	// Evaluator.
	if err := ctx.Err(); err != nil {
		return state, err
	}
	eval, err := r.Evaluator.Evaluate(ctx, current)
	if err != nil {
		return state, err
	}
	state.Evaluation = &eval

	if !GatePasses(state.ArticleType, eval) {
		state.Suspended = true
		logging.Graph("thread %s suspended awaiting more content (%s)", state.ThreadID, state.ArticleType)
		if err := r.Checkpoints.Save(ctx, state); err != nil {
			return state, err
		}
		return state, nil
	}

	// Compiler <-> quality gate loop.
	retryFeedback := ""
	for {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		article, err := r.Compiler.Compile(ctx, current, eval, retryFeedback)
		if err != nil {
			return state, err
		}
		state.Article = article
		state.QualityScore = Score(article, state.ArticleType)

		if state.QualityScore >= QualityThreshold {
			logging.Graph("thread %s passed quality gate at %.2f", state.ThreadID, state.QualityScore)
			break
		}
		state.RetryCount++
		if state.RetryCount >= MaxRetries {
			state.Err = fmt.Sprintf("quality %.2f below threshold after %d retries", state.QualityScore, state.RetryCount)
			logging.Graph("thread %s rejected: %s", state.ThreadID, state.Err)
			break
		}
		retryFeedback = feedback(article, state.ArticleType)
		logging.GraphDebug("thread %s retry %d: %s", state.ThreadID, state.RetryCount, retryFeedback)
	}

	return r.terminal(ctx, state)
}

func (r *Runtime) terminal(ctx context.Context, state State) (State, error) {
	if err := r.Checkpoints.Save(ctx, state); err != nil {
		return state, err
	}
	return state, nil
}

// disentangle runs the first node: pre-threaded batches pass through as one
// thread; everything else is clustered, ordered largest first, and threads
// under two messages are collapsed into a single catch-all at the end.
func (r *Runtime) disentangle(ctx context.Context, state State) []types.Thread {
	if state.SkipDisentangle {
		return []types.Thread{types.Thread(state.Messages)}
	}

	clustered := r.Disentangler.Cluster(ctx, state.Messages)
	sort.SliceStable(clustered, func(i, j int) bool {
		return len(clustered[i]) > len(clustered[j])
	})

	var threads []types.Thread
	var catchAll types.Thread
	for _, t := range clustered {
		if len(t) >= 2 {
			threads = append(threads, t)
		} else {
			catchAll = append(catchAll, t...)
		}
	}
	if len(catchAll) > 0 {
		sort.Slice(catchAll, func(i, j int) bool {
			return catchAll[i].Timestamp.Before(catchAll[j].Timestamp)
		})
		threads = append(threads, catchAll)
	}
	return threads
}
