// Package worker consumes flushed batches and drives them through the
// pipeline: consent filtering for private sources, PII redaction, the
// extraction graph, and article persistence. Workers run in parallel; each
// processes one batch at a time.
package worker

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"threadloom/internal/graph"
	"threadloom/internal/logging"
	"threadloom/internal/redact"
	"threadloom/internal/store"
	"threadloom/internal/types"
)

// Transport retry bounds. Only transport-level failures retry; node behavior
// is deterministic given input, so in-node errors are not retried.
const (
	maxAttempts  = 3
	baseBackoff  = time.Second
	queueDefault = 64
)

// GraphRunner abstracts graph.Runtime for tests.
type GraphRunner interface {
	Run(ctx context.Context, initial graph.State) (graph.State, error)
}

// Persister abstracts the article store for tests.
type Persister interface {
	PersistArticle(ctx context.Context, article *types.CompiledArticle, qualityScore float64, source types.SourceType, channelExternalID string, messageCount int) (int64, error)
}

// ConsentFilter abstracts the consent registry for tests. Grants are scoped
// to one community, so the filter needs the batch's server scope.
type ConsentFilter interface {
	Filter(ctx context.Context, scope string, messages []types.RawMessage) (kept, excluded []types.RawMessage, err error)
}

// Retryable reports whether an error is a transport fault worth retrying.
// Defaults to llm-style classification; tests may substitute their own.
type Retryable func(error) bool

// Pool runs batch pipelines on a fixed set of workers.
type Pool struct {
	runner    GraphRunner
	persister Persister
	consents  ConsentFilter
	retryable Retryable
	workers   int
	sleep     func(context.Context, time.Duration) error

	batches chan types.Batch
}

// Config wires a Pool.
type Config struct {
	Runner    GraphRunner
	Persister Persister
	Consents  ConsentFilter
	Retryable Retryable
	Workers   int
	QueueSize int
}

// NewPool builds a pool; Start must be called before Submit.
func NewPool(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = queueDefault
	}
	return &Pool{
		runner:    cfg.Runner,
		persister: cfg.Persister,
		consents:  cfg.Consents,
		retryable: cfg.Retryable,
		workers:   workers,
		sleep:     sleepCtx,
		batches:   make(chan types.Batch, queue),
	}
}

// Submit enqueues a batch; it blocks when the queue is full.
func (p *Pool) Submit(ctx context.Context, batch types.Batch) error {
	select {
	case p.batches <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle processes one batch synchronously on the calling goroutine. It is
// for callers outside the serving loop, such as the one-shot fetch command,
// where the worker queue has no consumer.
func (p *Pool) Handle(ctx context.Context, batch types.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.Process(ctx, batch)
	return nil
}

// Start runs the workers until the context is cancelled.
func (p *Pool) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		id := i
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case batch := <-p.batches:
					logging.Get(logging.CategoryWorker).Debug("Worker %d picked batch %s/%s",
						id, batch.Source, batch.ChannelID)
					p.Process(ctx, batch)
				}
			}
		})
	}
	return g.Wait()
}

// Process runs one batch through the full pipeline.
func (p *Pool) Process(ctx context.Context, batch types.Batch) {
	timer := logging.StartTimer(logging.CategoryWorker, "Process")
	defer timer.Stop()

	messages := batch.Messages

	// Consent gate: private sources only, fail closed.
	if !batch.Source.Public() && p.consents != nil {
		kept, excluded, err := p.consents.Filter(ctx, batch.ServerScope, messages)
		if err != nil {
			logging.Get(logging.CategoryWorker).Error("Consent lookup failed, dropping batch %s/%s: %v",
				batch.Source, batch.ChannelID, err)
			return
		}
		if len(excluded) > 0 {
			logging.Worker("Excluded %d unconsented messages from %s/%s",
				len(excluded), batch.Source, batch.ChannelID)
		}
		if len(kept) == 0 {
			logging.Worker("No consented authors in batch %s/%s, dropping",
				batch.Source, batch.ChannelID)
			return
		}
		messages = kept
	}

	// Redact PII before anything touches disk or a model.
	redacted := make([]types.RawMessage, len(messages))
	totalRedactions := 0
	for i, m := range messages {
		result := redact.Anonymize(m.Content)
		m.Content = result.Text
		totalRedactions += result.RedactionCount()
		redacted[i] = m
	}
	if totalRedactions > 0 {
		logging.Get(logging.CategoryRedact).Info("Redacted %d PII spans in batch %s/%s",
			totalRedactions, batch.Source, batch.ChannelID)
	}

	initial := graph.State{
		ThreadID:        graph.ThreadID(batch.Source, batch.ChannelID, batch.CreatedAt),
		Source:          batch.Source,
		ServerScope:     batch.ServerScope,
		ChannelScope:    batch.ChannelID,
		SourceURL:       batch.SourceURL,
		SkipDisentangle: batch.PreThreaded,
		Messages:        redacted,
	}

	final, err := p.runWithRetry(ctx, initial)
	if err != nil {
		logging.Get(logging.CategoryWorker).Error("Graph run failed for %s: %v", initial.ThreadID, err)
		return
	}
	if final.Suspended {
		logging.Worker("Thread %s suspended awaiting more content", final.ThreadID)
		return
	}
	if final.Article == nil || final.QualityScore < graph.QualityThreshold {
		logging.Worker("Thread %s produced no persistable article (score %.2f)",
			final.ThreadID, final.QualityScore)
		return
	}

	article := final.Article
	if article.SourceURL == "" {
		article.SourceURL = final.SourceURL
	}

	messageCount := len(final.Messages)
	if final.CurrentThread < len(final.Threads) {
		messageCount = len(final.Threads[final.CurrentThread])
	}

	id, err := p.persister.PersistArticle(ctx, article, final.QualityScore,
		batch.Source, batch.ChannelID, messageCount)
	switch {
	case errors.Is(err, store.ErrChannelNotFound):
		logging.Get(logging.CategoryWorker).Warn("Channel %s/%s unknown, article dropped",
			batch.Source, batch.ChannelID)
	case errors.Is(err, store.ErrDuplicateSource):
		logging.Worker("Article for %s already stored as %d", article.SourceURL, id)
	case err != nil:
		logging.Get(logging.CategoryWorker).Error("Persist failed for %s: %v", final.ThreadID, err)
	default:
		logging.Worker("Stored article %d from thread %s (quality %.2f)",
			id, final.ThreadID, final.QualityScore)
	}
}

// runWithRetry retries the graph only on transport faults, with bounded
// exponential backoff.
func (p *Pool) runWithRetry(ctx context.Context, initial graph.State) (graph.State, error) {
	var final graph.State
	var err error
	backoff := baseBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		final, err = p.runner.Run(ctx, initial)
		if err == nil {
			return final, nil
		}
		if p.retryable == nil || !p.retryable(err) {
			return final, err
		}
		if attempt == maxAttempts {
			break
		}
		logging.Worker("Transport fault on %s (attempt %d/%d), backing off %s: %v",
			initial.ThreadID, attempt, maxAttempts, backoff, err)
		if sleepErr := p.sleep(ctx, backoff); sleepErr != nil {
			return final, sleepErr
		}
		backoff *= 2
	}
	return final, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
