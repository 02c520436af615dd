package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"threadloom/internal/config"
	"threadloom/internal/consent"
	"threadloom/internal/embedding"
	"threadloom/internal/graph"
	"threadloom/internal/llm"
	"threadloom/internal/store"
	"threadloom/internal/stream"
	"threadloom/internal/thread"
	"threadloom/internal/types"
	"threadloom/internal/worker"
)

// app bundles the pipeline subsystems a command needs. Subsystems with
// missing credentials stay nil; callers check before use.
type app struct {
	cfg      *config.Config
	store    *store.Store
	embedder embedding.Engine // nil when the engine is unavailable
	consents *consent.Registry
	pool     *worker.Pool // nil when the LLM credential is missing
}

// openApp builds the store-backed pipeline from configuration.
func openApp(cfg *config.Config) (*app, error) {
	var embedder embedding.Engine
	if cfg.Embedding.Provider == "ollama" {
		engine, err := embedding.NewEngine(embedding.Config{
			Endpoint: cfg.Embedding.Endpoint,
			Model:    cfg.Embedding.Model,
		})
		if err != nil {
			logger.Warn("embedding engine unavailable, articles stored without vectors", zap.Error(err))
		} else if err := probeEmbedder(engine); err != nil {
			logger.Warn("embedding engine unreachable, articles stored without vectors", zap.Error(err))
		} else {
			embedder = engine
		}
	}

	st, err := store.New(cfg.Database.Path, embedder)
	if err != nil {
		return nil, err
	}

	consents, err := consent.NewRegistry(st.DB())
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &app{cfg: cfg, store: st, embedder: embedder, consents: consents}

	if cfg.LLMEnabled() {
		client, err := llm.NewAnthropicFromAPIKey(cfg.LLM.APIKey, cfg.LLM.Model)
		if err != nil {
			st.Close()
			return nil, err
		}
		checkpoints, err := graph.NewSQLiteCheckpoints(st.DB())
		if err != nil {
			st.Close()
			return nil, err
		}
		runtime := &graph.Runtime{
			Disentangler: thread.NewEngine(embedder),
			Classifier:   &graph.LLMClassifier{Client: client},
			Evaluator:    &graph.LLMEvaluator{Client: client},
			Compiler:     &graph.LLMCompiler{Client: client},
			Checkpoints:  checkpoints,
		}
		a.pool = worker.NewPool(worker.Config{
			Runner:    runtime,
			Persister: st,
			Consents:  consents,
			Retryable: llm.IsRetryable,
			Workers:   cfg.Worker.Count,
			QueueSize: cfg.Worker.QueueSize,
		})
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set, extraction disabled")
	}

	return a, nil
}

// probeEmbedder verifies the engine responds before the pipeline starts
// relying on it. Engines without a health surface are taken on trust.
func probeEmbedder(engine embedding.Engine) error {
	checker, ok := engine.(embedding.HealthChecker)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return checker.HealthCheck(ctx)
}

// Close releases the app's resources.
func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

// batchHandler routes flushed batches into the worker pool. With extraction
// disabled batches are dropped with a warning so ingestion keeps running.
func (a *app) batchHandler() stream.BatchHandler {
	if a.pool == nil {
		return func(_ context.Context, batch types.Batch) error {
			logger.Warn("extraction disabled, dropping batch",
				zap.String("channel", batch.ChannelID),
				zap.Int("messages", len(batch.Messages)))
			return nil
		}
	}
	return a.pool.Submit
}

// registerRepoChannel upserts the channel row for a configured repository so
// persisted articles resolve their owner.
func (a *app) registerRepoChannel(ctx context.Context, repoSlug string) error {
	_, err := a.store.RegisterChannel(ctx, store.Channel{
		Source:      types.SourceGitHub,
		ExternalID:  repoSlug,
		ServerScope: repoSlug,
		Name:        repoSlug,
		Monitored:   true,
	})
	if err != nil {
		return fmt.Errorf("register repository channel %s: %w", repoSlug, err)
	}
	return nil
}
