package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"threadloom/internal/source/discord"
	"threadloom/internal/source/github"
	"threadloom/internal/stream"
)

// serveCmd runs the full pipeline until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion and extraction pipeline",
	Long: `Starts every subsystem with credentials available: the Discord gateway
producer, the GitHub discussion poller, the stream buffer flusher, and the
extraction worker pool. Subsystems with missing credentials are disabled
with a warning; the process keeps running.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	buffer := openBuffer(ctx)
	flusher := stream.NewFlusher(buffer, a.batchHandler(), cfg.GetFlushInterval())

	g, ctx := errgroup.WithContext(ctx)

	if a.pool != nil {
		g.Go(func() error { return a.pool.Start(ctx) })
	}
	g.Go(func() error { return flusher.Run(ctx) })

	if cfg.DiscordEnabled() {
		producer, err := discord.NewProducer(cfg.Discord.Token, flusher, a.store)
		if err != nil {
			return err
		}
		g.Go(func() error { return producer.Start(ctx) })
	} else {
		logger.Warn("DISCORD_BOT_TOKEN not set, gateway producer disabled")
	}

	if cfg.GitHubEnabled() && len(cfg.GitHub.Repositories) > 0 {
		client := github.NewClient(cfg.GitHub.Token)
		fetcher := github.NewFetcher(client, github.BatchHandler(a.batchHandler()))
		for _, repo := range cfg.GitHub.Repositories {
			if err := a.registerRepoChannel(ctx, repo); err != nil {
				return err
			}
			g.Go(func() error {
				return fetcher.Run(ctx, repo, cfg.GetPollInterval(), github.FetchOptions{})
			})
		}
	} else if !cfg.GitHubEnabled() {
		logger.Warn("GITHUB_TOKEN not set, discussion poller disabled")
	}

	logger.Info("threadloom serving",
		zap.Bool("discord", cfg.DiscordEnabled()),
		zap.Bool("github", cfg.GitHubEnabled()),
		zap.Bool("extraction", a.pool != nil))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// openBuffer selects the stream buffer backend. A Redis backend that cannot
// be reached degrades to the in-process buffer.
func openBuffer(ctx context.Context) stream.Buffer {
	if cfg.Buffer.Backend != "redis" {
		return stream.NewMemoryBuffer()
	}
	redisBuf, err := stream.NewRedisBuffer(ctx, cfg.Buffer.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, falling back to in-memory buffer", zap.Error(err))
		return stream.NewMemoryBuffer()
	}
	return redisBuf
}
