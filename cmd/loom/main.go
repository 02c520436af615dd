// loom is the threadloom CLI: a pipeline that turns chat and forum
// conversations into a quality-gated knowledge base with provenance-signed
// exports.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"threadloom/internal/config"
	"threadloom/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Loaded in PersistentPreRunE
	cfg *config.Config

	// Logger
	logger *zap.Logger
)

// errMissingCredentials maps to exit code 2.
var errMissingCredentials = errors.New("missing credentials")

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "threadloom - conversation-to-knowledge extraction pipeline",
	Long: `threadloom ingests chat channels and forum discussions, disentangles
interleaved conversations, and compiles resolved threads into structured
knowledge articles through a checkpointable extraction graph.

Articles passing the quality gate are stored with embeddings for hybrid
search and can be packaged into provenance-signed JSONL exports.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		// Category file logs are diagnostics; failure to open them is not fatal.
		if err := logging.Initialize(cfg.Logging.Dir); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Close()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "loom.yaml", "path to the config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(channelsCmd)
	rootCmd.AddCommand(consentCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errMissingCredentials) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
