// Package config loads the threadloom configuration from YAML with
// environment overrides. Credentials live in the environment; a missing
// credential disables its subsystem instead of aborting startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all threadloom configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	DataDir string `yaml:"data_dir"`

	// Storage
	Database DatabaseConfig `yaml:"database"`

	// Ingest sources
	Discord DiscordConfig `yaml:"discord"`
	GitHub  GitHubConfig  `yaml:"github"`

	// Extraction
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Stream buffering
	Buffer BufferConfig `yaml:"buffer"`

	// Pipeline workers
	Worker WorkerConfig `yaml:"worker"`

	// Export packaging
	Export ExportConfig `yaml:"export"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DatabaseConfig configures the SQLite article store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// DiscordConfig configures the gateway producer.
type DiscordConfig struct {
	Token string `yaml:"token"`
}

// GitHubConfig configures the discussion fetcher.
type GitHubConfig struct {
	Token        string   `yaml:"token"`
	Repositories []string `yaml:"repositories"`
	PollInterval string   `yaml:"poll_interval"`
}

// LLMConfig configures the extraction model.
type LLMConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // ollama, none
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
}

// BufferConfig configures the stream buffer backend.
type BufferConfig struct {
	Backend       string `yaml:"backend"` // memory, redis
	RedisAddr     string `yaml:"redis_addr"`
	FlushInterval string `yaml:"flush_interval"`
}

// WorkerConfig configures the pipeline worker pool.
type WorkerConfig struct {
	Count     int `yaml:"count"`
	QueueSize int `yaml:"queue_size"`
}

// ExportConfig configures the packaging output.
type ExportConfig struct {
	OutputDir  string  `yaml:"output_dir"`
	MinQuality float64 `yaml:"min_quality"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	Dir string `yaml:"dir"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "threadloom",
		DataDir: "data",

		Database: DatabaseConfig{
			Path: "data/threadloom.db",
		},

		GitHub: GitHubConfig{
			PollInterval: "15m",
		},

		LLM: LLMConfig{
			Model: "claude-3-5-haiku-latest",
		},

		Embedding: EmbeddingConfig{
			Provider: "ollama",
			Endpoint: "http://localhost:11434",
			Model:    "all-minilm",
		},

		Buffer: BufferConfig{
			Backend:       "memory",
			RedisAddr:     "localhost:6379",
			FlushInterval: "10s",
		},

		Worker: WorkerConfig{
			Count:     4,
			QueueSize: 64,
		},

		Export: ExportConfig{
			OutputDir:  "data/exports",
			MinQuality: 0.70,
		},

		Logging: LoggingConfig{
			Dir: "logs",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides. Credentials are
// environment-only in production; the YAML fields exist for development.
func (c *Config) applyEnvOverrides() {
	if token := os.Getenv("DISCORD_BOT_TOKEN"); token != "" {
		c.Discord.Token = token
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		c.GitHub.Token = token
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}

	if endpoint := os.Getenv("OLLAMA_ENDPOINT"); endpoint != "" {
		c.Embedding.Endpoint = endpoint
	}
	if addr := os.Getenv("LOOM_REDIS_ADDR"); addr != "" {
		c.Buffer.RedisAddr = addr
		c.Buffer.Backend = "redis"
	}
	if path := os.Getenv("LOOM_DB"); path != "" {
		c.Database.Path = path
	}
	if dir := os.Getenv("LOOM_EXPORT_DIR"); dir != "" {
		c.Export.OutputDir = dir
	}
}

// =============================================================================
// SUBSYSTEM GATES
// =============================================================================

// DiscordEnabled reports whether the gateway producer can start.
func (c *Config) DiscordEnabled() bool {
	return c.Discord.Token != ""
}

// GitHubEnabled reports whether the discussion fetcher can start.
func (c *Config) GitHubEnabled() bool {
	return c.GitHub.Token != ""
}

// LLMEnabled reports whether the extraction graph can run.
func (c *Config) LLMEnabled() bool {
	return c.LLM.APIKey != ""
}

// =============================================================================
// DURATIONS
// =============================================================================

// GetPollInterval returns the GitHub poll interval as a duration.
func (c *Config) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.GitHub.PollInterval)
	if err != nil {
		return 15 * time.Minute
	}
	return d
}

// GetFlushInterval returns the buffer flush poll interval as a duration.
func (c *Config) GetFlushInterval() time.Duration {
	d, err := time.ParseDuration(c.Buffer.FlushInterval)
	if err != nil {
		return 10 * time.Second
	}
	return d
}
