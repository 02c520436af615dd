package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvOverrides_Credentials(t *testing.T) {
	t.Run("DISCORD_BOT_TOKEN enables the producer", func(t *testing.T) {
		t.Setenv("DISCORD_BOT_TOKEN", "bot-tok")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "bot-tok", cfg.Discord.Token)
		assert.True(t, cfg.DiscordEnabled())
	})

	t.Run("missing credentials disable subsystems", func(t *testing.T) {
		t.Setenv("DISCORD_BOT_TOKEN", "")
		t.Setenv("GITHUB_TOKEN", "")
		t.Setenv("ANTHROPIC_API_KEY", "")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.False(t, cfg.DiscordEnabled())
		assert.False(t, cfg.GitHubEnabled())
		assert.False(t, cfg.LLMEnabled())
	})

	t.Run("ANTHROPIC_API_KEY overrides the file value", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "env-key")

		cfg := DefaultConfig()
		cfg.LLM.APIKey = "file-key"
		cfg.applyEnvOverrides()

		assert.Equal(t, "env-key", cfg.LLM.APIKey)
		assert.True(t, cfg.LLMEnabled())
	})
}

func TestEnvOverrides_Infrastructure(t *testing.T) {
	t.Run("LOOM_REDIS_ADDR switches the buffer backend", func(t *testing.T) {
		t.Setenv("LOOM_REDIS_ADDR", "redis.internal:6379")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "redis", cfg.Buffer.Backend)
		assert.Equal(t, "redis.internal:6379", cfg.Buffer.RedisAddr)
	})

	t.Run("LOOM_DB moves the database", func(t *testing.T) {
		t.Setenv("LOOM_DB", "/var/lib/loom/loom.db")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		require.Equal(t, "/var/lib/loom/loom.db", cfg.Database.Path)
	})

	t.Run("empty environment leaves defaults alone", func(t *testing.T) {
		t.Setenv("LOOM_REDIS_ADDR", "")
		t.Setenv("LOOM_DB", "")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "memory", cfg.Buffer.Backend)
		assert.Equal(t, "data/threadloom.db", cfg.Database.Path)
	})
}
