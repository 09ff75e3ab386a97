package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("XAI_API_KEY", "xai-test")

	cfg, err := LoadConfig("", "")
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, "xai", cfg.Upstream.Provider)
	assert.Equal(t, "https://api.x.ai/v1", cfg.Upstream.BaseURL)
	assert.Equal(t, "xai-test", cfg.Upstream.APIKey)
	assert.Equal(t, "grok-beta", cfg.Upstream.Model)
	assert.Equal(t, 2000, cfg.Upstream.MaxTokens)
	assert.InDelta(t, 0.7, cfg.Upstream.Temperature, 1e-6)
	assert.Equal(t, 20*time.Second, cfg.Upstream.AttemptTimeout)
	assert.Equal(t, uint(3), cfg.Upstream.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Upstream.Retry.InitialInterval)
	assert.Equal(t, 8*time.Second, cfg.Upstream.Retry.MaxInterval)

	assert.False(t, cfg.Relay.Stream)
	assert.Equal(t, 45*time.Second, cfg.Relay.Deadline)
	assert.Equal(t, "Processing your request...\n\n", cfg.Relay.Placeholder)
	assert.Equal(t, 95000, cfg.Relay.MaxLength)
	assert.Equal(t, 500, cfg.Relay.ChunkSize)
	assert.Equal(t, 10*time.Millisecond, cfg.Relay.ChunkDelay)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Empty(t, cfg.Auth.AccessKey)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("XAI_API_KEY", "xai-test")
	t.Setenv("PORT", "8080")
	t.Setenv("POE_ACCESS_KEY", "poe-secret")
	t.Setenv("RELAY_UPSTREAM_MODEL", "grok-2")
	t.Setenv("RELAY_RELAY_STREAM", "true")
	t.Setenv("RELAY_RELAY_DEADLINE", "30s")

	cfg, err := LoadConfig("", "")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "poe-secret", cfg.Auth.AccessKey)
	assert.Equal(t, "grok-2", cfg.Upstream.Model)
	assert.True(t, cfg.Relay.Stream)
	assert.Equal(t, 30*time.Second, cfg.Relay.Deadline)
}

func TestLoadConfig_YAMLAndEnvFile(t *testing.T) {
	yamlPath := writeFile(t, "config.yaml", `
server:
  port: "4000"
cors:
  allow_origins: ["https://poe.com"]
upstream:
  model: grok-3
  max_tokens: 512
  retry:
    max_attempts: 5
relay:
  placeholder: ""
  max_length: 1000
  chunk_size: 0
`)
	envPath := writeFile(t, ".env", "XAI_API_KEY=from-dotenv\n")
	t.Setenv("XAI_API_KEY", "")
	require.NoError(t, os.Unsetenv("XAI_API_KEY"))

	cfg, err := LoadConfig(yamlPath, envPath)
	require.NoError(t, err)

	assert.Equal(t, "4000", cfg.Server.Port)
	assert.Equal(t, []string{"https://poe.com"}, cfg.CORS.AllowOrigins)
	assert.Equal(t, "grok-3", cfg.Upstream.Model)
	assert.Equal(t, 512, cfg.Upstream.MaxTokens)
	assert.Equal(t, uint(5), cfg.Upstream.Retry.MaxAttempts)
	assert.Empty(t, cfg.Relay.Placeholder)
	assert.Equal(t, 1000, cfg.Relay.MaxLength)
	assert.Equal(t, 0, cfg.Relay.ChunkSize)
	assert.Equal(t, "from-dotenv", cfg.Upstream.APIKey)
}

func TestLoadConfig_DefaultModelFollowsProvider(t *testing.T) {
	t.Setenv("XAI_API_KEY", "key")
	t.Setenv("RELAY_UPSTREAM_PROVIDER", "gemini")

	cfg, err := LoadConfig("", "")
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.Upstream.Provider)
	assert.Equal(t, "gemini-1.5-flash", cfg.Upstream.Model)

	t.Setenv("RELAY_UPSTREAM_MODEL", "gemini-1.5-pro")
	cfg, err = LoadConfig("", "")
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-pro", cfg.Upstream.Model)
}

func TestLoadConfig_RejectsGrokModelForGemini(t *testing.T) {
	t.Setenv("XAI_API_KEY", "key")
	t.Setenv("RELAY_UPSTREAM_PROVIDER", "gemini")
	t.Setenv("RELAY_UPSTREAM_MODEL", "grok-beta")

	_, err := LoadConfig("", "")
	require.ErrorContains(t, err, "not a gemini model")
}

func TestLoadConfig_MissingEnvFileIsIgnored(t *testing.T) {
	t.Setenv("XAI_API_KEY", "xai-test")
	_, err := LoadConfig("", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}

func TestLoadConfig_MissingConfigFile(t *testing.T) {
	t.Setenv("XAI_API_KEY", "xai-test")
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), "")
	require.ErrorContains(t, err, "read config")
}

func TestLoadConfig_RequiresAPIKeySource(t *testing.T) {
	t.Setenv("XAI_API_KEY", "")
	t.Setenv("XAI_API_KEY_PARAM", "")

	_, err := LoadConfig("", "")
	require.ErrorContains(t, err, "XAI_API_KEY")

	t.Setenv("XAI_API_KEY_PARAM", "/poe-relay/xai_api_key")
	cfg, err := LoadConfig("", "")
	require.NoError(t, err)
	assert.Equal(t, "/poe-relay/xai_api_key", cfg.Upstream.APIKeyParam)
}

func TestValidate(t *testing.T) {
	t.Setenv("XAI_API_KEY", "xai-test")
	base, err := LoadConfig("", "")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"provider", func(c *Config) { c.Upstream.Provider = "openrouter" }, "upstream.provider"},
		{"max tokens", func(c *Config) { c.Upstream.MaxTokens = 0 }, "max_tokens"},
		{"attempts", func(c *Config) { c.Upstream.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"deadline", func(c *Config) { c.Relay.Deadline = 0 }, "relay.deadline"},
		{"max length", func(c *Config) { c.Relay.MaxLength = -1 }, "max_length"},
		{"chunk delay", func(c *Config) { c.Relay.ChunkDelay = -time.Second }, "chunk_delay"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	require.NoError(t, base.Validate())
}
