package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CorsOrigins)
	assert.Equal(t, 5, cfg.RAG.TopK)
	assert.Equal(t, 0.7, cfg.RAG.QAMinSimilarity)
	assert.Equal(t, "sqlite", cfg.Vector.Backend)
	assert.Equal(t, 1000, cfg.Chunking.ChunkSize)
	assert.Equal(t, 30*time.Second, cfg.Ingestion.Timeout)
	assert.Equal(t, 10*time.Millisecond, cfg.LLM.StreamPacing)
	assert.Equal(t, RateLimitConfig{IPPerDay: 10, SessionPerDay: 15, GlobalPerDay: 45}, cfg.RateLimit)
	assert.Equal(t, 60, cfg.Session.MaxIdleMinutes)
	assert.Equal(t, 30*time.Minute, cfg.Session.SweepInterval)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9100"
  cors_origins:
    - https://app.example.com
rag:
  enabled: true
  top_k: 8
vector:
  backend: redis
llm:
  stream_pacing: 25ms
rate_limit:
  ip_per_day: 3
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CorsOrigins)
	assert.True(t, cfg.RAG.Enabled)
	assert.Equal(t, 8, cfg.RAG.TopK)
	assert.Equal(t, "redis", cfg.Vector.Backend)
	assert.Equal(t, 25*time.Millisecond, cfg.LLM.StreamPacing)
	assert.Equal(t, 3, cfg.RateLimit.IPPerDay)
	assert.Equal(t, 15, cfg.RateLimit.SessionPerDay)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	path := writeConfig(t, "server: [unclosed")
	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "error reading config file")
}

func TestLoadConfig_Env(t *testing.T) {
	path := writeConfig(t, "server:\n  port: \"9100\"\n")
	t.Setenv("PORT", "9200")
	t.Setenv("ENABLE_RAG", "true")
	t.Setenv("BACKEND_CORS_ORIGINS", `["https://a.example.com","https://b.example.com"]`)
	t.Setenv("GOOGLE_API_KEY", "primary")
	t.Setenv("GOOGLE_API_KEY_1", "secondary")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9200", cfg.Server.Port)
	assert.True(t, cfg.RAG.Enabled)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.CorsOrigins)
	assert.Equal(t, []string{"primary", "secondary"}, cfg.LLM.Gemini.GeminiKeys())
}

func TestParseOrigins(t *testing.T) {
	assert.Equal(t, []string{"https://a.io", "https://b.io"}, parseOrigins(`["https://a.io","https://b.io"]`))
	assert.Equal(t, []string{"https://a.io", "https://b.io"}, parseOrigins(" https://a.io, ,https://b.io "))
	assert.Equal(t, []string{"[broken"}, parseOrigins("[broken"))
}

func TestGeminiKeys(t *testing.T) {
	cfg := GeminiConfig{APIKey: " k1 ", APIKeys: []string{"k2", "k1", "", "k3"}}
	assert.Equal(t, []string{"k1", "k2", "k3"}, cfg.GeminiKeys())
	assert.Empty(t, GeminiConfig{}.GeminiKeys())
}
