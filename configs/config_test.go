package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reorder-api/pkg/models"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.Ordering.Timeout)
	assert.Equal(t, 5, cfg.Ordering.LookupConcurrency)
	assert.Equal(t, models.DefaultAnalysisConfig(), cfg.EngineConfig())
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_FromEnv(t *testing.T) {
	// テスト用の環境変数を設定
	t.Setenv("PORT", "9090")
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("ORDERING_TIMEOUT", "45")
	t.Setenv("LOOKUP_TIMEOUT", "2s")
	t.Setenv("ANALYSIS_MIN_SCORE", "65.5")
	t.Setenv("ANALYSIS_MAX_ITEMS", "not-a-number")
	t.Setenv("WEIGHT_FREQUENCY", "0.5")
	t.Setenv("WEIGHT_RECENCY", "0.3")

	cfg := LoadConfig()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, 45*time.Second, cfg.Ordering.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Ordering.LookupTimeout)
	assert.InDelta(t, 65.5, cfg.Analysis.MinScore, 1e-9)
	assert.Equal(t, models.DefaultMaxItems, cfg.Analysis.MaxItems, "unparseable values fall back to the default")
	assert.InDelta(t, 0.5, cfg.Analysis.Weights.Frequency, 1e-9)
	require.NoError(t, cfg.Validate())
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"non numeric port", func(c *Config) { c.Port = "http" }},
		{"unknown environment", func(c *Config) { c.Environment = "staging" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "trace" }},
		{"bad ordering url", func(c *Config) { c.Ordering.BaseURL = "not a url" }},
		{"zero lookup concurrency", func(c *Config) { c.Ordering.LookupConcurrency = 0 }},
		{"bad redis addr", func(c *Config) { c.Cache.RedisAddr = "localhost" }},
		{"min score above 100", func(c *Config) { c.Analysis.MinScore = 120 }},
		{"zero max items", func(c *Config) { c.Analysis.MaxItems = 0 }},
		{"weights do not sum to one", func(c *Config) { c.Analysis.Weights.Quantity = 0.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_WeightErrorIsSentinel(t *testing.T) {
	cfg := LoadConfig()
	cfg.Analysis.Weights = models.Weights{Frequency: 1, Recency: 1, Quantity: 1}
	assert.ErrorIs(t, cfg.Validate(), models.ErrInvalidAnalysisConfig)
}

func TestLoadConfigFile_OverlaysEnv(t *testing.T) {
	t.Setenv("PORT", "7070")
	path := filepath.Join(t.TempDir(), "reorder.yaml")
	content := `
db_path: /tmp/orders.db
ordering:
  base_url: https://orders.example.com/mcp
  timeout: 10s
analysis:
  min_score: 70
  max_items: 5
  weights:
    frequency: 0.3
    recency: 0.5
    quantity: 0.2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Port, "keys absent from the file keep their env value")
	assert.Equal(t, "/tmp/orders.db", cfg.DBPath)
	assert.Equal(t, "https://orders.example.com/mcp", cfg.Ordering.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Ordering.Timeout)
	assert.Equal(t, 3, cfg.Ordering.RetryAttempts)
	assert.Equal(t, 5, cfg.Analysis.MaxItems)
	assert.InDelta(t, 0.5, cfg.Analysis.Weights.Recency, 1e-9)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFile_Errors(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("analysis: [unclosed"), 0o600))
	_, err = LoadConfigFile(path)
	assert.Error(t, err)
}

func TestYAML_MasksSecrets(t *testing.T) {
	cfg := LoadConfig()
	cfg.APIKey = "super-secret"
	cfg.Ordering.Token = "bearer-token"

	out, err := cfg.YAML()
	require.NoError(t, err)

	assert.NotContains(t, string(out), "super-secret")
	assert.NotContains(t, string(out), "bearer-token")
	assert.Contains(t, string(out), "********")
	assert.Equal(t, "super-secret", cfg.APIKey, "original config is untouched")
}
