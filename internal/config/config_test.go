package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "data/trainer.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.Model)
	assert.Equal(t, int64(4096), cfg.Anthropic.MaxTokens)
	assert.Equal(t, "https://r.jina.ai", cfg.Jina.BaseURL)
	assert.Equal(t, "anthropic", cfg.OCR.Provider)
	assert.Equal(t, 1, cfg.Site.FirstPage)
	assert.Equal(t, "data/documents", cfg.Storage.DocumentsDir)
	assert.InDelta(t, 0.8, cfg.Learning.ConfidenceThreshold, 0.001)
	assert.Equal(t, 10, cfg.Learning.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Learning.RequestDelay)
	assert.InDelta(t, 95.0, cfg.Learning.TargetAccuracy, 0.001)
	assert.Equal(t, 10, cfg.Learning.ReextractCap)
	assert.Equal(t, 5, cfg.Learning.MaxIterations)
	assert.Equal(t, 3, cfg.Learning.MaxSamples)
	assert.InDelta(t, 0.02, cfg.Pricing.Jina.PerMTok, 0.0001)
	assert.InDelta(t, 0.20, cfg.Monitoring.FailureRateThreshold, 0.0001)
	assert.Empty(t, cfg.Monitoring.WebhookURL)
	assert.Equal(t, 5, cfg.Circuit.FailureThreshold)
	assert.Equal(t, 30, cfg.Circuit.ResetTimeoutSecs)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/trainer
log:
  level: debug
  format: console
site:
  entry_url: https://registry.example.org/list?page={page}
learning:
  request_delay: 2s
  target_accuracy: 97.5
pricing:
  anthropic:
    claude-sonnet-4-5-20250929:
      input: 3
      output: 15
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "https://registry.example.org/list?page={page}", cfg.Site.EntryURL)
	assert.Equal(t, 2*time.Second, cfg.Learning.RequestDelay)
	assert.InDelta(t, 97.5, cfg.Learning.TargetAccuracy, 0.001)
	assert.InDelta(t, 15.0, cfg.Pricing.Anthropic["claude-sonnet-4-5-20250929"].Output, 0.001)
	// Defaults still apply for unset values
	assert.Equal(t, 10, cfg.Learning.BatchSize)
}

func TestLoadFile_ExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trainer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("learning:\n  batch_size: 3\nsite:\n  entry_url: https://example.com/list?page={page}\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Learning.BatchSize)
	assert.Equal(t, "https://example.com/list?page={page}", cfg.Site.EntryURL)
	assert.Equal(t, 5, cfg.Learning.MaxIterations)
}

func TestLoadFile_MissingPath(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("TRAINER_STORE_DRIVER", "postgres")
	t.Setenv("TRAINER_LOG_LEVEL", "warn")
	t.Setenv("TRAINER_ANTHROPIC_KEY", "sk-ant-test")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "sk-ant-test", cfg.Anthropic.Key)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	t.Setenv("TRAINER_LEARNING_BATCH_SIZE", "25")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Learning.BatchSize)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "trainer.db"
	cfg.OCR.Provider = "anthropic"
	cfg.Storage.DocumentsDir = "docs"
	cfg.Learning = LearningConfig{
		ConfidenceThreshold: 0.8,
		BatchSize:           10,
		RequestDelay:        5 * time.Second,
		TargetAccuracy:      95,
		ReextractCap:        10,
		MaxIterations:       5,
		MaxSamples:          3,
	}
	return cfg
}

func TestValidateCapture_RequiresKey(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate(ModeCapture)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")

	cfg.Anthropic.Key = "sk-ant-key"
	assert.NoError(t, cfg.Validate(ModeCapture))
}

func TestValidateReplayNeedsNoKey(t *testing.T) {
	cfg := validDefaults()
	cfg.OCR.Provider = "replay"
	assert.NoError(t, cfg.Validate(ModeTrain))
}

func TestValidateReviewIgnoresKey(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate(ModeReview))
	assert.NoError(t, cfg.Validate(ModeAnalyze))
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	cfg.Store.DatabaseURL = ""
	cfg.Learning.ConfidenceThreshold = 1.5
	cfg.Learning.TargetAccuracy = 0
	cfg.OCR.Provider = "tesseract"

	err := cfg.Validate(ModeTrain)
	require.Error(t, err)
	for _, want := range []string{
		"store.driver must be sqlite or postgres",
		"store.database_url is required",
		"learning.confidence_threshold must be between 0 and 1",
		"learning.target_accuracy must be > 0 and <= 100",
		"ocr.provider must be anthropic or replay",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateLearningBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Learning.BatchSize = 0
	err := cfg.Validate(ModeReview)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "learning.batch_size must be > 0")

	cfg.Learning.BatchSize = 10
	cfg.Learning.ReextractCap = -1
	err = cfg.Validate(ModeReview)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "learning.reextract_cap must be > 0")

	cfg.Learning.ReextractCap = 10
	cfg.Learning.RequestDelay = -time.Second
	err = cfg.Validate(ModeReview)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request_delay")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
