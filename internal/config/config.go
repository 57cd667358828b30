package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Site       SiteConfig       `yaml:"site" mapstructure:"site"`
	Storage    StorageConfig    `yaml:"storage" mapstructure:"storage"`
	Learning   LearningConfig   `yaml:"learning" mapstructure:"learning"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// JinaConfig holds Jina AI Reader settings.
type JinaConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// OCRConfig selects the extraction provider.
type OCRConfig struct {
	// Provider is "anthropic" or "replay". Replay reads recorded responses
	// from <document>.response.json files next to each document.
	Provider string `yaml:"provider" mapstructure:"provider"`
}

// SiteConfig identifies the target site.
type SiteConfig struct {
	// EntryURL may contain a {page} placeholder expanded per batch page.
	EntryURL  string `yaml:"entry_url" mapstructure:"entry_url"`
	FirstPage int    `yaml:"first_page" mapstructure:"first_page"`
}

// StorageConfig holds filesystem locations.
type StorageConfig struct {
	DocumentsDir string `yaml:"documents_dir" mapstructure:"documents_dir"`
	ReportPath   string `yaml:"report_path" mapstructure:"report_path"`
}

// LearningConfig tunes the review and training loop.
type LearningConfig struct {
	ConfidenceThreshold float64       `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	BatchSize           int           `yaml:"batch_size" mapstructure:"batch_size"`
	RequestDelay        time.Duration `yaml:"request_delay" mapstructure:"request_delay"`
	TargetAccuracy      float64       `yaml:"target_accuracy" mapstructure:"target_accuracy"`
	ReextractCap        int           `yaml:"reextract_cap" mapstructure:"reextract_cap"`
	MaxIterations       int           `yaml:"max_iterations" mapstructure:"max_iterations"`
	MaxSamples          int           `yaml:"max_samples" mapstructure:"max_samples"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Jina      JinaPricing             `yaml:"jina" mapstructure:"jina"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// JinaPricing holds Jina Reader pricing.
type JinaPricing struct {
	PerMTok float64 `yaml:"per_mtok" mapstructure:"per_mtok"`
}

// MonitoringConfig holds alert thresholds for recorded metrics.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
}

// CircuitConfig configures the circuit breakers guarding the capture and
// extraction services.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from ./config.yaml (if present) and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path and environment. An empty path
// looks for config.yaml in the working directory; an explicit path must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("TRAINER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "data/trainer.db")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.timeout_secs", 60)
	v.SetDefault("ocr.provider", "anthropic")
	v.SetDefault("site.first_page", 1)
	v.SetDefault("storage.documents_dir", "data/documents")
	v.SetDefault("storage.report_path", "data/report.yaml")
	v.SetDefault("learning.confidence_threshold", 0.8)
	v.SetDefault("learning.batch_size", 10)
	v.SetDefault("learning.request_delay", 5*time.Second)
	v.SetDefault("learning.target_accuracy", 95.0)
	v.SetDefault("learning.reextract_cap", 10)
	v.SetDefault("learning.max_iterations", 5)
	v.SetDefault("learning.max_samples", 3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("pricing.jina.per_mtok", 0.02)
	v.SetDefault("monitoring.failure_rate_threshold", 0.20)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)

	// Env-only keys with no default must be bound explicitly to be unmarshaled.
	for _, key := range []string{"anthropic.key", "jina.key", "site.entry_url"} {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind %s", key)
		}
	}

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Command modes accepted by Validate.
const (
	ModeCapture = "capture"
	ModeReview  = "review"
	ModeAnalyze = "analyze"
	ModeTrain   = "train"
)

// Validate checks the settings a command mode depends on and reports every
// problem found.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	l := c.Learning
	if l.ConfidenceThreshold < 0 || l.ConfidenceThreshold > 1 {
		errs = append(errs, "learning.confidence_threshold must be between 0 and 1")
	}
	if l.TargetAccuracy <= 0 || l.TargetAccuracy > 100 {
		errs = append(errs, "learning.target_accuracy must be > 0 and <= 100")
	}
	if l.BatchSize <= 0 {
		errs = append(errs, "learning.batch_size must be > 0")
	}
	if l.ReextractCap <= 0 {
		errs = append(errs, "learning.reextract_cap must be > 0")
	}
	if l.MaxIterations <= 0 {
		errs = append(errs, "learning.max_iterations must be > 0")
	}
	if l.RequestDelay < 0 {
		errs = append(errs, "learning.request_delay must be >= 0")
	}

	switch mode {
	case ModeCapture, ModeTrain:
		switch c.OCR.Provider {
		case "anthropic":
			if c.Anthropic.Key == "" {
				errs = append(errs, "anthropic.key is required")
			}
		case "replay":
		default:
			errs = append(errs, "ocr.provider must be anthropic or replay")
		}
		if mode == ModeCapture && c.Storage.DocumentsDir == "" {
			errs = append(errs, "storage.documents_dir is required")
		}
	case ModeReview, ModeAnalyze:
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
