package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Bulletin   BulletinConfig   `yaml:"bulletin" mapstructure:"bulletin"`
	Storage    StorageConfig    `yaml:"storage" mapstructure:"storage"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Tenders    TendersConfig    `yaml:"tenders" mapstructure:"tenders"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Summarize  SummarizeConfig  `yaml:"summarize" mapstructure:"summarize"`
	Aggregate  AggregateConfig  `yaml:"aggregate" mapstructure:"aggregate"`
	Ledger     LedgerConfig     `yaml:"ledger" mapstructure:"ledger"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// BulletinConfig points at the daily bulletin index.
type BulletinConfig struct {
	IndexURL  string `yaml:"index_url" mapstructure:"index_url"`
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`
}

// StorageConfig configures where per-date datasets live.
type StorageConfig struct {
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`
}

// FetchConfig configures norm document downloads.
type FetchConfig struct {
	TimeoutSecs  int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Concurrency  int `yaml:"concurrency" mapstructure:"concurrency"`
	MaxRetries   int `yaml:"max_retries" mapstructure:"max_retries"`
	PaceMs       int `yaml:"pace_ms" mapstructure:"pace_ms"`
	PaceJitterMs int `yaml:"pace_jitter_ms" mapstructure:"pace_jitter_ms"`
}

// Timeout returns the per-document timeout.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// OCRConfig configures PDF text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
	// MaxPages limits local extraction to the first pages of a document.
	MaxPages int `yaml:"max_pages" mapstructure:"max_pages"`
	// MinTextChars is the shortest local text accepted before the "auto"
	// provider falls back to Mistral.
	MinTextChars int `yaml:"min_text_chars" mapstructure:"min_text_chars"`
}

// TendersConfig configures the public tenders listing scrape.
type TendersConfig struct {
	ListingURL   string `yaml:"listing_url" mapstructure:"listing_url"`
	MaxPages     int    `yaml:"max_pages" mapstructure:"max_pages"`
	DetailPaceMs int    `yaml:"detail_pace_ms" mapstructure:"detail_pace_ms"`
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// SummarizeConfig configures the summarization stage.
type SummarizeConfig struct {
	Concurrency             int     `yaml:"concurrency" mapstructure:"concurrency"`
	MaxPromptChars          int     `yaml:"max_prompt_chars" mapstructure:"max_prompt_chars"`
	MaxTokens               int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature             float64 `yaml:"temperature" mapstructure:"temperature"`
	PromptsFile             string  `yaml:"prompts_file" mapstructure:"prompts_file"`
	CircuitFailureThreshold int     `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
	FallbackChars           int     `yaml:"fallback_chars" mapstructure:"fallback_chars"`
}

// AggregateConfig configures dataset assembly.
type AggregateConfig struct {
	NonExpenditureCap int `yaml:"non_expenditure_cap" mapstructure:"non_expenditure_cap"`
	ExcerptChars      int `yaml:"excerpt_chars" mapstructure:"excerpt_chars"`
}

// LedgerConfig configures the run history backend.
type LedgerConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the read-only dataset API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// ScheduleConfig configures the daily scheduler.
type ScheduleConfig struct {
	At          string `yaml:"at" mapstructure:"at"`
	Timezone    string `yaml:"timezone" mapstructure:"timezone"`
	RetryHourly bool   `yaml:"retry_hourly" mapstructure:"retry_hourly"`
}

// MonitoringConfig configures webhook alerts raised by the scheduler.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	StalePendingHours    int     `yaml:"stale_pending_hours" mapstructure:"stale_pending_hours"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BOLETIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("bulletin.index_url", "https://api-restboletinoficial.buenosaires.gob.ar/obtenerBoletin/0/true")
	v.SetDefault("bulletin.user_agent", "boletin-cli/1.0")
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("fetch.timeout_secs", 90)
	v.SetDefault("fetch.concurrency", 8)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.pace_ms", 300)
	v.SetDefault("fetch.pace_jitter_ms", 200)
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("ocr.max_pages", 40)
	v.SetDefault("ocr.min_text_chars", 80)
	v.SetDefault("tenders.listing_url", "https://www.buenosairescompras.gob.ar/ListarAperturaUltimos30Dias.aspx")
	v.SetDefault("tenders.max_pages", 10)
	v.SetDefault("tenders.detail_pace_ms", 500)
	v.SetDefault("tenders.timeout_secs", 30)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("summarize.concurrency", 3)
	v.SetDefault("summarize.max_prompt_chars", 1200)
	v.SetDefault("summarize.max_tokens", 300)
	v.SetDefault("summarize.temperature", 0.3)
	v.SetDefault("summarize.circuit_failure_threshold", 5)
	v.SetDefault("summarize.circuit_reset_secs", 60)
	v.SetDefault("summarize.fallback_chars", 200)
	v.SetDefault("aggregate.non_expenditure_cap", 50)
	v.SetDefault("aggregate.excerpt_chars", 600)
	v.SetDefault("ledger.driver", "sqlite")
	v.SetDefault("ledger.database_url", "data/runs.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("schedule.at", "09:00")
	v.SetDefault("schedule.timezone", "America/Argentina/Buenos_Aires")
	v.SetDefault("schedule.retry_hourly", true)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.stale_pending_hours", 48)
	v.SetDefault("monitoring.lookback_window_hours", 72)
	v.SetDefault("monitoring.check_interval_secs", 3600)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings a command mode needs. Modes: "run",
// "schedule", "serve", "status".
func (c *Config) Validate(mode string) error {
	var errs []string

	if c.Storage.DataDir == "" {
		errs = append(errs, "storage.data_dir is required")
	}

	switch mode {
	case "run", "schedule":
		if c.Bulletin.IndexURL == "" {
			errs = append(errs, "bulletin.index_url is required")
		}
		if c.Fetch.Concurrency < 1 || c.Fetch.Concurrency > 32 {
			errs = append(errs, "fetch.concurrency must be between 1 and 32")
		}
		if c.Summarize.Concurrency < 1 || c.Summarize.Concurrency > 16 {
			errs = append(errs, "summarize.concurrency must be between 1 and 16")
		}
		if c.Aggregate.NonExpenditureCap < 0 {
			errs = append(errs, "aggregate.non_expenditure_cap must be >= 0")
		}
		if c.Summarize.Temperature < 0 || c.Summarize.Temperature > 1 {
			errs = append(errs, "summarize.temperature must be between 0 and 1")
		}
		if mode == "schedule" {
			if _, err := time.Parse("15:04", c.Schedule.At); err != nil {
				errs = append(errs, "schedule.at must be HH:MM")
			}
			if c.Monitoring.WebhookURL != "" && (c.Monitoring.FailureRateThreshold <= 0 || c.Monitoring.FailureRateThreshold > 1) {
				errs = append(errs, "monitoring.failure_rate_threshold must be in (0, 1]")
			}
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "status":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Ledger.Driver {
	case "sqlite", "none":
	case "postgres":
		if c.Ledger.DatabaseURL == "" {
			errs = append(errs, "ledger.database_url is required for postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("ledger.driver %q is not one of sqlite, postgres, none", c.Ledger.Driver))
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
