package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Synthesis  SynthesisConfig  `yaml:"synthesis" mapstructure:"synthesis"`
	Resolver   ResolverConfig   `yaml:"resolver" mapstructure:"resolver"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=0"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns" validate:"gte=0"`
}

// SynthesisConfig holds the pipeline feature flags.
type SynthesisConfig struct {
	SafeMode                 bool `yaml:"pipeline_safe_mode" mapstructure:"pipeline_safe_mode"`
	TraceMode                bool `yaml:"enable_trace_mode" mapstructure:"enable_trace_mode"`
	CoherenceEngine          bool `yaml:"enable_coherence_engine" mapstructure:"enable_coherence_engine"`
	PatternComparator        bool `yaml:"enable_pattern_comparator" mapstructure:"enable_pattern_comparator"`
	DetailedTraceLogging     bool `yaml:"enable_detailed_trace_logging" mapstructure:"enable_detailed_trace_logging"`
	EnhancedCitations        bool `yaml:"enhanced_citations" mapstructure:"enhanced_citations"`
	MaxCitationsPerSection   int  `yaml:"max_citations_per_section" mapstructure:"max_citations_per_section" validate:"gte=1"`
	ErrorMessageLimit        int  `yaml:"error_message_limit" mapstructure:"error_message_limit" validate:"gte=20"`
	MinSectionsBeforeAnomaly int  `yaml:"min_sections_before_anomaly" mapstructure:"min_sections_before_anomaly" validate:"gte=0,lte=9"`
}

// ResolverConfig configures citation metadata enrichment.
type ResolverConfig struct {
	Enabled        bool    `yaml:"enabled" mapstructure:"enabled"`
	BatchSize      int     `yaml:"batch_size" mapstructure:"batch_size" validate:"gte=1,lte=100"`
	MaxBatches     int     `yaml:"max_batches" mapstructure:"max_batches" validate:"gte=0"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gte=1"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec" validate:"gt=0"`
	UserAgent      string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// AnthropicConfig holds settings for the optional executive refinement pass.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens" validate:"gte=0"`
}

// MonitoringConfig configures diagnostics thresholds and alerting.
type MonitoringConfig struct {
	WebhookURL        string `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
	MaxTotalMs        int64  `yaml:"max_total_ms" mapstructure:"max_total_ms" validate:"gte=0"`
	MaxPhaseMs        int64  `yaml:"max_phase_ms" mapstructure:"max_phase_ms" validate:"gte=0"`
	DiversityLookback int    `yaml:"diversity_lookback" mapstructure:"diversity_lookback" validate:"gte=1"`
	CheckIntervalSecs int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs" validate:"gte=0"`
	CheckBatchSize    int    `yaml:"check_batch_size" mapstructure:"check_batch_size" validate:"gte=0"`
}

// BatchConfig configures batch synthesis.
type BatchConfig struct {
	MaxConcurrentRuns int `yaml:"max_concurrent_runs" mapstructure:"max_concurrent_runs" validate:"gte=1"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port" validate:"gte=0,lte=65535"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SYNTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "synthesis.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("batch.max_concurrent_runs", 4)
	v.SetDefault("synthesis.pipeline_safe_mode", true)
	v.SetDefault("synthesis.enable_trace_mode", false)
	v.SetDefault("synthesis.enable_coherence_engine", false)
	v.SetDefault("synthesis.enable_pattern_comparator", false)
	v.SetDefault("synthesis.enable_detailed_trace_logging", false)
	v.SetDefault("synthesis.enhanced_citations", true)
	v.SetDefault("synthesis.max_citations_per_section", 8)
	v.SetDefault("synthesis.error_message_limit", 300)
	v.SetDefault("synthesis.min_sections_before_anomaly", 8)
	v.SetDefault("resolver.enabled", true)
	v.SetDefault("resolver.batch_size", 20)
	v.SetDefault("resolver.max_batches", 3)
	v.SetDefault("resolver.timeout_secs", 10)
	v.SetDefault("resolver.requests_per_sec", 5.0)
	v.SetDefault("resolver.user_agent", "synthesis-cli/1.0 (+citation metadata)")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("monitoring.max_total_ms", 120000)
	v.SetDefault("monitoring.max_phase_ms", 60000)
	v.SetDefault("monitoring.diversity_lookback", 5)
	v.SetDefault("monitoring.check_interval_secs", 0)
	v.SetDefault("monitoring.check_batch_size", 20)

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

// Validate checks field constraints. Postgres additionally needs a URL.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return eris.Wrap(err, "config: validate")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required for postgres (SYNTH_STORE_DATABASE_URL)")
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
