package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/benediktbwimmer/job-search/internal/ranking"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig         `yaml:"store" mapstructure:"store"`
	Anthropic   AnthropicConfig     `yaml:"anthropic" mapstructure:"anthropic"`
	LLM         LLMConfig           `yaml:"llm" mapstructure:"llm"`
	Sources     SourcesConfig       `yaml:"sources" mapstructure:"sources"`
	Enrich      EnrichConfig        `yaml:"enrich" mapstructure:"enrich"`
	Health      HealthConfig        `yaml:"health" mapstructure:"health"`
	Pipeline    PipelineConfig      `yaml:"pipeline" mapstructure:"pipeline"`
	Monitoring  MonitoringConfig    `yaml:"monitoring" mapstructure:"monitoring"`
	Profile     ranking.Profile     `yaml:"profile" mapstructure:"profile"`
	Constraints ranking.Constraints `yaml:"constraints" mapstructure:"constraints"`
	Log         LogConfig           `yaml:"log" mapstructure:"log"`
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
	Key        string `yaml:"key" mapstructure:"key"`
	MaxRetries int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// LLMConfig configures live posting evaluation.
type LLMConfig struct {
	Enabled                  bool    `yaml:"enabled" mapstructure:"enabled"`
	Model                    string  `yaml:"model" mapstructure:"model"`
	PromptVersion            string  `yaml:"prompt_version" mapstructure:"prompt_version"`
	MaxTokens                int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Workers                  int     `yaml:"workers" mapstructure:"workers"`
	MinWorkers               int     `yaml:"min_workers" mapstructure:"min_workers"`
	MaxWorkers               int     `yaml:"max_workers" mapstructure:"max_workers"`
	RoundMultiplier          int     `yaml:"round_multiplier" mapstructure:"round_multiplier"`
	PerJobTimeoutSecs        int     `yaml:"per_job_timeout_secs" mapstructure:"per_job_timeout_secs"`
	DescriptionMaxChars      int     `yaml:"description_max_chars" mapstructure:"description_max_chars"`
	InputDescriptionMaxChars int     `yaml:"input_description_max_chars" mapstructure:"input_description_max_chars"`
	CallsPerSecond           float64 `yaml:"calls_per_second" mapstructure:"calls_per_second"`
}

// SourcesConfig configures source loading and fetching.
type SourcesConfig struct {
	Path        string  `yaml:"path" mapstructure:"path"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	BackoffMS   int     `yaml:"backoff_ms" mapstructure:"backoff_ms"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	HostRate    float64 `yaml:"host_rate" mapstructure:"host_rate"`
	HostBurst   int     `yaml:"host_burst" mapstructure:"host_burst"`
}

// EnrichConfig configures detail-page enrichment.
type EnrichConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	JitterMinMS int `yaml:"jitter_min_ms" mapstructure:"jitter_min_ms"`
	JitterMaxMS int `yaml:"jitter_max_ms" mapstructure:"jitter_max_ms"`
}

// HealthConfig configures source health gating.
type HealthConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	WindowRuns        int  `yaml:"window_runs" mapstructure:"window_runs"`
	StaleAfterHours   int  `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
	DegradedThreshold int  `yaml:"degraded_threshold" mapstructure:"degraded_threshold"`
	MinEventsForSkip  int  `yaml:"min_events_for_skip" mapstructure:"min_events_for_skip"`
}

// PipelineConfig configures run-level behavior.
type PipelineConfig struct {
	MaxJobsPerRun int `yaml:"max_jobs_per_run" mapstructure:"max_jobs_per_run"`
	ProgressEvery int `yaml:"progress_every" mapstructure:"progress_every"`
}

// MonitoringConfig configures alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	LookbackRuns         int     `yaml:"lookback_runs" mapstructure:"lookback_runs"`
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
	v.SetEnvPrefix("JOBSEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "jobsearch.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("anthropic.max_retries", 3)
	v.SetDefault("llm.enabled", true)
	v.SetDefault("llm.model", "claude-sonnet-4-5")
	v.SetDefault("llm.prompt_version", "v4")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.workers", 8)
	v.SetDefault("llm.min_workers", 1)
	v.SetDefault("llm.max_workers", 24)
	v.SetDefault("llm.round_multiplier", 2)
	v.SetDefault("llm.per_job_timeout_secs", 60)
	v.SetDefault("llm.description_max_chars", 6000)
	v.SetDefault("llm.input_description_max_chars", 20000)
	v.SetDefault("llm.calls_per_second", 2.0)
	v.SetDefault("sources.path", "sources.yaml")
	v.SetDefault("sources.max_retries", 2)
	v.SetDefault("sources.backoff_ms", 500)
	v.SetDefault("sources.timeout_secs", 20)
	v.SetDefault("sources.host_rate", 2.0)
	v.SetDefault("sources.host_burst", 4)
	v.SetDefault("enrich.concurrency", 2)
	v.SetDefault("enrich.jitter_min_ms", 150)
	v.SetDefault("enrich.jitter_max_ms", 600)
	v.SetDefault("health.enabled", true)
	v.SetDefault("health.window_runs", 12)
	v.SetDefault("health.stale_after_hours", 72)
	v.SetDefault("health.degraded_threshold", 25)
	v.SetDefault("health.min_events_for_skip", 4)
	v.SetDefault("pipeline.max_jobs_per_run", 0)
	v.SetDefault("pipeline.progress_every", 10)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.lookback_runs", 20)

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

	cfg.clamp()
	return &cfg, nil
}

// clamp forces tunables that would destabilize a run back into safe ranges.
func (c *Config) clamp() {
	if c.LLM.Workers < 1 {
		c.LLM.Workers = 1
	}
	if c.LLM.Workers > 120 {
		c.LLM.Workers = 120
	}
	if c.LLM.RoundMultiplier < 1 {
		c.LLM.RoundMultiplier = 1
	}
	if c.LLM.RoundMultiplier > 6 {
		c.LLM.RoundMultiplier = 6
	}
	if c.LLM.PerJobTimeoutSecs < 10 {
		c.LLM.PerJobTimeoutSecs = 10
	}
	if c.LLM.DescriptionMaxChars != 0 {
		if c.LLM.DescriptionMaxChars < 400 {
			c.LLM.DescriptionMaxChars = 400
		}
		if c.LLM.DescriptionMaxChars > 120000 {
			c.LLM.DescriptionMaxChars = 120000
		}
	}
	if c.LLM.InputDescriptionMaxChars != 0 {
		if c.LLM.InputDescriptionMaxChars < 2000 {
			c.LLM.InputDescriptionMaxChars = 2000
		}
		if c.LLM.InputDescriptionMaxChars > 120000 {
			c.LLM.InputDescriptionMaxChars = 120000
		}
	}
	if c.Sources.MaxRetries < 0 {
		c.Sources.MaxRetries = 0
	}
	if c.Health.WindowRuns < 1 {
		c.Health.WindowRuns = 1
	}
	if c.Pipeline.ProgressEvery < 1 {
		c.Pipeline.ProgressEvery = 10
	}
}

// Validate checks that required settings are present.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required")
	}
	if c.LLM.Enabled {
		if c.Anthropic.Key == "" {
			return eris.New("config: anthropic.key is required when llm.enabled")
		}
		if c.LLM.Model == "" {
			return eris.New("config: llm.model is required when llm.enabled")
		}
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
