package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Yutori     YutoriConfig     `yaml:"yutori" mapstructure:"yutori"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Research   ResearchConfig   `yaml:"research" mapstructure:"research"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	PolyHaven  PolyHavenConfig  `yaml:"polyhaven" mapstructure:"polyhaven"`
	Deploy     DeployConfig     `yaml:"deploy" mapstructure:"deploy"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Sessions   SessionsConfig   `yaml:"sessions" mapstructure:"sessions"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// GoogleConfig holds Google Places API settings.
type GoogleConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// YutoriConfig holds Yutori research API settings.
type YutoriConfig struct {
	Key             string `yaml:"key" mapstructure:"key"`
	BaseURL         string `yaml:"base_url" mapstructure:"base_url"`
	PollTimeoutSecs int    `yaml:"poll_timeout_secs" mapstructure:"poll_timeout_secs"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// ResearchConfig selects the enrichment backend.
type ResearchConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
}

// AnthropicConfig holds Anthropic API settings used for site generation.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PolyHavenConfig holds 3D asset lookup settings.
type PolyHavenConfig struct {
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	UserAgent      string `yaml:"user_agent" mapstructure:"user_agent"`
	CacheTTLMins   int    `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
	KeywordMapFile string `yaml:"keyword_map_file" mapstructure:"keyword_map_file"`
	Disabled       bool   `yaml:"disabled" mapstructure:"disabled"`
}

// DeployConfig configures where generated sites are published.
type DeployConfig struct {
	Target        string `yaml:"target" mapstructure:"target"`
	WebsitesDir   string `yaml:"websites_dir" mapstructure:"websites_dir"`
	PublicBaseURL string `yaml:"public_base_url" mapstructure:"public_base_url"`
	HookURL       string `yaml:"hook_url" mapstructure:"hook_url"`
	Bucket        string `yaml:"bucket" mapstructure:"bucket"`
	CredsFile     string `yaml:"credentials_file" mapstructure:"credentials_file"`
	SenderName    string `yaml:"sender_name" mapstructure:"sender_name"`
}

// StoreConfig configures the JSON data directory.
type StoreConfig struct {
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`
}

// SessionsConfig configures the search session registry.
type SessionsConfig struct {
	Backend       string `yaml:"backend" mapstructure:"backend"`
	MaxEntries    int    `yaml:"max_entries" mapstructure:"max_entries"`
	TTLMins       int    `yaml:"ttl_mins" mapstructure:"ttl_mins"`
	RedisAddr     string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db" mapstructure:"redis_db"`
}

// PipelineConfig configures the discovery pipeline.
type PipelineConfig struct {
	Concurrency        int    `yaml:"concurrency" mapstructure:"concurrency"`
	MaxResults         int    `yaml:"max_results" mapstructure:"max_results"`
	DefaultRadiusMiles int    `yaml:"default_radius_miles" mapstructure:"default_radius_miles"`
	SkipGeneration     bool   `yaml:"skip_generation" mapstructure:"skip_generation"`
	SkipAssets         bool   `yaml:"skip_assets" mapstructure:"skip_assets"`
	RetryAttempts      int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	BreakerThreshold   int    `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs   int    `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	LocationBias       string `yaml:"location_bias" mapstructure:"location_bias"`
}

// ScheduleConfig configures the recurring discovery runs.
type ScheduleConfig struct {
	Spec    string   `yaml:"spec" mapstructure:"spec"`
	Queries []string `yaml:"queries" mapstructure:"queries"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures webhook alerting on search outcomes.
type MonitoringConfig struct {
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours    int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold   float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	DeployFailureThreshold float64 `yaml:"deploy_failure_threshold" mapstructure:"deploy_failure_threshold"`
	MinSamples             int     `yaml:"min_samples" mapstructure:"min_samples"`
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
	v.SetEnvPrefix("PLATTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without defaults are invisible to Unmarshal unless bound.
	for _, key := range []string{
		"google.key", "yutori.key", "perplexity.key", "anthropic.key",
		"deploy.hook_url", "deploy.bucket", "deploy.credentials_file",
		"pipeline.location_bias", "sessions.redis_password",
		"monitoring.webhook_url",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("google.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("google.rate_limit", 10)
	v.SetDefault("yutori.base_url", "https://api.yutori.com/v1")
	v.SetDefault("yutori.poll_timeout_secs", 600)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("research.provider", "yutori")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 16000)
	v.SetDefault("polyhaven.base_url", "https://api.polyhaven.com")
	v.SetDefault("polyhaven.user_agent", "Platter-v1")
	v.SetDefault("polyhaven.cache_ttl_mins", 30)
	v.SetDefault("deploy.target", "local")
	v.SetDefault("deploy.websites_dir", "websites")
	v.SetDefault("deploy.public_base_url", "http://localhost:3000/sites")
	v.SetDefault("deploy.sender_name", "Platter")
	v.SetDefault("store.data_dir", "data")
	v.SetDefault("sessions.backend", "memory")
	v.SetDefault("sessions.max_entries", 500)
	v.SetDefault("sessions.ttl_mins", 24*60)
	v.SetDefault("sessions.redis_addr", "localhost:6379")
	v.SetDefault("pipeline.concurrency", 1)
	v.SetDefault("pipeline.max_results", 60)
	v.SetDefault("pipeline.default_radius_miles", 20)
	v.SetDefault("pipeline.retry_attempts", 3)
	v.SetDefault("pipeline.breaker_threshold", 5)
	v.SetDefault("pipeline.breaker_reset_secs", 60)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.deploy_failure_threshold", 0.5)
	v.SetDefault("monitoring.min_samples", 5)
	v.SetDefault("schedule.spec", "0 9 * * *")
	v.SetDefault("schedule.queries", []string{
		"nail salons in San Francisco",
		"fishing shops in San Francisco",
	})

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

// Validate checks that the keys required by the given command are present.
// Supported modes: "serve", "search", "cron", "compact".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve", "search", "cron":
		errs = append(errs, c.validatePipeline()...)
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if mode == "cron" && strings.TrimSpace(c.Schedule.Spec) == "" {
			errs = append(errs, "schedule.spec is required")
		}
	case "compact":
		if c.Store.DataDir == "" {
			errs = append(errs, "store.data_dir is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validatePipeline() []string {
	var errs []string
	if c.Google.Key == "" {
		errs = append(errs, "google.key is required")
	}
	switch c.Research.Provider {
	case "yutori":
		if c.Yutori.Key == "" {
			errs = append(errs, "yutori.key is required")
		}
	case "perplexity":
		if c.Perplexity.Key == "" {
			errs = append(errs, "perplexity.key is required")
		}
	default:
		errs = append(errs, "research.provider must be yutori or perplexity")
	}
	if !c.Pipeline.SkipGeneration && c.Anthropic.Key == "" {
		errs = append(errs, "anthropic.key is required")
	}
	switch c.Deploy.Target {
	case "local":
	case "gcs":
		if c.Deploy.Bucket == "" {
			errs = append(errs, "deploy.bucket is required for gcs")
		}
	default:
		errs = append(errs, "deploy.target must be local or gcs")
	}
	switch c.Sessions.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, "sessions.backend must be memory or redis")
	}
	if c.Store.DataDir == "" {
		errs = append(errs, "store.data_dir is required")
	}
	if c.Pipeline.Concurrency < 1 || c.Pipeline.Concurrency > 20 {
		errs = append(errs, "pipeline.concurrency must be between 1 and 20")
	}
	if c.Pipeline.MaxResults < 1 || c.Pipeline.MaxResults > 60 {
		errs = append(errs, "pipeline.max_results must be between 1 and 60")
	}
	return errs
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
