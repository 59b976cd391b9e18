// Package config loads service configuration from the environment, an
// optional .env file and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/alem-hub/lesson-insights/internal/domain/improvement"
)

// EnvPrefix prefixes every environment variable, e.g. INSIGHTS_DATABASE_HOST.
const EnvPrefix = "INSIGHTS"

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Redis         RedisConfig             `mapstructure:"redis"`
	Tracker       TrackerConfig           `mapstructure:"tracker"`
	Scheduler     SchedulerConfig         `mapstructure:"scheduler"`
	Analysis      AnalysisConfig          `mapstructure:"analysis"`
	Scoring       improvement.WeightTable `mapstructure:"scoring"`
	Observability ObservabilityConfig     `mapstructure:"observability"`
	HTTP          HTTPConfig              `mapstructure:"http"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name            string        `mapstructure:"name"`
	Environment     Environment   `mapstructure:"env"`
	Version         string        `mapstructure:"version"`
	Timezone        string        `mapstructure:"timezone"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds storage settings. Driver is "postgres" or "memory";
// for postgres URL wins over the individual fields when set.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Disabled     bool          `mapstructure:"disabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MetricTTL    time.Duration `mapstructure:"metric_ttl"`
	JobLockTTL   time.Duration `mapstructure:"job_lock_ttl"`
}

// TrackerConfig holds issue tracker settings. DryRun swaps the GitHub
// adapter for the in-memory one.
type TrackerConfig struct {
	Owner             string        `mapstructure:"owner"`
	Repo              string        `mapstructure:"repo"`
	Token             string        `mapstructure:"token"`
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"rps"`
	Burst             int           `mapstructure:"burst"`
	DryRun            bool          `mapstructure:"dry_run"`
}

// SchedulerConfig holds background job settings. Schedules accept cron
// expressions or "@every <duration>".
type SchedulerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	OpenIssues       string        `mapstructure:"open_issues"`
	EvaluateSchedule string        `mapstructure:"evaluate"`
	JobTimeout       time.Duration `mapstructure:"job_timeout"`
	Tick             time.Duration `mapstructure:"tick"`
}

// AnalysisConfig tunes follow-up analysis, issue opening and evaluation.
type AnalysisConfig struct {
	LookbackDays         int     `mapstructure:"lookback_days"`
	FollowUpWindowDays   int     `mapstructure:"follow_up_window_days"`
	MaxIssuesPerRun      int     `mapstructure:"max_issues_per_run"`
	EstimatedCost        float64 `mapstructure:"estimated_cost"`
	EvaluationWindowDays int     `mapstructure:"evaluation_window_days"`
	EvaluateConcurrency  int     `mapstructure:"evaluate_concurrency"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	LogFile        string `mapstructure:"log_file"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`

	// WorkerMetricsAddr is where the worker serves /metrics and /health.
	WorkerMetricsAddr string `mapstructure:"worker_metrics_addr"`
}

// HTTPConfig holds API server settings.
type HTTPConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	RateLimitBurst     int           `mapstructure:"rate_limit_burst"`
	APIKeys            []string      `mapstructure:"api_keys"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "lesson-insights")
	v.SetDefault("app.env", string(EnvDevelopment))
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.timezone", "UTC")
	v.SetDefault("app.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "lesson_insights")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)
	v.SetDefault("database.connect_timeout", 10*time.Second)

	v.SetDefault("redis.disabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.metric_ttl", 10*time.Minute)
	v.SetDefault("redis.job_lock_ttl", 10*time.Minute)

	v.SetDefault("tracker.owner", "")
	v.SetDefault("tracker.repo", "")
	v.SetDefault("tracker.token", "")
	v.SetDefault("tracker.base_url", "")
	v.SetDefault("tracker.timeout", 15*time.Second)
	v.SetDefault("tracker.rps", 1.0)
	v.SetDefault("tracker.burst", 5)
	v.SetDefault("tracker.dry_run", false)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.open_issues", "0 6 * * 1")
	v.SetDefault("scheduler.evaluate", "0 6 * * *")
	v.SetDefault("scheduler.job_timeout", 15*time.Minute)
	v.SetDefault("scheduler.tick", time.Second)

	v.SetDefault("analysis.lookback_days", 30)
	v.SetDefault("analysis.follow_up_window_days", 7)
	v.SetDefault("analysis.max_issues_per_run", 5)
	v.SetDefault("analysis.estimated_cost", 1.0)
	v.SetDefault("analysis.evaluation_window_days", improvement.DefaultEvaluationWindowDays)
	v.SetDefault("analysis.evaluate_concurrency", 4)

	w := improvement.DefaultWeights()
	v.SetDefault("scoring.by_hint", w.ByHint)
	v.SetDefault("scoring.by_origin", w.ByOrigin)
	v.SetDefault("scoring.default", w.Default)

	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
	v.SetDefault("observability.log_file", "")
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.worker_metrics_addr", ":9091")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.rate_limit_per_minute", 300)
	v.SetDefault("http.rate_limit_burst", 50)
	v.SetDefault("http.api_keys", []string{})
}

// Load reads configuration. A .env file in the working directory is loaded
// first when present; file, when non-empty, names a YAML config file that
// must exist. Otherwise config.yaml in . or ./config is used if found.
func Load(file string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional names used by hosting platforms.
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("tracker.token", EnvPrefix+"_TRACKER_TOKEN", "GITHUB_TOKEN")
	_ = v.BindEnv("http.port", EnvPrefix+"_HTTP_PORT", "PORT")

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []string

	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("app.timezone %q is not a valid location", c.App.Timezone))
	}
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" && c.Database.Host == "" {
			errs = append(errs, "database.url or database.host is required")
		}
		if c.IsProduction() && c.Database.URL == "" && c.Database.Password == "" {
			errs = append(errs, "database credentials are required in production")
		}
	case DriverMemory:
		if c.IsProduction() {
			errs = append(errs, "database.driver memory is not allowed in production")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
	}
	if !c.Tracker.DryRun {
		if c.Tracker.Owner == "" || c.Tracker.Repo == "" {
			errs = append(errs, "tracker.owner and tracker.repo are required unless tracker.dry_run is set")
		}
		if c.Tracker.Token == "" {
			errs = append(errs, "tracker.token is required unless tracker.dry_run is set")
		}
	}
	if c.Tracker.RequestsPerSecond <= 0 {
		errs = append(errs, "tracker.rps must be positive")
	}
	if c.Analysis.FollowUpWindowDays < 0 {
		errs = append(errs, "analysis.follow_up_window_days cannot be negative")
	}
	if c.Analysis.LookbackDays <= 0 {
		errs = append(errs, "analysis.lookback_days must be positive")
	}
	if c.Analysis.EstimatedCost < 0 {
		errs = append(errs, "analysis.estimated_cost cannot be negative")
	}
	if c.Scoring.Default <= 0 {
		errs = append(errs, "scoring.default must be positive")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, "http.port must be 1-65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Location returns the configured timezone, UTC when invalid.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}
