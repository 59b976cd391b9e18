// Package app wires configuration into storage, cache, tracker and the
// application handlers shared by the api, worker and insightsctl binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/alem-hub/lesson-insights/config"
	"github.com/alem-hub/lesson-insights/internal/application/command"
	"github.com/alem-hub/lesson-insights/internal/application/query"
	"github.com/alem-hub/lesson-insights/internal/domain/analytics"
	"github.com/alem-hub/lesson-insights/internal/domain/improvement"
	"github.com/alem-hub/lesson-insights/internal/domain/intervention"
	"github.com/alem-hub/lesson-insights/internal/domain/tracker"
	"github.com/alem-hub/lesson-insights/internal/infrastructure/metrics"
	memstore "github.com/alem-hub/lesson-insights/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/lesson-insights/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/lesson-insights/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/lesson-insights/internal/infrastructure/scheduler"
	"github.com/alem-hub/lesson-insights/internal/infrastructure/tracker/github"
	memtracker "github.com/alem-hub/lesson-insights/internal/infrastructure/tracker/memory"
	"github.com/alem-hub/lesson-insights/internal/interface/http/handlers"
	"github.com/alem-hub/lesson-insights/pkg/logger"
)

// EventStore reads and appends learning events.
type EventStore interface {
	analytics.EventSource
	analytics.EventLog
}

// MetricStore reads and writes user metrics.
type MetricStore interface {
	analytics.MetricSource
	command.MetricWriter
}

// Container holds the wired dependencies of one process.
type Container struct {
	Config   *config.Config
	Flags    *config.FeatureFlags
	Logger   *logger.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Events       EventStore
	MetricStore  MetricStore
	Improvements improvement.Repository
	Catalog      improvement.Catalog
	Recorder     intervention.Recorder
	Tracker      tracker.Client

	// Cache and Locker are nil when Redis is disabled.
	Cache  analytics.MetricCache
	Locker scheduler.Locker

	// Memory is set when the memory driver is selected.
	Memory *memstore.Store

	db    *postgres.Connection
	redis *redis.Cache
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIG MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// LoggerOptions maps observability settings onto logger options.
func LoggerOptions(cfg *config.Config) logger.Options {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.Observability.LogFormat != "" {
		opts.Format = cfg.Observability.LogFormat
	}
	if cfg.Observability.LogFile != "" {
		opts.File = &logger.FileOptions{
			Path:       cfg.Observability.LogFile,
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		}
	}
	return opts
}

// PostgresConfig maps database settings onto the pool configuration.
func PostgresConfig(cfg *config.Config) postgres.Config {
	pc := postgres.DefaultConfig()
	d := cfg.Database
	pc.URL = d.URL
	if d.Host != "" {
		pc.Host = d.Host
	}
	if d.Port > 0 {
		pc.Port = d.Port
	}
	if d.Name != "" {
		pc.Database = d.Name
	}
	if d.User != "" {
		pc.User = d.User
	}
	pc.Password = d.Password
	if d.SSLMode != "" {
		pc.SSLMode = d.SSLMode
	}
	if d.MaxConns > 0 {
		pc.MaxConns = d.MaxConns
	}
	if d.MinConns > 0 {
		pc.MinConns = d.MinConns
	}
	if d.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = d.ConnMaxLifetime
	}
	if d.ConnMaxIdleTime > 0 {
		pc.MaxConnIdleTime = d.ConnMaxIdleTime
	}
	if d.ConnectTimeout > 0 {
		pc.ConnectTimeout = d.ConnectTimeout
	}
	return pc
}

// RedisConfig maps cache settings onto the Redis client configuration.
func RedisConfig(cfg *config.Config) redis.Config {
	rc := redis.DefaultConfig()
	r := cfg.Redis
	if r.Host != "" {
		rc.Host = r.Host
	}
	if r.Port > 0 {
		rc.Port = r.Port
	}
	rc.Password = r.Password
	rc.DB = r.DB
	if r.PoolSize > 0 {
		rc.PoolSize = r.PoolSize
	}
	if r.MinIdleConns > 0 {
		rc.MinIdleConns = r.MinIdleConns
	}
	if r.DialTimeout > 0 {
		rc.DialTimeout = r.DialTimeout
	}
	if r.ReadTimeout > 0 {
		rc.ReadTimeout = r.ReadTimeout
	}
	if r.WriteTimeout > 0 {
		rc.WriteTimeout = r.WriteTimeout
	}
	if r.MetricTTL > 0 {
		rc.MetricTTL = r.MetricTTL
	}
	return rc
}

// GitHubConfig maps tracker settings onto the GitHub adapter configuration.
func GitHubConfig(cfg *config.Config) github.Config {
	t := cfg.Tracker
	gc := github.DefaultConfig(t.Owner, t.Repo, t.Token)
	gc.BaseURL = t.BaseURL
	if t.Timeout > 0 {
		gc.Timeout = t.Timeout
	}
	if t.RequestsPerSecond > 0 {
		gc.RequestsPerSecond = t.RequestsPerSecond
	}
	if t.Burst > 0 {
		gc.Burst = t.Burst
	}
	return gc
}

// ══════════════════════════════════════════════════════════════════════════════
// CONSTRUCTION
// ══════════════════════════════════════════════════════════════════════════════

// New connects storage, cache and tracker according to cfg. When migrate is
// set pending PostgreSQL migrations are applied before returning.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, migrate bool) (*Container, error) {
	if log == nil {
		log = logger.Nop()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := &Container{
		Config:   cfg,
		Flags:    config.LoadFeatureFlags(),
		Logger:   log,
		Registry: reg,
		Metrics:  metrics.New(reg),
	}

	if err := c.initStorage(ctx, migrate); err != nil {
		c.Close()
		return nil, err
	}
	c.initCache()
	if err := c.initTracker(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) initStorage(ctx context.Context, migrate bool) error {
	if c.Config.Database.Driver == config.DriverMemory {
		store := memstore.New()
		c.Memory = store
		c.Events = store
		c.MetricStore = store
		c.Improvements = store
		c.Catalog = store
		c.Recorder = store
		c.Logger.Warn("using in-memory storage, data is lost on exit")
		return nil
	}

	c.Logger.Info("connecting to database")
	conn, err := postgres.NewConnection(ctx, PostgresConfig(c.Config))
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	c.db = conn

	if migrate {
		applied, err := postgres.NewMigrator(conn).Migrate(ctx)
		if err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		c.Logger.Info("database schema is up to date", logger.Int("applied", len(applied)))
	}

	imps := postgres.NewImprovementRepository(conn)
	c.Events = postgres.NewEventRepository(conn)
	c.MetricStore = postgres.NewMetricRepository(conn)
	c.Improvements = imps
	c.Catalog = imps
	c.Recorder = postgres.NewInterventionLog(conn)
	return nil
}

// initCache connects Redis. A failed connection disables caching and job
// locking rather than failing startup.
func (c *Container) initCache() {
	if c.Config.Redis.Disabled {
		return
	}
	cache, err := redis.NewCache(RedisConfig(c.Config))
	if err != nil {
		c.Logger.Warn("redis unavailable, caching and job locks disabled", logger.Err(err))
		return
	}
	c.redis = cache
	c.Cache = redis.NewMetricCache(cache, c.Config.Redis.MetricTTL)
	c.Locker = redis.NewLocker(cache, c.Config.Redis.JobLockTTL)
	c.Logger.Info("redis connection established")
}

func (c *Container) initTracker() error {
	if c.Config.Tracker.DryRun {
		c.Tracker = memtracker.New()
		c.Logger.Warn("tracker dry run, issues are kept in memory")
		return nil
	}
	client, err := github.New(GitHubConfig(c.Config), c.Metrics, c.Logger)
	if err != nil {
		return fmt.Errorf("create tracker client: %w", err)
	}
	c.Tracker = client
	return nil
}

// Close releases connections. It is safe to call more than once.
func (c *Container) Close() {
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.Logger.Warn("close redis", logger.Err(err))
		}
		c.redis = nil
	}
	if c.db != nil {
		c.db.Close()
		c.db = nil
	}
}

// Migrator returns the schema migrator. It fails for the memory driver.
func (c *Container) Migrator() (*postgres.Migrator, error) {
	if c.db == nil {
		return nil, fmt.Errorf("migrations need the %s driver", config.DriverPostgres)
	}
	return postgres.NewMigrator(c.db), nil
}

// RegisterHealthChecks adds a probe per connected backend.
func (c *Container) RegisterHealthChecks(h *handlers.HealthChecker) {
	if c.db != nil {
		h.AddCheck("postgres", handlers.PingCheck(c.db))
	}
	if c.redis != nil {
		h.AddCheck("redis", handlers.PingCheck(c.redis))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// Clock returns the wall clock in the configured timezone.
func (c *Container) Clock() query.Clock {
	loc := c.Config.Location()
	return func() time.Time { return time.Now().In(loc) }
}

// Scorer builds the priority scorer from the configured weights.
func (c *Container) Scorer() *improvement.Scorer {
	return improvement.NewScorer(c.Config.Scoring)
}

func (c *Container) ActivityHandler() *query.ActivityHandler {
	return query.NewActivityHandler(c.Events, c.Clock())
}

func (c *Container) HabitHandler() *query.HabitHandler {
	return query.NewHabitHandler(c.Events, c.MetricStore, c.Cache, intervention.NewEngine(c.Recorder), c.Clock(), c.Logger).
		WithInterventionGate(c.Flags.Gate(config.FeatureInterventions))
}

func (c *Container) AdminHandler() *query.AdminHandler {
	return query.NewAdminHandler(c.Events, c.MetricStore, c.Catalog, c.Scorer(), query.AdminConfig{
		FollowUpWindowDays: c.Config.Analysis.FollowUpWindowDays,
		LookbackDays:       c.Config.Analysis.LookbackDays,
	}, c.Clock())
}

func (c *Container) IngestEventsHandler() *command.IngestEventsHandler {
	return command.NewIngestEventsHandler(c.Events, c.Cache, c.Logger)
}

func (c *Container) UpsertMetricsHandler() *command.UpsertMetricsHandler {
	return command.NewUpsertMetricsHandler(c.MetricStore, c.Cache, c.Logger)
}

func (c *Container) OpenIssuesHandler() *command.OpenIssuesHandler {
	a := c.Config.Analysis
	return command.NewOpenIssuesHandler(c.Events, c.Catalog, c.Improvements, tracker.NewOrchestrator(c.Tracker), c.Scorer(),
		command.OpenIssuesConfig{
			LookbackDays:         a.LookbackDays,
			FollowUpWindowDays:   a.FollowUpWindowDays,
			MaxIssues:            a.MaxIssuesPerRun,
			EstimatedCost:        a.EstimatedCost,
			EvaluationWindowDays: a.EvaluationWindowDays,
		}, c.Logger)
}

func (c *Container) EvaluateImprovementsHandler() *command.EvaluateImprovementsHandler {
	a := c.Config.Analysis
	return command.NewEvaluateImprovementsHandler(c.Events, c.Improvements, tracker.NewOrchestrator(c.Tracker), c.Metrics,
		command.EvaluateConfig{
			Concurrency:        a.EvaluateConcurrency,
			FollowUpWindowDays: a.FollowUpWindowDays,
		}, c.Logger)
}
