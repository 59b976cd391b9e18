// Package main is the entry point of the REST API: learner activity and
// habit reads, admin analytics and event ingestion.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alem-hub/lesson-insights/config"
	"github.com/alem-hub/lesson-insights/internal/app"
	httpapi "github.com/alem-hub/lesson-insights/internal/interface/http"
	"github.com/alem-hub/lesson-insights/internal/interface/http/handlers"
	"github.com/alem-hub/lesson-insights/pkg/logger"
)

// ConfigFileEnv optionally names a YAML config file.
const ConfigFileEnv = "INSIGHTS_CONFIG_FILE"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(os.Getenv(ConfigFileEnv))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(app.LoggerOptions(cfg)).With(
		logger.String("service", cfg.App.Name),
		logger.Component("api"),
	)
	defer func() { _ = log.Sync() }()

	log.Info("starting api",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
	)

	// Migrations are owned by the worker and insightsctl.
	c, err := app.New(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer c.Close()

	health := handlers.NewHealthChecker(cfg.App.Version)
	c.RegisterHealthChecks(health)

	srvCfg := httpapi.DefaultConfig()
	srvCfg.Host = cfg.HTTP.Host
	srvCfg.Port = cfg.HTTP.Port
	if cfg.HTTP.ReadTimeout > 0 {
		srvCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	}
	if cfg.HTTP.WriteTimeout > 0 {
		srvCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	}
	srvCfg.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	srvCfg.RateLimitBurst = cfg.HTTP.RateLimitBurst
	srvCfg.APIKeys = cfg.HTTP.APIKeys
	srvCfg.EnableMetrics = cfg.Observability.MetricsEnabled
	srvCfg.EnableAdmin = c.Flags.Enabled(config.FeatureAdminAPI)
	srvCfg.Release = cfg.IsProduction()

	if len(srvCfg.APIKeys) == 0 {
		log.Warn("no API keys configured, admin and write routes are open")
	}

	srv := httpapi.NewServer(srvCfg, httpapi.Dependencies{
		Activity:      c.ActivityHandler(),
		Habit:         c.HabitHandler(),
		Admin:         c.AdminHandler(),
		IngestEvents:  c.IngestEventsHandler(),
		UpsertMetrics: c.UpsertMetricsHandler(),
		Health:        health,
		Metrics:       c.Metrics,
		Logger:        log,
	})

	errCh := srv.StartAsync()
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("received shutdown signal", logger.Duration("timeout", cfg.App.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	log.Info("shutdown completed")
	return nil
}
