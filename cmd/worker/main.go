// Package main is the entry point of the background worker.
//
// The worker runs the scheduled lesson improvement passes:
//   - open_improvement_issues opens tracker issues for low-scoring lessons
//   - evaluate_improvements measures shipped improvements and updates their issues
//
// With Redis available, runs are serialized across worker replicas through a
// distributed lock.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alem-hub/lesson-insights/config"
	"github.com/alem-hub/lesson-insights/internal/app"
	"github.com/alem-hub/lesson-insights/internal/infrastructure/scheduler"
	"github.com/alem-hub/lesson-insights/internal/infrastructure/scheduler/jobs"
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
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION AND LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load(os.Getenv(ConfigFileEnv))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(app.LoggerOptions(cfg)).With(
		logger.String("service", cfg.App.Name),
		logger.Component("worker"),
	)
	defer func() { _ = log.Sync() }()

	log.Info("starting worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("timezone", cfg.App.Timezone),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. STORAGE, CACHE, TRACKER
	// ─────────────────────────────────────────────────────────────────────────
	c, err := app.New(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer c.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{
		Logger:   log,
		Metrics:  c.Metrics,
		Locker:   c.Locker,
		Timezone: cfg.Location(),
		Tick:     cfg.Scheduler.Tick,
	})

	if err := registerJobs(sched, c); err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. METRICS AND HEALTH ENDPOINT
	// ─────────────────────────────────────────────────────────────────────────
	var metricsSrv *http.Server
	if cfg.Observability.MetricsEnabled && cfg.Observability.WorkerMetricsAddr != "" {
		metricsSrv = newMetricsServer(c, cfg.Observability.WorkerMetricsAddr)
		go func() {
			log.Info("serving worker metrics", logger.String("address", metricsSrv.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", logger.Err(err))
			}
		}()
	}

	if !cfg.Scheduler.Enabled {
		log.Warn("scheduler disabled, worker idles until shutdown")
	} else if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	for _, j := range sched.ListJobs() {
		log.Info("job registered",
			logger.JobName(j.Name),
			logger.String("schedule", j.Schedule),
			logger.Bool("enabled", j.Enabled),
			logger.Time("next_run", j.NextRun),
		)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info("received shutdown signal", logger.Duration("timeout", cfg.App.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
			log.Warn("stop scheduler", logger.Err(err))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn("scheduler did not stop in time")
	}

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("stop metrics server", logger.Err(err))
		}
	}

	log.Info("shutdown completed")
	return nil
}

// registerJobs adds both passes; feature flags decide whether each starts
// enabled.
func registerJobs(sched *scheduler.Scheduler, c *app.Container) error {
	cfg := c.Config

	openSchedule, err := scheduler.ParseSchedule(cfg.Scheduler.OpenIssues)
	if err != nil {
		return fmt.Errorf("scheduler.open_issues: %w", err)
	}
	evalSchedule, err := scheduler.ParseSchedule(cfg.Scheduler.EvaluateSchedule)
	if err != nil {
		return fmt.Errorf("scheduler.evaluate: %w", err)
	}

	openJob := jobs.NewOpenIssuesJob(c.OpenIssuesHandler(), cfg.Tracker.DryRun, cfg.Scheduler.JobTimeout, c.Logger)
	evalJob := jobs.NewEvaluateImprovementsJob(c.EvaluateImprovementsHandler(), cfg.Scheduler.JobTimeout, c.Logger)

	for _, r := range []struct {
		job      scheduler.Job
		schedule scheduler.Schedule
		flag     string
	}{
		{openJob, openSchedule, config.FeatureOpenIssues},
		{evalJob, evalSchedule, config.FeatureEvaluateImprovements},
	} {
		if err := sched.Register(r.job, r.schedule); err != nil {
			return fmt.Errorf("register %s: %w", r.job.Name(), err)
		}
		if !c.Flags.Enabled(r.flag) {
			if err := sched.SetEnabled(r.job.Name(), false); err != nil {
				return err
			}
		}
	}
	return nil
}

func newMetricsServer(c *app.Container, addr string) *http.Server {
	health := handlers.NewHealthChecker(c.Config.App.Version)
	c.RegisterHealthChecks(health)

	engine := gin.New()
	engine.Use(handlers.Recovery(c.Logger))
	engine.GET("/metrics", c.Metrics.Handler())
	engine.GET("/health", func(ctx *gin.Context) {
		status := health.Check(ctx.Request.Context())
		code := http.StatusOK
		if !status.Healthy {
			code = http.StatusServiceUnavailable
		}
		ctx.JSON(code, status)
	})

	return &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
