// Package jobs contains the scheduled jobs of the lesson insights worker.
// Each job is a thin adapter from the scheduler to an application command.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alem-hub/lesson-insights/internal/application/command"
	"github.com/alem-hub/lesson-insights/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATE IMPROVEMENTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// ImprovementEvaluator runs one evaluation pass.
type ImprovementEvaluator interface {
	Handle(ctx context.Context, cmd command.EvaluateImprovementsCommand) (*command.EvaluateImprovementsResult, error)
}

// ErrAllEvaluationsFailed is returned when a pass evaluated nothing and
// every attempted improvement failed.
var ErrAllEvaluationsFailed = errors.New("all evaluations failed")

// EvaluateImprovementsJob measures due improvements and applies lifecycle
// decisions to their tracker issues.
type EvaluateImprovementsJob struct {
	handler ImprovementEvaluator
	timeout time.Duration
	logger  *logger.Logger

	lastRunStats atomic.Value // *EvaluateStats
}

// EvaluateStats summarizes the last run.
type EvaluateStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Evaluated   int
	Closed      int
	Skipped     int
	Failed      int
}

// NewEvaluateImprovementsJob creates the job. timeout <= 0 disables the
// job-level deadline.
func NewEvaluateImprovementsJob(handler ImprovementEvaluator, timeout time.Duration, log *logger.Logger) *EvaluateImprovementsJob {
	if log == nil {
		log = logger.Nop()
	}
	return &EvaluateImprovementsJob{
		handler: handler,
		timeout: timeout,
		logger:  log.With(logger.JobName("evaluate_improvements")),
	}
}

// Name returns the job name.
func (j *EvaluateImprovementsJob) Name() string {
	return "evaluate_improvements"
}

// Description returns a human-readable description.
func (j *EvaluateImprovementsJob) Description() string {
	return "Measures due improvements and closes or escalates their issues"
}

// Run executes one evaluation pass.
func (j *EvaluateImprovementsJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	res, err := j.handler.Handle(ctx, command.EvaluateImprovementsCommand{})
	if err != nil {
		return fmt.Errorf("evaluate_improvements: %w", err)
	}

	stats := &EvaluateStats{
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
		Evaluated:   res.Evaluated,
		Closed:      res.Closed,
		Failed:      res.Failed,
	}
	stats.Duration = stats.CompletedAt.Sub(startedAt)
	for _, o := range res.Outcomes {
		if o.Skipped != "" {
			stats.Skipped++
		}
		if o.Error != "" {
			j.logger.Warn("improvement evaluation failed",
				logger.ImprovementID(o.ImprovementID),
				logger.LessonSlug(o.LessonSlug),
				logger.String("error", o.Error),
			)
		}
	}
	j.lastRunStats.Store(stats)

	j.logger.Info("evaluate_improvements completed",
		logger.Int("evaluated", stats.Evaluated),
		logger.Int("closed", stats.Closed),
		logger.Int("skipped", stats.Skipped),
		logger.Int("failed", stats.Failed),
		logger.Latency(stats.Duration),
	)

	if stats.Failed > 0 && stats.Evaluated == 0 {
		return fmt.Errorf("evaluate_improvements: %w (%d)", ErrAllEvaluationsFailed, stats.Failed)
	}
	return nil
}

// LastRunStats returns statistics from the last successful run, or nil.
func (j *EvaluateImprovementsJob) LastRunStats() *EvaluateStats {
	stats := j.lastRunStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*EvaluateStats)
}
