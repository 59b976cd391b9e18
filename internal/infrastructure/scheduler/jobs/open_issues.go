package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alem-hub/lesson-insights/internal/application/command"
	"github.com/alem-hub/lesson-insights/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// OPEN IMPROVEMENT ISSUES JOB
// ══════════════════════════════════════════════════════════════════════════════

// IssueOpener runs one issue-opening pass.
type IssueOpener interface {
	Handle(ctx context.Context, cmd command.OpenIssuesCommand) (*command.OpenIssuesResult, error)
}

// OpenIssuesJob opens tracker issues for the highest-priority lessons.
type OpenIssuesJob struct {
	handler IssueOpener
	dryRun  bool
	timeout time.Duration
	logger  *logger.Logger

	lastRunStats atomic.Value // *OpenIssuesStats
}

// OpenIssuesStats summarizes the last run.
type OpenIssuesStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Candidates  int
	Opened      int
	Skipped     int
	Errors      int
	DryRun      bool
}

// NewOpenIssuesJob creates the job. A dry-run job only scores lessons.
func NewOpenIssuesJob(handler IssueOpener, dryRun bool, timeout time.Duration, log *logger.Logger) *OpenIssuesJob {
	if log == nil {
		log = logger.Nop()
	}
	return &OpenIssuesJob{
		handler: handler,
		dryRun:  dryRun,
		timeout: timeout,
		logger:  log.With(logger.JobName("open_improvement_issues")),
	}
}

// Name returns the job name.
func (j *OpenIssuesJob) Name() string {
	return "open_improvement_issues"
}

// Description returns a human-readable description.
func (j *OpenIssuesJob) Description() string {
	return "Opens tracker issues for lessons with the highest improvement priority"
}

// Run executes one pass.
func (j *OpenIssuesJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	res, err := j.handler.Handle(ctx, command.OpenIssuesCommand{DryRun: j.dryRun})
	if err != nil {
		return fmt.Errorf("open_improvement_issues: %w", err)
	}

	stats := &OpenIssuesStats{
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
		Candidates:  len(res.Candidates),
		Opened:      len(res.Opened),
		Skipped:     len(res.Skipped),
		Errors:      len(res.Errors),
		DryRun:      j.dryRun,
	}
	stats.Duration = stats.CompletedAt.Sub(startedAt)
	j.lastRunStats.Store(stats)

	for _, o := range res.Opened {
		j.logger.Info("improvement issue opened",
			logger.LessonSlug(o.LessonSlug),
			logger.IssueNumber(o.IssueNumber),
			logger.ImprovementID(o.ImprovementID),
		)
	}
	for _, e := range res.Errors {
		j.logger.Warn("issue not opened", logger.String("error", e))
	}

	j.logger.Info("open_improvement_issues completed",
		logger.Int("candidates", stats.Candidates),
		logger.Int("opened", stats.Opened),
		logger.Int("skipped", stats.Skipped),
		logger.Int("errors", stats.Errors),
		logger.Bool("dry_run", stats.DryRun),
		logger.Latency(stats.Duration),
	)
	return nil
}

// LastRunStats returns statistics from the last successful run, or nil.
func (j *OpenIssuesJob) LastRunStats() *OpenIssuesStats {
	stats := j.lastRunStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*OpenIssuesStats)
}
