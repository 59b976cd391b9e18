package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/lesson-insights/internal/domain/analytics"
	"github.com/alem-hub/lesson-insights/internal/domain/improvement"
	"github.com/alem-hub/lesson-insights/internal/domain/shared"
	"github.com/alem-hub/lesson-insights/internal/domain/tracker"
	"github.com/alem-hub/lesson-insights/pkg/logger"
	"github.com/alem-hub/lesson-insights/pkg/retry"
	"github.com/alem-hub/lesson-insights/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// OPEN IMPROVEMENT ISSUES COMMAND
// Scores lessons from recent follow-up behaviour and opens one tracker issue
// per actionable lesson that is not already tracked.
// ══════════════════════════════════════════════════════════════════════════════

// OpenIssuesConfig tunes the issue-opening pass.
type OpenIssuesConfig struct {
	// LookbackDays is the event window the priority queue is built from.
	LookbackDays int

	// FollowUpWindowDays is how long after an origin a follow-up counts.
	FollowUpWindowDays int

	// MaxIssues caps how many issues one run may open.
	MaxIssues int

	// EstimatedCost is recorded on each new improvement for ROI.
	EstimatedCost float64

	// EvaluationWindowDays is the spacing between evaluations.
	EvaluationWindowDays int
}

// DefaultOpenIssuesConfig returns default configuration.
func DefaultOpenIssuesConfig() OpenIssuesConfig {
	return OpenIssuesConfig{
		LookbackDays:         30,
		FollowUpWindowDays:   analytics.DefaultFollowUpWindowDays,
		MaxIssues:            5,
		EstimatedCost:        1,
		EvaluationWindowDays: improvement.DefaultEvaluationWindowDays,
	}
}

// OpenIssuesCommand triggers one pass. DryRun scores without side effects.
type OpenIssuesCommand struct {
	DryRun bool
}

// OpenedIssue describes one issue created by the pass.
type OpenedIssue struct {
	LessonSlug    string  `json:"lessonSlug"`
	IssueNumber   int     `json:"issueNumber"`
	IssueURL      string  `json:"issueUrl"`
	ImprovementID string  `json:"improvementId"`
	Score         float64 `json:"score"`
}

// OpenIssuesResult summarizes a pass.
type OpenIssuesResult struct {
	Candidates []improvement.PriorityItem `json:"candidates"`
	Opened     []OpenedIssue              `json:"opened"`
	Skipped    []string                   `json:"skipped"`
	Errors     []string                   `json:"errors,omitempty"`
}

// OpenIssuesHandler handles OpenIssuesCommand.
type OpenIssuesHandler struct {
	events       analytics.EventSource
	catalog      improvement.Catalog
	improvements improvement.Repository
	orchestrator *tracker.Orchestrator
	scorer       *improvement.Scorer
	retrier      *retry.Retrier
	config       OpenIssuesConfig
	log          *logger.Logger
	now          func() time.Time
}

// NewOpenIssuesHandler creates a new OpenIssuesHandler.
func NewOpenIssuesHandler(
	events analytics.EventSource,
	catalog improvement.Catalog,
	improvements improvement.Repository,
	orchestrator *tracker.Orchestrator,
	scorer *improvement.Scorer,
	config OpenIssuesConfig,
	log *logger.Logger,
) *OpenIssuesHandler {
	def := DefaultOpenIssuesConfig()
	if config.LookbackDays <= 0 {
		config.LookbackDays = def.LookbackDays
	}
	if config.FollowUpWindowDays <= 0 {
		config.FollowUpWindowDays = def.FollowUpWindowDays
	}
	if config.MaxIssues <= 0 {
		config.MaxIssues = def.MaxIssues
	}
	if config.EvaluationWindowDays <= 0 {
		config.EvaluationWindowDays = def.EvaluationWindowDays
	}
	if log == nil {
		log = logger.Nop()
	}

	return &OpenIssuesHandler{
		events:       events,
		catalog:      catalog,
		improvements: improvements,
		orchestrator: orchestrator,
		scorer:       scorer,
		retrier:      retry.TrackerRetrier(shared.IsRetryable),
		config:       config,
		log:          log.With(logger.Operation("open_improvement_issues")),
		now:          time.Now,
	}
}

// Handle scores lessons and opens issues for the top actionable ones.
func (h *OpenIssuesHandler) Handle(ctx context.Context, cmd OpenIssuesCommand) (*OpenIssuesResult, error) {
	today := timeutil.DateOf(h.now())
	window := timeutil.RangeForDays(h.config.LookbackDays, today)

	events, err := h.events.EventsInRange(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("open_issues: load events: %w", err)
	}
	lessons, err := h.catalog.Lessons(ctx)
	if err != nil {
		return nil, fmt.Errorf("open_issues: load lessons: %w", err)
	}

	stats := improvement.StatsFromFollowUps(analytics.LessonFollowUps(events, h.config.FollowUpWindowDays), lessons)
	candidates := improvement.Actionable(h.scorer.PriorityQueue(stats))

	result := &OpenIssuesResult{
		Candidates: candidates,
		Opened:     []OpenedIssue{},
		Skipped:    []string{},
	}
	if cmd.DryRun {
		return result, nil
	}

	for _, item := range candidates {
		if len(result.Opened) >= h.config.MaxIssues {
			break
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		opened, err := h.openOne(ctx, item)
		switch {
		case errors.Is(err, shared.ErrAlreadyExists):
			result.Skipped = append(result.Skipped, item.LessonSlug)
		case err != nil:
			h.log.Error("open issue failed", logger.LessonSlug(item.LessonSlug), logger.Err(err))
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", item.LessonSlug, err))
		default:
			result.Opened = append(result.Opened, *opened)
		}
	}

	h.log.Info("improvement issues pass finished",
		logger.Int("candidates", len(candidates)),
		logger.Int("opened", len(result.Opened)),
		logger.Int("skipped", len(result.Skipped)),
		logger.Int("errors", len(result.Errors)),
	)
	return result, nil
}

func (h *OpenIssuesHandler) openOne(ctx context.Context, item improvement.PriorityItem) (*OpenedIssue, error) {
	_, err := h.improvements.GetOpenByLesson(ctx, item.LessonSlug)
	if err == nil {
		return nil, shared.ErrImprovementExists
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	params := tracker.IssueParams{
		Title:      tracker.IssueTitle(item),
		Body:       tracker.IssueBody(item),
		LessonSlug: item.LessonSlug,
		HintType:   item.HintType,
	}
	issue, err := retry.DoWithData(ctx, h.retrier, func(ctx context.Context) (*tracker.Issue, error) {
		issue, err := h.orchestrator.CreateIssue(ctx, params)
		if outcomeUnknown(err) {
			return nil, retry.Permanent(err)
		}
		return issue, err
	})
	if err != nil {
		if outcomeUnknown(err) {
			h.log.Warn("issue creation outcome unknown, not retrying",
				logger.LessonSlug(item.LessonSlug),
				logger.String("label", tracker.LabelLessonPrefix+item.LessonSlug),
				logger.Err(err),
			)
		}
		return nil, err
	}

	imp, err := improvement.New(item, issue.Number, h.config.EstimatedCost, h.config.EvaluationWindowDays, h.now())
	if err != nil {
		return nil, err
	}
	if err := h.improvements.Create(ctx, imp); err != nil {
		return nil, fmt.Errorf("issue #%d opened but improvement not stored: %w", issue.Number, err)
	}

	h.log.Info("improvement issue opened",
		logger.LessonSlug(item.LessonSlug),
		logger.IssueNumber(issue.Number),
		logger.ImprovementID(imp.ID),
	)
	return &OpenedIssue{
		LessonSlug:    item.LessonSlug,
		IssueNumber:   issue.Number,
		IssueURL:      issue.URL,
		ImprovementID: imp.ID,
		Score:         item.Priority.Score,
	}, nil
}

// outcomeUnknown reports whether a create may have reached the tracker
// before failing. Retrying such a call can open a second issue.
func outcomeUnknown(err error) bool {
	return errors.Is(err, shared.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
