package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/lesson-insights/internal/domain/analytics"
	"github.com/alem-hub/lesson-insights/internal/domain/improvement"
	"github.com/alem-hub/lesson-insights/internal/domain/shared"
	"github.com/alem-hub/lesson-insights/internal/domain/tracker"
	"github.com/alem-hub/lesson-insights/internal/infrastructure/metrics"
	"github.com/alem-hub/lesson-insights/pkg/logger"
	"github.com/alem-hub/lesson-insights/pkg/retry"
	"github.com/alem-hub/lesson-insights/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATE IMPROVEMENTS COMMAND
// For every open improvement whose evaluation window has elapsed: measure the
// current follow-up rate, post a report, decide the lifecycle and apply it to
// the tracked issue.
// ══════════════════════════════════════════════════════════════════════════════

// EvaluateConfig tunes the evaluation pass.
type EvaluateConfig struct {
	// Concurrency bounds how many improvements are evaluated at once.
	Concurrency int

	// FollowUpWindowDays is how long after an origin a follow-up counts.
	FollowUpWindowDays int

	// CallTimeout wraps each external call.
	CallTimeout time.Duration
}

// DefaultEvaluateConfig returns default configuration.
func DefaultEvaluateConfig() EvaluateConfig {
	return EvaluateConfig{
		Concurrency:        4,
		FollowUpWindowDays: analytics.DefaultFollowUpWindowDays,
		CallTimeout:        30 * time.Second,
	}
}

// EvaluateImprovementsCommand triggers one pass. Force ignores the
// evaluation window; ImprovementID restricts the pass to one improvement.
type EvaluateImprovementsCommand struct {
	Force         bool
	ImprovementID string
}

// Skip reasons reported in EvaluationOutcome.
const (
	SkipNotDue    = "not due"
	SkipLowSample = "insufficient sample in window"
)

// EvaluationOutcome is the per-improvement result of a pass.
type EvaluationOutcome struct {
	ImprovementID  string                       `json:"improvementId"`
	LessonSlug     string                       `json:"lessonSlug"`
	IssueNumber    int                          `json:"issueNumber"`
	BaselineRate   int                          `json:"baselineRate"`
	CurrentRate    int                          `json:"currentRate"`
	Status         improvement.Status           `json:"status"`
	Result         *improvement.LifecycleResult `json:"result,omitempty"`
	ReportPosted   bool                         `json:"reportPosted"`
	DecisionPosted bool                         `json:"decisionPosted"`
	Skipped        string                       `json:"skipped,omitempty"`
	Error          string                       `json:"error,omitempty"`
}

// EvaluateImprovementsResult summarizes a pass.
type EvaluateImprovementsResult struct {
	Outcomes  []EvaluationOutcome `json:"outcomes"`
	Evaluated int                 `json:"evaluated"`
	Closed    int                 `json:"closed"`
	Failed    int                 `json:"failed"`
}

// EvaluateImprovementsHandler handles EvaluateImprovementsCommand.
type EvaluateImprovementsHandler struct {
	events       analytics.EventSource
	improvements improvement.Repository
	orchestrator *tracker.Orchestrator
	metrics      *metrics.Metrics
	retrier      *retry.Retrier
	config       EvaluateConfig
	log          *logger.Logger
	now          func() time.Time
}

// NewEvaluateImprovementsHandler creates a new EvaluateImprovementsHandler.
// m may be nil.
func NewEvaluateImprovementsHandler(
	events analytics.EventSource,
	improvements improvement.Repository,
	orchestrator *tracker.Orchestrator,
	m *metrics.Metrics,
	config EvaluateConfig,
	log *logger.Logger,
) *EvaluateImprovementsHandler {
	def := DefaultEvaluateConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if config.FollowUpWindowDays <= 0 {
		config.FollowUpWindowDays = def.FollowUpWindowDays
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = def.CallTimeout
	}
	if log == nil {
		log = logger.Nop()
	}

	return &EvaluateImprovementsHandler{
		events:       events,
		improvements: improvements,
		orchestrator: orchestrator,
		metrics:      m,
		retrier:      retry.TrackerRetrier(shared.IsRetryable),
		config:       config,
		log:          log.With(logger.Operation("evaluate_improvements")),
		now:          time.Now,
	}
}

// Handle runs the pass. Per-improvement failures are collected in the
// result; only failing to list improvements aborts the pass.
func (h *EvaluateImprovementsHandler) Handle(ctx context.Context, cmd EvaluateImprovementsCommand) (*EvaluateImprovementsResult, error) {
	imps, err := h.load(ctx, cmd.ImprovementID)
	if err != nil {
		return nil, fmt.Errorf("evaluate_improvements: %w", err)
	}

	now := h.now()
	outcomes := make([]EvaluationOutcome, len(imps))

	var g errgroup.Group
	g.SetLimit(h.config.Concurrency)
	for i, imp := range imps {
		outcomes[i] = EvaluationOutcome{
			ImprovementID: imp.ID,
			LessonSlug:    imp.LessonSlug,
			IssueNumber:   imp.IssueNumber,
			BaselineRate:  imp.BaselineRate,
			Status:        imp.Status,
		}
		if !cmd.Force && !imp.Due(now) {
			outcomes[i].Skipped = SkipNotDue
			continue
		}

		g.Go(func() error {
			if err := h.evaluateOne(ctx, imp, now, &outcomes[i]); err != nil {
				outcomes[i].Error = err.Error()
				h.log.Error("improvement evaluation failed",
					logger.ImprovementID(imp.ID),
					logger.IssueNumber(imp.IssueNumber),
					logger.Err(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	result := &EvaluateImprovementsResult{Outcomes: outcomes}
	for _, o := range outcomes {
		switch {
		case o.Error != "":
			result.Failed++
		case o.Result != nil:
			result.Evaluated++
			if o.Result.ShouldClose {
				result.Closed++
			}
		}
	}

	h.log.Info("evaluation pass finished",
		logger.Int("improvements", len(imps)),
		logger.Int("evaluated", result.Evaluated),
		logger.Int("closed", result.Closed),
		logger.Int("failed", result.Failed),
	)
	return result, nil
}

func (h *EvaluateImprovementsHandler) load(ctx context.Context, id string) ([]*improvement.Improvement, error) {
	if id == "" {
		return h.improvements.ListOpen(ctx)
	}
	imp, err := h.improvements.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if imp.Closed {
		return nil, shared.NewDomainError("improvement", "Evaluate", shared.ErrInvalidState, "improvement is closed")
	}
	return []*improvement.Improvement{imp}, nil
}

// evaluateOne applies tracker side effects before persisting the status.
// A rerun after a partial failure recomputes the same evaluation count, so
// the report and decision markers deduplicate the comments and the state
// change is repeated as a no-op.
func (h *EvaluateImprovementsHandler) evaluateOne(ctx context.Context, imp *improvement.Improvement, now time.Time, out *EvaluationOutcome) error {
	log := h.log.With(logger.ImprovementID(imp.ID), logger.LessonSlug(imp.LessonSlug), logger.IssueNumber(imp.IssueNumber))

	current, origins, err := h.currentRate(ctx, imp, now)
	if err != nil {
		return fmt.Errorf("measure: %w", err)
	}
	out.CurrentRate = current
	if improvement.IsLowSample(origins) {
		out.Skipped = SkipLowSample
		log.Info("evaluation skipped", logger.Int("origins", origins))
		return nil
	}

	eff, err := improvement.MeasureEffectiveness(imp.BaselineRate, current, imp.Cost)
	if err != nil {
		return err
	}
	status := imp.Status
	status.ImprovementID = imp.ID
	status.Record(eff, now)
	decision := improvement.Evaluate(status)

	report := tracker.EvaluationReport(status, decision, imp.BaselineRate, current)
	markerWindow := imp.WindowDays * status.EvaluationCount
	err = h.call(ctx, func(ctx context.Context) error {
		posted, err := h.orchestrator.PostEvaluationReport(ctx, imp.IssueNumber, imp.LessonSlug, markerWindow, report)
		out.ReportPosted = posted
		return err
	})
	if err != nil {
		return fmt.Errorf("post report: %w", err)
	}

	err = h.call(ctx, func(ctx context.Context) error {
		posted, err := h.orchestrator.PostDecisionComment(ctx, imp.IssueNumber, imp.LessonSlug, status.EvaluationCount, decision)
		out.DecisionPosted = posted
		return err
	})
	if err != nil {
		return fmt.Errorf("post decision %s: %w", decision.Decision, err)
	}
	err = h.call(ctx, func(ctx context.Context) error {
		return h.orchestrator.ApplyLifecycleDecision(ctx, imp.IssueNumber, decision)
	})
	if err != nil {
		return fmt.Errorf("apply decision %s: %w", decision.Decision, err)
	}

	if err := h.improvements.SaveStatus(ctx, status); err != nil {
		return fmt.Errorf("save status: %w", err)
	}
	if decision.ShouldClose {
		if err := h.improvements.MarkClosed(ctx, imp.ID); err != nil {
			return fmt.Errorf("mark closed: %w", err)
		}
	}

	out.Status = status
	out.Result = &decision
	h.metrics.ObserveDecision(string(decision.Decision))
	log.Info("improvement evaluated",
		logger.Decision(string(decision.Decision)),
		logger.Int("baseline_rate", imp.BaselineRate),
		logger.Int("current_rate", current),
		logger.Float64("roi", status.ROI),
	)
	return nil
}

// currentRate measures the follow-up rate over the last evaluation window.
func (h *EvaluateImprovementsHandler) currentRate(ctx context.Context, imp *improvement.Improvement, now time.Time) (rate, origins int, err error) {
	window := timeutil.RangeForDays(imp.WindowDays, timeutil.DateOf(now))

	events, err := h.events.EventsForReference(ctx, imp.LessonSlug, window)
	if err != nil {
		return 0, 0, err
	}
	for _, f := range analytics.LessonFollowUps(events, h.config.FollowUpWindowDays) {
		if f.Slug == imp.LessonSlug {
			return improvement.FollowUpRate(f.FollowedUpCount, f.OriginCount), f.OriginCount, nil
		}
	}
	return 0, 0, nil
}

func (h *EvaluateImprovementsHandler) call(ctx context.Context, op func(context.Context) error) error {
	return h.retrier.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, h.config.CallTimeout)
		defer cancel()
		err := op(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			return shared.WrapError("tracker", "Request", shared.ErrTimeout, "call timed out", err)
		}
		return err
	})
}
