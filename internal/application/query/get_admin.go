package query

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/lesson-insights/internal/domain/analytics"
	"github.com/alem-hub/lesson-insights/internal/domain/improvement"
	"github.com/alem-hub/lesson-insights/internal/domain/leaderboard"
	"github.com/alem-hub/lesson-insights/internal/domain/shared"
	"github.com/alem-hub/lesson-insights/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN QUERIES
// Period summary, leaderboards, lesson effectiveness rankings and the
// improvement priority queue.
// ══════════════════════════════════════════════════════════════════════════════

// MaxTopN caps leaderboard and ranking sizes.
const MaxTopN = 100

// leaderboardDays is the event window leaderboards are computed over.
const leaderboardDays = 30

// AdminHandler serves admin read queries.
type AdminHandler struct {
	events             analytics.EventSource
	metrics            analytics.MetricSource
	catalog            improvement.Catalog
	scorer             *improvement.Scorer
	followUpWindowDays int
	lookbackDays       int
	clock              Clock
}

// AdminConfig tunes the lesson analyses.
type AdminConfig struct {
	FollowUpWindowDays int
	LookbackDays       int
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(
	events analytics.EventSource,
	metrics analytics.MetricSource,
	catalog improvement.Catalog,
	scorer *improvement.Scorer,
	cfg AdminConfig,
	clock Clock,
) *AdminHandler {
	if cfg.FollowUpWindowDays <= 0 {
		cfg.FollowUpWindowDays = analytics.DefaultFollowUpWindowDays
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 30
	}
	if scorer == nil {
		scorer = improvement.NewScorer(improvement.DefaultWeights())
	}
	return &AdminHandler{
		events:             events,
		metrics:            metrics,
		catalog:            catalog,
		scorer:             scorer,
		followUpWindowDays: cfg.FollowUpWindowDays,
		lookbackDays:       cfg.LookbackDays,
		clock:              clock,
	}
}

// loadAll fetches events in r and all metrics concurrently.
func (h *AdminHandler) loadAll(ctx context.Context, r timeutil.DateRange) ([]analytics.LearningEvent, []analytics.UserLearningMetric, error) {
	var (
		events  []analytics.LearningEvent
		metrics []analytics.UserLearningMetric
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		events, err = h.events.EventsInRange(gctx, r)
		return err
	})
	g.Go(func() error {
		var err error
		metrics, err = h.metrics.ListMetrics(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return events, metrics, nil
}

// ── Summary ───────────────────────────────────────────────────────────────────

// GetSummaryQuery asks for the admin summary of a period.
type GetSummaryQuery struct {
	Period string
}

// Summary handles GetSummaryQuery. An empty period means 7d.
func (h *AdminHandler) Summary(ctx context.Context, q GetSummaryQuery) (*leaderboard.Summary, error) {
	p := leaderboard.PeriodSevenDays
	if q.Period != "" {
		parsed, err := leaderboard.ParsePeriod(q.Period)
		if err != nil {
			return nil, err
		}
		p = parsed
	}

	ref := h.clock.today()
	events, metrics, err := h.loadAll(ctx, leaderboard.PeriodRange(p, ref))
	if err != nil {
		return nil, fmt.Errorf("get_summary: %w", err)
	}
	s := leaderboard.BuildSummary(events, metrics, p, ref)
	return &s, nil
}

// ── Leaderboards ──────────────────────────────────────────────────────────────

// GetLeaderboardsQuery asks for both top-N leaderboards.
type GetLeaderboardsQuery struct {
	Limit int
}

// LeaderboardsResult holds both leaderboards.
type LeaderboardsResult struct {
	Range    timeutil.DateRange          `json:"range"`
	ByEvents []leaderboard.ActivityEntry `json:"byEvents"`
	ByStreak []leaderboard.StreakEntry   `json:"byStreak"`
}

// Leaderboards handles GetLeaderboardsQuery.
func (h *AdminHandler) Leaderboards(ctx context.Context, q GetLeaderboardsQuery) (*LeaderboardsResult, error) {
	n, err := limit(q.Limit)
	if err != nil {
		return nil, err
	}

	ref := h.clock.today()
	r := timeutil.RangeForDays(leaderboardDays, ref)
	events, metrics, err := h.loadAll(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("get_leaderboards: %w", err)
	}
	return &LeaderboardsResult{
		Range:    r,
		ByEvents: leaderboard.TopByEvents(events, metrics, ref, n),
		ByStreak: leaderboard.TopByStreak(metrics, n),
	}, nil
}

// ── Lesson rankings & priorities ──────────────────────────────────────────────

// LessonRankingsResult lists lessons by follow-up rate, best and worst first.
type LessonRankingsResult struct {
	Range              timeutil.DateRange             `json:"range"`
	FollowUpWindowDays int                            `json:"followUpWindowDays"`
	Best               []improvement.LessonRankingRow `json:"best"`
	Worst              []improvement.LessonRankingRow `json:"worst"`
}

// PrioritiesResult is the improvement priority queue.
type PrioritiesResult struct {
	Range      timeutil.DateRange         `json:"range"`
	Items      []improvement.PriorityItem `json:"items"`
	Actionable int                        `json:"actionable"`
}

// GetPrioritiesQuery asks for the priority queue. ActionableOnly drops
// low-sample lessons.
type GetPrioritiesQuery struct {
	ActionableOnly bool
	Limit          int
}

func (h *AdminHandler) lessonStats(ctx context.Context) ([]improvement.LessonStat, timeutil.DateRange, error) {
	r := timeutil.RangeForDays(h.lookbackDays, h.clock.today())

	var (
		events  []analytics.LearningEvent
		lessons map[string]improvement.Lesson
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		events, err = h.events.EventsInRange(gctx, r)
		return err
	})
	g.Go(func() error {
		var err error
		lessons, err = h.catalog.Lessons(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, r, err
	}

	followUps := analytics.LessonFollowUps(events, h.followUpWindowDays)
	return improvement.StatsFromFollowUps(followUps, lessons), r, nil
}

// LessonRankings returns all lessons ranked best-first and worst-first.
func (h *AdminHandler) LessonRankings(ctx context.Context) (*LessonRankingsResult, error) {
	stats, r, err := h.lessonStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get_lesson_rankings: %w", err)
	}
	return &LessonRankingsResult{
		Range:              r,
		FollowUpWindowDays: h.followUpWindowDays,
		Best:               improvement.RankBest(stats),
		Worst:              improvement.RankWorst(stats),
	}, nil
}

// Priorities returns the scored priority queue.
func (h *AdminHandler) Priorities(ctx context.Context, q GetPrioritiesQuery) (*PrioritiesResult, error) {
	n := q.Limit
	if n != 0 {
		var err error
		if n, err = limit(n); err != nil {
			return nil, err
		}
	}

	stats, r, err := h.lessonStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get_priorities: %w", err)
	}

	items := h.scorer.PriorityQueue(stats)
	actionable := improvement.Actionable(items)
	if q.ActionableOnly {
		items = actionable
	}
	if n > 0 && len(items) > n {
		items = items[:n]
	}
	return &PrioritiesResult{Range: r, Items: items, Actionable: len(actionable)}, nil
}

func limit(n int) (int, error) {
	switch {
	case n < 0 || n > MaxTopN:
		return 0, shared.NewDomainError("query", "Limit", shared.ErrValueOutOfRange,
			fmt.Sprintf("limit must be between 1 and %d", MaxTopN))
	case n == 0:
		return leaderboard.DefaultTopN, nil
	default:
		return n, nil
	}
}
