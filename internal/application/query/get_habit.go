package query

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/lesson-insights/internal/domain/analytics"
	"github.com/alem-hub/lesson-insights/internal/domain/explain"
	"github.com/alem-hub/lesson-insights/internal/domain/intervention"
	"github.com/alem-hub/lesson-insights/internal/domain/shared"
	"github.com/alem-hub/lesson-insights/pkg/logger"
	"github.com/alem-hub/lesson-insights/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET HABIT QUERY
// Explains a user's streak and weekly goal and resolves the intervention to
// show, if any.
// ══════════════════════════════════════════════════════════════════════════════

// GetHabitQuery asks for a user's habit explanation.
type GetHabitQuery struct {
	UserID string

	// HabitState is supplied by the caller; empty means stable.
	HabitState string
}

// HabitResult bundles both explanations and the intervention.
type HabitResult struct {
	UserID       string                     `json:"userId"`
	HabitState   intervention.HabitState    `json:"habitState"`
	Streak       explain.StreakExplain      `json:"streak"`
	WeeklyGoal   explain.WeeklyGoalExplain  `json:"weeklyGoal"`
	Intervention *intervention.Intervention `json:"intervention"`
}

// HabitHandler handles GetHabitQuery.
type HabitHandler struct {
	events  analytics.EventSource
	metrics analytics.MetricSource
	cache   analytics.MetricCache
	engine  *intervention.Engine
	clock   Clock
	log     *logger.Logger
	gate    func(userID string) bool
}

// NewHabitHandler creates a HabitHandler. cache may be nil.
func NewHabitHandler(
	events analytics.EventSource,
	metrics analytics.MetricSource,
	cache analytics.MetricCache,
	engine *intervention.Engine,
	clock Clock,
	log *logger.Logger,
) *HabitHandler {
	if log == nil {
		log = logger.Nop()
	}
	if engine == nil {
		engine = intervention.NewEngine(nil)
	}
	return &HabitHandler{events: events, metrics: metrics, cache: cache, engine: engine, clock: clock, log: log}
}

// WithInterventionGate restricts interventions to users the gate admits.
// Other users still get both explanations; nothing is recorded for them.
func (h *HabitHandler) WithInterventionGate(gate func(userID string) bool) *HabitHandler {
	h.gate = gate
	return h
}

// Handle loads the metric and this week's events concurrently, then runs
// the classifiers.
func (h *HabitHandler) Handle(ctx context.Context, q GetHabitQuery) (*HabitResult, error) {
	if strings.TrimSpace(q.UserID) == "" {
		return nil, shared.ErrEmptyUserID
	}
	state := intervention.HabitStable
	if q.HabitState != "" {
		s, err := intervention.ParseHabitState(q.HabitState)
		if err != nil {
			return nil, err
		}
		state = s
	}

	today := h.clock.today()
	week := timeutil.DateRange{Start: timeutil.WeekStart(today), End: today}
	// Yesterday must be visible even on Mondays.
	window := timeutil.DateRange{Start: minDate(week.Start, today.AddDays(-1)), End: today}

	var (
		metric *analytics.UserLearningMetric
		events []analytics.LearningEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := h.metric(gctx, q.UserID)
		metric = m
		return err
	})
	g.Go(func() error {
		ev, err := h.events.EventsForUser(gctx, q.UserID, window)
		events = ev
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("get_habit: %w", err)
	}

	streak := explain.ExplainStreak(explain.StreakInput{
		CurrentStreak:    metric.Streak,
		LastActivityDate: lastActivity(metric.LastEventDate, events, today),
		TodayCount:       analytics.CountOn(events, today),
		Today:            today,
	})
	weekly := explain.ExplainWeeklyGoal(explain.WeeklyInput{
		GoalPerWeek:           metric.WeeklyGoal,
		CompletedDaysThisWeek: analytics.ActiveDays(events, week),
		WeekStart:             week.Start,
		Today:                 today,
	})

	var in *intervention.Intervention
	if h.gate == nil || h.gate(q.UserID) {
		var err error
		in, err = h.engine.Resolve(ctx, q.UserID, state, streak, weekly)
		if err != nil {
			h.log.Warn("intervention not recorded", logger.UserID(q.UserID), logger.Err(err))
		}
	}

	return &HabitResult{
		UserID:       q.UserID,
		HabitState:   state,
		Streak:       streak,
		WeeklyGoal:   weekly,
		Intervention: in,
	}, nil
}

// metric reads through the cache. A user without a metric gets a zero one.
func (h *HabitHandler) metric(ctx context.Context, userID string) (*analytics.UserLearningMetric, error) {
	if h.cache != nil {
		m, err := h.cache.Get(ctx, userID)
		if err == nil {
			return m, nil
		}
		if !shared.IsNotFound(err) {
			h.log.Warn("metric cache read failed", logger.UserID(userID), logger.Err(err))
		}
	}

	m, err := h.metrics.GetMetric(ctx, userID)
	if shared.IsNotFound(err) {
		return &analytics.UserLearningMetric{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, m); err != nil {
			h.log.Warn("metric cache write failed", logger.UserID(userID), logger.Err(err))
		}
	}
	return m, nil
}

// lastActivity is the later of the stored last event date and the latest
// event in the log window, both strictly before today. A stored date of
// today or later is ignored so the result does not depend on when the
// metric was last refreshed.
func lastActivity(stored *timeutil.Date, events []analytics.LearningEvent, today timeutil.Date) *timeutil.Date {
	var last *timeutil.Date
	if stored != nil && stored.Before(today) {
		d := *stored
		last = &d
	}
	for _, e := range events {
		if !e.EventDate.Before(today) {
			continue
		}
		if last == nil || e.EventDate.After(*last) {
			d := e.EventDate
			last = &d
		}
	}
	return last
}

func minDate(a, b timeutil.Date) timeutil.Date {
	if b.Before(a) {
		return b
	}
	return a
}
