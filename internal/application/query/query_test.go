package query

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/lesson-insights/internal/domain/analytics"
	"github.com/alem-hub/lesson-insights/internal/domain/explain"
	"github.com/alem-hub/lesson-insights/internal/domain/improvement"
	"github.com/alem-hub/lesson-insights/internal/domain/intervention"
	"github.com/alem-hub/lesson-insights/internal/domain/leaderboard"
	"github.com/alem-hub/lesson-insights/internal/domain/shared"
	"github.com/alem-hub/lesson-insights/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/lesson-insights/pkg/timeutil"
)

// Wednesday; the week starts on 2024-01-29.
var (
	today     = timeutil.NewDate(2024, time.January, 31)
	yesterday = today.AddDays(-1)
	monday    = timeutil.NewDate(2024, time.January, 29)
	clock     = Clock(func() time.Time { return time.Date(2024, time.January, 31, 15, 0, 0, 0, time.UTC) })
)

func event(user string, t analytics.EventType, d timeutil.Date, ref string) analytics.LearningEvent {
	return analytics.LearningEvent{UserID: user, EventType: t, EventDate: d, ReferenceID: ref}
}

func seed(t *testing.T, events ...analytics.LearningEvent) *memory.Store {
	t.Helper()
	s := memory.New()
	require.NoError(t, s.Append(context.Background(), events))
	return s
}

func lessonEvents(slug string, day timeutil.Date, origins, followed int) []analytics.LearningEvent {
	var out []analytics.LearningEvent
	for i := 0; i < origins; i++ {
		user := fmt.Sprintf("%s-u%d", slug, i)
		out = append(out, event(user, analytics.EventLessonViewed, day, slug))
		if i < followed {
			out = append(out, event(user, analytics.EventQuizStarted, day.AddDays(1), ""))
		}
	}
	return out
}

type mapCache struct {
	items map[string]analytics.UserLearningMetric
	gets  int
}

func newMapCache() *mapCache { return &mapCache{items: map[string]analytics.UserLearningMetric{}} }

func (c *mapCache) Get(_ context.Context, userID string) (*analytics.UserLearningMetric, error) {
	c.gets++
	m, ok := c.items[userID]
	if !ok {
		return nil, shared.NewDomainError("cache", "Get", shared.ErrNotFound, "miss")
	}
	return &m, nil
}

func (c *mapCache) Set(_ context.Context, m *analytics.UserLearningMetric) error {
	c.items[m.UserID] = *m
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, userIDs ...string) error {
	for _, id := range userIDs {
		delete(c.items, id)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HEATMAP & TREND
// ══════════════════════════════════════════════════════════════════════════════

func TestHeatmap_DefaultsTo84Days(t *testing.T) {
	store := seed(t,
		event("u1", analytics.EventLessonViewed, today, "loops"),
		event("u1", analytics.EventQuizStarted, today, ""),
		event("u1", analytics.EventLessonViewed, today.AddDays(-83), "vars"),
		event("u1", analytics.EventLessonViewed, today.AddDays(-84), "vars"),
		event("u2", analytics.EventLessonViewed, today, "loops"),
	)
	h := NewActivityHandler(store, clock)

	res, err := h.Heatmap(context.Background(), GetHeatmapQuery{UserID: "u1"})
	require.NoError(t, err)

	require.Len(t, res.Days, analytics.DefaultHeatmapDays)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, today.AddDays(-83), res.Days[0].Date)
	assert.Equal(t, today, res.Days[len(res.Days)-1].Date)
	assert.Equal(t, 2, res.Days[len(res.Days)-1].Count)
}

func TestHeatmap_RejectsBadInput(t *testing.T) {
	h := NewActivityHandler(memory.New(), clock)

	_, err := h.Heatmap(context.Background(), GetHeatmapQuery{UserID: " "})
	assert.ErrorIs(t, err, shared.ErrEmptyUserID)

	_, err = h.Heatmap(context.Background(), GetHeatmapQuery{UserID: "u1", Days: MaxHeatmapDays + 1})
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)

	_, err = h.Heatmap(context.Background(), GetHeatmapQuery{UserID: "u1", Days: -1})
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)
}

func TestTrend_DailyAndWeekly(t *testing.T) {
	store := seed(t,
		event("u1", analytics.EventLessonViewed, monday, "loops"),
		event("u1", analytics.EventQuizStarted, today, ""),
		event("u1", analytics.EventQuizStarted, monday.AddDays(-7), ""),
	)
	h := NewActivityHandler(store, clock)

	daily, err := h.Trend(context.Background(), GetTrendQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, analytics.TrendDaily, daily.Mode)
	require.Len(t, daily.Points, analytics.DailyTrendPoints)
	assert.Equal(t, today, daily.Points[len(daily.Points)-1].X)

	weekly, err := h.Trend(context.Background(), GetTrendQuery{UserID: "u1", Mode: "weekly"})
	require.NoError(t, err)
	require.Len(t, weekly.Points, analytics.WeeklyTrendPoints)
	last := weekly.Points[len(weekly.Points)-1]
	assert.Equal(t, monday, last.X)
	assert.Equal(t, 2, last.Y)
	assert.Equal(t, 1, weekly.Points[len(weekly.Points)-2].Y)
}

func TestTrend_UnknownMode(t *testing.T) {
	h := NewActivityHandler(memory.New(), clock)
	_, err := h.Trend(context.Background(), GetTrendQuery{UserID: "u1", Mode: "hourly"})
	assert.ErrorIs(t, err, shared.ErrUnknownTrendMode)
}

// ══════════════════════════════════════════════════════════════════════════════
// HABIT
// ══════════════════════════════════════════════════════════════════════════════

func TestHabit_DangerWithStreakAtRiskRecordsRescue(t *testing.T) {
	store := seed(t, event("u1", analytics.EventLessonViewed, yesterday, "loops"))
	require.NoError(t, store.Upsert(context.Background(), []analytics.UserLearningMetric{
		{UserID: "u1", Streak: 3},
	}))
	h := NewHabitHandler(store, store, nil, intervention.NewEngine(store), clock, nil)

	res, err := h.Handle(context.Background(), GetHabitQuery{UserID: "u1", HabitState: "danger"})
	require.NoError(t, err)

	assert.Equal(t, explain.StreakActiveYesterday, res.Streak.ReasonCode)
	assert.Equal(t, 3, res.Streak.CurrentStreak)
	assert.Equal(t, explain.WeeklyNoGoal, res.WeeklyGoal.ReasonCode)
	require.NotNil(t, res.Intervention)
	assert.Equal(t, intervention.KindStreakRescue, res.Intervention.Kind)
	assert.NotEmpty(t, res.Intervention.CTA)

	assert.Equal(t, []memory.RecordedIntervention{{UserID: "u1", Kind: intervention.KindStreakRescue}}, store.Interventions())
}

func TestHabit_UnknownUserIsPositiveWhenStable(t *testing.T) {
	store := memory.New()
	h := NewHabitHandler(store, store, nil, intervention.NewEngine(store), clock, nil)

	res, err := h.Handle(context.Background(), GetHabitQuery{UserID: "ghost"})
	require.NoError(t, err)

	assert.Equal(t, intervention.HabitStable, res.HabitState)
	assert.Equal(t, explain.StreakNoActivityYet, res.Streak.ReasonCode)
	assert.Equal(t, explain.WeeklyNoGoal, res.WeeklyGoal.ReasonCode)
	require.NotNil(t, res.Intervention)
	assert.Equal(t, intervention.KindPositive, res.Intervention.Kind)
	assert.Empty(t, store.Interventions())
}

func TestHabit_WarningBehindWeeklyGetsCatchup(t *testing.T) {
	// One active day by Wednesday against a goal of 5: expected 15/7.
	store := seed(t,
		event("u1", analytics.EventLessonViewed, monday, "loops"),
		event("u1", analytics.EventQuizStarted, monday, ""),
	)
	require.NoError(t, store.Upsert(context.Background(), []analytics.UserLearningMetric{
		{UserID: "u1", Streak: 0, WeeklyGoal: 5},
	}))
	h := NewHabitHandler(store, store, nil, intervention.NewEngine(store), clock, nil)

	res, err := h.Handle(context.Background(), GetHabitQuery{UserID: "u1", HabitState: "warning"})
	require.NoError(t, err)

	assert.Equal(t, 1, res.WeeklyGoal.CompletedDaysThisWeek)
	assert.Equal(t, explain.WeeklyBehind, res.WeeklyGoal.ReasonCode)
	assert.Equal(t, explain.StreakBroken, res.Streak.ReasonCode)
	require.NotNil(t, res.Intervention)
	assert.Equal(t, intervention.KindWeeklyCatchup, res.Intervention.Kind)
}

func TestHabit_GateWithholdsIntervention(t *testing.T) {
	store := seed(t, event("u1", analytics.EventLessonViewed, yesterday, "loops"))
	require.NoError(t, store.Upsert(context.Background(), []analytics.UserLearningMetric{
		{UserID: "u1", Streak: 3},
	}))
	h := NewHabitHandler(store, store, nil, intervention.NewEngine(store), clock, nil).
		WithInterventionGate(func(userID string) bool { return userID != "u1" })

	res, err := h.Handle(context.Background(), GetHabitQuery{UserID: "u1", HabitState: "danger"})
	require.NoError(t, err)

	assert.Equal(t, explain.StreakActiveYesterday, res.Streak.ReasonCode)
	assert.Nil(t, res.Intervention)
	assert.Empty(t, store.Interventions())
}

func TestHabit_RecoveredAfterGap(t *testing.T) {
	last := today.AddDays(-5)
	store := seed(t, event("u1", analytics.EventLessonViewed, today, "loops"))
	require.NoError(t, store.Upsert(context.Background(), []analytics.UserLearningMetric{
		{UserID: "u1", Streak: 1, LastEventDate: &last},
	}))
	h := NewHabitHandler(store, store, nil, nil, clock, nil)

	res, err := h.Handle(context.Background(), GetHabitQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, explain.StreakRecovered, res.Streak.ReasonCode)
	assert.Equal(t, 1, res.Streak.TodayCount)
}

func TestHabit_StoredDateFreshnessDoesNotChangeVerdict(t *testing.T) {
	stale := today.AddDays(-5)
	fresh := today

	for name, stored := range map[string]*timeutil.Date{"stale": &stale, "fresh": &fresh, "none": nil} {
		t.Run(name, func(t *testing.T) {
			store := seed(t,
				event("u1", analytics.EventLessonViewed, today.AddDays(-5), "loops"),
				event("u1", analytics.EventLessonViewed, today, "loops"),
			)
			require.NoError(t, store.Upsert(context.Background(), []analytics.UserLearningMetric{
				{UserID: "u1", Streak: 1, LastEventDate: stored},
			}))
			h := NewHabitHandler(store, store, nil, nil, clock, nil)

			res, err := h.Handle(context.Background(), GetHabitQuery{UserID: "u1"})
			require.NoError(t, err)
			assert.Equal(t, explain.StreakRecovered, res.Streak.ReasonCode)
		})
	}
}

func TestHabit_ReadsThroughCache(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Upsert(context.Background(), []analytics.UserLearningMetric{
		{UserID: "u1", Streak: 4, WeeklyGoal: 2},
	}))
	cache := newMapCache()
	h := NewHabitHandler(store, store, cache, nil, clock, nil)

	_, err := h.Handle(context.Background(), GetHabitQuery{UserID: "u1"})
	require.NoError(t, err)
	require.Contains(t, cache.items, "u1")

	// Cached value wins over the store until invalidated.
	cache.items["u1"] = analytics.UserLearningMetric{UserID: "u1", Streak: 9}
	res, err := h.Handle(context.Background(), GetHabitQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 9, res.Streak.CurrentStreak)
	assert.Equal(t, 2, cache.gets)
}

func TestHabit_RejectsBadInput(t *testing.T) {
	h := NewHabitHandler(memory.New(), memory.New(), nil, nil, clock, nil)

	_, err := h.Handle(context.Background(), GetHabitQuery{})
	assert.ErrorIs(t, err, shared.ErrEmptyUserID)

	_, err = h.Handle(context.Background(), GetHabitQuery{UserID: "u1", HabitState: "panic"})
	assert.ErrorIs(t, err, shared.ErrUnknownHabitState)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN
// ══════════════════════════════════════════════════════════════════════════════

func adminStore(t *testing.T) *memory.Store {
	t.Helper()
	events := []analytics.LearningEvent{
		event("u1", analytics.EventLessonViewed, today, "loops"),
		event("u1", analytics.EventQuizStarted, today, ""),
		event("u1", analytics.EventQuizCompleted, yesterday, ""),
		event("u2", analytics.EventLessonViewed, today.AddDays(-3), "vars"),
		event("u3", analytics.EventLessonViewed, today.AddDays(-20), "vars"),
	}
	store := seed(t, events...)
	require.NoError(t, store.Upsert(context.Background(), []analytics.UserLearningMetric{
		{UserID: "u1", Streak: 2, WeeklyGoal: 3, WeeklyProgress: 3},
		{UserID: "u2", Streak: 10, WeeklyGoal: 3, WeeklyProgress: 1},
		{UserID: "u3", Streak: 0},
	}))
	return store
}

func TestSummary_DefaultsToSevenDays(t *testing.T) {
	store := adminStore(t)
	h := NewAdminHandler(store, store, store, nil, AdminConfig{}, clock)

	s, err := h.Summary(context.Background(), GetSummaryQuery{})
	require.NoError(t, err)

	assert.Equal(t, leaderboard.PeriodSevenDays, s.Period)
	assert.Equal(t, 2, s.ActiveUsers)
	assert.Equal(t, 4, s.TotalEvents)
	assert.InDelta(t, 2.0, s.AvgEventsPerUser, 1e-9)

	_, err = h.Summary(context.Background(), GetSummaryQuery{Period: "1y"})
	assert.ErrorIs(t, err, shared.ErrUnknownPeriod)
}

func TestLeaderboards(t *testing.T) {
	store := adminStore(t)
	h := NewAdminHandler(store, store, store, nil, AdminConfig{}, clock)

	res, err := h.Leaderboards(context.Background(), GetLeaderboardsQuery{Limit: 2})
	require.NoError(t, err)

	require.Len(t, res.ByEvents, 2)
	assert.Equal(t, "u1", res.ByEvents[0].UserID)
	assert.Equal(t, 3, res.ByEvents[0].Events30d)
	require.Len(t, res.ByStreak, 2)
	assert.Equal(t, "u2", res.ByStreak[0].UserID)
	assert.Equal(t, 10, res.ByStreak[0].Streak)

	_, err = h.Leaderboards(context.Background(), GetLeaderboardsQuery{Limit: MaxTopN + 1})
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)
}

func TestPriorities_ActionableOnlyDropsLowSample(t *testing.T) {
	events := append(lessonEvents("loops", today.AddDays(-10), 6, 3), lessonEvents("vars", today.AddDays(-10), 2, 0)...)
	store := seed(t, events...)
	store.PutLesson(improvement.Lesson{Slug: "loops", Title: "Loops", HintType: "example"})
	h := NewAdminHandler(store, store, store, nil, AdminConfig{}, clock)

	all, err := h.Priorities(context.Background(), GetPrioritiesQuery{})
	require.NoError(t, err)
	assert.Len(t, all.Items, 2)
	assert.Equal(t, 1, all.Actionable)

	actionable, err := h.Priorities(context.Background(), GetPrioritiesQuery{ActionableOnly: true})
	require.NoError(t, err)
	require.Len(t, actionable.Items, 1)
	assert.Equal(t, "loops", actionable.Items[0].LessonSlug)
	assert.Equal(t, "Loops", actionable.Items[0].LessonTitle)
	assert.Equal(t, 50, actionable.Items[0].FollowUpRate)
}

func TestLessonRankings(t *testing.T) {
	events := append(lessonEvents("loops", today.AddDays(-10), 6, 6), lessonEvents("vars", today.AddDays(-10), 6, 1)...)
	store := seed(t, events...)
	h := NewAdminHandler(store, store, store, nil, AdminConfig{FollowUpWindowDays: 3}, clock)

	res, err := h.LessonRankings(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.FollowUpWindowDays)
	require.Len(t, res.Best, 2)
	assert.Equal(t, "loops", res.Best[0].Slug)
	assert.Equal(t, 100, res.Best[0].FollowUpRate)
	assert.Equal(t, "vars", res.Worst[0].Slug)
}
