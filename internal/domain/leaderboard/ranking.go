package leaderboard

import (
	"sort"

	"github.com/alem-hub/lesson-insights/internal/domain/analytics"
	"github.com/alem-hub/lesson-insights/pkg/timeutil"
)

// DefaultTopN is the default leaderboard size.
const DefaultTopN = 10

// Rank is a 1-based leaderboard position.
type Rank int

// ActivityEntry is one row of the event-count leaderboard.
type ActivityEntry struct {
	Rank      Rank   `json:"rank"`
	UserID    string `json:"userId"`
	Events30d int    `json:"events30d"`
	Events7d  int    `json:"events7d"`
	Streak    int    `json:"streak"`
}

// StreakEntry is one row of the streak leaderboard.
type StreakEntry struct {
	Rank   Rank   `json:"rank"`
	UserID string `json:"userId"`
	Streak int    `json:"streak"`
}

// TopByEvents ranks users by their event count over the 30 days ending at ref,
// carrying a 7-day sub-count. Users without a metric get streak 0.
// Ties keep the order in which users first appear in events.
func TopByEvents(events []analytics.LearningEvent, metrics []analytics.UserLearningMetric, ref timeutil.Date, n int) []ActivityEntry {
	month := timeutil.RangeForDays(30, ref)
	week := timeutil.RangeForDays(7, ref)

	streaks := make(map[string]int, len(metrics))
	for _, m := range metrics {
		streaks[m.UserID] = m.Streak
	}

	index := make(map[string]int)
	rows := make([]ActivityEntry, 0)
	for _, e := range events {
		if !month.Contains(e.EventDate) {
			continue
		}
		i, ok := index[e.UserID]
		if !ok {
			i = len(rows)
			index[e.UserID] = i
			rows = append(rows, ActivityEntry{UserID: e.UserID, Streak: streaks[e.UserID]})
		}
		rows[i].Events30d++
		if week.Contains(e.EventDate) {
			rows[i].Events7d++
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Events30d > rows[j].Events30d
	})

	rows = truncate(rows, n)
	for i := range rows {
		rows[i].Rank = Rank(i + 1)
	}
	return rows
}

// TopByStreak ranks users by current streak. Ties keep input order.
func TopByStreak(metrics []analytics.UserLearningMetric, n int) []StreakEntry {
	rows := make([]StreakEntry, len(metrics))
	for i, m := range metrics {
		rows[i] = StreakEntry{UserID: m.UserID, Streak: m.Streak}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Streak > rows[j].Streak
	})

	rows = truncate(rows, n)
	for i := range rows {
		rows[i].Rank = Rank(i + 1)
	}
	return rows
}

func truncate[T any](rows []T, n int) []T {
	if n <= 0 {
		n = DefaultTopN
	}
	if len(rows) > n {
		return rows[:n]
	}
	return rows
}
