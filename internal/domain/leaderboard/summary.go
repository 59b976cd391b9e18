// Package leaderboard builds period-scoped admin summaries and top-N
// rankings from the event log and user metrics.
package leaderboard

import (
	"github.com/alem-hub/lesson-insights/internal/domain/analytics"
	"github.com/alem-hub/lesson-insights/internal/domain/shared"
	"github.com/alem-hub/lesson-insights/pkg/timeutil"
)

// Period selects the summary window.
type Period string

const (
	PeriodToday      Period = "today"
	PeriodSevenDays  Period = "7d"
	PeriodThirtyDays Period = "30d"
)

// ParsePeriod validates a period string.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case PeriodToday, PeriodSevenDays, PeriodThirtyDays:
		return Period(s), nil
	default:
		return "", shared.ErrUnknownPeriod
	}
}

// Days returns the number of days covered by the period. Unknown periods
// cover a single day.
func (p Period) Days() int {
	switch p {
	case PeriodSevenDays:
		return 7
	case PeriodThirtyDays:
		return 30
	default:
		return 1
	}
}

// PeriodRange returns the inclusive UTC range of the period ending at ref.
func PeriodRange(p Period, ref timeutil.Date) timeutil.DateRange {
	return timeutil.RangeForDays(p.Days(), ref)
}

// StreakBucket is one fixed, inclusive bucket of the streak distribution.
type StreakBucket struct {
	Label string `json:"label"`
	Min   int    `json:"min"`
	Max   int    `json:"max"` // -1 means unbounded
	Count int    `json:"count"`
}

// streakBuckets are the locked distribution boundaries.
var streakBuckets = []StreakBucket{
	{Label: "0", Min: 0, Max: 0},
	{Label: "1-2", Min: 1, Max: 2},
	{Label: "3-6", Min: 3, Max: 6},
	{Label: "7-13", Min: 7, Max: 13},
	{Label: "14+", Min: 14, Max: -1},
}

func (b StreakBucket) contains(streak int) bool {
	return streak >= b.Min && (b.Max < 0 || streak <= b.Max)
}

// StreakDistribution counts metrics per streak bucket. All five buckets are
// always present, in ascending order.
func StreakDistribution(metrics []analytics.UserLearningMetric) []StreakBucket {
	out := make([]StreakBucket, len(streakBuckets))
	copy(out, streakBuckets)
	for _, m := range metrics {
		for i := range out {
			if out[i].contains(m.Streak) {
				out[i].Count++
				break
			}
		}
	}
	return out
}

// WeeklyGoalAchievementRate is the percentage of users whose weekly progress
// meets their goal. Returns 0 for an empty metric set.
func WeeklyGoalAchievementRate(metrics []analytics.UserLearningMetric) float64 {
	if len(metrics) == 0 {
		return 0
	}
	achieved := 0
	for _, m := range metrics {
		if m.GoalAchieved() {
			achieved++
		}
	}
	return float64(achieved) / float64(len(metrics)) * 100
}

// Summary is the admin overview of a period.
type Summary struct {
	Period                    Period             `json:"period"`
	Range                     timeutil.DateRange `json:"range"`
	ActiveUsers               int                `json:"activeUsers"`
	TotalEvents               int                `json:"totalEvents"`
	AvgEventsPerUser          float64            `json:"avgEventsPerUser"`
	StreakDistribution        []StreakBucket     `json:"streakDistribution"`
	WeeklyGoalAchievementRate float64            `json:"weeklyGoalAchievementRate"`
}

// BuildSummary computes the admin summary for the period ending at ref.
func BuildSummary(events []analytics.LearningEvent, metrics []analytics.UserLearningMetric, p Period, ref timeutil.Date) Summary {
	r := PeriodRange(p, ref)
	inRange := analytics.FilterRange(events, r)

	users := make(map[string]struct{})
	for _, e := range inRange {
		users[e.UserID] = struct{}{}
	}

	var avg float64
	if len(users) > 0 {
		avg = float64(len(inRange)) / float64(len(users))
	}

	return Summary{
		Period:                    p,
		Range:                     r,
		ActiveUsers:               len(users),
		TotalEvents:               len(inRange),
		AvgEventsPerUser:          avg,
		StreakDistribution:        StreakDistribution(metrics),
		WeeklyGoalAchievementRate: WeeklyGoalAchievementRate(metrics),
	}
}
