package analytics

import (
	"github.com/alem-hub/lesson-insights/internal/domain/shared"
	"github.com/alem-hub/lesson-insights/pkg/timeutil"
)

// TrendMode selects the bucket size of a trend series.
type TrendMode string

const (
	TrendDaily  TrendMode = "daily"
	TrendWeekly TrendMode = "weekly"
)

// Fixed series lengths; trends are always full length regardless of sparsity.
const (
	DailyTrendPoints  = 30
	WeeklyTrendPoints = 12
)

// ParseTrendMode validates a trend mode string.
func ParseTrendMode(s string) (TrendMode, error) {
	switch TrendMode(s) {
	case TrendDaily, TrendWeekly:
		return TrendMode(s), nil
	default:
		return "", shared.ErrUnknownTrendMode
	}
}

// TrendPoint is one point of a trend series. X is a day, or a week's Monday.
type TrendPoint struct {
	X timeutil.Date `json:"x"`
	Y int           `json:"y"`
}

// Trend builds a fixed-length series: 30 daily points or 12 weekly points.
// Any mode other than weekly is treated as daily.
func Trend(events []LearningEvent, mode TrendMode, today timeutil.Date) []TrendPoint {
	var buckets []DayCount
	if mode == TrendWeekly {
		buckets = AggregateByWeek(events, timeutil.WeeklyRange(WeeklyTrendPoints, today))
	} else {
		buckets = AggregateByDay(events, timeutil.DailyRange(DailyTrendPoints, today))
	}

	points := make([]TrendPoint, len(buckets))
	for i, b := range buckets {
		points[i] = TrendPoint{X: b.Date, Y: b.Count}
	}
	return points
}
