package analytics

import (
	"github.com/alem-hub/lesson-insights/pkg/timeutil"
)

// DefaultHeatmapDays is twelve weeks of daily cells.
const DefaultHeatmapDays = 84

// HeatmapLevel is the discretized intensity of a heatmap cell.
type HeatmapLevel int

const (
	HeatmapNone   HeatmapLevel = 0
	HeatmapLow    HeatmapLevel = 1
	HeatmapMedium HeatmapLevel = 2
	HeatmapHigh   HeatmapLevel = 3
)

// Level boundaries are locked: 1–2 low, 3–4 medium, 5+ high.
const (
	heatmapLowMax    = 2
	heatmapMediumMax = 4
)

// HeatmapDay is one cell of the activity heatmap.
type HeatmapDay struct {
	Date  timeutil.Date `json:"date"`
	Count int           `json:"count"`
	Level HeatmapLevel  `json:"level"`
}

// HeatmapLevelFor maps a day's event count to its intensity level.
func HeatmapLevelFor(count int) HeatmapLevel {
	switch {
	case count <= 0:
		return HeatmapNone
	case count <= heatmapLowMax:
		return HeatmapLow
	case count <= heatmapMediumMax:
		return HeatmapMedium
	default:
		return HeatmapHigh
	}
}

// Heatmap builds exactly `days` ascending cells ending at today, gap-filled
// with zero counts. days <= 0 falls back to DefaultHeatmapDays.
func Heatmap(events []LearningEvent, days int, today timeutil.Date) []HeatmapDay {
	if days <= 0 {
		days = DefaultHeatmapDays
	}

	buckets := AggregateByDay(events, timeutil.DailyRange(days, today))
	out := make([]HeatmapDay, len(buckets))
	for i, b := range buckets {
		out[i] = HeatmapDay{
			Date:  b.Date,
			Count: b.Count,
			Level: HeatmapLevelFor(b.Count),
		}
	}
	return out
}
