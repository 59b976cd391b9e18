package analytics

import (
	"github.com/alem-hub/lesson-insights/pkg/timeutil"
)

// DayCount is the event count of one bucket (a day, or a week keyed by its Monday).
type DayCount struct {
	Date  timeutil.Date `json:"date"`
	Count int           `json:"count"`
}

// AggregateByDay counts events per day of dayRange. The output always has
// len(dayRange) entries in the same order; events outside the range are
// dropped silently.
func AggregateByDay(events []LearningEvent, dayRange []timeutil.Date) []DayCount {
	index := make(map[timeutil.Date]int, len(dayRange))
	out := make([]DayCount, len(dayRange))
	for i, d := range dayRange {
		out[i] = DayCount{Date: d}
		index[d] = i
	}

	for _, e := range events {
		if i, ok := index[e.EventDate]; ok {
			out[i].Count++
		}
	}
	return out
}

// AggregateByWeek counts events per 7-day window starting at each week start.
// Windows are [start, start+6]; events outside every window are dropped.
func AggregateByWeek(events []LearningEvent, weekStarts []timeutil.Date) []DayCount {
	out := make([]DayCount, len(weekStarts))
	for i, w := range weekStarts {
		out[i] = DayCount{Date: w}
	}
	if len(weekStarts) == 0 {
		return out
	}

	for _, e := range events {
		for i, w := range weekStarts {
			offset := timeutil.DaysBetween(w, e.EventDate)
			if offset >= 0 && offset < 7 {
				out[i].Count++
				break
			}
		}
	}
	return out
}

// Total sums bucket counts.
func Total(buckets []DayCount) int {
	n := 0
	for _, b := range buckets {
		n += b.Count
	}
	return n
}
