package analytics

import (
	"sort"

	"github.com/alem-hub/lesson-insights/pkg/timeutil"
)

// DefaultFollowUpWindowDays is how long after an origin event a follow-up still counts.
const DefaultFollowUpWindowDays = 7

// LessonFollowUp holds per-lesson origin and follow-up counts derived from the log.
type LessonFollowUp struct {
	Slug            string         `json:"slug"`
	OriginCount     int            `json:"originCount"`
	FollowedUpCount int            `json:"followedUpCount"`
	FollowUpCounts  map[string]int `json:"followUpCounts"`
	OriginCounts    map[string]int `json:"originCounts"`
}

// DominantOrigin returns the origin event type seen most often for the
// lesson. Ties resolve to the lexically smallest type.
func (f LessonFollowUp) DominantOrigin() string {
	best, bestCount := "", 0
	for t, c := range f.OriginCounts {
		if c > bestCount || (c == bestCount && t < best) {
			best, bestCount = t, c
		}
	}
	return best
}

// LessonFollowUps derives follow-up statistics per lesson.
//
// Origin events are lesson views/completions and review starts that reference
// a lesson. An origin counts as followed up when the same user records an
// event of a different type within [originDate, originDate+windowDays].
// FollowUpCounts counts, per follow-up type, how many origins it followed.
// Results are sorted by slug.
func LessonFollowUps(events []LearningEvent, windowDays int) []LessonFollowUp {
	if windowDays < 0 {
		windowDays = DefaultFollowUpWindowDays
	}

	byUser := make(map[string][]LearningEvent)
	for _, e := range events {
		byUser[e.UserID] = append(byUser[e.UserID], e)
	}

	stats := make(map[string]*LessonFollowUp)
	for _, origin := range events {
		if !origin.EventType.IsOrigin() || origin.ReferenceID == "" {
			continue
		}

		st, ok := stats[origin.ReferenceID]
		if !ok {
			st = &LessonFollowUp{
				Slug:           origin.ReferenceID,
				FollowUpCounts: make(map[string]int),
				OriginCounts:   make(map[string]int),
			}
			stats[origin.ReferenceID] = st
		}
		st.OriginCount++
		st.OriginCounts[string(origin.EventType)]++

		seen := make(map[EventType]struct{})
		for _, e := range byUser[origin.UserID] {
			if e.EventType == origin.EventType {
				continue
			}
			gap := timeutil.DaysBetween(origin.EventDate, e.EventDate)
			if gap < 0 || gap > windowDays {
				continue
			}
			seen[e.EventType] = struct{}{}
		}

		if len(seen) > 0 {
			st.FollowedUpCount++
		}
		for t := range seen {
			st.FollowUpCounts[string(t)]++
		}
	}

	out := make([]LessonFollowUp, 0, len(stats))
	for _, st := range stats {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}
