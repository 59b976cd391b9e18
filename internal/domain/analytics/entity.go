// Package analytics contains the learning event model and the pure
// aggregation logic built on top of it: day/week bucketing, heatmaps,
// trends and per-lesson follow-up statistics.
// This is a pure domain layer; nothing here performs I/O.
package analytics

import (
	"strings"

	"github.com/alem-hub/lesson-insights/internal/domain/shared"
	"github.com/alem-hub/lesson-insights/pkg/timeutil"
)

// EventType identifies what kind of learning action an event records.
type EventType string

const (
	EventLessonViewed    EventType = "lesson_viewed"
	EventLessonCompleted EventType = "lesson_completed"
	EventReviewStarted   EventType = "review_started"
	EventReviewCompleted EventType = "review_completed"
	EventQuizStarted     EventType = "quiz_started"
	EventQuizCompleted   EventType = "quiz_completed"
	EventNoteCreated     EventType = "note_created"
)

// IsOrigin reports whether the event type is an origin event, i.e. the
// initial tracked action whose downstream follow-up is measured.
func (t EventType) IsOrigin() bool {
	switch t {
	case EventLessonViewed, EventLessonCompleted, EventReviewStarted:
		return true
	default:
		return false
	}
}

// LearningEvent is a single immutable entry of the append-only event log.
type LearningEvent struct {
	UserID    string        `json:"userId"`
	EventType EventType     `json:"eventType"`
	EventDate timeutil.Date `json:"eventDate"`

	// ReferenceID is the lesson slug or other referenced entity; empty when absent.
	ReferenceID string `json:"referenceId,omitempty"`
}

// Validate rejects malformed events at ingestion.
func (e LearningEvent) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return shared.ErrEmptyUserID
	}
	if strings.TrimSpace(string(e.EventType)) == "" {
		return shared.ErrEmptyEventType
	}
	if e.EventDate.IsZero() {
		return shared.ErrMissingEventDate
	}
	return nil
}

// UserLearningMetric is the derived, read-mostly per-user habit state.
type UserLearningMetric struct {
	UserID         string         `json:"userId"`
	Streak         int            `json:"streak"`
	LastEventDate  *timeutil.Date `json:"lastEventDate"`
	WeeklyGoal     int            `json:"weeklyGoal"`
	WeeklyProgress int            `json:"weeklyProgress"`
}

// Validate rejects malformed metrics at ingestion.
func (m UserLearningMetric) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return shared.ErrEmptyUserID
	}
	if m.Streak < 0 {
		return shared.ErrNegativeStreak
	}
	if m.WeeklyGoal < 0 {
		return shared.ErrNegativeGoal
	}
	if m.WeeklyProgress < 0 {
		return shared.ErrNegativeProgress
	}
	return nil
}

// GoalAchieved reports whether weekly progress meets the goal.
// Equality counts as achieved.
func (m UserLearningMetric) GoalAchieved() bool {
	return m.WeeklyProgress >= m.WeeklyGoal
}

// FilterRange returns the events whose date falls inside r, preserving order.
func FilterRange(events []LearningEvent, r timeutil.DateRange) []LearningEvent {
	out := make([]LearningEvent, 0, len(events))
	for _, e := range events {
		if r.Contains(e.EventDate) {
			out = append(out, e)
		}
	}
	return out
}

// CountOn returns how many events happened on the given date.
func CountOn(events []LearningEvent, day timeutil.Date) int {
	n := 0
	for _, e := range events {
		if e.EventDate == day {
			n++
		}
	}
	return n
}

// ActiveDays returns the number of distinct dates with at least one event in r.
func ActiveDays(events []LearningEvent, r timeutil.DateRange) int {
	seen := make(map[timeutil.Date]struct{})
	for _, e := range events {
		if r.Contains(e.EventDate) {
			seen[e.EventDate] = struct{}{}
		}
	}
	return len(seen)
}
