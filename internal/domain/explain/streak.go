// Package explain classifies a learner's streak and weekly-goal state into
// reason codes with a fixed message and an ordered, audit-friendly list of
// details. Both classifiers are pure functions.
package explain

import (
	"fmt"

	"github.com/alem-hub/lesson-insights/pkg/timeutil"
)

// StreakReason is the closed set of streak reason codes.
type StreakReason string

const (
	StreakActiveToday     StreakReason = "ACTIVE_TODAY"
	StreakActiveYesterday StreakReason = "ACTIVE_YESTERDAY"
	StreakNoActivityYet   StreakReason = "NO_ACTIVITY_YET"
	StreakBroken          StreakReason = "BROKEN"
	StreakRecovered       StreakReason = "RECOVERED"
)

// StreakInput carries everything the streak classifier looks at.
type StreakInput struct {
	CurrentStreak    int
	LastActivityDate *timeutil.Date
	TodayCount       int
	Today            timeutil.Date
}

// StreakExplain is the classified streak state.
type StreakExplain struct {
	CurrentStreak    int            `json:"currentStreak"`
	TodayCount       int            `json:"todayCount"`
	LastActivityDate *timeutil.Date `json:"lastActivityDate"`
	ReasonCode       StreakReason   `json:"reasonCode"`
	Message          string         `json:"message"`
	Details          []string       `json:"details"`
}

// streakMessage is the template table; every reason code has exactly one entry
// (ACTIVE_YESTERDAY varies by whether today already has activity).
func streakMessage(reason StreakReason, streak, todayCount int) string {
	switch reason {
	case StreakActiveToday:
		return fmt.Sprintf("You studied today. Your streak is %d days.", streak)
	case StreakActiveYesterday:
		if todayCount > 0 {
			return fmt.Sprintf("You already have activity today. Your %d-day streak continues.", streak)
		}
		return fmt.Sprintf("Study today to keep your %d-day streak.", streak)
	case StreakNoActivityYet:
		return "No learning activity yet. Start your first streak today."
	case StreakBroken:
		return "Your streak was broken. Study today to start a new one."
	case StreakRecovered:
		return "Welcome back. You started a new streak today."
	default:
		panic(fmt.Sprintf("explain: unhandled streak reason %q", reason))
	}
}

// ExplainStreak classifies the streak state.
//
// Rules, in order: last activity today → ACTIVE_TODAY; yesterday →
// ACTIVE_YESTERDAY; no last activity and nothing today → NO_ACTIVITY_YET;
// otherwise (gap of two or more days, or no last activity) activity today
// means RECOVERED and no activity today means BROKEN.
func ExplainStreak(in StreakInput) StreakExplain {
	details := []string{
		fmt.Sprintf("todayCount=%d", in.TodayCount),
		fmt.Sprintf("lastActivityDate=%s", formatOptionalDate(in.LastActivityDate)),
	}

	var reason StreakReason
	switch {
	case in.LastActivityDate == nil && in.TodayCount == 0:
		reason = StreakNoActivityYet
	case in.LastActivityDate == nil:
		details = append(details, "gapDays=none")
		reason = StreakRecovered
	default:
		gap := timeutil.DaysBetween(*in.LastActivityDate, in.Today)
		details = append(details, fmt.Sprintf("gapDays=%d", gap))
		switch {
		case gap <= 0:
			// A last activity date after today is a contract violation
			// upstream; it is treated as today.
			reason = StreakActiveToday
		case gap == 1:
			reason = StreakActiveYesterday
		case in.TodayCount > 0:
			reason = StreakRecovered
		default:
			reason = StreakBroken
		}
	}

	details = append(details, fmt.Sprintf("verdict=%s", reason))

	return StreakExplain{
		CurrentStreak:    in.CurrentStreak,
		TodayCount:       in.TodayCount,
		LastActivityDate: in.LastActivityDate,
		ReasonCode:       reason,
		Message:          streakMessage(reason, in.CurrentStreak, in.TodayCount),
		Details:          details,
	}
}

func formatOptionalDate(d *timeutil.Date) string {
	if d == nil {
		return "none"
	}
	return d.String()
}
