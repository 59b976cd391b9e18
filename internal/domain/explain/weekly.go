package explain

import (
	"fmt"

	"github.com/alem-hub/lesson-insights/pkg/timeutil"
)

// WeeklyReason is the closed set of weekly-goal reason codes.
type WeeklyReason string

const (
	WeeklyAchieved WeeklyReason = "ACHIEVED"
	WeeklyOnTrack  WeeklyReason = "ON_TRACK"
	WeeklyBehind   WeeklyReason = "BEHIND"
	WeeklyNoGoal   WeeklyReason = "NO_GOAL"
)

// WeeklyInput carries everything the weekly-goal classifier looks at.
type WeeklyInput struct {
	GoalPerWeek           int
	CompletedDaysThisWeek int
	WeekStart             timeutil.Date
	Today                 timeutil.Date
}

// WeeklyGoalExplain is the classified weekly-goal state.
type WeeklyGoalExplain struct {
	GoalPerWeek           int           `json:"goalPerWeek"`
	CompletedDaysThisWeek int           `json:"completedDaysThisWeek"`
	WeekStart             timeutil.Date `json:"weekStart"`
	WeekEnd               timeutil.Date `json:"weekEnd"`
	ReasonCode            WeeklyReason  `json:"reasonCode"`
	Message               string        `json:"message"`
	Details               []string      `json:"details"`
}

func weeklyMessage(reason WeeklyReason, goal, completed int) string {
	switch reason {
	case WeeklyAchieved:
		return fmt.Sprintf("Weekly goal reached: %d of %d days.", completed, goal)
	case WeeklyOnTrack:
		return fmt.Sprintf("On track: %d of %d days so far this week.", completed, goal)
	case WeeklyBehind:
		return fmt.Sprintf("Behind pace: %d of %d days this week. A short session today helps.", completed, goal)
	case WeeklyNoGoal:
		return "No weekly goal set."
	default:
		panic(fmt.Sprintf("explain: unhandled weekly reason %q", reason))
	}
}

// ElapsedDays returns how many days of the week have started by today,
// counting the week's Monday as 1 and capping at 7.
func ElapsedDays(weekStart, today timeutil.Date) int {
	n := timeutil.DaysBetween(weekStart, today) + 1
	switch {
	case n < 1:
		return 1
	case n > 7:
		return 7
	default:
		return n
	}
}

// ExpectedPace is goal × elapsedDays / 7, unrounded.
func ExpectedPace(goal, elapsedDays int) float64 {
	return float64(goal) * float64(elapsedDays) / 7
}

// ExplainWeeklyGoal classifies progress against the weekly goal.
//
// Rules, in order: goal 0 → NO_GOAL; completed ≥ goal → ACHIEVED;
// completed 0 → BEHIND; completed ≥ expected pace → ON_TRACK; else BEHIND.
// The pace is compared unrounded, so equality resolves to ON_TRACK.
func ExplainWeeklyGoal(in WeeklyInput) WeeklyGoalExplain {
	weekEnd := in.WeekStart.AddDays(6)
	elapsed := ElapsedDays(in.WeekStart, in.Today)
	expected := ExpectedPace(in.GoalPerWeek, elapsed)

	details := []string{
		fmt.Sprintf("week=%s..%s", in.WeekStart, weekEnd),
		fmt.Sprintf("goal=%d completed=%d", in.GoalPerWeek, in.CompletedDaysThisWeek),
		fmt.Sprintf("elapsedDays=%d expected=%.2f", elapsed, expected),
	}

	var reason WeeklyReason
	switch {
	case in.GoalPerWeek == 0:
		reason = WeeklyNoGoal
	case in.CompletedDaysThisWeek >= in.GoalPerWeek:
		reason = WeeklyAchieved
	case in.CompletedDaysThisWeek == 0:
		reason = WeeklyBehind
	case float64(in.CompletedDaysThisWeek) >= expected:
		reason = WeeklyOnTrack
	default:
		reason = WeeklyBehind
	}

	details = append(details, fmt.Sprintf("verdict=%s", reason))

	return WeeklyGoalExplain{
		GoalPerWeek:           in.GoalPerWeek,
		CompletedDaysThisWeek: in.CompletedDaysThisWeek,
		WeekStart:             in.WeekStart,
		WeekEnd:               weekEnd,
		ReasonCode:            reason,
		Message:               weeklyMessage(reason, in.GoalPerWeek, in.CompletedDaysThisWeek),
		Details:               details,
	}
}
