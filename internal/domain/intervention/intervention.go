// Package intervention maps a learner's habit and risk state to at most one
// intervention (a nudge shown to the learner).
package intervention

import (
	"context"

	"github.com/alem-hub/lesson-insights/internal/domain/explain"
	"github.com/alem-hub/lesson-insights/internal/domain/shared"
)

// HabitState is the coarse habit health of a learner.
type HabitState string

const (
	HabitStable  HabitState = "stable"
	HabitWarning HabitState = "warning"
	HabitDanger  HabitState = "danger"
)

// ParseHabitState validates a habit state string.
func ParseHabitState(s string) (HabitState, error) {
	switch HabitState(s) {
	case HabitStable, HabitWarning, HabitDanger:
		return HabitState(s), nil
	default:
		return "", shared.ErrUnknownHabitState
	}
}

// Kind is the intervention variant.
type Kind string

const (
	KindStreakRescue  Kind = "STREAK_RESCUE"
	KindWeeklyCatchup Kind = "WEEKLY_CATCHUP"
	KindPositive      Kind = "POSITIVE"
)

// Loggable reports whether showing this intervention triggers an analytics
// side effect. Only the rescue variants are logged.
func (k Kind) Loggable() bool {
	return k == KindStreakRescue || k == KindWeeklyCatchup
}

// ctaByKind is the fixed call-to-action table. POSITIVE has no CTA.
var ctaByKind = map[Kind]string{
	KindStreakRescue:  "Start a 5-minute review",
	KindWeeklyCatchup: "Plan a study session",
}

var messageByKind = map[Kind]string{
	KindStreakRescue:  "Your streak ends tonight unless you study today.",
	KindWeeklyCatchup: "You are behind on your weekly goal. One session today gets you back on track.",
	KindPositive:      "Great rhythm. Keep it up.",
}

// CTA returns the fixed call-to-action for a kind, empty for POSITIVE.
func CTA(k Kind) string {
	return ctaByKind[k]
}

// Intervention is a resolved nudge.
type Intervention struct {
	Kind    Kind   `json:"type"`
	Message string `json:"message"`
	CTA     string `json:"cta,omitempty"`
}

func newIntervention(k Kind) *Intervention {
	return &Intervention{Kind: k, Message: messageByKind[k], CTA: ctaByKind[k]}
}

// IsStreakAtRisk is true when the learner studied yesterday and has a streak to lose.
func IsStreakAtRisk(s explain.StreakExplain) bool {
	return s.ReasonCode == explain.StreakActiveYesterday && s.CurrentStreak > 0
}

// IsWeeklyAtRisk is true when the learner is behind the weekly pace.
func IsWeeklyAtRisk(w explain.WeeklyGoalExplain) bool {
	return w.ReasonCode == explain.WeeklyBehind
}

// Decide resolves the intervention for a learner; the first matching rule wins:
//
//  1. danger and streak at risk → STREAK_RESCUE
//  2. warning and weekly at risk → WEEKLY_CATCHUP
//  3. stable → POSITIVE
//  4. danger with weekly risk → WEEKLY_CATCHUP
//  5. warning with streak risk → STREAK_RESCUE
//  6. otherwise nil
func Decide(state HabitState, streak explain.StreakExplain, weekly explain.WeeklyGoalExplain) *Intervention {
	streakRisk := IsStreakAtRisk(streak)
	weeklyRisk := IsWeeklyAtRisk(weekly)

	switch {
	case state == HabitDanger && streakRisk:
		return newIntervention(KindStreakRescue)
	case state == HabitWarning && weeklyRisk:
		return newIntervention(KindWeeklyCatchup)
	case state == HabitStable:
		return newIntervention(KindPositive)
	case state == HabitDanger && weeklyRisk:
		return newIntervention(KindWeeklyCatchup)
	case state == HabitWarning && streakRisk:
		return newIntervention(KindStreakRescue)
	default:
		return nil
	}
}

// Recorder receives loggable interventions as an analytics side effect.
type Recorder interface {
	RecordIntervention(ctx context.Context, userID string, in Intervention) error
}

// Engine resolves interventions and records the loggable ones.
type Engine struct {
	recorder Recorder
}

// NewEngine creates an Engine. A nil recorder disables recording.
func NewEngine(recorder Recorder) *Engine {
	return &Engine{recorder: recorder}
}

// Resolve decides the intervention for a user and records it when loggable.
// The decision is returned even if recording fails.
func (e *Engine) Resolve(ctx context.Context, userID string, state HabitState, streak explain.StreakExplain, weekly explain.WeeklyGoalExplain) (*Intervention, error) {
	in := Decide(state, streak, weekly)
	if in == nil || !in.Kind.Loggable() || e.recorder == nil {
		return in, nil
	}
	if err := e.recorder.RecordIntervention(ctx, userID, *in); err != nil {
		return in, err
	}
	return in, nil
}
