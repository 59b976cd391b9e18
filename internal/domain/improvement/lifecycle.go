package improvement

import "time"

// MinEvaluations is the number of evaluations required before a lifecycle
// decision other than CONTINUE can be made.
const MinEvaluations = 2

// LabelNeedsRedesign marks issues whose improvement helped but did not pay off.
const LabelNeedsRedesign = "needs-redesign"

// Decision is the lifecycle outcome of an evaluated improvement.
type Decision string

const (
	DecisionContinue         Decision = "CONTINUE"
	DecisionCloseNoEffect    Decision = "CLOSE_NO_EFFECT"
	DecisionRedesignRequired Decision = "REDESIGN_REQUIRED"
)

// Status is the accumulated evaluation state of an improvement.
type Status struct {
	ImprovementID      string     `json:"improvementId"`
	PriorityScore      float64    `json:"priorityScore"`
	EffectivenessDelta float64    `json:"effectivenessDelta"`
	ROI                float64    `json:"roi"`
	EvaluationCount    int        `json:"evaluationCount"`
	LastEvaluatedAt    *time.Time `json:"lastEvaluatedAt,omitempty"`
}

// Record stores a new measurement and bumps the evaluation count.
func (s *Status) Record(e Effectiveness, at time.Time) {
	s.EffectivenessDelta = e.Delta
	s.ROI = e.ROI
	s.EvaluationCount++
	t := at.UTC()
	s.LastEvaluatedAt = &t
}

// LifecycleResult tells the orchestrator what to do with the tracked issue.
type LifecycleResult struct {
	Decision       Decision `json:"decision"`
	Reason         string   `json:"reason"`
	ShouldClose    bool     `json:"shouldClose"`
	ShouldAddLabel bool     `json:"shouldAddLabel"`
	LabelToAdd     string   `json:"labelToAdd,omitempty"`
}

// Evaluate applies the lifecycle rules in order; the first match wins.
// delta == 0 and roi == 0 closes the improvement.
func Evaluate(s Status) LifecycleResult {
	switch {
	case s.EvaluationCount < MinEvaluations:
		return LifecycleResult{Decision: DecisionContinue, Reason: "evaluation count insufficient"}
	case s.EffectivenessDelta <= 0 && s.ROI <= 0:
		return LifecycleResult{
			Decision:    DecisionCloseNoEffect,
			Reason:      "no measurable effect after evaluation window",
			ShouldClose: true,
		}
	case s.EffectivenessDelta > 0 && s.ROI < 0:
		return LifecycleResult{
			Decision:       DecisionRedesignRequired,
			Reason:         "positive effect but negative return",
			ShouldAddLabel: true,
			LabelToAdd:     LabelNeedsRedesign,
		}
	default:
		return LifecycleResult{Decision: DecisionContinue, Reason: "ongoing monitoring"}
	}
}
