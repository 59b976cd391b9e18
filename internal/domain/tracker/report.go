package tracker

import (
	"fmt"
	"strings"

	"github.com/alem-hub/lesson-insights/internal/domain/improvement"
)

// IssueBody renders the description of a new improvement issue.
func IssueBody(item improvement.PriorityItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Lesson `%s` has a follow-up rate of %d%% over %d origin events.\n\n",
		item.LessonSlug, item.FollowUpRate, item.OriginCount)
	b.WriteString("| factor | value |\n|---|---|\n")
	fmt.Fprintf(&b, "| score | %.2f |\n", item.Priority.Score)
	fmt.Fprintf(&b, "| roiScore | %.2f |\n", item.Priority.Breakdown.ROIScore)
	fmt.Fprintf(&b, "| strategyWeight | %.2f |\n", item.Priority.Breakdown.StrategyWeight)
	fmt.Fprintf(&b, "| hintWeight | %.2f |\n", item.Priority.Breakdown.HintWeight)
	fmt.Fprintf(&b, "| originWeight | %.2f |\n", item.Priority.Breakdown.OriginWeight)
	return b.String()
}

// IssueTitle renders the title of a new improvement issue.
func IssueTitle(item improvement.PriorityItem) string {
	title := item.LessonTitle
	if title == "" {
		title = item.LessonSlug
	}
	return fmt.Sprintf("Improve lesson: %s", title)
}

// EvaluationReport renders the body of an evaluation comment. The marker is
// appended by PostEvaluationReport.
func EvaluationReport(s improvement.Status, r improvement.LifecycleResult, baselineRate, currentRate int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### Evaluation #%d\n\n", s.EvaluationCount)
	fmt.Fprintf(&b, "- follow-up rate: %d%% → %d%%\n", baselineRate, currentRate)
	fmt.Fprintf(&b, "- effectiveness delta: %.2f\n", s.EffectivenessDelta)
	fmt.Fprintf(&b, "- roi: %.2f\n", s.ROI)
	fmt.Fprintf(&b, "- decision: %s (%s)\n", r.Decision, r.Reason)
	return b.String()
}
