package tracker

import (
	"context"
	"fmt"
	"strings"

	"github.com/alem-hub/lesson-insights/internal/domain/improvement"
	"github.com/alem-hub/lesson-insights/internal/domain/shared"
)

// Orchestrator applies improvement lifecycle decisions to tracker issues.
// Labels are a set and closing a closed issue is a no-op. Evaluation
// reports and decision comments are guarded by markers; plain comments
// passed to CloseIssue are not deduplicated.
type Orchestrator struct {
	client Client
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(client Client) *Orchestrator {
	return &Orchestrator{client: client}
}

// CreateIssue opens an improvement issue with its derived label set.
func (o *Orchestrator) CreateIssue(ctx context.Context, p IssueParams) (*Issue, error) {
	if strings.TrimSpace(p.Title) == "" {
		return nil, shared.ErrEmptyIssueTitle
	}
	issue, err := o.client.CreateIssue(ctx, p.Title, p.Body, p.Labels())
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	return issue, nil
}

// AddLabelToIssue adds a label unless the issue already has it.
func (o *Orchestrator) AddLabelToIssue(ctx context.Context, number int, label string) error {
	if strings.TrimSpace(label) == "" {
		return shared.ErrEmptyLabel
	}
	issue, err := o.client.GetIssue(ctx, number)
	if err != nil {
		return fmt.Errorf("get issue #%d: %w", number, err)
	}
	if issue.Labels.Has(label) {
		return nil
	}
	if err := o.client.AddLabels(ctx, number, []string{label}); err != nil {
		return fmt.Errorf("add label %q to #%d: %w", label, number, err)
	}
	return nil
}

// CloseIssue posts the comment (when non-empty) and closes the issue if it
// is still open. Closing an already closed issue succeeds.
func (o *Orchestrator) CloseIssue(ctx context.Context, number int, comment string) error {
	issue, err := o.client.GetIssue(ctx, number)
	if err != nil {
		return fmt.Errorf("get issue #%d: %w", number, err)
	}
	if comment != "" {
		if _, err := o.client.CreateComment(ctx, number, comment); err != nil {
			return fmt.Errorf("comment on #%d: %w", number, err)
		}
	}
	if issue.State == StateClosed {
		return nil
	}
	if err := o.client.SetState(ctx, number, StateClosed); err != nil {
		return fmt.Errorf("close #%d: %w", number, err)
	}
	return nil
}

// ListIssueComments returns all comments of an issue.
func (o *Orchestrator) ListIssueComments(ctx context.Context, number int) ([]Comment, error) {
	comments, err := o.client.ListComments(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("list comments of #%d: %w", number, err)
	}
	return comments, nil
}

// PostEvaluationReport posts body with the evaluation marker appended,
// unless a comment with the same marker already exists. It reports whether
// a comment was posted.
func (o *Orchestrator) PostEvaluationReport(ctx context.Context, number int, lessonSlug string, windowDays int, body string) (bool, error) {
	posted, err := o.postOnce(ctx, number, EvaluationMarker(lessonSlug, number, windowDays), body)
	if err != nil {
		return false, fmt.Errorf("post evaluation report on #%d: %w", number, err)
	}
	return posted, nil
}

// PostDecisionComment posts the lifecycle decision comment for the given
// evaluation once. CONTINUE posts nothing.
func (o *Orchestrator) PostDecisionComment(ctx context.Context, number int, lessonSlug string, evaluation int, r improvement.LifecycleResult) (bool, error) {
	switch r.Decision {
	case improvement.DecisionCloseNoEffect, improvement.DecisionRedesignRequired:
	default:
		return false, nil
	}
	posted, err := o.postOnce(ctx, number, DecisionMarker(lessonSlug, number, evaluation), decisionComment(r))
	if err != nil {
		return false, fmt.Errorf("post decision on #%d: %w", number, err)
	}
	return posted, nil
}

// ApplyLifecycleDecision performs the state change of a decision without
// commenting: CLOSE closes the issue if open, REDESIGN adds the label if
// missing. Repeating it has no further effect.
func (o *Orchestrator) ApplyLifecycleDecision(ctx context.Context, number int, r improvement.LifecycleResult) error {
	switch r.Decision {
	case improvement.DecisionCloseNoEffect:
		return o.CloseIssue(ctx, number, "")
	case improvement.DecisionRedesignRequired:
		if r.ShouldAddLabel {
			return o.AddLabelToIssue(ctx, number, r.LabelToAdd)
		}
		return nil
	default:
		return nil
	}
}

// ProcessLifecycleDecision applies a lifecycle result to the issue: CLOSE
// comments then closes, REDESIGN comments then labels. CONTINUE has no side
// effects. The comment is unguarded; callers that may repeat a decision use
// PostDecisionComment with ApplyLifecycleDecision instead.
func (o *Orchestrator) ProcessLifecycleDecision(ctx context.Context, number int, r improvement.LifecycleResult) error {
	switch r.Decision {
	case improvement.DecisionCloseNoEffect:
		return o.CloseIssue(ctx, number, decisionComment(r))

	case improvement.DecisionRedesignRequired:
		if _, err := o.client.CreateComment(ctx, number, decisionComment(r)); err != nil {
			return fmt.Errorf("comment on #%d: %w", number, err)
		}
		return o.ApplyLifecycleDecision(ctx, number, r)

	default:
		return nil
	}
}

// postOnce appends marker to body and posts it unless an existing comment
// already carries the marker.
func (o *Orchestrator) postOnce(ctx context.Context, number int, marker, body string) (bool, error) {
	comments, err := o.ListIssueComments(ctx, number)
	if err != nil {
		return false, err
	}
	if HasEvaluationComment(comments, marker) {
		return false, nil
	}
	if _, err := o.client.CreateComment(ctx, number, body+"\n\n"+marker); err != nil {
		return false, err
	}
	return true, nil
}

func decisionComment(r improvement.LifecycleResult) string {
	return fmt.Sprintf("Lifecycle decision: **%s**\n\nReason: %s", r.Decision, r.Reason)
}
