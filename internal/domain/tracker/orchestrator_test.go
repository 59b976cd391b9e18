package tracker_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/lesson-insights/internal/domain/improvement"
	"github.com/alem-hub/lesson-insights/internal/domain/shared"
	"github.com/alem-hub/lesson-insights/internal/domain/tracker"
	"github.com/alem-hub/lesson-insights/internal/infrastructure/tracker/memory"
)

func setup(t *testing.T) (*tracker.Orchestrator, *memory.Client, int) {
	t.Helper()
	client := memory.New()
	o := tracker.NewOrchestrator(client)

	issue, err := o.CreateIssue(context.Background(), tracker.IssueParams{
		Title:      "Improve lesson: Loops",
		LessonSlug: "loops",
		HintType:   "exercise",
	})
	require.NoError(t, err)
	return o, client, issue.Number
}

func TestEvaluationMarker_Format(t *testing.T) {
	assert.Equal(t,
		"<!-- eval:lesson_slug=loops issue=42 window=14 -->",
		tracker.EvaluationMarker("loops", 42, 14))
}

func TestCreateIssue_DeterministicLabels(t *testing.T) {
	_, client, n := setup(t)

	issue, ok := client.Issue(n)
	require.True(t, ok)
	assert.Equal(t, tracker.StateOpen, issue.State)
	assert.Equal(t, []string{"hint:exercise", "improvement", "lesson:loops"}, issue.Labels.Sorted())

	p := tracker.IssueParams{LessonSlug: "loops", HintType: "exercise", Extra: []string{"improvement", ""}}
	assert.Equal(t, []string{"hint:exercise", "improvement", "lesson:loops"}, p.Labels())
}

func TestCreateIssue_RequiresTitle(t *testing.T) {
	o := tracker.NewOrchestrator(memory.New())
	_, err := o.CreateIssue(context.Background(), tracker.IssueParams{LessonSlug: "loops"})
	assert.True(t, shared.IsValidation(err))
}

func TestAddLabelToIssue_Idempotent(t *testing.T) {
	o, client, n := setup(t)
	ctx := context.Background()

	require.NoError(t, o.AddLabelToIssue(ctx, n, "needs-redesign"))
	require.NoError(t, o.AddLabelToIssue(ctx, n, "needs-redesign"))

	issue, _ := client.Issue(n)
	assert.True(t, issue.Labels.Has("needs-redesign"))
	assert.Len(t, issue.Labels, 4)
	assert.Equal(t, 1, client.Calls(memory.OpAddLabels))
}

func TestCloseIssue_AlreadyClosed(t *testing.T) {
	o, client, n := setup(t)
	ctx := context.Background()

	require.NoError(t, o.CloseIssue(ctx, n, "closing"))
	require.NoError(t, o.CloseIssue(ctx, n, ""))

	issue, _ := client.Issue(n)
	assert.Equal(t, tracker.StateClosed, issue.State)
	assert.Len(t, issue.Comments, 1)
	assert.Equal(t, 1, client.Calls(memory.OpSetState))
}

func TestCloseIssue_FailureLeavesStateUnchanged(t *testing.T) {
	o, client, n := setup(t)
	client.FailNext(memory.OpSetState, shared.ErrTrackerUnavailable)

	err := o.CloseIssue(context.Background(), n, "closing")

	require.Error(t, err)
	assert.True(t, shared.IsRetryable(err))
	issue, _ := client.Issue(n)
	assert.Equal(t, tracker.StateOpen, issue.State)
}

func TestCloseIssue_NotFound(t *testing.T) {
	o := tracker.NewOrchestrator(memory.New())
	err := o.CloseIssue(context.Background(), 99, "")
	assert.True(t, shared.IsNotFound(err))
}

func TestPostEvaluationReport_Deduplicated(t *testing.T) {
	o, _, n := setup(t)
	ctx := context.Background()

	posted, err := o.PostEvaluationReport(ctx, n, "loops", 14, "report")
	require.NoError(t, err)
	assert.True(t, posted)

	posted, err = o.PostEvaluationReport(ctx, n, "loops", 14, "report again")
	require.NoError(t, err)
	assert.False(t, posted)

	posted, err = o.PostEvaluationReport(ctx, n, "loops", 28, "next window")
	require.NoError(t, err)
	assert.True(t, posted)

	comments, err := o.ListIssueComments(ctx, n)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.True(t, strings.HasSuffix(comments[0].Body, tracker.EvaluationMarker("loops", n, 14)))
	assert.True(t, tracker.HasEvaluationComment(comments, tracker.EvaluationMarker("loops", n, 28)))
	assert.False(t, tracker.HasEvaluationComment(comments, tracker.EvaluationMarker("maps", n, 14)))
}

func TestPlainComments_NotDeduplicated(t *testing.T) {
	o, client, n := setup(t)
	ctx := context.Background()

	redesign := improvement.Evaluate(improvement.Status{EvaluationCount: 2, EffectivenessDelta: 1, ROI: -1})
	require.NoError(t, o.ProcessLifecycleDecision(ctx, n, redesign))
	require.NoError(t, o.ProcessLifecycleDecision(ctx, n, redesign))

	issue, _ := client.Issue(n)
	assert.Len(t, issue.Comments, 2)
	assert.True(t, issue.Labels.Has(improvement.LabelNeedsRedesign))
	assert.Equal(t, tracker.StateOpen, issue.State)
}

func TestProcessLifecycleDecision(t *testing.T) {
	ctx := context.Background()

	t.Run("continue has no side effects", func(t *testing.T) {
		o, client, n := setup(t)
		before := client.Calls(memory.OpGetIssue)

		require.NoError(t, o.ProcessLifecycleDecision(ctx, n, improvement.Evaluate(improvement.Status{EvaluationCount: 1})))

		issue, _ := client.Issue(n)
		assert.Empty(t, issue.Comments)
		assert.Equal(t, tracker.StateOpen, issue.State)
		assert.Equal(t, before, client.Calls(memory.OpGetIssue))
	})

	t.Run("close no effect comments then closes", func(t *testing.T) {
		o, client, n := setup(t)

		require.NoError(t, o.ProcessLifecycleDecision(ctx, n, improvement.Evaluate(improvement.Status{EvaluationCount: 2})))

		issue, _ := client.Issue(n)
		assert.Equal(t, tracker.StateClosed, issue.State)
		require.Len(t, issue.Comments, 1)
		assert.Contains(t, issue.Comments[0].Body, string(improvement.DecisionCloseNoEffect))
	})
}

func TestDecisionMarker_Format(t *testing.T) {
	assert.Equal(t,
		"<!-- decision:lesson_slug=loops issue=42 eval=2 -->",
		tracker.DecisionMarker("loops", 42, 2))
}

func TestPostDecisionComment_OncePerEvaluation(t *testing.T) {
	o, client, n := setup(t)
	ctx := context.Background()
	closeResult := improvement.Evaluate(improvement.Status{EvaluationCount: 2})

	posted, err := o.PostDecisionComment(ctx, n, "loops", 2, closeResult)
	require.NoError(t, err)
	assert.True(t, posted)

	posted, err = o.PostDecisionComment(ctx, n, "loops", 2, closeResult)
	require.NoError(t, err)
	assert.False(t, posted)

	posted, err = o.PostDecisionComment(ctx, n, "loops", 3, closeResult)
	require.NoError(t, err)
	assert.True(t, posted)

	posted, err = o.PostDecisionComment(ctx, n, "loops", 4, improvement.Evaluate(improvement.Status{EvaluationCount: 1}))
	require.NoError(t, err)
	assert.False(t, posted)

	issue, _ := client.Issue(n)
	require.Len(t, issue.Comments, 2)
	assert.True(t, strings.HasSuffix(issue.Comments[0].Body, tracker.DecisionMarker("loops", n, 2)))
	assert.Equal(t, tracker.StateOpen, issue.State)
}

func TestApplyLifecycleDecision_Repeatable(t *testing.T) {
	ctx := context.Background()

	t.Run("close", func(t *testing.T) {
		o, client, n := setup(t)
		r := improvement.Evaluate(improvement.Status{EvaluationCount: 2})

		require.NoError(t, o.ApplyLifecycleDecision(ctx, n, r))
		require.NoError(t, o.ApplyLifecycleDecision(ctx, n, r))

		issue, _ := client.Issue(n)
		assert.Equal(t, tracker.StateClosed, issue.State)
		assert.Empty(t, issue.Comments)
		assert.Equal(t, 1, client.Calls(memory.OpSetState))
	})

	t.Run("redesign", func(t *testing.T) {
		o, client, n := setup(t)
		r := improvement.Evaluate(improvement.Status{EvaluationCount: 2, EffectivenessDelta: 1, ROI: -1})

		require.NoError(t, o.ApplyLifecycleDecision(ctx, n, r))
		require.NoError(t, o.ApplyLifecycleDecision(ctx, n, r))

		issue, _ := client.Issue(n)
		assert.True(t, issue.Labels.Has(improvement.LabelNeedsRedesign))
		assert.Empty(t, issue.Comments)
		assert.Equal(t, 1, client.Calls(memory.OpAddLabels))
	})
}
