package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/lesson-insights/internal/domain/analytics"
	"github.com/alem-hub/lesson-insights/internal/domain/improvement"
	"github.com/alem-hub/lesson-insights/internal/domain/shared"
	"github.com/alem-hub/lesson-insights/internal/domain/tracker"
	"github.com/alem-hub/lesson-insights/internal/infrastructure/tracker/memory"
	"github.com/alem-hub/lesson-insights/pkg/retry"
	"github.com/alem-hub/lesson-insights/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeEvents struct {
	mu       sync.Mutex
	events   []analytics.LearningEvent
	failNext error
}

func (f *fakeEvents) Append(_ context.Context, events []analytics.LearningEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.events = append(f.events, events...)
	return nil
}

func (f *fakeEvents) EventsForUser(_ context.Context, userID string, r timeutil.DateRange) ([]analytics.LearningEvent, error) {
	var out []analytics.LearningEvent
	for _, e := range analytics.FilterRange(f.events, r) {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEvents) EventsInRange(_ context.Context, r timeutil.DateRange) ([]analytics.LearningEvent, error) {
	return analytics.FilterRange(f.events, r), nil
}

func (f *fakeEvents) EventsForReference(_ context.Context, _ string, r timeutil.DateRange) ([]analytics.LearningEvent, error) {
	return analytics.FilterRange(f.events, r), nil
}

type fakeCache struct {
	invalidated []string
	err         error
}

func (c *fakeCache) Get(context.Context, string) (*analytics.UserLearningMetric, error) {
	return nil, shared.ErrNotFound
}
func (c *fakeCache) Set(context.Context, *analytics.UserLearningMetric) error { return nil }
func (c *fakeCache) Invalidate(_ context.Context, ids ...string) error {
	c.invalidated = append(c.invalidated, ids...)
	return c.err
}

type fakeRepo struct {
	mu       sync.Mutex
	items    map[string]*improvement.Improvement
	failSave error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{items: make(map[string]*improvement.Improvement)}
}

func (r *fakeRepo) Create(_ context.Context, imp *improvement.Improvement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if existing.LessonSlug == imp.LessonSlug && !existing.Closed {
			return shared.ErrImprovementExists
		}
	}
	cp := *imp
	r.items[imp.ID] = &cp
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id string) (*improvement.Improvement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	imp, ok := r.items[id]
	if !ok {
		return nil, shared.ErrImprovementNotFound
	}
	cp := *imp
	return &cp, nil
}

func (r *fakeRepo) GetOpenByLesson(_ context.Context, slug string) (*improvement.Improvement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, imp := range r.items {
		if imp.LessonSlug == slug && !imp.Closed {
			cp := *imp
			return &cp, nil
		}
	}
	return nil, shared.ErrImprovementNotFound
}

func (r *fakeRepo) ListOpen(context.Context) ([]*improvement.Improvement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*improvement.Improvement
	for _, imp := range r.items {
		if !imp.Closed {
			cp := *imp
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) SaveStatus(_ context.Context, s improvement.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSave != nil {
		err := r.failSave
		r.failSave = nil
		return err
	}
	imp, ok := r.items[s.ImprovementID]
	if !ok {
		return shared.ErrImprovementNotFound
	}
	imp.Status = s
	return nil
}

func (r *fakeRepo) MarkClosed(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	imp, ok := r.items[id]
	if !ok {
		return shared.ErrImprovementNotFound
	}
	imp.Closed = true
	return nil
}

type fakeCatalog map[string]improvement.Lesson

func (c fakeCatalog) Lessons(context.Context) (map[string]improvement.Lesson, error) {
	return c, nil
}

var fixedNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

// lessonEvents builds `origins` lesson_viewed events for slug on day, of
// which the first `followed` users also start a quiz the next day.
func lessonEvents(slug string, day timeutil.Date, origins, followed int) []analytics.LearningEvent {
	var out []analytics.LearningEvent
	for i := 0; i < origins; i++ {
		user := fmt.Sprintf("%s-u%d", slug, i)
		out = append(out, analytics.LearningEvent{
			UserID: user, EventType: analytics.EventLessonViewed, EventDate: day, ReferenceID: slug,
		})
		if i < followed {
			out = append(out, analytics.LearningEvent{
				UserID: user, EventType: analytics.EventQuizStarted, EventDate: day.AddDays(1),
			})
		}
	}
	return out
}

func noRetry() *retry.Retrier { return retry.New(retry.WithMaxAttempts(1)) }

// fastRetry is the tracker retry policy without the waits.
func fastRetry() *retry.Retrier {
	return retry.TrackerRetrier(shared.IsRetryable,
		retry.WithInitialDelay(time.Millisecond),
		retry.WithMaxDelay(time.Millisecond),
		retry.WithJitter(0),
	)
}

func countComments(issue tracker.Issue, substr string) int {
	n := 0
	for _, c := range issue.Comments {
		if strings.Contains(c.Body, substr) {
			n++
		}
	}
	return n
}

// ══════════════════════════════════════════════════════════════════════════════
// INGEST
// ══════════════════════════════════════════════════════════════════════════════

func TestIngestEvents_AppendsAndInvalidates(t *testing.T) {
	store := &fakeEvents{}
	cache := &fakeCache{}
	h := NewIngestEventsHandler(store, cache, nil)

	day := timeutil.MustParseDate("2024-03-01")
	res, err := h.Handle(context.Background(), IngestEventsCommand{Events: []analytics.LearningEvent{
		{UserID: "a", EventType: analytics.EventLessonViewed, EventDate: day},
		{UserID: "b", EventType: analytics.EventLessonViewed, EventDate: day},
		{UserID: "a", EventType: analytics.EventQuizStarted, EventDate: day},
	}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Accepted)
	assert.Equal(t, []string{"a", "b"}, res.Users)
	assert.Equal(t, []string{"a", "b"}, cache.invalidated)
	assert.Len(t, store.events, 3)
}

func TestIngestEvents_RejectsWholeBatch(t *testing.T) {
	store := &fakeEvents{}
	h := NewIngestEventsHandler(store, nil, nil)

	_, err := h.Handle(context.Background(), IngestEventsCommand{Events: []analytics.LearningEvent{
		{UserID: "a", EventType: analytics.EventLessonViewed, EventDate: timeutil.MustParseDate("2024-03-01")},
		{UserID: "b", EventType: analytics.EventLessonViewed},
	}})
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
	assert.Contains(t, err.Error(), "event 1")
	assert.Empty(t, store.events)
}

func TestIngestEvents_CacheFailureIsNotFatal(t *testing.T) {
	cache := &fakeCache{err: errors.New("redis down")}
	h := NewIngestEventsHandler(&fakeEvents{}, cache, nil)

	res, err := h.Handle(context.Background(), IngestEventsCommand{Events: []analytics.LearningEvent{
		{UserID: "a", EventType: analytics.EventLessonViewed, EventDate: timeutil.MustParseDate("2024-03-01")},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)
}

type fakeMetricWriter struct{ written []analytics.UserLearningMetric }

func (w *fakeMetricWriter) Upsert(_ context.Context, m []analytics.UserLearningMetric) error {
	w.written = append(w.written, m...)
	return nil
}

func TestUpsertMetrics(t *testing.T) {
	w := &fakeMetricWriter{}
	cache := &fakeCache{}
	h := NewUpsertMetricsHandler(w, cache, nil)

	n, err := h.Handle(context.Background(), UpsertMetricsCommand{Metrics: []analytics.UserLearningMetric{
		{UserID: "a", Streak: 3, WeeklyGoal: 4, WeeklyProgress: 1},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a"}, cache.invalidated)

	_, err = h.Handle(context.Background(), UpsertMetricsCommand{Metrics: []analytics.UserLearningMetric{
		{UserID: "b", Streak: -1},
	}})
	assert.ErrorIs(t, err, shared.ErrNegativeValue)
	assert.Len(t, w.written, 1)
}

// ══════════════════════════════════════════════════════════════════════════════
// OPEN ISSUES
// ══════════════════════════════════════════════════════════════════════════════

func newOpenIssues(events *fakeEvents, repo *fakeRepo, client *memory.Client) *OpenIssuesHandler {
	h := NewOpenIssuesHandler(
		events,
		fakeCatalog{"loops": {Slug: "loops", Title: "Loops", HintType: "exercise"}},
		repo,
		tracker.NewOrchestrator(client),
		improvement.NewScorer(improvement.DefaultWeights()),
		OpenIssuesConfig{},
		nil,
	)
	h.retrier = noRetry()
	h.now = func() time.Time { return fixedNow }
	return h
}

func TestOpenIssues_OpensOncePerLesson(t *testing.T) {
	day := timeutil.MustParseDate("2024-03-01")
	events := &fakeEvents{}
	events.events = append(lessonEvents("loops", day, 6, 1), lessonEvents("maps", day, 2, 0)...)
	repo := newFakeRepo()
	client := memory.New()
	h := newOpenIssues(events, repo, client)

	res, err := h.Handle(context.Background(), OpenIssuesCommand{})
	require.NoError(t, err)

	// maps is low-sample and never actionable.
	require.Len(t, res.Candidates, 1)
	require.Len(t, res.Opened, 1)
	opened := res.Opened[0]
	assert.Equal(t, "loops", opened.LessonSlug)

	issue, ok := client.Issue(opened.IssueNumber)
	require.True(t, ok)
	assert.Equal(t, "Improve lesson: Loops", issue.Title)
	assert.True(t, issue.Labels.Has("lesson:loops"))

	imp, err := repo.GetOpenByLesson(context.Background(), "loops")
	require.NoError(t, err)
	assert.Equal(t, 17, imp.BaselineRate)
	assert.Equal(t, opened.IssueNumber, imp.IssueNumber)

	res, err = h.Handle(context.Background(), OpenIssuesCommand{})
	require.NoError(t, err)
	assert.Empty(t, res.Opened)
	assert.Equal(t, []string{"loops"}, res.Skipped)
	assert.Equal(t, 1, client.Calls(memory.OpCreateIssue))
}

func TestOpenIssues_DryRun(t *testing.T) {
	events := &fakeEvents{events: lessonEvents("loops", timeutil.MustParseDate("2024-03-01"), 6, 0)}
	client := memory.New()
	h := newOpenIssues(events, newFakeRepo(), client)

	res, err := h.Handle(context.Background(), OpenIssuesCommand{DryRun: true})
	require.NoError(t, err)
	assert.Len(t, res.Candidates, 1)
	assert.Empty(t, res.Opened)
	assert.Zero(t, client.Calls(memory.OpCreateIssue))
}

func TestOpenIssues_TrackerFailureIsCollected(t *testing.T) {
	events := &fakeEvents{events: lessonEvents("loops", timeutil.MustParseDate("2024-03-01"), 6, 0)}
	client := memory.New()
	client.FailNext(memory.OpCreateIssue, shared.ErrTrackerUnavailable)
	repo := newFakeRepo()
	h := newOpenIssues(events, repo, client)

	res, err := h.Handle(context.Background(), OpenIssuesCommand{})
	require.NoError(t, err)
	assert.Empty(t, res.Opened)
	require.Len(t, res.Errors, 1)
	assert.True(t, strings.HasPrefix(res.Errors[0], "loops:"))

	_, err = repo.GetOpenByLesson(context.Background(), "loops")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestOpenIssues_TimeoutIsNotRetried(t *testing.T) {
	events := &fakeEvents{events: lessonEvents("loops", timeutil.MustParseDate("2024-03-01"), 6, 0)}
	client := memory.New()
	client.FailNext(memory.OpCreateIssue,
		shared.WrapError("tracker", "CreateIssue", shared.ErrTimeout, "request timed out", context.DeadlineExceeded))
	repo := newFakeRepo()
	h := newOpenIssues(events, repo, client)
	h.retrier = fastRetry()

	res, err := h.Handle(context.Background(), OpenIssuesCommand{})
	require.NoError(t, err)
	assert.Empty(t, res.Opened)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, client.Calls(memory.OpCreateIssue))
}

func TestOpenIssues_UnavailableIsRetried(t *testing.T) {
	events := &fakeEvents{events: lessonEvents("loops", timeutil.MustParseDate("2024-03-01"), 6, 0)}
	client := memory.New()
	client.FailNext(memory.OpCreateIssue, shared.ErrTrackerUnavailable)
	h := newOpenIssues(events, newFakeRepo(), client)
	h.retrier = fastRetry()

	res, err := h.Handle(context.Background(), OpenIssuesCommand{})
	require.NoError(t, err)
	require.Len(t, res.Opened, 1)
	assert.Equal(t, 2, client.Calls(memory.OpCreateIssue))
}

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATE
// ══════════════════════════════════════════════════════════════════════════════

type evalFixture struct {
	h      *EvaluateImprovementsHandler
	repo   *fakeRepo
	client *memory.Client
	imp    *improvement.Improvement
}

func newEvalFixture(t *testing.T, baseline, evaluations, origins, followed int) evalFixture {
	t.Helper()
	client := memory.New()
	issue, err := client.CreateIssue(context.Background(), "Improve lesson: Loops", "", []string{"improvement"})
	require.NoError(t, err)

	item := improvement.PriorityItem{LessonSlug: "loops", HintType: "exercise", FollowUpRate: baseline}
	imp, err := improvement.New(item, issue.Number, 0, 14, fixedNow.AddDate(0, 0, -20))
	require.NoError(t, err)
	imp.Status.EvaluationCount = evaluations

	repo := newFakeRepo()
	require.NoError(t, repo.Create(context.Background(), imp))

	events := &fakeEvents{events: lessonEvents("loops", timeutil.DateOf(fixedNow).AddDays(-5), origins, followed)}
	h := NewEvaluateImprovementsHandler(events, repo, tracker.NewOrchestrator(client), nil, EvaluateConfig{}, nil)
	h.retrier = noRetry()
	h.now = func() time.Time { return fixedNow }

	return evalFixture{h: h, repo: repo, client: client, imp: imp}
}

func TestEvaluate_FirstEvaluationContinues(t *testing.T) {
	f := newEvalFixture(t, 17, 0, 6, 6)

	res, err := f.h.Handle(context.Background(), EvaluateImprovementsCommand{})
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)

	o := res.Outcomes[0]
	require.NotNil(t, o.Result)
	assert.Equal(t, improvement.DecisionContinue, o.Result.Decision)
	assert.Equal(t, 100, o.CurrentRate)
	assert.True(t, o.ReportPosted)
	assert.Equal(t, 1, res.Evaluated)

	stored, err := f.repo.GetByID(context.Background(), f.imp.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Status.EvaluationCount)
	assert.Equal(t, 83.0, stored.Status.EffectivenessDelta)

	issue, _ := f.client.Issue(f.imp.IssueNumber)
	require.Len(t, issue.Comments, 1)
	assert.Contains(t, issue.Comments[0].Body, tracker.EvaluationMarker("loops", f.imp.IssueNumber, 14))
}

func TestEvaluate_NoEffectClosesIssue(t *testing.T) {
	f := newEvalFixture(t, 50, 1, 6, 0)

	res, err := f.h.Handle(context.Background(), EvaluateImprovementsCommand{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Closed)
	assert.Equal(t, improvement.DecisionCloseNoEffect, res.Outcomes[0].Result.Decision)

	issue, _ := f.client.Issue(f.imp.IssueNumber)
	assert.Equal(t, tracker.StateClosed, issue.State)

	stored, err := f.repo.GetByID(context.Background(), f.imp.ID)
	require.NoError(t, err)
	assert.True(t, stored.Closed)
}

func TestEvaluate_NotDueIsSkipped(t *testing.T) {
	f := newEvalFixture(t, 17, 0, 6, 6)
	f.h.now = func() time.Time { return fixedNow.AddDate(0, 0, -10) }

	res, err := f.h.Handle(context.Background(), EvaluateImprovementsCommand{})
	require.NoError(t, err)
	assert.Equal(t, SkipNotDue, res.Outcomes[0].Skipped)
	assert.Zero(t, f.client.Calls(memory.OpCreateComment))
}

func TestEvaluate_LowSampleIsSkipped(t *testing.T) {
	f := newEvalFixture(t, 17, 0, 2, 2)

	res, err := f.h.Handle(context.Background(), EvaluateImprovementsCommand{})
	require.NoError(t, err)
	assert.Equal(t, SkipLowSample, res.Outcomes[0].Skipped)
	assert.Nil(t, res.Outcomes[0].Result)
}

func TestEvaluate_RerunAfterSaveFailureDoesNotDuplicateReport(t *testing.T) {
	f := newEvalFixture(t, 17, 0, 6, 6)
	f.repo.failSave = errors.New("db down")

	res, err := f.h.Handle(context.Background(), EvaluateImprovementsCommand{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.True(t, res.Outcomes[0].ReportPosted)

	res, err = f.h.Handle(context.Background(), EvaluateImprovementsCommand{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Evaluated)
	assert.False(t, res.Outcomes[0].ReportPosted)

	issue, _ := f.client.Issue(f.imp.IssueNumber)
	assert.Len(t, issue.Comments, 1)
}

func TestEvaluate_ClosedImprovementRejected(t *testing.T) {
	f := newEvalFixture(t, 17, 0, 6, 6)
	require.NoError(t, f.repo.MarkClosed(context.Background(), f.imp.ID))

	_, err := f.h.Handle(context.Background(), EvaluateImprovementsCommand{ImprovementID: f.imp.ID})
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestEvaluate_RetriedCloseCommentsOnce(t *testing.T) {
	f := newEvalFixture(t, 50, 1, 6, 0)
	f.h.retrier = fastRetry()
	f.client.FailNext(memory.OpSetState, shared.ErrTrackerUnavailable)

	res, err := f.h.Handle(context.Background(), EvaluateImprovementsCommand{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Closed)
	assert.Zero(t, res.Failed)
	assert.True(t, res.Outcomes[0].DecisionPosted)

	issue, _ := f.client.Issue(f.imp.IssueNumber)
	assert.Equal(t, tracker.StateClosed, issue.State)
	assert.Equal(t, 1, countComments(issue, "Lifecycle decision"))
	assert.Equal(t, 1, countComments(issue, tracker.DecisionMarker("loops", f.imp.IssueNumber, 2)))
	assert.Len(t, issue.Comments, 2)
}

func TestEvaluate_RerunAfterSaveFailureDoesNotRepeatDecision(t *testing.T) {
	f := newEvalFixture(t, 50, 1, 6, 0)
	f.repo.failSave = errors.New("db down")

	res, err := f.h.Handle(context.Background(), EvaluateImprovementsCommand{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	issue, _ := f.client.Issue(f.imp.IssueNumber)
	assert.Equal(t, tracker.StateClosed, issue.State)

	res, err = f.h.Handle(context.Background(), EvaluateImprovementsCommand{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Closed)
	assert.False(t, res.Outcomes[0].ReportPosted)
	assert.False(t, res.Outcomes[0].DecisionPosted)

	issue, _ = f.client.Issue(f.imp.IssueNumber)
	assert.Equal(t, 1, countComments(issue, "Lifecycle decision"))
	assert.Len(t, issue.Comments, 2)
	assert.Equal(t, 1, f.client.Calls(memory.OpSetState))

	stored, err := f.repo.GetByID(context.Background(), f.imp.ID)
	require.NoError(t, err)
	assert.True(t, stored.Closed)
}

func TestEvaluate_RedesignCommentsAndLabels(t *testing.T) {
	f := newEvalFixture(t, 50, 1, 6, 4)
	f.repo.items[f.imp.ID].Cost = 20

	res, err := f.h.Handle(context.Background(), EvaluateImprovementsCommand{})
	require.NoError(t, err)
	require.NotNil(t, res.Outcomes[0].Result)
	assert.Equal(t, improvement.DecisionRedesignRequired, res.Outcomes[0].Result.Decision)
	assert.Equal(t, 67, res.Outcomes[0].CurrentRate)
	assert.Zero(t, res.Closed)

	issue, _ := f.client.Issue(f.imp.IssueNumber)
	assert.Equal(t, tracker.StateOpen, issue.State)
	assert.True(t, issue.Labels.Has(improvement.LabelNeedsRedesign))
	assert.Equal(t, 1, countComments(issue, "Lifecycle decision: **"+string(improvement.DecisionRedesignRequired)))

	stored, err := f.repo.GetByID(context.Background(), f.imp.ID)
	require.NoError(t, err)
	assert.False(t, stored.Closed)
	assert.Equal(t, -0.15, stored.Status.ROI)
}
