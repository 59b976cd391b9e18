// Package memory is an in-process implementation of the storage ports,
// used by tests and by dry runs of the CLI.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/alem-hub/lesson-insights/internal/domain/analytics"
	"github.com/alem-hub/lesson-insights/internal/domain/improvement"
	"github.com/alem-hub/lesson-insights/internal/domain/intervention"
	"github.com/alem-hub/lesson-insights/internal/domain/shared"
	"github.com/alem-hub/lesson-insights/pkg/timeutil"
)

// RecordedIntervention is one entry of the intervention log.
type RecordedIntervention struct {
	UserID string
	Kind   intervention.Kind
}

// Store holds events, metrics, lessons, improvements and interventions.
type Store struct {
	mu            sync.RWMutex
	events        []analytics.LearningEvent
	metrics       map[string]analytics.UserLearningMetric
	lessons       map[string]improvement.Lesson
	improvements  map[string]*improvement.Improvement
	interventions []RecordedIntervention
}

var (
	_ analytics.EventSource  = (*Store)(nil)
	_ analytics.EventLog     = (*Store)(nil)
	_ analytics.MetricSource = (*Store)(nil)
	_ improvement.Repository = (*Store)(nil)
	_ improvement.Catalog    = (*Store)(nil)
	_ intervention.Recorder  = (*Store)(nil)
)

// New creates an empty Store.
func New() *Store {
	return &Store{
		metrics:      make(map[string]analytics.UserLearningMetric),
		lessons:      make(map[string]improvement.Lesson),
		improvements: make(map[string]*improvement.Improvement),
	}
}

// ── events ────────────────────────────────────────────────────────────────────

// Append implements analytics.EventLog.
func (s *Store) Append(_ context.Context, events []analytics.LearningEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *Store) filter(r timeutil.DateRange, keep func(analytics.LearningEvent) bool) []analytics.LearningEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]analytics.LearningEvent, 0)
	for _, e := range s.events {
		if r.Contains(e.EventDate) && keep(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EventDate.Before(out[j].EventDate) })
	return out
}

// EventsForUser implements analytics.EventSource.
func (s *Store) EventsForUser(_ context.Context, userID string, r timeutil.DateRange) ([]analytics.LearningEvent, error) {
	return s.filter(r, func(e analytics.LearningEvent) bool { return e.UserID == userID }), nil
}

// EventsInRange implements analytics.EventSource.
func (s *Store) EventsInRange(_ context.Context, r timeutil.DateRange) ([]analytics.LearningEvent, error) {
	return s.filter(r, func(analytics.LearningEvent) bool { return true }), nil
}

// EventsForReference implements analytics.EventSource with the same
// semantics as the Postgres adapter: all in-range events of users who
// referenced the entity.
func (s *Store) EventsForReference(_ context.Context, referenceID string, r timeutil.DateRange) ([]analytics.LearningEvent, error) {
	users := make(map[string]struct{})
	for _, e := range s.filter(r, func(e analytics.LearningEvent) bool { return e.ReferenceID == referenceID }) {
		users[e.UserID] = struct{}{}
	}
	return s.filter(r, func(e analytics.LearningEvent) bool {
		_, ok := users[e.UserID]
		return ok
	}), nil
}

// ── metrics ───────────────────────────────────────────────────────────────────

// GetMetric implements analytics.MetricSource.
func (s *Store) GetMetric(_ context.Context, userID string) (*analytics.UserLearningMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metrics[userID]
	if !ok {
		return nil, shared.NewDomainError("analytics", "GetMetric", shared.ErrNotFound, "metric not found for user "+userID)
	}
	return &m, nil
}

// ListMetrics implements analytics.MetricSource, ordered by user ID.
func (s *Store) ListMetrics(context.Context) ([]analytics.UserLearningMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]analytics.UserLearningMetric, 0, len(s.metrics))
	for _, m := range s.metrics {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Upsert replaces metrics by user ID.
func (s *Store) Upsert(_ context.Context, metrics []analytics.UserLearningMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range metrics {
		s.metrics[m.UserID] = m
	}
	return nil
}

// ── lessons ───────────────────────────────────────────────────────────────────

// PutLesson adds or replaces a lesson in the catalog.
func (s *Store) PutLesson(l improvement.Lesson) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lessons[l.Slug] = l
}

// Lessons implements improvement.Catalog.
func (s *Store) Lessons(context.Context) (map[string]improvement.Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]improvement.Lesson, len(s.lessons))
	for k, v := range s.lessons {
		out[k] = v
	}
	return out, nil
}

// ── improvements ──────────────────────────────────────────────────────────────

// Create implements improvement.Repository.
func (s *Store) Create(_ context.Context, imp *improvement.Improvement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.improvements {
		if existing.LessonSlug == imp.LessonSlug && !existing.Closed {
			return shared.ErrImprovementExists
		}
	}
	cp := *imp
	s.improvements[imp.ID] = &cp
	return nil
}

// GetByID implements improvement.Repository.
func (s *Store) GetByID(_ context.Context, id string) (*improvement.Improvement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	imp, ok := s.improvements[id]
	if !ok {
		return nil, shared.ErrImprovementNotFound
	}
	cp := *imp
	return &cp, nil
}

// GetOpenByLesson implements improvement.Repository.
func (s *Store) GetOpenByLesson(_ context.Context, slug string) (*improvement.Improvement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, imp := range s.improvements {
		if imp.LessonSlug == slug && !imp.Closed {
			cp := *imp
			return &cp, nil
		}
	}
	return nil, shared.ErrImprovementNotFound
}

// ListOpen implements improvement.Repository, oldest first.
func (s *Store) ListOpen(context.Context) ([]*improvement.Improvement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*improvement.Improvement, 0)
	for _, imp := range s.improvements {
		if !imp.Closed {
			cp := *imp
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SaveStatus implements improvement.Repository.
func (s *Store) SaveStatus(_ context.Context, st improvement.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	imp, ok := s.improvements[st.ImprovementID]
	if !ok {
		return shared.ErrImprovementNotFound
	}
	imp.Status = st
	return nil
}

// MarkClosed implements improvement.Repository.
func (s *Store) MarkClosed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	imp, ok := s.improvements[id]
	if !ok {
		return shared.ErrImprovementNotFound
	}
	imp.Closed = true
	return nil
}

// ── interventions ─────────────────────────────────────────────────────────────

// RecordIntervention implements intervention.Recorder.
func (s *Store) RecordIntervention(_ context.Context, userID string, in intervention.Intervention) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interventions = append(s.interventions, RecordedIntervention{UserID: userID, Kind: in.Kind})
	return nil
}

// Interventions returns a copy of the intervention log.
func (s *Store) Interventions() []RecordedIntervention {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]RecordedIntervention(nil), s.interventions...)
}
