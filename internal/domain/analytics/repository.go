package analytics

import (
	"context"

	"github.com/alem-hub/lesson-insights/pkg/timeutil"
)

// EventSource yields learning events. It is implemented by the
// infrastructure layer; the domain treats storage as opaque.
type EventSource interface {
	// EventsForUser returns a user's events within the range, ordered by date.
	EventsForUser(ctx context.Context, userID string, r timeutil.DateRange) ([]LearningEvent, error)

	// EventsInRange returns all users' events within the range, ordered by date.
	EventsInRange(ctx context.Context, r timeutil.DateRange) ([]LearningEvent, error)

	// EventsForReference returns events referencing the given entity (lesson slug).
	EventsForReference(ctx context.Context, referenceID string, r timeutil.DateRange) ([]LearningEvent, error)
}

// EventLog is the append side of the event store.
type EventLog interface {
	// Append stores events. Events are immutable once stored.
	Append(ctx context.Context, events []LearningEvent) error
}

// MetricSource yields derived per-user metrics.
type MetricSource interface {
	// GetMetric returns a single user's metric. Returns shared.ErrNotFound
	// (wrapped) when the user has no metric yet.
	GetMetric(ctx context.Context, userID string) (*UserLearningMetric, error)

	// ListMetrics returns all user metrics.
	ListMetrics(ctx context.Context) ([]UserLearningMetric, error)
}

// MetricCache is a read-mostly cache in front of MetricSource.
// It is never the system of record and is invalidated on new events.
type MetricCache interface {
	Get(ctx context.Context, userID string) (*UserLearningMetric, error)
	Set(ctx context.Context, metric *UserLearningMetric) error
	Invalidate(ctx context.Context, userIDs ...string) error
}
