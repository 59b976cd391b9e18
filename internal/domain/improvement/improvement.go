// Package improvement scores lessons for content improvements, measures the
// effect of shipped improvements and decides their lifecycle.
package improvement

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/lesson-insights/internal/domain/shared"
)

// DefaultEvaluationWindowDays is how long after an improvement ships its
// effectiveness is measured.
const DefaultEvaluationWindowDays = 14

// Improvement is a tracked content change for one lesson, linked to an
// issue in the external tracker.
type Improvement struct {
	ID           string    `json:"id"`
	LessonSlug   string    `json:"lessonSlug"`
	HintType     string    `json:"hintType"`
	IssueNumber  int       `json:"issueNumber"`
	BaselineRate int       `json:"baselineRate"`
	Cost         float64   `json:"cost"`
	WindowDays   int       `json:"windowDays"`
	Closed       bool      `json:"closed"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
}

// New creates an improvement for a scored priority item.
func New(item PriorityItem, issueNumber int, cost float64, windowDays int, now time.Time) (*Improvement, error) {
	if strings.TrimSpace(item.LessonSlug) == "" {
		return nil, shared.NewDomainError("improvement", "New", shared.ErrEmptyValue, "lesson slug is required")
	}
	if cost < 0 {
		return nil, shared.ErrNegativeCost
	}
	if windowDays <= 0 {
		windowDays = DefaultEvaluationWindowDays
	}

	id := uuid.New().String()
	return &Improvement{
		ID:           id,
		LessonSlug:   item.LessonSlug,
		HintType:     item.HintType,
		IssueNumber:  issueNumber,
		BaselineRate: item.FollowUpRate,
		Cost:         cost,
		WindowDays:   windowDays,
		Status: Status{
			ImprovementID: id,
			PriorityScore: item.Priority.Score,
		},
		CreatedAt: now.UTC(),
	}, nil
}

// Due reports whether a full evaluation window has passed since the last
// evaluation (or since creation).
func (i *Improvement) Due(now time.Time) bool {
	if i.Closed {
		return false
	}
	since := i.CreatedAt
	if i.Status.LastEvaluatedAt != nil {
		since = *i.Status.LastEvaluatedAt
	}
	return now.Sub(since) >= time.Duration(i.WindowDays)*24*time.Hour
}

// Repository persists improvements and their evaluation status.
type Repository interface {
	// Create stores a new improvement. Returns shared.ErrImprovementExists
	// when an open improvement already tracks the lesson.
	Create(ctx context.Context, imp *Improvement) error

	// GetByID returns shared.ErrImprovementNotFound when absent.
	GetByID(ctx context.Context, id string) (*Improvement, error)

	// GetOpenByLesson returns the open improvement for a lesson, or
	// shared.ErrImprovementNotFound.
	GetOpenByLesson(ctx context.Context, lessonSlug string) (*Improvement, error)

	// ListOpen returns all improvements not yet closed.
	ListOpen(ctx context.Context) ([]*Improvement, error)

	// SaveStatus persists the evaluation status.
	SaveStatus(ctx context.Context, status Status) error

	// MarkClosed flags the improvement as closed.
	MarkClosed(ctx context.Context, id string) error
}

// Catalog resolves lesson metadata.
type Catalog interface {
	Lessons(ctx context.Context) (map[string]Lesson, error)
}
