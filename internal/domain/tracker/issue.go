// Package tracker drives improvement issues in an external issue tracker.
// The tracker itself is reached only through the Client port.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// State is an issue's open/closed state.
type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
)

// Label names applied to improvement issues.
const (
	LabelImprovement  = "improvement"
	LabelLessonPrefix = "lesson:"
	LabelHintPrefix   = "hint:"
)

// LabelSet is an unordered set of labels.
type LabelSet map[string]struct{}

// NewLabelSet builds a set, skipping empty labels.
func NewLabelSet(labels ...string) LabelSet {
	s := make(LabelSet, len(labels))
	for _, l := range labels {
		s.Add(l)
	}
	return s
}

// Add inserts a label; empty labels are ignored.
func (s LabelSet) Add(label string) {
	label = strings.TrimSpace(label)
	if label == "" {
		return
	}
	s[label] = struct{}{}
}

// Has reports membership.
func (s LabelSet) Has(label string) bool {
	_, ok := s[label]
	return ok
}

// Sorted returns the labels in lexical order.
func (s LabelSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for l := range s {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy.
func (s LabelSet) Clone() LabelSet {
	c := make(LabelSet, len(s))
	for l := range s {
		c[l] = struct{}{}
	}
	return c
}

// MarshalJSON encodes the set as a sorted array.
func (s LabelSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// Comment is a tracker comment.
type Comment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// Issue is a tracker issue.
type Issue struct {
	Number   int       `json:"number"`
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	State    State     `json:"state"`
	Labels   LabelSet  `json:"labels"`
	Comments []Comment `json:"comments,omitempty"`
}

// IssueParams describes an improvement issue to open.
type IssueParams struct {
	Title      string
	Body       string
	LessonSlug string
	HintType   string
	Extra      []string
}

// Labels returns the deterministic, sorted label set for the issue.
func (p IssueParams) Labels() []string {
	set := NewLabelSet(LabelImprovement)
	if p.LessonSlug != "" {
		set.Add(LabelLessonPrefix + p.LessonSlug)
	}
	if p.HintType != "" {
		set.Add(LabelHintPrefix + p.HintType)
	}
	for _, l := range p.Extra {
		set.Add(l)
	}
	return set.Sorted()
}

// Client is the port to the external tracker. Implementations handle
// transport, pagination and rate limiting, and map failures onto the
// shared error kinds.
type Client interface {
	GetIssue(ctx context.Context, number int) (*Issue, error)
	ListComments(ctx context.Context, number int) ([]Comment, error)
	CreateIssue(ctx context.Context, title, body string, labels []string) (*Issue, error)
	CreateComment(ctx context.Context, number int, body string) (*Comment, error)
	AddLabels(ctx context.Context, number int, labels []string) error
	SetState(ctx context.Context, number int, state State) error
}

// EvaluationMarker is the hidden marker embedded in evaluation report
// comments. Its format must stay byte-exact: existing comments are matched
// against it.
func EvaluationMarker(lessonSlug string, issueNumber, windowDays int) string {
	return fmt.Sprintf("<!-- eval:lesson_slug=%s issue=%d window=%d -->", lessonSlug, issueNumber, windowDays)
}

// DecisionMarker is the hidden marker embedded in lifecycle decision
// comments, keyed by the evaluation that produced the decision.
func DecisionMarker(lessonSlug string, issueNumber, evaluation int) string {
	return fmt.Sprintf("<!-- decision:lesson_slug=%s issue=%d eval=%d -->", lessonSlug, issueNumber, evaluation)
}

// HasEvaluationComment reports whether any comment contains the marker.
func HasEvaluationComment(comments []Comment, marker string) bool {
	for _, c := range comments {
		if strings.Contains(c.Body, marker) {
			return true
		}
	}
	return false
}
