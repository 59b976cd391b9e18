// Package memory is an in-process issue tracker used for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alem-hub/lesson-insights/internal/domain/shared"
	"github.com/alem-hub/lesson-insights/internal/domain/tracker"
)

// Operation names accepted by FailNext.
const (
	OpGetIssue      = "GetIssue"
	OpListComments  = "ListComments"
	OpCreateIssue   = "CreateIssue"
	OpCreateComment = "CreateComment"
	OpAddLabels     = "AddLabels"
	OpSetState      = "SetState"
)

// Client is a mutex-guarded in-memory tracker.Client.
type Client struct {
	mu        sync.Mutex
	issues    map[int]*tracker.Issue
	nextIssue int
	nextID    int64
	failures  map[string]error
	calls     map[string]int
	baseURL   string
	now       func() time.Time
}

// New creates an empty tracker.
func New() *Client {
	return &Client{
		issues:    make(map[int]*tracker.Issue),
		nextIssue: 1,
		nextID:    1,
		failures:  make(map[string]error),
		calls:     make(map[string]int),
		baseURL:   "memory://issues/",
		now:       time.Now,
	}
}

// FailNext makes the next call of op return err.
func (c *Client) FailNext(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op] = err
}

// Calls returns how many times op was invoked, including failed calls.
func (c *Client) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Issue returns a copy of the stored issue, including its comments.
func (c *Client) Issue(number int) (tracker.Issue, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	issue, ok := c.issues[number]
	if !ok {
		return tracker.Issue{}, false
	}
	return copyIssue(issue, true), true
}

// enter records the call and consumes a pending failure. Caller holds mu.
func (c *Client) enter(op string) error {
	c.calls[op]++
	if err, ok := c.failures[op]; ok {
		delete(c.failures, op)
		return err
	}
	return nil
}

func (c *Client) lookup(number int) (*tracker.Issue, error) {
	issue, ok := c.issues[number]
	if !ok {
		return nil, fmt.Errorf("issue #%d: %w", number, shared.ErrIssueNotFound)
	}
	return issue, nil
}

func copyIssue(issue *tracker.Issue, withComments bool) tracker.Issue {
	cp := *issue
	cp.Labels = issue.Labels.Clone()
	cp.Comments = nil
	if withComments {
		cp.Comments = append([]tracker.Comment(nil), issue.Comments...)
	}
	return cp
}

// GetIssue implements tracker.Client.
func (c *Client) GetIssue(_ context.Context, number int) (*tracker.Issue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpGetIssue); err != nil {
		return nil, err
	}
	issue, err := c.lookup(number)
	if err != nil {
		return nil, err
	}
	cp := copyIssue(issue, false)
	return &cp, nil
}

// ListComments implements tracker.Client.
func (c *Client) ListComments(_ context.Context, number int) ([]tracker.Comment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpListComments); err != nil {
		return nil, err
	}
	issue, err := c.lookup(number)
	if err != nil {
		return nil, err
	}
	return append([]tracker.Comment(nil), issue.Comments...), nil
}

// CreateIssue implements tracker.Client.
func (c *Client) CreateIssue(_ context.Context, title, body string, labels []string) (*tracker.Issue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpCreateIssue); err != nil {
		return nil, err
	}
	n := c.nextIssue
	c.nextIssue++
	issue := &tracker.Issue{
		Number: n,
		URL:    fmt.Sprintf("%s%d", c.baseURL, n),
		Title:  title,
		Body:   body,
		State:  tracker.StateOpen,
		Labels: tracker.NewLabelSet(labels...),
	}
	c.issues[n] = issue
	cp := copyIssue(issue, false)
	return &cp, nil
}

// CreateComment implements tracker.Client.
func (c *Client) CreateComment(_ context.Context, number int, body string) (*tracker.Comment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpCreateComment); err != nil {
		return nil, err
	}
	issue, err := c.lookup(number)
	if err != nil {
		return nil, err
	}
	comment := tracker.Comment{ID: c.nextID, Body: body, CreatedAt: c.now().UTC()}
	c.nextID++
	issue.Comments = append(issue.Comments, comment)
	return &comment, nil
}

// AddLabels implements tracker.Client.
func (c *Client) AddLabels(_ context.Context, number int, labels []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpAddLabels); err != nil {
		return err
	}
	issue, err := c.lookup(number)
	if err != nil {
		return err
	}
	for _, l := range labels {
		issue.Labels.Add(l)
	}
	return nil
}

// SetState implements tracker.Client.
func (c *Client) SetState(_ context.Context, number int, state tracker.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpSetState); err != nil {
		return err
	}
	issue, err := c.lookup(number)
	if err != nil {
		return err
	}
	issue.State = state
	return nil
}
