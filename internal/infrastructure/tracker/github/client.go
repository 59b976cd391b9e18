// Package github implements tracker.Client on top of the GitHub Issues API.
// It owns transport concerns: authentication, rate limiting, pagination,
// circuit breaking and mapping of API failures onto the shared error kinds.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/time/rate"

	"github.com/alem-hub/lesson-insights/internal/domain/shared"
	"github.com/alem-hub/lesson-insights/internal/domain/tracker"
	"github.com/alem-hub/lesson-insights/internal/infrastructure/metrics"
	"github.com/alem-hub/lesson-insights/pkg/circuitbreaker"
	"github.com/alem-hub/lesson-insights/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config configures the GitHub adapter.
type Config struct {
	Owner string
	Repo  string
	Token string

	// BaseURL overrides the API endpoint (GitHub Enterprise, tests).
	BaseURL string

	Timeout time.Duration

	// RequestsPerSecond and Burst bound the outgoing request rate.
	RequestsPerSecond float64
	Burst             int

	// PerPage is the page size used when listing comments.
	PerPage int
}

// DefaultConfig returns conservative defaults.
func DefaultConfig(owner, repo, token string) Config {
	return Config{
		Owner:             owner,
		Repo:              repo,
		Token:             token,
		Timeout:           15 * time.Second,
		RequestsPerSecond: 1,
		Burst:             5,
		PerPage:           100,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is a tracker.Client backed by GitHub Issues.
type Client struct {
	cfg     Config
	gh      *gh.Client
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
	metrics *metrics.Metrics
	log     *logger.Logger
}

var _ tracker.Client = (*Client)(nil)

// New creates a GitHub tracker client.
func New(cfg Config, m *metrics.Metrics, log *logger.Logger) (*Client, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, shared.NewDomainError("tracker", "New", shared.ErrEmptyValue, "owner and repo are required")
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = 100
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("github_tracker"))

	client := gh.NewClient(&http.Client{Timeout: cfg.Timeout})
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		client.BaseURL = u
	}

	c := &Client{
		cfg:     cfg,
		gh:      client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		metrics: m,
		log:     log,
	}
	c.breaker = circuitbreaker.TrackerBreaker(shared.IsRetryable, func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	})
	return c, nil
}

// call runs one API request behind the rate limiter and circuit breaker,
// and maps its error.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) (*gh.Response, error)) error {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return shared.WrapError("tracker", op, shared.ErrTimeout, "rate limiter wait", err)
		}
		resp, err := fn(ctx)
		return mapError(op, resp, err)
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		err = shared.WrapError("tracker", op, shared.ErrServiceUnavailable, "circuit open", err)
	}
	c.metrics.ObserveTracker(op, err)
	if err != nil {
		c.log.Debug("tracker call failed", logger.Operation(op), logger.Err(err))
	}
	return err
}

// mapError translates go-github failures onto shared error kinds.
func mapError(op string, resp *gh.Response, err error) error {
	if err == nil {
		return nil
	}

	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		return shared.WrapError("tracker", op, shared.ErrRateLimited, "rate limit exceeded", err)
	case errors.Is(err, context.DeadlineExceeded):
		return shared.WrapError("tracker", op, shared.ErrTimeout, "request timed out", err)
	case errors.Is(err, context.Canceled):
		return err
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	switch {
	case status == http.StatusNotFound:
		return shared.WrapError("tracker", op, shared.ErrNotFound, "issue not found", err)
	case status == http.StatusUnprocessableEntity:
		return shared.WrapError("tracker", op, shared.ErrInvalidInput, "request rejected", err)
	case status == http.StatusTooManyRequests:
		return shared.WrapError("tracker", op, shared.ErrRateLimited, "rate limit exceeded", err)
	case status >= 500 || status == 0:
		return shared.WrapError("tracker", op, shared.ErrServiceUnavailable, "tracker unavailable", err)
	default:
		return shared.WrapError("tracker", op, shared.ErrExternalService, fmt.Sprintf("unexpected status %d", status), err)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ISSUE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetIssue implements tracker.Client.
func (c *Client) GetIssue(ctx context.Context, number int) (*tracker.Issue, error) {
	var issue *gh.Issue
	err := c.call(ctx, "GetIssue", func(ctx context.Context) (*gh.Response, error) {
		var resp *gh.Response
		var err error
		issue, resp, err = c.gh.Issues.Get(ctx, c.cfg.Owner, c.cfg.Repo, number)
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return toIssue(issue), nil
}

// ListComments implements tracker.Client. All pages are fetched.
func (c *Client) ListComments(ctx context.Context, number int) ([]tracker.Comment, error) {
	opts := &gh.IssueListCommentsOptions{ListOptions: gh.ListOptions{PerPage: c.cfg.PerPage}}
	var out []tracker.Comment

	for {
		var page []*gh.IssueComment
		var next int
		err := c.call(ctx, "ListComments", func(ctx context.Context) (*gh.Response, error) {
			var resp *gh.Response
			var err error
			page, resp, err = c.gh.Issues.ListComments(ctx, c.cfg.Owner, c.cfg.Repo, number, opts)
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		for _, cm := range page {
			out = append(out, toComment(cm))
		}
		if next == 0 {
			return out, nil
		}
		opts.Page = next
	}
}

// CreateIssue implements tracker.Client.
func (c *Client) CreateIssue(ctx context.Context, title, body string, labels []string) (*tracker.Issue, error) {
	req := &gh.IssueRequest{
		Title:  gh.String(title),
		Body:   gh.String(body),
		Labels: &labels,
	}
	var issue *gh.Issue
	err := c.call(ctx, "CreateIssue", func(ctx context.Context) (*gh.Response, error) {
		var resp *gh.Response
		var err error
		issue, resp, err = c.gh.Issues.Create(ctx, c.cfg.Owner, c.cfg.Repo, req)
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	c.log.Info("issue created", logger.IssueNumber(issue.GetNumber()), logger.String("title", title))
	return toIssue(issue), nil
}

// CreateComment implements tracker.Client.
func (c *Client) CreateComment(ctx context.Context, number int, body string) (*tracker.Comment, error) {
	var comment *gh.IssueComment
	err := c.call(ctx, "CreateComment", func(ctx context.Context) (*gh.Response, error) {
		var resp *gh.Response
		var err error
		comment, resp, err = c.gh.Issues.CreateComment(ctx, c.cfg.Owner, c.cfg.Repo, number, &gh.IssueComment{Body: gh.String(body)})
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	out := toComment(comment)
	return &out, nil
}

// AddLabels implements tracker.Client.
func (c *Client) AddLabels(ctx context.Context, number int, labels []string) error {
	return c.call(ctx, "AddLabels", func(ctx context.Context) (*gh.Response, error) {
		_, resp, err := c.gh.Issues.AddLabelsToIssue(ctx, c.cfg.Owner, c.cfg.Repo, number, labels)
		return resp, err
	})
}

// SetState implements tracker.Client.
func (c *Client) SetState(ctx context.Context, number int, state tracker.State) error {
	return c.call(ctx, "SetState", func(ctx context.Context) (*gh.Response, error) {
		_, resp, err := c.gh.Issues.Edit(ctx, c.cfg.Owner, c.cfg.Repo, number, &gh.IssueRequest{State: gh.String(string(state))})
		return resp, err
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func toIssue(i *gh.Issue) *tracker.Issue {
	labels := tracker.NewLabelSet()
	for _, l := range i.Labels {
		labels.Add(l.GetName())
	}
	state := tracker.StateOpen
	if i.GetState() == string(tracker.StateClosed) {
		state = tracker.StateClosed
	}
	return &tracker.Issue{
		Number: i.GetNumber(),
		URL:    i.GetHTMLURL(),
		Title:  i.GetTitle(),
		Body:   i.GetBody(),
		State:  state,
		Labels: labels,
	}
}

func toComment(c *gh.IssueComment) tracker.Comment {
	return tracker.Comment{
		ID:        c.GetID(),
		Body:      c.GetBody(),
		CreatedAt: c.GetCreatedAt().Time,
	}
}
