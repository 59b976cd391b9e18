// Package command contains write operations (CQRS - Commands).
// Each command is a self-contained use case with its own request/result types.
package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/lesson-insights/internal/domain/analytics"
	"github.com/alem-hub/lesson-insights/internal/domain/shared"
	"github.com/alem-hub/lesson-insights/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// INGEST EVENTS COMMAND
// Appends learning events to the log and drops cached metrics of the users
// involved.
// ══════════════════════════════════════════════════════════════════════════════

// MaxIngestBatch bounds how many events one command may carry.
const MaxIngestBatch = 1000

// IngestEventsCommand carries a batch of events.
type IngestEventsCommand struct {
	Events []analytics.LearningEvent `json:"events"`
}

// Validate rejects the whole batch when any event is malformed.
func (c IngestEventsCommand) Validate() error {
	if len(c.Events) > MaxIngestBatch {
		return fmt.Errorf("batch of %d events exceeds limit %d: %w", len(c.Events), MaxIngestBatch, shared.ErrValueOutOfRange)
	}
	for i, e := range c.Events {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}

// IngestEventsResult reports what was stored.
type IngestEventsResult struct {
	Accepted int      `json:"accepted"`
	Users    []string `json:"users"`
}

// IngestEventsHandler handles IngestEventsCommand.
type IngestEventsHandler struct {
	events analytics.EventLog
	cache  analytics.MetricCache
	log    *logger.Logger
}

// NewIngestEventsHandler creates a handler. cache may be nil.
func NewIngestEventsHandler(events analytics.EventLog, cache analytics.MetricCache, log *logger.Logger) *IngestEventsHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &IngestEventsHandler{events: events, cache: cache, log: log}
}

// Handle validates and stores the batch.
func (h *IngestEventsHandler) Handle(ctx context.Context, cmd IngestEventsCommand) (*IngestEventsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("ingest_events: %w", err)
	}
	if len(cmd.Events) == 0 {
		return &IngestEventsResult{Users: []string{}}, nil
	}

	if err := h.events.Append(ctx, cmd.Events); err != nil {
		return nil, fmt.Errorf("ingest_events: append: %w", err)
	}

	users := distinctUsers(cmd.Events)
	invalidate(ctx, h.cache, h.log, users)

	return &IngestEventsResult{Accepted: len(cmd.Events), Users: users}, nil
}

func distinctUsers(events []analytics.LearningEvent) []string {
	seen := make(map[string]struct{}, len(events))
	out := make([]string, 0)
	for _, e := range events {
		if _, ok := seen[e.UserID]; ok {
			continue
		}
		seen[e.UserID] = struct{}{}
		out = append(out, e.UserID)
	}
	return out
}

// invalidate drops cached metrics. Cache failures are logged, not returned:
// the database write has already succeeded.
func invalidate(ctx context.Context, cache analytics.MetricCache, log *logger.Logger, users []string) {
	if cache == nil || len(users) == 0 {
		return
	}
	if err := cache.Invalidate(ctx, users...); err != nil {
		log.Warn("metric cache invalidation failed", logger.Int("users", len(users)), logger.Err(err))
	}
}
