// Package query contains read operations following the CQRS pattern.
// Queries never modify state; each one is a self-contained use case with
// its own request and response types.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alem-hub/lesson-insights/internal/domain/analytics"
	"github.com/alem-hub/lesson-insights/internal/domain/shared"
	"github.com/alem-hub/lesson-insights/pkg/timeutil"
)

// Clock returns the current time; tests pin it.
type Clock func() time.Time

func (c Clock) today() timeutil.Date {
	if c == nil {
		return timeutil.Today()
	}
	return timeutil.DateOf(c())
}

// MaxHeatmapDays caps the heatmap length a caller may request.
const MaxHeatmapDays = 371

// ══════════════════════════════════════════════════════════════════════════════
// GET HEATMAP QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetHeatmapQuery asks for a user's activity heatmap.
type GetHeatmapQuery struct {
	UserID string
	// Days defaults to analytics.DefaultHeatmapDays.
	Days int
}

// Validate normalizes and checks the query.
func (q *GetHeatmapQuery) Validate() error {
	if strings.TrimSpace(q.UserID) == "" {
		return shared.ErrEmptyUserID
	}
	if q.Days < 0 || q.Days > MaxHeatmapDays {
		return shared.NewDomainError("analytics", "Heatmap", shared.ErrValueOutOfRange,
			fmt.Sprintf("days must be between 1 and %d", MaxHeatmapDays))
	}
	if q.Days == 0 {
		q.Days = analytics.DefaultHeatmapDays
	}
	return nil
}

// HeatmapResult is the heatmap response.
type HeatmapResult struct {
	UserID string                 `json:"userId"`
	Range  timeutil.DateRange     `json:"range"`
	Total  int                    `json:"total"`
	Days   []analytics.HeatmapDay `json:"days"`
}

// ActivityHandler serves heatmap and trend queries.
type ActivityHandler struct {
	events analytics.EventSource
	clock  Clock
}

// NewActivityHandler creates an ActivityHandler. A nil clock uses time.Now.
func NewActivityHandler(events analytics.EventSource, clock Clock) *ActivityHandler {
	return &ActivityHandler{events: events, clock: clock}
}

// Heatmap handles GetHeatmapQuery.
func (h *ActivityHandler) Heatmap(ctx context.Context, q GetHeatmapQuery) (*HeatmapResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	today := h.clock.today()
	r := timeutil.RangeForDays(q.Days, today)
	events, err := h.events.EventsForUser(ctx, q.UserID, r)
	if err != nil {
		return nil, fmt.Errorf("get_heatmap: %w", err)
	}

	days := analytics.Heatmap(events, q.Days, today)
	total := 0
	for _, d := range days {
		total += d.Count
	}
	return &HeatmapResult{UserID: q.UserID, Range: r, Total: total, Days: days}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GET TREND QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetTrendQuery asks for a user's daily or weekly trend.
type GetTrendQuery struct {
	UserID string
	Mode   string
}

// TrendResult is the trend response.
type TrendResult struct {
	UserID string                 `json:"userId"`
	Mode   analytics.TrendMode    `json:"mode"`
	Points []analytics.TrendPoint `json:"points"`
}

// Trend handles GetTrendQuery. An empty mode means daily.
func (h *ActivityHandler) Trend(ctx context.Context, q GetTrendQuery) (*TrendResult, error) {
	if strings.TrimSpace(q.UserID) == "" {
		return nil, shared.ErrEmptyUserID
	}
	mode := analytics.TrendDaily
	if q.Mode != "" {
		m, err := analytics.ParseTrendMode(q.Mode)
		if err != nil {
			return nil, err
		}
		mode = m
	}

	today := h.clock.today()
	var r timeutil.DateRange
	if mode == analytics.TrendWeekly {
		weeks := timeutil.WeeklyRange(analytics.WeeklyTrendPoints, today)
		r = timeutil.DateRange{Start: weeks[0], End: timeutil.WeekEnd(today)}
	} else {
		r = timeutil.RangeForDays(analytics.DailyTrendPoints, today)
	}

	events, err := h.events.EventsForUser(ctx, q.UserID, r)
	if err != nil {
		return nil, fmt.Errorf("get_trend: %w", err)
	}
	return &TrendResult{UserID: q.UserID, Mode: mode, Points: analytics.Trend(events, mode, today)}, nil
}
