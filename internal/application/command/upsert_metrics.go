package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/lesson-insights/internal/domain/analytics"
	"github.com/alem-hub/lesson-insights/pkg/logger"
)

// MetricWriter stores derived user metrics.
type MetricWriter interface {
	Upsert(ctx context.Context, metrics []analytics.UserLearningMetric) error
}

// UpsertMetricsCommand replaces the metrics of the listed users.
type UpsertMetricsCommand struct {
	Metrics []analytics.UserLearningMetric `json:"metrics"`
}

// Validate rejects the whole batch when any metric is malformed.
func (c UpsertMetricsCommand) Validate() error {
	for i, m := range c.Metrics {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("metric %d: %w", i, err)
		}
	}
	return nil
}

// UpsertMetricsHandler handles UpsertMetricsCommand.
type UpsertMetricsHandler struct {
	store MetricWriter
	cache analytics.MetricCache
	log   *logger.Logger
}

// NewUpsertMetricsHandler creates a handler. cache may be nil.
func NewUpsertMetricsHandler(store MetricWriter, cache analytics.MetricCache, log *logger.Logger) *UpsertMetricsHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &UpsertMetricsHandler{store: store, cache: cache, log: log}
}

// Handle stores the metrics and returns how many were written.
func (h *UpsertMetricsHandler) Handle(ctx context.Context, cmd UpsertMetricsCommand) (int, error) {
	if err := cmd.Validate(); err != nil {
		return 0, fmt.Errorf("upsert_metrics: %w", err)
	}
	if len(cmd.Metrics) == 0 {
		return 0, nil
	}

	if err := h.store.Upsert(ctx, cmd.Metrics); err != nil {
		return 0, fmt.Errorf("upsert_metrics: %w", err)
	}

	users := make([]string, len(cmd.Metrics))
	for i, m := range cmd.Metrics {
		users[i] = m.UserID
	}
	invalidate(ctx, h.cache, h.log, users)

	return len(cmd.Metrics), nil
}
