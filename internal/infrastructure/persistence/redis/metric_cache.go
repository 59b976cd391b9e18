package redis

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/lesson-insights/internal/domain/analytics"
	"github.com/alem-hub/lesson-insights/internal/domain/shared"
)

// MetricCache caches UserLearningMetric values by user ID.
type MetricCache struct {
	cache *Cache
	ttl   time.Duration
}

var _ analytics.MetricCache = (*MetricCache)(nil)

// NewMetricCache creates a MetricCache. A non-positive ttl uses TTLMetric.
func NewMetricCache(cache *Cache, ttl time.Duration) *MetricCache {
	if ttl <= 0 {
		ttl = TTLMetric
	}
	return &MetricCache{cache: cache, ttl: ttl}
}

// Get returns the cached metric or a wrapped shared.ErrNotFound on miss.
func (m *MetricCache) Get(ctx context.Context, userID string) (*analytics.UserLearningMetric, error) {
	var metric analytics.UserLearningMetric
	err := m.cache.Get(ctx, MetricKey(userID), &metric)
	if errors.Is(err, ErrCacheMiss) {
		return nil, shared.WrapError("cache", "GetMetric", shared.ErrNotFound, "metric not cached", err)
	}
	if err != nil {
		return nil, shared.WrapError("cache", "GetMetric", shared.ErrServiceUnavailable, "read metric", err)
	}
	return &metric, nil
}

// Set stores a metric.
func (m *MetricCache) Set(ctx context.Context, metric *analytics.UserLearningMetric) error {
	if metric == nil {
		return ErrCacheNilValue
	}
	return m.cache.Set(ctx, MetricKey(metric.UserID), metric, m.ttl)
}

// Invalidate drops cached metrics for the given users.
func (m *MetricCache) Invalidate(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = MetricKey(id)
	}
	return m.cache.Delete(ctx, keys...)
}
