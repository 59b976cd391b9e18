package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/lesson-insights/internal/domain/analytics"
	"github.com/alem-hub/lesson-insights/internal/domain/shared"
	"github.com/alem-hub/lesson-insights/pkg/timeutil"
)

// MetricRepository stores per-user habit metrics.
type MetricRepository struct {
	conn *Connection
}

var _ analytics.MetricSource = (*MetricRepository)(nil)

// NewMetricRepository creates a MetricRepository.
func NewMetricRepository(conn *Connection) *MetricRepository {
	return &MetricRepository{conn: conn}
}

const metricColumns = `user_id, streak, last_event_date, weekly_goal, weekly_progress`

// GetMetric implements analytics.MetricSource.
func (r *MetricRepository) GetMetric(ctx context.Context, userID string) (*analytics.UserLearningMetric, error) {
	row := r.conn.Pool().QueryRow(ctx, `SELECT `+metricColumns+` FROM user_learning_metrics WHERE user_id = $1`, userID)
	m, err := scanMetric(row)
	if IsNoRows(err) {
		return nil, shared.WrapError("analytics", "GetMetric", shared.ErrNotFound, "metric not found for user "+userID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("get metric: %w", err)
	}
	return m, nil
}

// ListMetrics implements analytics.MetricSource.
func (r *MetricRepository) ListMetrics(ctx context.Context) ([]analytics.UserLearningMetric, error) {
	rows, err := r.conn.Pool().Query(ctx, `SELECT `+metricColumns+` FROM user_learning_metrics ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()

	var out []analytics.UserLearningMetric
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// Upsert writes metrics, replacing existing rows.
func (r *MetricRepository) Upsert(ctx context.Context, metrics []analytics.UserLearningMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range metrics {
		var last *time.Time
		if m.LastEventDate != nil {
			t := m.LastEventDate.Time()
			last = &t
		}
		batch.Queue(`
			INSERT INTO user_learning_metrics (`+metricColumns+`, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			ON CONFLICT (user_id) DO UPDATE SET
				streak = EXCLUDED.streak,
				last_event_date = EXCLUDED.last_event_date,
				weekly_goal = EXCLUDED.weekly_goal,
				weekly_progress = EXCLUDED.weekly_progress,
				updated_at = NOW()`,
			m.UserID, m.Streak, last, m.WeeklyGoal, m.WeeklyProgress,
		)
	}

	if err := r.conn.Pool().SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert metrics: %w", err)
	}
	return nil
}

func scanMetric(row pgx.Row) (*analytics.UserLearningMetric, error) {
	var (
		m    analytics.UserLearningMetric
		last *time.Time
	)
	if err := row.Scan(&m.UserID, &m.Streak, &last, &m.WeeklyGoal, &m.WeeklyProgress); err != nil {
		return nil, err
	}
	if last != nil {
		d := timeutil.DateOf(*last)
		m.LastEventDate = &d
	}
	return &m, nil
}
