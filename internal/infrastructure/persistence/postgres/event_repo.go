package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/lesson-insights/internal/domain/analytics"
	"github.com/alem-hub/lesson-insights/pkg/timeutil"
)

// EventRepository stores the append-only learning event log.
type EventRepository struct {
	conn *Connection
}

var (
	_ analytics.EventSource = (*EventRepository)(nil)
	_ analytics.EventLog    = (*EventRepository)(nil)
)

// NewEventRepository creates an EventRepository.
func NewEventRepository(conn *Connection) *EventRepository {
	return &EventRepository{conn: conn}
}

const eventColumns = `user_id, event_type, event_date, reference_id`

// Append inserts events in a single batch transaction.
func (r *EventRepository) Append(ctx context.Context, events []analytics.LearningEvent) error {
	if len(events) == 0 {
		return nil
	}

	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		rows := make([][]any, len(events))
		for i, e := range events {
			rows[i] = []any{e.UserID, string(e.EventType), e.EventDate.Time(), nullable(e.ReferenceID)}
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"learning_events"},
			[]string{"user_id", "event_type", "event_date", "reference_id"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("append events: %w", err)
		}
		return nil
	})
}

// EventsForUser implements analytics.EventSource.
func (r *EventRepository) EventsForUser(ctx context.Context, userID string, dr timeutil.DateRange) ([]analytics.LearningEvent, error) {
	return r.query(ctx, `
		SELECT `+eventColumns+`
		FROM learning_events
		WHERE user_id = $1 AND event_date BETWEEN $2 AND $3
		ORDER BY event_date, id`,
		userID, dr.Start.Time(), dr.End.Time(),
	)
}

// EventsInRange implements analytics.EventSource.
func (r *EventRepository) EventsInRange(ctx context.Context, dr timeutil.DateRange) ([]analytics.LearningEvent, error) {
	return r.query(ctx, `
		SELECT `+eventColumns+`
		FROM learning_events
		WHERE event_date BETWEEN $1 AND $2
		ORDER BY event_date, id`,
		dr.Start.Time(), dr.End.Time(),
	)
}

// EventsForReference implements analytics.EventSource. It returns the
// events referencing the entity plus every other event of the users
// involved, since follow-ups may not carry the reference.
func (r *EventRepository) EventsForReference(ctx context.Context, referenceID string, dr timeutil.DateRange) ([]analytics.LearningEvent, error) {
	return r.query(ctx, `
		SELECT `+eventColumns+`
		FROM learning_events
		WHERE event_date BETWEEN $2 AND $3
		  AND user_id IN (
			SELECT DISTINCT user_id FROM learning_events
			WHERE reference_id = $1 AND event_date BETWEEN $2 AND $3
		  )
		ORDER BY event_date, id`,
		referenceID, dr.Start.Time(), dr.End.Time(),
	)
}

func (r *EventRepository) query(ctx context.Context, sql string, args ...any) ([]analytics.LearningEvent, error) {
	rows, err := r.conn.Pool().Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []analytics.LearningEvent
	for rows.Next() {
		var (
			e     analytics.LearningEvent
			typ   string
			date  time.Time
			refID *string
		)
		if err := rows.Scan(&e.UserID, &typ, &date, &refID); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.EventType = analytics.EventType(typ)
		e.EventDate = timeutil.DateOf(date)
		if refID != nil {
			e.ReferenceID = *refID
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
