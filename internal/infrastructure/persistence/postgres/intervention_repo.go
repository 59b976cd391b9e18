package postgres

import (
	"context"
	"fmt"

	"github.com/alem-hub/lesson-insights/internal/domain/intervention"
)

// InterventionLog records shown rescue interventions.
type InterventionLog struct {
	conn *Connection
}

var _ intervention.Recorder = (*InterventionLog)(nil)

// NewInterventionLog creates an InterventionLog.
func NewInterventionLog(conn *Connection) *InterventionLog {
	return &InterventionLog{conn: conn}
}

// RecordIntervention implements intervention.Recorder.
func (l *InterventionLog) RecordIntervention(ctx context.Context, userID string, in intervention.Intervention) error {
	_, err := l.conn.Pool().Exec(ctx,
		`INSERT INTO intervention_log (user_id, kind) VALUES ($1, $2)`,
		userID, string(in.Kind),
	)
	if err != nil {
		return fmt.Errorf("record intervention: %w", err)
	}
	return nil
}
