package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: LEARNING EVENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Append-only learning event log. Rows are never updated.
CREATE TABLE IF NOT EXISTS learning_events (
    id BIGSERIAL PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    event_type VARCHAR(40) NOT NULL,
    event_date DATE NOT NULL,
    reference_id VARCHAR(128),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_learning_events_user_date ON learning_events(user_id, event_date);
CREATE INDEX IF NOT EXISTS idx_learning_events_date ON learning_events(event_date);
CREATE INDEX IF NOT EXISTS idx_learning_events_reference ON learning_events(reference_id, event_date)
    WHERE reference_id IS NOT NULL;
`

const migration001Down = `
DROP TABLE IF EXISTS learning_events;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: USER METRICS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS user_learning_metrics (
    user_id VARCHAR(64) PRIMARY KEY,
    streak INTEGER NOT NULL DEFAULT 0,
    last_event_date DATE,
    weekly_goal INTEGER NOT NULL DEFAULT 0,
    weekly_progress INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_streak CHECK (streak >= 0),
    CONSTRAINT valid_weekly_goal CHECK (weekly_goal >= 0),
    CONSTRAINT valid_weekly_progress CHECK (weekly_progress >= 0)
);

CREATE TABLE IF NOT EXISTS lessons (
    slug VARCHAR(128) PRIMARY KEY,
    title VARCHAR(255) NOT NULL,
    hint_type VARCHAR(40) NOT NULL DEFAULT ''
);
`

const migration002Down = `
DROP TABLE IF EXISTS lessons;
DROP TABLE IF EXISTS user_learning_metrics;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: IMPROVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS improvements (
    id UUID PRIMARY KEY,
    lesson_slug VARCHAR(128) NOT NULL,
    hint_type VARCHAR(40) NOT NULL DEFAULT '',
    issue_number INTEGER NOT NULL,
    baseline_rate INTEGER NOT NULL,
    cost DOUBLE PRECISION NOT NULL DEFAULT 0,
    window_days INTEGER NOT NULL,
    closed BOOLEAN NOT NULL DEFAULT FALSE,
    priority_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    effectiveness_delta DOUBLE PRECISION NOT NULL DEFAULT 0,
    roi DOUBLE PRECISION NOT NULL DEFAULT 0,
    evaluation_count INTEGER NOT NULL DEFAULT 0,
    last_evaluated_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_cost CHECK (cost >= 0),
    CONSTRAINT valid_evaluation_count CHECK (evaluation_count >= 0)
);

-- At most one open improvement per lesson.
CREATE UNIQUE INDEX IF NOT EXISTS idx_improvements_open_lesson ON improvements(lesson_slug) WHERE NOT closed;
`

const migration003Down = `
DROP TABLE IF EXISTS improvements;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: INTERVENTION LOG
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
CREATE TABLE IF NOT EXISTS intervention_log (
    id BIGSERIAL PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    kind VARCHAR(32) NOT NULL,
    shown_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_intervention_log_user ON intervention_log(user_id, shown_at DESC);
`

const migration004Down = `
DROP TABLE IF EXISTS intervention_log;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration is one schema step.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// GetMigrations returns the embedded migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_learning_events", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_user_metrics", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_improvements", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "create_intervention_log", UpSQL: migration004Up, DownSQL: migration004Down},
	}
}

const migrationsTable = "schema_migrations"

// Migrator applies embedded migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

// NewMigrator creates a migrator over the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	migrations := GetMigrations()
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return &Migrator{conn: conn, migrations: migrations}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.conn.Pool().Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+migrationsTable+` (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Pool().Query(ctx, "SELECT version, applied_at FROM "+migrationsTable)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]time.Time)
	for rows.Next() {
		var v int
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, fmt.Errorf("scan migration row: %w", err)
		}
		out[v] = at
	}
	return out, rows.Err()
}

// Migrate applies pending migrations, each in its own transaction. It
// returns the versions applied.
func (m *Migrator) Migrate(ctx context.Context) ([]int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	done, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	var appliedNow []int
	for _, mig := range m.migrations {
		if _, ok := done[mig.Version]; ok {
			continue
		}
		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO "+migrationsTable+" (version, name) VALUES ($1, $2)", mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return appliedNow, fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
		appliedNow = append(appliedNow, mig.Version)
	}
	return appliedNow, nil
}

// Rollback reverts the latest applied migration. It is a no-op when nothing
// is applied.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	done, err := m.applied(ctx)
	if err != nil {
		return err
	}

	last := 0
	for v := range done {
		if v > last {
			last = v
		}
	}
	if last == 0 {
		return nil
	}

	for _, mig := range m.migrations {
		if mig.Version != last {
			continue
		}
		return m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
				return fmt.Errorf("rollback migration %d: %w", last, err)
			}
			_, err := tx.Exec(ctx, "DELETE FROM "+migrationsTable+" WHERE version = $1", last)
			return err
		})
	}
	return fmt.Errorf("%w: unknown applied version %d", ErrMigrationFailed, last)
}

// Status lists every migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	done, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)
	for i := range out {
		if at, ok := done[out[i].Version]; ok {
			out[i].IsApplied = true
			out[i].AppliedAt = at
		}
	}
	return out, nil
}
