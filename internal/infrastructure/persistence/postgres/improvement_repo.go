package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/lesson-insights/internal/domain/improvement"
	"github.com/alem-hub/lesson-insights/internal/domain/shared"
)

// ImprovementRepository stores tracked improvements and their status.
type ImprovementRepository struct {
	conn *Connection
}

var (
	_ improvement.Repository = (*ImprovementRepository)(nil)
	_ improvement.Catalog    = (*ImprovementRepository)(nil)
)

// NewImprovementRepository creates an ImprovementRepository.
func NewImprovementRepository(conn *Connection) *ImprovementRepository {
	return &ImprovementRepository{conn: conn}
}

const improvementColumns = `
	id, lesson_slug, hint_type, issue_number, baseline_rate, cost, window_days, closed,
	priority_score, effectiveness_delta, roi, evaluation_count, last_evaluated_at, created_at`

// Create implements improvement.Repository.
func (r *ImprovementRepository) Create(ctx context.Context, imp *improvement.Improvement) error {
	_, err := r.conn.Pool().Exec(ctx, `
		INSERT INTO improvements (`+improvementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		imp.ID, imp.LessonSlug, imp.HintType, imp.IssueNumber, imp.BaselineRate, imp.Cost, imp.WindowDays, imp.Closed,
		imp.Status.PriorityScore, imp.Status.EffectivenessDelta, imp.Status.ROI, imp.Status.EvaluationCount,
		imp.Status.LastEvaluatedAt, imp.CreatedAt,
	)
	if IsUniqueViolation(err) {
		return shared.ErrImprovementExists
	}
	if err != nil {
		return fmt.Errorf("create improvement: %w", err)
	}
	return nil
}

// GetByID implements improvement.Repository.
func (r *ImprovementRepository) GetByID(ctx context.Context, id string) (*improvement.Improvement, error) {
	return r.getOne(ctx, `SELECT `+improvementColumns+` FROM improvements WHERE id = $1`, id)
}

// GetOpenByLesson implements improvement.Repository.
func (r *ImprovementRepository) GetOpenByLesson(ctx context.Context, lessonSlug string) (*improvement.Improvement, error) {
	return r.getOne(ctx, `SELECT `+improvementColumns+` FROM improvements WHERE lesson_slug = $1 AND NOT closed`, lessonSlug)
}

// ListOpen implements improvement.Repository.
func (r *ImprovementRepository) ListOpen(ctx context.Context) ([]*improvement.Improvement, error) {
	rows, err := r.conn.Pool().Query(ctx, `SELECT `+improvementColumns+` FROM improvements WHERE NOT closed ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list improvements: %w", err)
	}
	defer rows.Close()

	var out []*improvement.Improvement
	for rows.Next() {
		imp, err := scanImprovement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan improvement: %w", err)
		}
		out = append(out, imp)
	}
	return out, rows.Err()
}

// SaveStatus implements improvement.Repository.
func (r *ImprovementRepository) SaveStatus(ctx context.Context, s improvement.Status) error {
	tag, err := r.conn.Pool().Exec(ctx, `
		UPDATE improvements SET
			priority_score = $2,
			effectiveness_delta = $3,
			roi = $4,
			evaluation_count = $5,
			last_evaluated_at = $6
		WHERE id = $1`,
		s.ImprovementID, s.PriorityScore, s.EffectivenessDelta, s.ROI, s.EvaluationCount, s.LastEvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("save improvement status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrImprovementNotFound
	}
	return nil
}

// MarkClosed implements improvement.Repository.
func (r *ImprovementRepository) MarkClosed(ctx context.Context, id string) error {
	tag, err := r.conn.Pool().Exec(ctx, `UPDATE improvements SET closed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("close improvement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrImprovementNotFound
	}
	return nil
}

// Lessons implements improvement.Catalog.
func (r *ImprovementRepository) Lessons(ctx context.Context) (map[string]improvement.Lesson, error) {
	rows, err := r.conn.Pool().Query(ctx, `SELECT slug, title, hint_type FROM lessons`)
	if err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	defer rows.Close()

	out := make(map[string]improvement.Lesson)
	for rows.Next() {
		var l improvement.Lesson
		if err := rows.Scan(&l.Slug, &l.Title, &l.HintType); err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		out[l.Slug] = l
	}
	return out, rows.Err()
}

func (r *ImprovementRepository) getOne(ctx context.Context, sql string, arg any) (*improvement.Improvement, error) {
	imp, err := scanImprovement(r.conn.Pool().QueryRow(ctx, sql, arg))
	if IsNoRows(err) {
		return nil, shared.ErrImprovementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get improvement: %w", err)
	}
	return imp, nil
}

func scanImprovement(row pgx.Row) (*improvement.Improvement, error) {
	var imp improvement.Improvement
	err := row.Scan(
		&imp.ID, &imp.LessonSlug, &imp.HintType, &imp.IssueNumber, &imp.BaselineRate, &imp.Cost, &imp.WindowDays, &imp.Closed,
		&imp.Status.PriorityScore, &imp.Status.EffectivenessDelta, &imp.Status.ROI, &imp.Status.EvaluationCount,
		&imp.Status.LastEvaluatedAt, &imp.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	imp.Status.ImprovementID = imp.ID
	return &imp, nil
}
