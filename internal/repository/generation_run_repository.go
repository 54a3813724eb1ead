package repository

import (
	"context"

	"github.com/pesio-ai/be-cm-works/internal/database"
	"github.com/pesio-ai/be-cm-works/internal/errors"
)

// GenerationRunRepository handles the append-only generation audit log.
// Rows are written once per completed orchestrator run and never updated.
type GenerationRunRepository struct {
	db *database.DB
}

// NewGenerationRunRepository creates a new GenerationRunRepository.
func NewGenerationRunRepository(db *database.DB) *GenerationRunRepository {
	return &GenerationRunRepository{db: db}
}

// Record appends one run record.
func (r *GenerationRunRepository) Record(ctx context.Context, run *GenerationRun) error {
	query := `
		INSERT INTO generation_runs
		    (target_year, target_month, created_count, existed_count, steps_created_count, triggered_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, ran_at
	`

	err := r.db.QueryRow(ctx, query,
		run.TargetYear,
		run.TargetMonth,
		run.Created,
		run.Existed,
		run.StepsCreated,
		run.TriggeredBy,
	).Scan(&run.ID, &run.RanAt)

	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to record generation run")
	}
	return nil
}

// List returns the most recent runs, newest first.
func (r *GenerationRunRepository) List(ctx context.Context, limit int) ([]*GenerationRun, error) {
	if limit < 1 {
		limit = 50
	}

	query := `
		SELECT id, target_year, target_month, created_count, existed_count,
		       steps_created_count, triggered_by, ran_at
		FROM generation_runs
		ORDER BY ran_at DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list generation runs")
	}
	defer rows.Close()

	runs := make([]*GenerationRun, 0)
	for rows.Next() {
		run := &GenerationRun{}
		err := rows.Scan(
			&run.ID,
			&run.TargetYear,
			&run.TargetMonth,
			&run.Created,
			&run.Existed,
			&run.StepsCreated,
			&run.TriggeredBy,
			&run.RanAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan generation run")
		}
		runs = append(runs, run)
	}
	return runs, nil
}
