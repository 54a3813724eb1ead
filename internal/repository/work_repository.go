package repository

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-cm-works/internal/database"
	"github.com/pesio-ai/be-cm-works/internal/errors"
)

// WorkRepository handles works and their step rows. The generation engine
// owns creation; status, comments and manual date edits are user-owned after
// that, and the engine never writes those columns.
//
// The *Tx methods run against a caller-supplied transaction so a bulk
// generation run can wrap every customer's upserts in one atomic commit.
type WorkRepository struct {
	db *database.DB
}

// NewWorkRepository creates a new WorkRepository.
func NewWorkRepository(db *database.DB) *WorkRepository {
	return &WorkRepository{db: db}
}

// InTransaction exposes the pool's transaction scope to the service layer.
func (r *WorkRepository) InTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return r.db.InTransaction(ctx, fn)
}

const workColumns = `
	id, customer_id, work_year, work_month, bn_release_status, comment,
	customer_region, assigned_cm, assigned_lcm, assigned_lcm_scnx,
	created_at, updated_at
`

// FindTx returns the work for (customer, year, month), or nil when absent.
func (r *WorkRepository) FindTx(ctx context.Context, tx pgx.Tx, customerID string, year, month int) (*Work, error) {
	query := `
		SELECT ` + workColumns + `
		FROM works
		WHERE customer_id = $1 AND work_year = $2 AND work_month = $3
	`

	w := &Work{}
	err := scanWork(tx.QueryRow(ctx, query, customerID, year, month), w)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to find work")
	}
	return w, nil
}

// CreateTx inserts a new work row with its assignment snapshot. A duplicate
// (customer, year, month) from a racing run surfaces as ErrCodeConflict; the
// unique constraint is the authoritative guard, never the application.
func (r *WorkRepository) CreateTx(ctx context.Context, tx pgx.Tx, w *Work) error {
	query := `
		INSERT INTO works (customer_id, work_year, work_month, bn_release_status, comment,
		                   customer_region, assigned_cm, assigned_lcm, assigned_lcm_scnx)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`

	err := tx.QueryRow(ctx, query,
		w.CustomerID,
		w.WorkYear,
		w.WorkMonth,
		w.BNReleaseStatus,
		w.Comment,
		w.CustomerRegion,
		w.AssignedCMID,
		w.AssignedLCMID,
		w.AssignedLCMScnx,
	).Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt)

	if isUniqueViolation(err) {
		return errors.Wrap(err, errors.ErrCodeConflict, "work already exists for customer and period")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create work")
	}
	return nil
}

// StepsTx returns the work's step rows ordered by step number.
func (r *WorkRepository) StepsTx(ctx context.Context, tx pgx.Tx, workID string) ([]*WorkStep, error) {
	query := `
		SELECT id, work_id, step_no, planned_due_date, actual_closed_date,
		       step_status, step_comment, created_at, updated_at
		FROM work_steps
		WHERE work_id = $1
		ORDER BY step_no
	`

	rows, err := tx.Query(ctx, query, workID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list work steps")
	}
	defer rows.Close()

	return scanSteps(rows)
}

// CreateStepTx inserts an empty step row. Duplicate (work, step_no) maps to
// ErrCodeConflict, same as CreateTx.
func (r *WorkRepository) CreateStepTx(ctx context.Context, tx pgx.Tx, s *WorkStep) error {
	query := `
		INSERT INTO work_steps (work_id, step_no, step_status, step_comment)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`

	err := tx.QueryRow(ctx, query,
		s.WorkID,
		s.StepNo,
		s.StepStatus,
		s.StepComment,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)

	if isUniqueViolation(err) {
		return errors.Wrap(err, errors.ErrCodeConflict, "work step already exists")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create work step")
	}
	return nil
}

// SetStepPlannedDueDateTx fills in a resolved due date. The WHERE clause
// re-checks that the date is still unset, so a previously-resolved or
// user-edited date is never overwritten.
func (r *WorkRepository) SetStepPlannedDueDateTx(ctx context.Context, tx pgx.Tx, stepID string, due time.Time) error {
	query := `
		UPDATE work_steps
		SET planned_due_date = $2,
		    updated_at = NOW()
		WHERE id = $1 AND planned_due_date IS NULL
	`

	if _, err := tx.Exec(ctx, query, stepID, due); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to set planned due date")
	}
	return nil
}

// GetByID retrieves a work with its steps.
func (r *WorkRepository) GetByID(ctx context.Context, id string) (*Work, error) {
	query := `SELECT ` + workColumns + ` FROM works WHERE id = $1`

	w := &Work{}
	err := scanWork(r.db.QueryRow(ctx, query, id), w)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("work", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get work")
	}

	steps, err := r.listSteps(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	w.Steps = steps
	return w, nil
}

// ListByPeriod returns all works for a period, steps included.
func (r *WorkRepository) ListByPeriod(ctx context.Context, year, month int) ([]*Work, error) {
	query := `
		SELECT ` + workColumns + `
		FROM works
		WHERE work_year = $1 AND work_month = $2
		ORDER BY created_at
	`

	rows, err := r.db.Query(ctx, query, year, month)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list works")
	}
	defer rows.Close()

	works := make([]*Work, 0)
	for rows.Next() {
		w := &Work{}
		if err := scanWork(rows, w); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan work")
		}
		works = append(works, w)
	}

	for _, w := range works {
		steps, err := r.listSteps(ctx, w.ID)
		if err != nil {
			return nil, err
		}
		w.Steps = steps
	}
	return works, nil
}

// UpdateWork writes the user-owned fields of a work.
func (r *WorkRepository) UpdateWork(ctx context.Context, id, bnReleaseStatus, comment string) error {
	query := `
		UPDATE works
		SET bn_release_status = $2,
		    comment = $3,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, bnReleaseStatus, comment).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("work", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update work")
	}
	return nil
}

// GetStep retrieves one step row.
func (r *WorkRepository) GetStep(ctx context.Context, stepID string) (*WorkStep, error) {
	query := `
		SELECT id, work_id, step_no, planned_due_date, actual_closed_date,
		       step_status, step_comment, created_at, updated_at
		FROM work_steps
		WHERE id = $1
	`

	s := &WorkStep{}
	err := r.db.QueryRow(ctx, query, stepID).Scan(
		&s.ID, &s.WorkID, &s.StepNo, &s.PlannedDueDate, &s.ActualClosedDate,
		&s.StepStatus, &s.StepComment, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("work_step", stepID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get work step")
	}
	return s, nil
}

// UpdateStep writes the user-owned step fields. A nil planned date clears the
// column, which re-arms due-date resolution on the next generation run.
func (r *WorkRepository) UpdateStep(ctx context.Context, stepID string, plannedDueDate *time.Time, stepComment string) error {
	query := `
		UPDATE work_steps
		SET planned_due_date = $2,
		    step_comment = $3,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, stepID, plannedDueDate, stepComment).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("work_step", stepID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update work step")
	}
	return nil
}

// CloseStep transitions a step to CLOSED, setting actual_closed_date only if
// it is not already set.
func (r *WorkRepository) CloseStep(ctx context.Context, stepID string, closedDate time.Time) error {
	query := `
		UPDATE work_steps
		SET step_status = 'CLOSED',
		    actual_closed_date = COALESCE(actual_closed_date, $2),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, stepID, closedDate).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("work_step", stepID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to close work step")
	}
	return nil
}

func (r *WorkRepository) listSteps(ctx context.Context, workID string) ([]*WorkStep, error) {
	query := `
		SELECT id, work_id, step_no, planned_due_date, actual_closed_date,
		       step_status, step_comment, created_at, updated_at
		FROM work_steps
		WHERE work_id = $1
		ORDER BY step_no
	`

	rows, err := r.db.Query(ctx, query, workID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list work steps")
	}
	defer rows.Close()

	return scanSteps(rows)
}

func scanWork(row pgx.Row, w *Work) error {
	return row.Scan(
		&w.ID,
		&w.CustomerID,
		&w.WorkYear,
		&w.WorkMonth,
		&w.BNReleaseStatus,
		&w.Comment,
		&w.CustomerRegion,
		&w.AssignedCMID,
		&w.AssignedLCMID,
		&w.AssignedLCMScnx,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
}

func scanSteps(rows pgx.Rows) ([]*WorkStep, error) {
	steps := make([]*WorkStep, 0, StepCount)
	for rows.Next() {
		s := &WorkStep{}
		err := rows.Scan(
			&s.ID, &s.WorkID, &s.StepNo, &s.PlannedDueDate, &s.ActualClosedDate,
			&s.StepStatus, &s.StepComment, &s.CreatedAt, &s.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan work step")
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == "23505"
}
