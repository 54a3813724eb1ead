package repository

import (
	"context"

	"github.com/pesio-ai/be-cm-works/internal/database"
	"github.com/pesio-ai/be-cm-works/internal/errors"
)

// StepRuleRepository handles CRUD for customer_step_rules. Rules are
// configured by administrators and read-only to the generation engine.
type StepRuleRepository struct {
	db *database.DB
}

// NewStepRuleRepository creates a new StepRuleRepository.
func NewStepRuleRepository(db *database.DB) *StepRuleRepository {
	return &StepRuleRepository{db: db}
}

// Upsert inserts or replaces the rule for (customer, step_no). The rule is
// validated before it is written; malformed rules are rejected here so the
// resolver only ever has to degrade on rows that predate validation.
func (r *StepRuleRepository) Upsert(ctx context.Context, sr *StepRule) error {
	if sr.StepNo < 1 || sr.StepNo > StepCount {
		return errors.InvalidInput("step_no", "must be between 1 and 4")
	}
	if err := sr.Rule().Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO customer_step_rules
		    (customer_id, step_no, rule_type, day_of_month, nth, weekday, last_nth)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (customer_id, step_no) DO UPDATE
		SET rule_type = EXCLUDED.rule_type,
		    day_of_month = EXCLUDED.day_of_month,
		    nth = EXCLUDED.nth,
		    weekday = EXCLUDED.weekday,
		    last_nth = EXCLUDED.last_nth,
		    updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		sr.CustomerID,
		sr.StepNo,
		sr.RuleType,
		sr.DayOfMonth,
		sr.Nth,
		sr.Weekday,
		sr.LastNth,
	).Scan(&sr.ID, &sr.CreatedAt, &sr.UpdatedAt)

	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to upsert step rule")
	}
	return nil
}

// ListByCustomer returns the customer's rules keyed by step number.
func (r *StepRuleRepository) ListByCustomer(ctx context.Context, customerID string) (map[int]*StepRule, error) {
	query := `
		SELECT id, customer_id, step_no, rule_type,
		       day_of_month, nth, weekday, last_nth,
		       created_at, updated_at
		FROM customer_step_rules
		WHERE customer_id = $1
		ORDER BY step_no
	`

	rows, err := r.db.Query(ctx, query, customerID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list step rules")
	}
	defer rows.Close()

	rules := make(map[int]*StepRule)
	for rows.Next() {
		sr := &StepRule{}
		err := rows.Scan(
			&sr.ID,
			&sr.CustomerID,
			&sr.StepNo,
			&sr.RuleType,
			&sr.DayOfMonth,
			&sr.Nth,
			&sr.Weekday,
			&sr.LastNth,
			&sr.CreatedAt,
			&sr.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan step rule")
		}
		rules[sr.StepNo] = sr
	}
	return rules, nil
}

// Delete removes the rule for (customer, step_no). Absence of a rule behaves
// the same as NO_RULE during generation.
func (r *StepRuleRepository) Delete(ctx context.Context, customerID string, stepNo int) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM customer_step_rules WHERE customer_id = $1 AND step_no = $2`,
		customerID, stepNo)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete step rule")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("step_rule", customerID)
	}
	return nil
}
