package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-cm-works/internal/errors"
	"github.com/pesio-ai/be-cm-works/internal/logger"
	"github.com/pesio-ai/be-cm-works/internal/period"
	"github.com/pesio-ai/be-cm-works/internal/repository"
	"github.com/pesio-ai/be-cm-works/internal/rule"
)

// CustomerStore supplies the customer roster for a run.
type CustomerStore interface {
	List(ctx context.Context) ([]*repository.Customer, error)
	ListByIDs(ctx context.Context, ids []string) ([]*repository.Customer, error)
	GetByID(ctx context.Context, id string) (*repository.Customer, error)
}

// StepRuleStore supplies rule configuration, keyed by step number.
type StepRuleStore interface {
	ListByCustomer(ctx context.Context, customerID string) (map[int]*repository.StepRule, error)
}

// WorkStore persists works and steps. The *Tx methods run against the
// transaction that wraps one whole generation run.
type WorkStore interface {
	InTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
	FindTx(ctx context.Context, tx pgx.Tx, customerID string, year, month int) (*repository.Work, error)
	CreateTx(ctx context.Context, tx pgx.Tx, w *repository.Work) error
	StepsTx(ctx context.Context, tx pgx.Tx, workID string) ([]*repository.WorkStep, error)
	CreateStepTx(ctx context.Context, tx pgx.Tx, s *repository.WorkStep) error
	SetStepPlannedDueDateTx(ctx context.Context, tx pgx.Tx, stepID string, due time.Time) error
}

// RunRecorder appends generation-run audit records.
type RunRecorder interface {
	Record(ctx context.Context, run *repository.GenerationRun) error
}

// RunNotifier publishes run-completed events. Implementations must be
// non-fatal: a notification failure never fails a run.
type RunNotifier interface {
	PublishRunCompleted(ctx context.Context, run *repository.GenerationRun)
}

// Result holds the counts of one generation run.
type Result struct {
	Created      int `json:"created"`
	Existed      int `json:"existed"`
	StepsCreated int `json:"steps_created"`
}

// GenerationService ensures Work and WorkStep records exist for customers and
// periods. Creation is idempotent: existing rows, including any user edits,
// are never modified, and a resolved due date is written at most once.
type GenerationService struct {
	customers CustomerStore
	rules     StepRuleStore
	works     WorkStore
	runs      RunRecorder
	notifier  RunNotifier
	log       *logger.Logger
}

// NewGenerationService creates a new GenerationService. notifier may be nil.
func NewGenerationService(
	customers CustomerStore,
	rules StepRuleStore,
	works WorkStore,
	runs RunRecorder,
	notifier RunNotifier,
	log *logger.Logger,
) *GenerationService {
	return &GenerationService{
		customers: customers,
		rules:     rules,
		works:     works,
		runs:      runs,
		notifier:  notifier,
		log:       log,
	}
}

// RunForPeriod ensures works and steps for every customer in scope, inside
// one atomic transaction: either the whole run commits or nothing does. An
// empty customerIDs scope means all customers. triggeredBy records the run
// source in the audit log (manual, auto, cli).
func (s *GenerationService) RunForPeriod(ctx context.Context, p period.Period, customerIDs []string, triggeredBy string) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var (
		customers []*repository.Customer
		err       error
	)
	if len(customerIDs) > 0 {
		customers, err = s.customers.ListByIDs(ctx, customerIDs)
	} else {
		customers, err = s.customers.List(ctx)
	}
	if err != nil {
		return nil, err
	}

	result := &Result{}
	err = s.works.InTransaction(ctx, func(tx pgx.Tx) error {
		for _, customer := range customers {
			_, created, stepsCreated, err := s.ensureWorkTx(ctx, tx, customer, p)
			if err != nil {
				return err
			}
			if created {
				result.Created++
			} else {
				result.Existed++
			}
			result.StepsCreated += stepsCreated
		}
		return nil
	})
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeConflict) {
			// A concurrent run inserted the same keys first; the whole
			// transaction rolled back and a retry will count those rows as
			// existed.
			return nil, errors.Wrap(err, errors.ErrCodeConflict,
				fmt.Sprintf("concurrent generation run detected for period %s, retry", p))
		}
		return nil, err
	}

	run := &repository.GenerationRun{
		TargetYear:   p.Year,
		TargetMonth:  p.Month,
		Created:      result.Created,
		Existed:      result.Existed,
		StepsCreated: result.StepsCreated,
		TriggeredBy:  triggeredBy,
	}
	if err := s.runs.Record(ctx, run); err != nil {
		// The run itself committed; a lost audit row is logged, not fatal.
		s.log.Warn().Err(err).Str("period", p.String()).Msg("Failed to record generation run")
	}
	if s.notifier != nil {
		s.notifier.PublishRunCompleted(ctx, run)
	}

	s.log.Info().
		Str("period", p.String()).
		Str("triggered_by", triggeredBy).
		Int("customers", len(customers)).
		Int("created", result.Created).
		Int("existed", result.Existed).
		Int("steps_created", result.StepsCreated).
		Msg("Generation run completed")

	return result, nil
}

// EnsureWork ensures the work and steps for a single customer and period in
// its own small transaction. When a racing run wins the insert, the retry
// finds the winner's rows and returns them untouched.
func (s *GenerationService) EnsureWork(ctx context.Context, customerID string, p period.Period) (*repository.Work, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	customer, err := s.customers.GetByID(ctx, customerID)
	if err != nil {
		return nil, err
	}

	work, err := s.ensureWorkOnce(ctx, customer, p)
	if errors.IsCode(err, errors.ErrCodeConflict) {
		work, err = s.ensureWorkOnce(ctx, customer, p)
	}
	return work, err
}

func (s *GenerationService) ensureWorkOnce(ctx context.Context, customer *repository.Customer, p period.Period) (*repository.Work, error) {
	var work *repository.Work
	err := s.works.InTransaction(ctx, func(tx pgx.Tx) error {
		w, _, _, err := s.ensureWorkTx(ctx, tx, customer, p)
		work = w
		return err
	})
	if err != nil {
		return nil, err
	}
	return work, nil
}

// ensureWorkTx is the generator for one customer within one transaction.
// It upserts the work (snapshotting the customer's current assignment on
// create), upserts the four step rows, and fills planned due dates only
// where still unset.
func (s *GenerationService) ensureWorkTx(ctx context.Context, tx pgx.Tx, customer *repository.Customer, p period.Period) (*repository.Work, bool, int, error) {
	work, err := s.works.FindTx(ctx, tx, customer.ID, p.Year, p.Month)
	if err != nil {
		return nil, false, 0, err
	}

	created := false
	if work == nil {
		work = &repository.Work{
			CustomerID:      customer.ID,
			WorkYear:        p.Year,
			WorkMonth:       p.Month,
			BNReleaseStatus: repository.BNReleaseOpen,
			CustomerRegion:  customer.Region,
			AssignedCMID:    customer.ResponsibleCMID,
			AssignedLCMID:   customer.ResponsibleLCMID,
			AssignedLCMScnx: customer.ResponsibleLCMScnx,
		}
		if err := s.works.CreateTx(ctx, tx, work); err != nil {
			return nil, false, 0, err
		}
		created = true
	}

	steps, err := s.works.StepsTx(ctx, tx, work.ID)
	if err != nil {
		return nil, false, 0, err
	}
	byNo := make(map[int]*repository.WorkStep, len(steps))
	for _, step := range steps {
		byNo[step.StepNo] = step
	}

	rules, err := s.rules.ListByCustomer(ctx, customer.ID)
	if err != nil {
		return nil, false, 0, err
	}

	stepsCreated := 0
	for stepNo := 1; stepNo <= repository.StepCount; stepNo++ {
		step, ok := byNo[stepNo]
		if !ok {
			step = &repository.WorkStep{
				WorkID:     work.ID,
				StepNo:     stepNo,
				StepStatus: repository.StepStatusOpen,
			}
			if err := s.works.CreateStepTx(ctx, tx, step); err != nil {
				return nil, false, 0, err
			}
			stepsCreated++
		}

		// Fill-if-absent: a null date covers both new steps and steps created
		// before a rule existed. A date already set stays as it is, even if
		// the rule changed since it was resolved.
		if step.PlannedDueDate == nil {
			due := rule.Resolve(rules[stepNo].Rule(), p)
			if due != nil {
				if err := s.works.SetStepPlannedDueDateTx(ctx, tx, step.ID, *due); err != nil {
					return nil, false, 0, err
				}
				step.PlannedDueDate = due
			}
		}
		byNo[stepNo] = step
	}

	work.Steps = work.Steps[:0]
	for stepNo := 1; stepNo <= repository.StepCount; stepNo++ {
		work.Steps = append(work.Steps, byNo[stepNo])
	}
	return work, created, stepsCreated, nil
}
