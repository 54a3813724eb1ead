package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-cm-works/internal/errors"
	"github.com/pesio-ai/be-cm-works/internal/logger"
	"github.com/pesio-ai/be-cm-works/internal/period"
	"github.com/pesio-ai/be-cm-works/internal/repository"
)

// WorkEditStore persists the user-owned side of works and steps.
type WorkEditStore interface {
	ListByPeriod(ctx context.Context, year, month int) ([]*repository.Work, error)
	GetByID(ctx context.Context, id string) (*repository.Work, error)
	UpdateWork(ctx context.Context, id, bnReleaseStatus, comment string) error
	GetStep(ctx context.Context, stepID string) (*repository.WorkStep, error)
	UpdateStep(ctx context.Context, stepID string, plannedDueDate *time.Time, stepComment string) error
	CloseStep(ctx context.Context, stepID string, closedDate time.Time) error
}

// WorkService handles the post-creation, user-owned side of works and steps.
// The generation engine never touches these fields once set.
type WorkService struct {
	workRepo WorkEditStore
	log      *logger.Logger
}

// NewWorkService creates a new WorkService.
func NewWorkService(workRepo WorkEditStore, log *logger.Logger) *WorkService {
	return &WorkService{workRepo: workRepo, log: log}
}

// UpdateWorkRequest carries an edit to a work's user-owned fields.
type UpdateWorkRequest struct {
	ID              string `json:"id"`
	BNReleaseStatus string `json:"bn_release_status"`
	Comment         string `json:"comment"`
}

// UpdateStepRequest carries an edit to a step's user-owned fields. A nil
// PlannedDueDate clears the date, which re-arms resolution on the next run.
type UpdateStepRequest struct {
	StepID         string     `json:"step_id"`
	PlannedDueDate *time.Time `json:"planned_due_date"`
	StepComment    string     `json:"step_comment"`
}

// CloseStepRequest closes a step. ClosedDate defaults to today when nil.
type CloseStepRequest struct {
	StepID     string     `json:"step_id"`
	ClosedDate *time.Time `json:"closed_date"`
}

// ListWorks returns all works with steps for a period.
func (s *WorkService) ListWorks(ctx context.Context, p period.Period) ([]*repository.Work, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return s.workRepo.ListByPeriod(ctx, p.Year, p.Month)
}

// GetWork returns one work with its steps.
func (s *WorkService) GetWork(ctx context.Context, id string) (*repository.Work, error) {
	return s.workRepo.GetByID(ctx, id)
}

// UpdateWork sets a work's release status and comment.
func (s *WorkService) UpdateWork(ctx context.Context, req *UpdateWorkRequest) (*repository.Work, error) {
	validStatuses := map[string]bool{
		repository.BNReleaseOpen:    true,
		repository.BNReleaseFull:    true,
		repository.BNReleasePartial: true,
		repository.BNReleaseNone:    true,
	}
	if !validStatuses[req.BNReleaseStatus] {
		return nil, errors.InvalidInput("bn_release_status", "must be one of OPEN, FULL, PARTIAL, NONE")
	}

	if err := s.workRepo.UpdateWork(ctx, req.ID, req.BNReleaseStatus, req.Comment); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("work_id", req.ID).
		Str("bn_release_status", req.BNReleaseStatus).
		Msg("Work updated")

	return s.workRepo.GetByID(ctx, req.ID)
}

// UpdateStep sets a step's planned due date and comment.
func (s *WorkService) UpdateStep(ctx context.Context, req *UpdateStepRequest) (*repository.WorkStep, error) {
	if err := s.workRepo.UpdateStep(ctx, req.StepID, req.PlannedDueDate, req.StepComment); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("step_id", req.StepID).
		Bool("due_date_cleared", req.PlannedDueDate == nil).
		Msg("Work step updated")

	return s.workRepo.GetStep(ctx, req.StepID)
}

// CloseStep transitions a step to CLOSED. The actual closed date is set
// exactly once, defaulting to today when the caller does not supply one.
func (s *WorkService) CloseStep(ctx context.Context, req *CloseStepRequest) (*repository.WorkStep, error) {
	step, err := s.workRepo.GetStep(ctx, req.StepID)
	if err != nil {
		return nil, err
	}
	if step.StepStatus == repository.StepStatusClosed {
		return step, nil
	}

	now := time.Now().UTC()
	closedDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if req.ClosedDate != nil {
		closedDate = *req.ClosedDate
	}

	if err := s.workRepo.CloseStep(ctx, req.StepID, closedDate); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("step_id", req.StepID).
		Time("closed_date", closedDate).
		Msg("Work step closed")

	return s.workRepo.GetStep(ctx, req.StepID)
}
