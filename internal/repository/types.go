package repository

import (
	"time"

	"github.com/pesio-ai/be-cm-works/internal/rule"
)

// ── Domain types for CM invoice-work tracking ────────────────────────────────

// StepCount is the fixed number of checkpoints tracked per work.
const StepCount = 4

// Work release statuses.
const (
	BNReleaseOpen    = "OPEN"
	BNReleaseFull    = "FULL"
	BNReleasePartial = "PARTIAL"
	BNReleaseNone    = "NONE"
)

// Step statuses.
const (
	StepStatusOpen   = "OPEN"
	StepStatusClosed = "CLOSED"
)

// User is a responsible party (CM / LCM / HoD). Managed by administrators;
// read-only to the generation engine.
type User struct {
	ID          string
	Username    string
	EnglishName string
	Scnx        *string // SCN1 | SCN2
	Role        *string // CM | LCM | HOD
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Customer is one tracked customer. (Ile, RoundLocation) is the natural key.
type Customer struct {
	ID               string
	Ile              string
	RoundLocation    string
	Region           *string // CCN1..CCN4
	ResponsibleCMID  *string
	ResponsibleLCMID *string
	// ResponsibleLCMScnx is joined from the responsible LCM's user record so
	// the generator can snapshot it without a second lookup.
	ResponsibleLCMScnx *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// StepRule is one configured due-date rule row, unique per (customer, step_no).
type StepRule struct {
	ID         string
	CustomerID string
	StepNo     int // 1..4
	RuleType   rule.Type
	DayOfMonth *int
	Nth        *int
	Weekday    *int // 0=Monday
	LastNth    *int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Rule converts the row into the pure resolver form.
func (r *StepRule) Rule() *rule.Rule {
	if r == nil {
		return nil
	}
	return &rule.Rule{
		Type:       r.RuleType,
		DayOfMonth: r.DayOfMonth,
		Nth:        r.Nth,
		Weekday:    r.Weekday,
		LastNth:    r.LastNth,
	}
}

// Work is one customer-month obligation, unique per
// (customer_id, work_year, work_month). The assigned_* fields are snapshots
// of the customer's assignment at creation time and never follow later
// customer edits.
type Work struct {
	ID              string
	CustomerID      string
	WorkYear        int
	WorkMonth       int
	BNReleaseStatus string // OPEN | FULL | PARTIAL | NONE
	Comment         string
	CustomerRegion  *string
	AssignedCMID    *string
	AssignedLCMID   *string
	AssignedLCMScnx *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Steps           []*WorkStep
}

// WorkStep is one checkpoint row, unique per (work_id, step_no).
type WorkStep struct {
	ID               string
	WorkID           string
	StepNo           int // 1..4
	PlannedDueDate   *time.Time // nil until resolved; nil also after a manual clear
	ActualClosedDate *time.Time
	StepStatus       string // OPEN | CLOSED
	StepComment      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// GenerationRun is one immutable audit record of an orchestrator run.
type GenerationRun struct {
	ID           string
	TargetYear   int
	TargetMonth  int
	Created      int
	Existed      int
	StepsCreated int
	TriggeredBy  string // manual | auto | cli
	RanAt        time.Time
}
