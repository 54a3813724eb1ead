package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-cm-works/internal/errors"
	"github.com/pesio-ai/be-cm-works/internal/logger"
	"github.com/pesio-ai/be-cm-works/internal/period"
	"github.com/pesio-ai/be-cm-works/internal/repository"
	"github.com/pesio-ai/be-cm-works/internal/rule"
)

// ── In-memory fakes ──────────────────────────────────────────────────────────

type fakeCustomerStore struct {
	customers []*repository.Customer
}

func (f *fakeCustomerStore) List(ctx context.Context) ([]*repository.Customer, error) {
	return f.customers, nil
}

func (f *fakeCustomerStore) ListByIDs(ctx context.Context, ids []string) ([]*repository.Customer, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []*repository.Customer
	for _, c := range f.customers {
		if want[c.ID] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCustomerStore) GetByID(ctx context.Context, id string) (*repository.Customer, error) {
	for _, c := range f.customers {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, errors.NotFound("customer", id)
}

type fakeRuleStore struct {
	rules map[string]map[int]*repository.StepRule // customerID → stepNo → rule
}

func (f *fakeRuleStore) ListByCustomer(ctx context.Context, customerID string) (map[int]*repository.StepRule, error) {
	if byStep, ok := f.rules[customerID]; ok {
		return byStep, nil
	}
	return map[int]*repository.StepRule{}, nil
}

// fakeWorkStore keeps works and steps in maps and mimics the storage layer's
// unique constraints and transaction rollback.
type fakeWorkStore struct {
	works  map[string]*repository.Work
	steps  map[string]*repository.WorkStep
	nextID int

	// failOnCreate makes the nth work insert fail, to exercise rollback.
	failOnCreate int
	creates      int

	// hideFromFind makes FindTx miss, simulating a concurrent run that
	// inserts the same keys between the lookup and the insert.
	hideFromFind bool
}

func newFakeWorkStore() *fakeWorkStore {
	return &fakeWorkStore{
		works: make(map[string]*repository.Work),
		steps: make(map[string]*repository.WorkStep),
	}
}

func (f *fakeWorkStore) snapshot() (map[string]*repository.Work, map[string]*repository.WorkStep) {
	works := make(map[string]*repository.Work, len(f.works))
	for id, w := range f.works {
		cp := *w
		works[id] = &cp
	}
	steps := make(map[string]*repository.WorkStep, len(f.steps))
	for id, s := range f.steps {
		cp := *s
		steps[id] = &cp
	}
	return works, steps
}

func (f *fakeWorkStore) InTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	works, steps := f.snapshot()
	if err := fn(nil); err != nil {
		f.works, f.steps = works, steps
		return err
	}
	return nil
}

func (f *fakeWorkStore) FindTx(ctx context.Context, tx pgx.Tx, customerID string, year, month int) (*repository.Work, error) {
	if f.hideFromFind {
		return nil, nil
	}
	for _, w := range f.works {
		if w.CustomerID == customerID && w.WorkYear == year && w.WorkMonth == month {
			cp := *w
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeWorkStore) CreateTx(ctx context.Context, tx pgx.Tx, w *repository.Work) error {
	f.creates++
	if f.failOnCreate > 0 && f.creates == f.failOnCreate {
		return errors.New(errors.ErrCodeInternal, "storage failure")
	}
	for _, existing := range f.works {
		if existing.CustomerID == w.CustomerID && existing.WorkYear == w.WorkYear && existing.WorkMonth == w.WorkMonth {
			return errors.New(errors.ErrCodeConflict, "work already exists for customer and period")
		}
	}
	f.nextID++
	w.ID = fmt.Sprintf("work-%d", f.nextID)
	cp := *w
	f.works[w.ID] = &cp
	return nil
}

func (f *fakeWorkStore) StepsTx(ctx context.Context, tx pgx.Tx, workID string) ([]*repository.WorkStep, error) {
	var out []*repository.WorkStep
	for _, s := range f.steps {
		if s.WorkID == workID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeWorkStore) CreateStepTx(ctx context.Context, tx pgx.Tx, s *repository.WorkStep) error {
	for _, existing := range f.steps {
		if existing.WorkID == s.WorkID && existing.StepNo == s.StepNo {
			return errors.New(errors.ErrCodeConflict, "work step already exists")
		}
	}
	f.nextID++
	s.ID = fmt.Sprintf("step-%d", f.nextID)
	cp := *s
	f.steps[s.ID] = &cp
	return nil
}

func (f *fakeWorkStore) SetStepPlannedDueDateTx(ctx context.Context, tx pgx.Tx, stepID string, due time.Time) error {
	if s, ok := f.steps[stepID]; ok && s.PlannedDueDate == nil {
		d := due
		s.PlannedDueDate = &d
	}
	return nil
}

func (f *fakeWorkStore) stepsFor(workID string) map[int]*repository.WorkStep {
	out := make(map[int]*repository.WorkStep)
	for _, s := range f.steps {
		if s.WorkID == workID {
			out[s.StepNo] = s
		}
	}
	return out
}

func (f *fakeWorkStore) workFor(customerID string, p period.Period) *repository.Work {
	for _, w := range f.works {
		if w.CustomerID == customerID && w.WorkYear == p.Year && w.WorkMonth == p.Month {
			return w
		}
	}
	return nil
}

type fakeRunRecorder struct {
	runs []*repository.GenerationRun
}

func (f *fakeRunRecorder) Record(ctx context.Context, run *repository.GenerationRun) error {
	f.runs = append(f.runs, run)
	return nil
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func strp(v string) *string { return &v }
func intp(v int) *int       { return &v }

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", Environment: "production", ServiceName: "test", Version: "test"})
}

func testCustomer(id string) *repository.Customer {
	return &repository.Customer{
		ID:                 id,
		Ile:                "ILE-" + id,
		RoundLocation:      "LOC-" + id,
		Region:             strp("CCN1"),
		ResponsibleCMID:    strp("cm-" + id),
		ResponsibleLCMID:   strp("lcm-" + id),
		ResponsibleLCMScnx: strp("SCN1"),
	}
}

func dayRule(customerID string, stepNo, day int) *repository.StepRule {
	return &repository.StepRule{
		CustomerID: customerID,
		StepNo:     stepNo,
		RuleType:   rule.TypeThisMonthDay,
		DayOfMonth: intp(day),
	}
}

func newService(customers *fakeCustomerStore, rules *fakeRuleStore, works *fakeWorkStore, runs *fakeRunRecorder) *GenerationService {
	return NewGenerationService(customers, rules, works, runs, nil, testLogger())
}

// ── Tests ────────────────────────────────────────────────────────────────────

func TestRunForPeriodCreatesWorksAndSteps(t *testing.T) {
	ctx := context.Background()
	p := period.Period{Year: 2025, Month: 3}

	customers := &fakeCustomerStore{customers: []*repository.Customer{testCustomer("c1"), testCustomer("c2")}}
	rules := &fakeRuleStore{rules: map[string]map[int]*repository.StepRule{
		"c1": {
			1: dayRule("c1", 1, 10),
			2: {CustomerID: "c1", StepNo: 2, RuleType: rule.TypeThisMonthNthWeekday, Nth: intp(1), Weekday: intp(0)},
		},
	}}
	works := newFakeWorkStore()
	runs := &fakeRunRecorder{}
	svc := newService(customers, rules, works, runs)

	result, err := svc.RunForPeriod(ctx, p, nil, "manual")
	require.NoError(t, err)
	assert.Equal(t, &Result{Created: 2, Existed: 0, StepsCreated: 8}, result)

	w1 := works.workFor("c1", p)
	require.NotNil(t, w1)
	assert.Equal(t, repository.BNReleaseOpen, w1.BNReleaseStatus)
	assert.Equal(t, strp("CCN1"), w1.CustomerRegion)
	assert.Equal(t, strp("cm-c1"), w1.AssignedCMID)
	assert.Equal(t, strp("SCN1"), w1.AssignedLCMScnx)

	steps := works.stepsFor(w1.ID)
	require.Len(t, steps, 4)
	require.NotNil(t, steps[1].PlannedDueDate)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), *steps[1].PlannedDueDate)
	require.NotNil(t, steps[2].PlannedDueDate)
	assert.Equal(t, time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), *steps[2].PlannedDueDate)
	assert.Nil(t, steps[3].PlannedDueDate)
	assert.Nil(t, steps[4].PlannedDueDate)

	// Customer without rules still gets four open steps, all undated.
	w2 := works.workFor("c2", p)
	require.NotNil(t, w2)
	for _, s := range works.stepsFor(w2.ID) {
		assert.Equal(t, repository.StepStatusOpen, s.StepStatus)
		assert.Nil(t, s.PlannedDueDate)
	}

	require.Len(t, runs.runs, 1)
	assert.Equal(t, "manual", runs.runs[0].TriggeredBy)
	assert.Equal(t, 2, runs.runs[0].Created)
}

func TestRunForPeriodIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p := period.Period{Year: 2025, Month: 3}

	customers := &fakeCustomerStore{customers: []*repository.Customer{testCustomer("c1")}}
	rules := &fakeRuleStore{rules: map[string]map[int]*repository.StepRule{
		"c1": {1: dayRule("c1", 1, 15)},
	}}
	works := newFakeWorkStore()
	svc := newService(customers, rules, works, &fakeRunRecorder{})

	_, err := svc.RunForPeriod(ctx, p, nil, "manual")
	require.NoError(t, err)

	before := make(map[int]repository.WorkStep)
	for no, s := range works.stepsFor(works.workFor("c1", p).ID) {
		before[no] = *s
	}

	result, err := svc.RunForPeriod(ctx, p, nil, "manual")
	require.NoError(t, err)
	assert.Equal(t, &Result{Created: 0, Existed: 1, StepsCreated: 0}, result)

	after := works.stepsFor(works.workFor("c1", p).ID)
	for no := 1; no <= 4; no++ {
		assert.Equal(t, before[no], *after[no], "step %d changed on re-run", no)
	}
}

func TestSnapshotDoesNotFollowCustomerEdits(t *testing.T) {
	ctx := context.Background()
	p := period.Period{Year: 2025, Month: 6}

	customer := testCustomer("c1")
	customers := &fakeCustomerStore{customers: []*repository.Customer{customer}}
	works := newFakeWorkStore()
	svc := newService(customers, &fakeRuleStore{}, works, &fakeRunRecorder{})

	_, err := svc.RunForPeriod(ctx, p, nil, "manual")
	require.NoError(t, err)

	// Reassign the customer and rerun for the same period.
	customer.ResponsibleCMID = strp("cm-new")
	customer.Region = strp("CCN4")

	result, err := svc.RunForPeriod(ctx, p, nil, "manual")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Existed)

	w := works.workFor("c1", p)
	assert.Equal(t, strp("cm-c1"), w.AssignedCMID, "snapshot must not follow later assignment edits")
	assert.Equal(t, strp("CCN1"), w.CustomerRegion)

	// A later period picks up the current assignment.
	_, err = svc.RunForPeriod(ctx, p.Next(), nil, "manual")
	require.NoError(t, err)
	assert.Equal(t, strp("cm-new"), works.workFor("c1", p.Next()).AssignedCMID)
}

func TestClearedDueDateIsReResolvedAndSetDateIsNot(t *testing.T) {
	ctx := context.Background()
	p := period.Period{Year: 2025, Month: 3}

	customers := &fakeCustomerStore{customers: []*repository.Customer{testCustomer("c1")}}
	rules := &fakeRuleStore{rules: map[string]map[int]*repository.StepRule{
		"c1": {
			1: dayRule("c1", 1, 10),
			2: dayRule("c1", 2, 20),
		},
	}}
	works := newFakeWorkStore()
	svc := newService(customers, rules, works, &fakeRunRecorder{})

	_, err := svc.RunForPeriod(ctx, p, nil, "manual")
	require.NoError(t, err)

	steps := works.stepsFor(works.workFor("c1", p).ID)

	// User clears step 1's date; both rules get edited afterwards.
	steps[1].PlannedDueDate = nil
	rules.rules["c1"][1] = dayRule("c1", 1, 11)
	rules.rules["c1"][2] = dayRule("c1", 2, 21)

	_, err = svc.RunForPeriod(ctx, p, nil, "manual")
	require.NoError(t, err)

	steps = works.stepsFor(works.workFor("c1", p).ID)
	require.NotNil(t, steps[1].PlannedDueDate)
	assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), *steps[1].PlannedDueDate,
		"cleared date resolves from the current rule")
	require.NotNil(t, steps[2].PlannedDueDate)
	assert.Equal(t, time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC), *steps[2].PlannedDueDate,
		"set date never changes even after a rule edit")
}

func TestRunForPeriodCountsMixedCreatedAndExisted(t *testing.T) {
	ctx := context.Background()
	p := period.Period{Year: 2025, Month: 9}

	var all []*repository.Customer
	var firstThree []string
	for i := 1; i <= 10; i++ {
		c := testCustomer(fmt.Sprintf("c%d", i))
		all = append(all, c)
		if i <= 3 {
			firstThree = append(firstThree, c.ID)
		}
	}
	customers := &fakeCustomerStore{customers: all}
	works := newFakeWorkStore()
	svc := newService(customers, &fakeRuleStore{}, works, &fakeRunRecorder{})

	_, err := svc.RunForPeriod(ctx, p, firstThree, "manual")
	require.NoError(t, err)

	result, err := svc.RunForPeriod(ctx, p, nil, "manual")
	require.NoError(t, err)
	assert.Equal(t, &Result{Created: 7, Existed: 3, StepsCreated: 28}, result)
}

func TestRunForPeriodRejectsInvalidPeriod(t *testing.T) {
	svc := newService(&fakeCustomerStore{}, &fakeRuleStore{}, newFakeWorkStore(), &fakeRunRecorder{})

	_, err := svc.RunForPeriod(context.Background(), period.Period{Year: 2025, Month: 13}, nil, "manual")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
}

func TestRunForPeriodRollsBackOnStorageFailure(t *testing.T) {
	ctx := context.Background()
	p := period.Period{Year: 2025, Month: 3}

	customers := &fakeCustomerStore{customers: []*repository.Customer{
		testCustomer("c1"), testCustomer("c2"), testCustomer("c3"),
	}}
	works := newFakeWorkStore()
	works.failOnCreate = 3
	svc := newService(customers, &fakeRuleStore{}, works, &fakeRunRecorder{})

	_, err := svc.RunForPeriod(ctx, p, nil, "manual")
	require.Error(t, err)

	assert.Empty(t, works.works, "failed run must leave no partial state")
	assert.Empty(t, works.steps)
}

func TestRunForPeriodMapsConflictForRetry(t *testing.T) {
	ctx := context.Background()
	p := period.Period{Year: 2025, Month: 3}

	customers := &fakeCustomerStore{customers: []*repository.Customer{testCustomer("c1")}}
	works := newFakeWorkStore()
	// A racing run already inserted this period's work, but the lookup misses
	// it; the insert then hits the unique constraint.
	works.works["foreign"] = &repository.Work{
		ID: "foreign", CustomerID: "c1", WorkYear: p.Year, WorkMonth: p.Month,
	}
	works.hideFromFind = true
	svc := newService(customers, &fakeRuleStore{}, works, &fakeRunRecorder{})

	_, err := svc.RunForPeriod(ctx, p, nil, "manual")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConflict), "duplicate-key race must surface as a retryable conflict")
}

func TestEnsureWorkSingleCustomer(t *testing.T) {
	ctx := context.Background()
	p := period.Period{Year: 2025, Month: 3}

	customers := &fakeCustomerStore{customers: []*repository.Customer{testCustomer("c1")}}
	rules := &fakeRuleStore{rules: map[string]map[int]*repository.StepRule{
		"c1": {4: {CustomerID: "c1", StepNo: 4, RuleType: rule.TypeThisMonthLastNthDay, LastNth: intp(1)}},
	}}
	works := newFakeWorkStore()
	svc := newService(customers, rules, works, &fakeRunRecorder{})

	work, err := svc.EnsureWork(ctx, "c1", p)
	require.NoError(t, err)
	require.Len(t, work.Steps, 4)
	require.NotNil(t, work.Steps[3].PlannedDueDate)
	assert.Equal(t, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), *work.Steps[3].PlannedDueDate)

	again, err := svc.EnsureWork(ctx, "c1", p)
	require.NoError(t, err)
	assert.Equal(t, work.ID, again.ID)

	_, err = svc.EnsureWork(ctx, "missing", p)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}
