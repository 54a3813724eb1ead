// Package period provides the (year, month) value type that identifies one
// monthly generation cycle.
package period

import (
	"fmt"
	"time"

	"github.com/pesio-ai/be-cm-works/internal/errors"
)

// Period identifies a calendar year and month.
type Period struct {
	Year  int
	Month int
}

// New validates and constructs a Period. Month must be in 1..12.
func New(year, month int) (Period, error) {
	p := Period{Year: year, Month: month}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// Validate checks the month range.
func (p Period) Validate() error {
	if p.Month < 1 || p.Month > 12 {
		return errors.InvalidInput("month", fmt.Sprintf("must be between 1 and 12, got %d", p.Month))
	}
	return nil
}

// Next returns the following period, rolling December into January.
func (p Period) Next() Period {
	if p.Month == 12 {
		return Period{Year: p.Year + 1, Month: 1}
	}
	return Period{Year: p.Year, Month: p.Month + 1}
}

// LastDay returns the number of days in the period's month.
func (p Period) LastDay() int {
	// Day 0 of the next month normalizes to the last day of this month.
	return time.Date(p.Year, time.Month(p.Month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Date returns midnight UTC on the given day of the period.
func (p Period) Date(day int) time.Time {
	return time.Date(p.Year, time.Month(p.Month), day, 0, 0, 0, 0, time.UTC)
}

// Of returns the period containing t.
func Of(t time.Time) Period {
	return Period{Year: t.Year(), Month: int(t.Month())}
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}
