// Package rule implements step due-date rules: validation at configuration
// time and pure resolution of a rule against a target period. Resolution is
// the single source of truth for due-date math; both the bulk and
// single-customer generation paths go through it.
package rule

import (
	"fmt"
	"time"

	"github.com/pesio-ai/be-cm-works/internal/errors"
	"github.com/pesio-ai/be-cm-works/internal/period"
)

// Type enumerates the configured rule variants.
type Type string

const (
	TypeNoRule              Type = "NO_RULE"
	TypeThisMonthDay        Type = "THIS_MONTH_DAY"
	TypeNextMonthDay        Type = "NEXT_MONTH_DAY"
	TypeThisMonthNthWeekday Type = "THIS_MONTH_NTH_WEEKDAY"
	TypeThisMonthLastNthDay Type = "THIS_MONTH_LAST_NTH_DAY"
)

// Rule is one configured due-date formula for a customer step. Parameter
// fields are populated per variant: DayOfMonth for the DAY types, Nth and
// Weekday for NTH_WEEKDAY, LastNth for LAST_NTH_DAY.
type Rule struct {
	Type       Type
	DayOfMonth *int // 1..31
	Nth        *int // 1..5
	Weekday    *int // 0..6, 0=Monday
	LastNth    *int // 1..31, 1=last day
}

// Validate enforces per-variant parameter requirements. It is applied when a
// rule is saved; resolution never assumes it ran.
func (r *Rule) Validate() error {
	switch r.Type {
	case TypeNoRule:
		return nil
	case TypeThisMonthDay, TypeNextMonthDay:
		if r.DayOfMonth == nil {
			return errors.InvalidInput("day_of_month", "required for "+string(r.Type))
		}
		if *r.DayOfMonth < 1 || *r.DayOfMonth > 31 {
			return errors.InvalidInput("day_of_month", "must be between 1 and 31")
		}
		return nil
	case TypeThisMonthNthWeekday:
		if r.Nth == nil {
			return errors.InvalidInput("nth", "required for "+string(r.Type))
		}
		if *r.Nth < 1 || *r.Nth > 5 {
			return errors.InvalidInput("nth", "must be between 1 and 5")
		}
		if r.Weekday == nil {
			return errors.InvalidInput("weekday", "required for "+string(r.Type))
		}
		if *r.Weekday < 0 || *r.Weekday > 6 {
			return errors.InvalidInput("weekday", "must be between 0 and 6")
		}
		return nil
	case TypeThisMonthLastNthDay:
		if r.LastNth == nil {
			return errors.InvalidInput("last_nth", "required for "+string(r.Type))
		}
		if *r.LastNth < 1 || *r.LastNth > 31 {
			return errors.InvalidInput("last_nth", "must be between 1 and 31")
		}
		return nil
	default:
		return errors.InvalidInput("rule_type", fmt.Sprintf("unknown rule type %q", r.Type))
	}
}

// formula is a compiled rule variant. Compilation rejects malformed rules, so
// illegal parameter combinations never reach date math.
type formula interface {
	dueDate(p period.Period) *time.Time
}

type noDate struct{}

func (noDate) dueDate(period.Period) *time.Time { return nil }

// monthDay clamps the configured day to the end of the anchor month, so day
// 31 in February resolves to the last day of February.
type monthDay struct {
	day       int
	nextMonth bool
}

func (f monthDay) dueDate(p period.Period) *time.Time {
	anchor := p
	if f.nextMonth {
		anchor = p.Next()
	}
	day := f.day
	if last := anchor.LastDay(); day > last {
		day = last
	}
	d := anchor.Date(day)
	return &d
}

// nthWeekday selects the nth matching weekday of the month, clamping to the
// last occurrence when the month has fewer than nth of them.
type nthWeekday struct {
	nth     int
	weekday int // 0=Monday
}

func (f nthWeekday) dueDate(p period.Period) *time.Time {
	var matches []int
	for day := 1; day <= p.LastDay(); day++ {
		// time.Weekday counts 0=Sunday; rules count 0=Monday.
		if (int(p.Date(day).Weekday())+6)%7 == f.weekday {
			matches = append(matches, day)
		}
	}
	if len(matches) == 0 {
		return nil
	}
	index := f.nth
	if index > len(matches) {
		index = len(matches)
	}
	d := p.Date(matches[index-1])
	return &d
}

// lastNthDay counts back from the end of the month, never past day 1.
type lastNthDay struct {
	n int
}

func (f lastNthDay) dueDate(p period.Period) *time.Time {
	day := p.LastDay() - (f.n - 1)
	if day < 1 {
		day = 1
	}
	d := p.Date(day)
	return &d
}

// compile maps a rule onto its variant. A nil, NO_RULE, unknown-type, or
// malformed rule compiles to noDate: one bad row must never abort a batch.
func compile(r *Rule) formula {
	if r == nil || r.Type == TypeNoRule {
		return noDate{}
	}
	if r.Validate() != nil {
		return noDate{}
	}
	switch r.Type {
	case TypeThisMonthDay:
		return monthDay{day: *r.DayOfMonth}
	case TypeNextMonthDay:
		return monthDay{day: *r.DayOfMonth, nextMonth: true}
	case TypeThisMonthNthWeekday:
		return nthWeekday{nth: *r.Nth, weekday: *r.Weekday}
	case TypeThisMonthLastNthDay:
		return lastNthDay{n: *r.LastNth}
	default:
		return noDate{}
	}
}

// Resolve computes the planned due date for a rule in the target period.
// Returns nil when the rule yields no date.
func Resolve(r *Rule, p period.Period) *time.Time {
	return compile(r).dueDate(p)
}
