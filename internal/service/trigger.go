package service

import (
	"time"

	"github.com/pesio-ai/be-cm-works/internal/period"
)

// triggerOffsetDays is how many days before month-end the automatic run fires.
const triggerOffsetDays = 6

// TriggerPolicy decides whether an unattended generation run may fire on a
// given day. The trigger day is six days before the last day of the current
// month; when it fires, the run targets the following period.
type TriggerPolicy struct{}

// TriggerDay returns the trigger day of today's month.
func (TriggerPolicy) TriggerDay(today time.Time) time.Time {
	p := period.Of(today)
	return p.Date(p.LastDay()).AddDate(0, 0, -triggerOffsetDays)
}

// ShouldRun reports whether the automatic run fires today. The toggle check
// and the day check both gate the run; the orchestrator itself stays callable
// with any explicit period.
func (tp TriggerPolicy) ShouldRun(today time.Time, enabled bool) bool {
	if !enabled {
		return false
	}
	trigger := tp.TriggerDay(today)
	return today.Year() == trigger.Year() && today.YearDay() == trigger.YearDay()
}

// TargetPeriod returns the period an automatic run generates for: the month
// after today's.
func (TriggerPolicy) TargetPeriod(today time.Time) period.Period {
	return period.Of(today).Next()
}
