package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pesio-ai/be-cm-works/internal/period"
)

func day(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func TestTriggerDay(t *testing.T) {
	policy := TriggerPolicy{}

	tests := []struct {
		name  string
		today time.Time
		want  time.Time
	}{
		{"31-day month", day(2025, 3, 1), day(2025, 3, 25)},
		{"30-day month", day(2025, 4, 12), day(2025, 4, 24)},
		{"february non-leap", day(2025, 2, 28), day(2025, 2, 22)},
		{"february leap", day(2024, 2, 1), day(2024, 2, 23)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.TriggerDay(tt.today))
		})
	}
}

func TestShouldRun(t *testing.T) {
	policy := TriggerPolicy{}

	// March 2025: trigger day is the 25th.
	assert.True(t, policy.ShouldRun(day(2025, 3, 25), true))
	assert.False(t, policy.ShouldRun(day(2025, 3, 24), true))
	assert.False(t, policy.ShouldRun(day(2025, 3, 26), true))
	assert.False(t, policy.ShouldRun(day(2025, 3, 25), false), "toggle off suppresses the run")

	// Time of day must not matter.
	assert.True(t, policy.ShouldRun(time.Date(2025, 3, 25, 17, 42, 0, 0, time.UTC), true))
}

func TestTargetPeriod(t *testing.T) {
	policy := TriggerPolicy{}

	assert.Equal(t, period.Period{Year: 2025, Month: 4}, policy.TargetPeriod(day(2025, 3, 25)))
	assert.Equal(t, period.Period{Year: 2026, Month: 1}, policy.TargetPeriod(day(2025, 12, 25)))
}
