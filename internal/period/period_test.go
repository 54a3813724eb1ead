package period

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLastDay(t *testing.T) {
	tests := []struct {
		name  string
		year  int
		month int
		want  int
	}{
		{"january", 2025, 1, 31},
		{"february non-leap", 2025, 2, 28},
		{"february leap", 2024, 2, 29},
		{"february century non-leap", 1900, 2, 28},
		{"february 400-year leap", 2000, 2, 29},
		{"april", 2025, 4, 30},
		{"december", 2025, 12, 31},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Period{Year: tt.year, Month: tt.month}.LastDay())
		})
	}
}

func TestNext(t *testing.T) {
	assert.Equal(t, Period{Year: 2025, Month: 7}, Period{Year: 2025, Month: 6}.Next())
	assert.Equal(t, Period{Year: 2026, Month: 1}, Period{Year: 2025, Month: 12}.Next())
}

func TestNewValidation(t *testing.T) {
	p, err := New(2025, 3)
	require.NoError(t, err)
	assert.Equal(t, Period{Year: 2025, Month: 3}, p)

	_, err = New(2025, 0)
	assert.Error(t, err)

	_, err = New(2025, 13)
	assert.Error(t, err)
}

func TestString(t *testing.T) {
	assert.Equal(t, "2025-03", Period{Year: 2025, Month: 3}.String())
}
