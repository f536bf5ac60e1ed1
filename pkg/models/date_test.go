package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreciseDate_Compare(t *testing.T) {
	tests := []struct {
		name string
		a    PreciseDate
		b    PreciseDate
		want int
	}{
		{
			name: "year widens day",
			a:    NewPreciseDate(2019, time.January, 1, PrecisionYear),
			b:    NewPreciseDate(2019, time.July, 14, PrecisionDay),
			want: 0,
		},
		{
			name: "month widens day",
			a:    NewPreciseDate(2019, time.July, 1, PrecisionMonth),
			b:    NewPreciseDate(2019, time.July, 31, PrecisionDay),
			want: 0,
		},
		{
			name: "different months at month precision",
			a:    NewPreciseDate(2019, time.June, 1, PrecisionMonth),
			b:    NewPreciseDate(2019, time.July, 14, PrecisionDay),
			want: -1,
		},
		{
			name: "days compared exactly",
			a:    NewPreciseDate(2019, time.July, 15, PrecisionDay),
			b:    NewPreciseDate(2019, time.July, 14, PrecisionDay),
			want: 1,
		},
		{
			name: "different years",
			a:    NewPreciseDate(2018, time.January, 1, PrecisionYear),
			b:    NewPreciseDate(2019, time.July, 14, PrecisionDay),
			want: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compare(tt.b))
			assert.Equal(t, -tt.want, tt.b.Compare(tt.a))
		})
	}
}

func TestPreciseDate_Within(t *testing.T) {
	start := NewPreciseDate(2019, time.January, 1, PrecisionDay)
	end := NewPreciseDate(2019, time.December, 31, PrecisionDay)

	assert.True(t, NewPreciseDate(2019, time.May, 3, PrecisionDay).Within(start, end))
	assert.True(t, NewPreciseDate(2019, time.January, 1, PrecisionYear).Within(start, end))
	assert.False(t, NewPreciseDate(2020, time.February, 1, PrecisionMonth).Within(start, end))
}

func TestPreciseDate_JSON(t *testing.T) {
	var d PreciseDate
	require.NoError(t, json.Unmarshal([]byte(`{"date":"2021-03-17","precision":"month"}`), &d))
	assert.Equal(t, PrecisionMonth, d.Precision)
	assert.Equal(t, "2021-03", d.String())

	out, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2021-03-01","precision":"month"}`, string(out))

	require.Error(t, json.Unmarshal([]byte(`{"date":"2021-03-17","precision":"week"}`), &d))
}

func TestPrecisionOrdering(t *testing.T) {
	assert.Equal(t, PrecisionYear, Coarser(PrecisionDay, PrecisionYear))
	assert.Equal(t, PrecisionDay, Finer(PrecisionMonth, PrecisionDay))
}
