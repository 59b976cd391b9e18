package timeutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailyRange_LengthOrderAndEnd(t *testing.T) {
	today := MustParseDate("2024-03-02")

	for _, n := range []int{1, 2, 7, 30, 84, 400} {
		days := DailyRange(n, today)
		require.Len(t, days, n)
		assert.Equal(t, today, days[n-1])
		for i := 1; i < n; i++ {
			assert.Equal(t, 1, DaysBetween(days[i-1], days[i]), "n=%d i=%d", n, i)
		}
	}
}

func TestDailyRange_CrossesMonthAndYear(t *testing.T) {
	days := DailyRange(3, MustParseDate("2024-01-01"))
	assert.Equal(t, []Date{
		MustParseDate("2023-12-30"),
		MustParseDate("2023-12-31"),
		MustParseDate("2024-01-01"),
	}, days)

	leap := DailyRange(2, MustParseDate("2024-03-01"))
	assert.Equal(t, "2024-02-29", leap[0].String())
}

func TestDailyRange_NonPositive(t *testing.T) {
	assert.Empty(t, DailyRange(0, Today()))
	assert.Empty(t, DailyRange(-3, Today()))
}

func TestWeeklyRange_Mondays(t *testing.T) {
	weeks := WeeklyRange(12, MustParseDate("2024-01-31")) // Wednesday

	require.Len(t, weeks, 12)
	assert.Equal(t, "2024-01-29", weeks[11].String())
	assert.Equal(t, "2023-11-13", weeks[0].String())
	for i, w := range weeks {
		assert.Equal(t, 1, w.Weekday(), "week %d", i)
		if i > 0 {
			assert.Equal(t, 7, DaysBetween(weeks[i-1], w))
		}
	}
}

func TestWeekStart(t *testing.T) {
	tests := []struct {
		day  string
		want string
	}{
		{"2024-01-29", "2024-01-29"}, // Monday
		{"2024-01-31", "2024-01-29"}, // Wednesday
		{"2024-02-04", "2024-01-29"}, // Sunday
		{"2024-01-01", "2024-01-01"}, // Monday, new year
		{"2023-01-01", "2022-12-26"}, // Sunday, crosses year
	}

	for _, tt := range tests {
		t.Run(tt.day, func(t *testing.T) {
			assert.Equal(t, tt.want, WeekStart(MustParseDate(tt.day)).String())
		})
	}
}

func TestLastWeekStart(t *testing.T) {
	assert.Equal(t, "2024-01-22", LastWeekStart(MustParseDate("2024-01-31")).String())
	assert.Equal(t, "2024-02-04", WeekEnd(MustParseDate("2024-01-31")).String())
}

func TestDateRange(t *testing.T) {
	r := RangeForDays(7, MustParseDate("2024-01-15"))

	assert.Equal(t, "2024-01-09", r.Start.String())
	assert.Equal(t, 7, r.Days())
	assert.True(t, r.Contains(MustParseDate("2024-01-09")))
	assert.True(t, r.Contains(MustParseDate("2024-01-15")))
	assert.False(t, r.Contains(MustParseDate("2024-01-16")))
}

func TestDate_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		D Date `json:"d"`
	}{D: MustParseDate("2024-01-05")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"2024-01-05"}`, string(data))

	var out struct {
		D *Date `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"d":"2023-12-31"}`), &out))
	require.NotNil(t, out.D)
	assert.Equal(t, NewDate(2023, 12, 31), *out.D)

	_, err = ParseDate("2024-13-01")
	assert.Error(t, err)
}
