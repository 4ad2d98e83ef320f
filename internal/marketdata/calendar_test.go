package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(s string) time.Time {
	d, _ := time.Parse(DateLayout, s)
	return d
}

func TestWeekdayCalendar_TradingDays(t *testing.T) {
	c := WeekdayCalendar{}

	// 2024-01-01 (Mon, holiday) through 2024-01-08 (Mon)
	days := c.TradingDays(day("2024-01-01"), day("2024-01-08"))

	var got []string
	for _, d := range days {
		got = append(got, d.Format(DateLayout))
	}
	assert.Equal(t, []string{"2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05", "2024-01-08"}, got)
}

func TestWeekdayCalendar_LastTradingDay(t *testing.T) {
	c := WeekdayCalendar{}

	tests := []struct {
		date string
		want string
	}{
		{"2024-01-06", "2024-01-05"}, // Saturday -> Friday
		{"2024-01-07", "2024-01-05"}, // Sunday -> Friday
		{"2024-01-05", "2024-01-05"}, // Friday is already a trading day
		{"2024-01-01", "2023-12-29"}, // New Year's Day -> prior Friday
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.LastTradingDay(day(tt.date)).Format(DateLayout), tt.date)
	}
}

func TestWeekdayCalendar_PreviousTradingDay(t *testing.T) {
	c := WeekdayCalendar{}
	// Monday -> previous Friday
	assert.Equal(t, "2024-01-05", c.PreviousTradingDay(day("2024-01-08")).Format(DateLayout))
	// Tuesday -> Monday
	assert.Equal(t, "2024-01-08", c.PreviousTradingDay(day("2024-01-09")).Format(DateLayout))
}
