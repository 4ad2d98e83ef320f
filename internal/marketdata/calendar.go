package marketdata

import (
	"time"
)

// Calendar is the optional exchange calendar capability
type Calendar interface {
	TradingDays(start, end time.Time) []time.Time
	LastTradingDay(date time.Time) time.Time
}

// WeekdayCalendar is the naive fallback calendar: every weekday is a
// trading day, with the major fixed-date US market holidays excluded.
// Used when no real exchange calendar collaborator is configured.
type WeekdayCalendar struct{}

// fixed-date NYSE closures; observed dates for weekend holidays are
// not modeled, the driver tolerates a missing bar on those days
var fixedHolidays = map[string]bool{
	"01-01": true, // New Year's Day
	"07-04": true, // Independence Day
	"12-25": true, // Christmas
}

// IsTradingDay reports whether date falls on a weekday non-holiday
func (WeekdayCalendar) IsTradingDay(date time.Time) bool {
	switch date.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !fixedHolidays[date.Format("01-02")]
}

// TradingDays enumerates trading days in [start, end]
func (c WeekdayCalendar) TradingDays(start, end time.Time) []time.Time {
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

// LastTradingDay returns the most recent trading day strictly before
// or equal to date
func (c WeekdayCalendar) LastTradingDay(date time.Time) time.Time {
	d := date
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// PreviousTradingDay returns the trading day strictly before date
func (c WeekdayCalendar) PreviousTradingDay(date time.Time) time.Time {
	return c.LastTradingDay(date.AddDate(0, 0, -1))
}

var _ Calendar = WeekdayCalendar{}
