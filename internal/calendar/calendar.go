// Package calendar provides exchange-local time and trading-day awareness:
// market hours, weekends, the yearly US exchange holiday table, and
// previous/next trading date resolution.
package calendar

import (
	"time"
)

// Market hours, exchange-local.
const (
	openHour    = 9
	openMinute  = 30
	closeHour   = 16
	closeMinute = 0
)

// Clock supplies the current time. Injected so scheduled jobs and engines
// are testable against fixed instants.
type Clock interface {
	Now() time.Time
}

// ExchangeClock is a Clock bound to an exchange's IANA location.
type ExchangeClock struct {
	loc *time.Location
}

// NewExchangeClock loads the given IANA timezone (e.g. "America/New_York").
func NewExchangeClock(tz string) (*ExchangeClock, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	return &ExchangeClock{loc: loc}, nil
}

// Now returns the current exchange-local time.
func (c *ExchangeClock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Location returns the exchange's location.
func (c *ExchangeClock) Location() *time.Location {
	return c.loc
}

// FixedClock is a Clock pinned to one instant, for tests.
type FixedClock struct {
	T time.Time
}

// Now returns the pinned instant.
func (c FixedClock) Now() time.Time { return c.T }

// IsMarketOpen reports whether the exchange is trading at t: false on
// weekends and holidays, before 09:30 local, and at or after 16:00 local.
func IsMarketOpen(t time.Time) bool {
	if !IsTradingDay(t) {
		return false
	}
	hm := t.Hour()*60 + t.Minute()
	return hm >= openHour*60+openMinute && hm < closeHour*60+closeMinute
}

// IsTradingDay reports whether the exchange opens at all on t's date,
// ignoring time of day.
func IsTradingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !isHoliday(t)
}

// PreviousTradingDate steps backward one calendar day at a time from t until
// it lands on a trading day. The result preserves t's time of day.
func PreviousTradingDate(t time.Time) time.Time {
	d := t.AddDate(0, 0, -1)
	for !IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// NextTradingDate steps forward one calendar day at a time from t until it
// lands on a trading day.
func NextTradingDate(t time.Time) time.Time {
	d := t.AddDate(0, 0, 1)
	for !IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// MarketDate returns the trading date a snapshot taken at t belongs to:
// t's own date when the session for that date has begun on a trading day,
// otherwise the previous trading date.
func MarketDate(t time.Time) time.Time {
	if IsTradingDay(t) && t.Hour()*60+t.Minute() >= openHour*60+openMinute {
		return DateOf(t)
	}
	return DateOf(PreviousTradingDate(t))
}

// DateOf truncates t to midnight in its own location.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// isHoliday reports whether t's date is a US exchange holiday.
func isHoliday(t time.Time) bool {
	y := t.Year()
	d := DateOf(t)
	for _, h := range holidays(y) {
		if d.Month() == h.Month() && d.Day() == h.Day() {
			return true
		}
	}
	return false
}

// holidays computes the observed US equity-market holidays for a year.
// Dates falling on Saturday are observed Friday; Sunday, Monday.
func holidays(year int) []time.Time {
	hs := []time.Time{
		observed(time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)),   // New Year's Day
		nthWeekday(year, time.January, time.Monday, 3),                     // Martin Luther King Jr. Day
		nthWeekday(year, time.February, time.Monday, 3),                    // Washington's Birthday
		goodFriday(year),                                                   // Good Friday
		lastWeekday(year, time.May, time.Monday),                           // Memorial Day
		observed(time.Date(year, time.June, 19, 0, 0, 0, 0, time.UTC)),     // Juneteenth
		observed(time.Date(year, time.July, 4, 0, 0, 0, 0, time.UTC)),      // Independence Day
		nthWeekday(year, time.September, time.Monday, 1),                   // Labor Day
		nthWeekday(year, time.November, time.Thursday, 4),                  // Thanksgiving
		observed(time.Date(year, time.December, 25, 0, 0, 0, 0, time.UTC)), // Christmas
	}
	return hs
}

// observed shifts a fixed-date holiday off the weekend: Saturday is observed
// the Friday before, Sunday the Monday after.
func observed(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

// nthWeekday returns the nth occurrence of a weekday in a month.
func nthWeekday(year int, month time.Month, wd time.Weekday, n int) time.Time {
	d := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	for d.Weekday() != wd {
		d = d.AddDate(0, 0, 1)
	}
	return d.AddDate(0, 0, 7*(n-1))
}

// lastWeekday returns the final occurrence of a weekday in a month.
func lastWeekday(year int, month time.Month, wd time.Weekday) time.Time {
	d := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	for d.Weekday() != wd {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// goodFriday is two days before Easter Sunday (anonymous Gregorian computus).
func goodFriday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	easter := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return easter.AddDate(0, 0, -2)
}
