// Package calendar provides the date arithmetic the billing engine runs
// on. All timestamps are UTC; a day boundary is UTC midnight. Period
// boundaries are aligned to the start of the calendar month, quarter or
// half-year depending on the period duration.
package calendar

import (
	"time"

	"github.com/pooledfi/creditbill/pkg/models"
)

const secondsPerDay = 86400

// StartOfDay truncates t to UTC midnight.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// startOfPeriod returns the period boundary at or before t: the first day
// of t's month, quarter or half-year.
func startOfPeriod(d models.PeriodDuration, t time.Time) time.Time {
	t = t.UTC()
	month := int(t.Month()) // 1-12
	span := d.Months()
	alignedMonth := ((month-1)/span)*span + 1
	return time.Date(t.Year(), time.Month(alignedMonth), 1, 0, 0, 0, 0, time.UTC)
}

// StartOfNextPeriod returns the first period boundary strictly after from.
func StartOfNextPeriod(d models.PeriodDuration, from time.Time) time.Time {
	return startOfPeriod(d, from).AddDate(0, d.Months(), 0)
}

// DaysDiff returns the whole days between a and b, truncating. Negative
// when b precedes a.
func DaysDiff(a, b time.Time) int {
	return int((b.UTC().Unix() - a.UTC().Unix()) / secondsPerDay)
}

// NumPeriodsPassed counts the period boundaries crossed walking from
// `from` until reaching or passing `to`. It returns 0 when to ≤ from.
// When from is itself a boundary (the usual case, since due dates are
// boundary-aligned), this is the number of full billing periods that have
// elapsed since that due date.
func NumPeriodsPassed(d models.PeriodDuration, from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	n := 0
	cur := from
	for to.After(cur) {
		cur = StartOfNextPeriod(d, cur)
		n++
	}
	return n
}

// DaysInPeriod returns the whole days between a boundary-aligned period
// start and the following boundary.
func DaysInPeriod(d models.PeriodDuration, periodStart time.Time) int {
	return DaysDiff(periodStart, StartOfNextPeriod(d, periodStart))
}
