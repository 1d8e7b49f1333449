package billing

import (
	"time"

	"github.com/orbitlink/billing-service/internal/domain/models"
)

// MonthsForCycle returns the number of calendar months in one billing
// cycle. Unknown cycle strings fall back to monthly; callers that care
// should log the value before calling.
func MonthsForCycle(cycle models.BillingCycle) int {
	switch cycle {
	case models.CycleMonthly:
		return 1
	case models.CycleQuarterly:
		return 3
	case models.CycleYearly:
		return 12
	default:
		return 1
	}
}

// DaysInMonth returns the number of days in the month containing d
func DaysInMonth(d time.Time) int {
	first := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, 1, -1).Day()
}

// AddMonths adds n calendar months to d, clamping the day-of-month to the
// destination month's length. Jan 31 + 1 month is Feb 28 (or 29), never
// Mar 3, which is where plain time.AddDate would land.
func AddMonths(d time.Time, n int) time.Time {
	first := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	target := first.AddDate(0, n, 0)
	day := d.Day()
	if max := DaysInMonth(target); day > max {
		day = max
	}
	return time.Date(target.Year(), target.Month(), day, 0, 0, 0, 0, time.UTC)
}

// AnchorFor returns the anchor date in d's month, with anchorDay clamped to
// the month's length (anchor days 29-31 land on the last day of shorter
// months).
func AnchorFor(d time.Time, anchorDay int) time.Time {
	day := anchorDay
	if max := DaysInMonth(d); day > max {
		day = max
	}
	return time.Date(d.Year(), d.Month(), day, 0, 0, 0, 0, time.UTC)
}

// AnchorWindow returns the anchor at-or-before d and the one immediately
// after, as the half-open interval [prev, next). When d falls exactly on an
// anchor, prev == d.
func AnchorWindow(d time.Time, anchorDay int) (prev, next time.Time) {
	d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	anchor := AnchorFor(d, anchorDay)

	if d.Before(anchor) {
		prev = AnchorFor(AddMonths(d, -1), anchorDay)
		next = anchor
		return prev, next
	}
	prev = anchor
	next = AnchorFor(AddMonths(d, 1), anchorDay)
	return prev, next
}

// DaysBetween returns whole days from a to b, both truncated to midnight
// UTC. Negative when b precedes a.
func DaysBetween(a, b time.Time) int {
	a = time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	b = time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
