package billing

import (
	"math"
	"time"

	"planpay_backend/internal/model"
)

// lifetimeYears is the nominal duration of a LIFETIME subscription.
const lifetimeYears = 100

type PeriodDates struct {
	Start     time.Time
	End       time.Time
	AutoRenew bool
}

// CalculateDates returns the billing window for a cycle starting now (UTC).
// AutoRenew is false only for LIFETIME.
func CalculateDates(clock Clock, cycle model.BillingCycle) (PeriodDates, error) {
	start := clock.Now().UTC()
	end, err := CalculateEndDate(start, cycle)
	if err != nil {
		return PeriodDates{}, err
	}
	return PeriodDates{
		Start:     start,
		End:       end,
		AutoRenew: cycle != model.CycleLifetime,
	}, nil
}

// CalculateEndDate is pure: it depends only on the supplied start.
//
// Month and year arithmetic clamps to the last day of the target month
// instead of rolling over, so a cycle starting Jan 31 ends Feb 28 (or 29),
// not Mar 2.
func CalculateEndDate(start time.Time, cycle model.BillingCycle) (time.Time, error) {
	start = start.UTC()
	switch cycle {
	case model.CycleMonthly:
		return addMonthsClamped(start, 1), nil
	case model.CycleSixMonthly:
		return addMonthsClamped(start, 6), nil
	case model.CycleYearly:
		return addMonthsClamped(start, 12), nil
	case model.CycleLifetime:
		return addMonthsClamped(start, 12*lifetimeYears), nil
	default:
		return time.Time{}, ErrInvalidCycle
	}
}

// addMonthsClamped advances by whole months, clamping the day-of-month to
// what the target month actually has.
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	m := int(month) + months
	year += (m - 1) / 12
	month = time.Month((m-1)%12 + 1)

	if last := lastDayOfMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func lastDayOfMonth(year int, month time.Month) int {
	// day 0 of the next month is the last day of this one
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DaysBetween returns the ceiling day count from a to b. Negative when b
// precedes a. Proration and dunning both lean on the ceiling behavior: a
// partial day still counts as a remaining day.
func DaysBetween(a, b time.Time) int {
	hours := b.Sub(a).Hours()
	return int(math.Ceil(hours / 24))
}
