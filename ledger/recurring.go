/*
recurring.go - Deterministic occurrence generation for recurring series

PURPOSE:
  Pure schedule expansion: given a series definition and a horizon, produce
  the (date, amount) pairs that fall due. The function is stateless; the
  caller supplies the set of already-materialized dates and the generator
  skips them, which makes repeated generation idempotent.

STEPPING RULE:
  Occurrences are anchored on the series start date, never on the previous
  occurrence. A monthly series starting Jan 31 yields Feb 28 (clamped) and
  then Mar 31 again - stepping from the clamped Feb date would drift the
  anchor day permanently.
*/
package ledger

import "time"

// GenerateOccurrences expands series into the charges due in
// [max(from, series.StartDate), horizon], skipping dates present in
// materialized. Dates are emitted in ascending order.
//
// Monthly and yearly steps clamp to the last valid day of shorter months:
// day 31 on a 30-day month yields day 30, not an error or a rollover.
func GenerateOccurrences(series RecurringSeries, from, horizon Date, materialized map[string]bool) []ScheduledCharge {
	if !series.Frequency.Valid() || series.StartDate.IsZero() || horizon.Before(series.StartDate) {
		return nil
	}

	interval := series.Interval
	if interval < 1 {
		interval = 1
	}

	lower := series.StartDate
	if from.After(lower) {
		lower = from
	}

	var out []ScheduledCharge
	for n := 0; ; n++ {
		on := nthOccurrence(series.StartDate, series.Frequency, interval, n)
		if on.After(horizon) {
			break
		}
		if on.Before(lower) {
			continue
		}
		if materialized[on.String()] {
			continue
		}
		out = append(out, ScheduledCharge{On: on, Amount: series.Amount})
	}
	return out
}

// nthOccurrence computes occurrence n (0-based) from the anchor date.
func nthOccurrence(start Date, freq Frequency, interval, n int) Date {
	steps := n * interval
	switch freq {
	case FreqDaily:
		return start.AddDays(steps)
	case FreqWeekly:
		return start.AddDays(steps * 7)
	case FreqMonthly:
		return addMonthsClamped(start, steps)
	case FreqYearly:
		return addYearsClamped(start, steps)
	default:
		return start
	}
}

// addMonthsClamped advances by whole months keeping the anchor day, clamped
// to the target month's length. time.AddDate is unsuitable here: it rolls
// Jan 31 + 1 month over into Mar 3.
func addMonthsClamped(d Date, months int) Date {
	y := d.Year()
	m := int(d.Month()) - 1 + months
	y += m / 12
	m = m % 12
	if m < 0 {
		m += 12
		y--
	}

	month := time.Month(m + 1)
	first := NewDate(y, month, 1)
	day := d.Day()
	if last := first.DaysIn(); day > last {
		day = last
	}
	return NewDate(y, month, day)
}

func addYearsClamped(d Date, years int) Date {
	// Only Feb 29 can overflow; clamping via the month path handles it.
	return addMonthsClamped(d, years*12)
}
