package ledger

import (
	"sort"
	"strings"
	"time"
)

// =============================================================================
// TIME FILTER - Presets resolved to absolute date ranges
// =============================================================================

type Preset string

const (
	PresetToday      Preset = "today"
	PresetYesterday  Preset = "yesterday"
	PresetThisWeek   Preset = "this_week"
	PresetLast30Days Preset = "last_30_days"
	PresetThisMonth  Preset = "this_month"
	PresetLastMonth  Preset = "last_month"
	PresetThisYear   Preset = "this_year"
	PresetAllTime    Preset = "all_time"
	PresetCustom     Preset = "custom"
)

// TimeFilter selects a date range. From/To are only read for PresetCustom.
type TimeFilter struct {
	Preset Preset
	From   Date
	To     Date
}

// Resolve turns the preset into absolute inclusive bounds as of today.
// All-time returns a zero From, meaning unbounded below.
func (f TimeFilter) Resolve(today Date) (from, to Date) {
	switch f.Preset {
	case PresetToday:
		return today, today
	case PresetYesterday:
		y := today.AddDays(-1)
		return y, y
	case PresetThisWeek:
		return startOfWeek(today), today
	case PresetLast30Days:
		return today.AddDays(-30), today
	case PresetThisMonth:
		return StartOfMonth(today.Year(), today.Month()), EndOfMonth(today.Year(), today.Month())
	case PresetLastMonth:
		prev := StartOfMonth(today.Year(), today.Month()).AddDays(-1)
		return StartOfMonth(prev.Year(), prev.Month()), EndOfMonth(prev.Year(), prev.Month())
	case PresetThisYear:
		return StartOfYear(today.Year()), EndOfYear(today.Year())
	case PresetAllTime:
		return Date{}, today
	case PresetCustom:
		return f.From, f.To
	default:
		return Date{}, today
	}
}

// DayPrecision reports whether the filter needs exact day bounds. Rolling
// windows and custom ranges cannot be answered from month/year aggregate
// buckets: a bucket's total spans the whole month regardless of which days
// are asked for. Whole-month, whole-year and all-time filters align with
// bucket boundaries and may use the aggregate index.
func (f TimeFilter) DayPrecision() bool {
	switch f.Preset {
	case PresetThisMonth, PresetLastMonth, PresetThisYear, PresetAllTime:
		return false
	default:
		return true
	}
}

// contains reports whether d falls inside the resolved range.
func rangeContains(from, to, d Date) bool {
	if !from.IsZero() && d.Before(from) {
		return false
	}
	return d.BeforeOrEqual(to)
}

func startOfWeek(d Date) Date {
	// Weeks start Monday.
	wd := int(d.Time.Weekday())
	if wd == int(time.Sunday) {
		wd = 7
	}
	return d.AddDays(-(wd - 1))
}

// =============================================================================
// CACHE KEY CANONICALIZATION
// =============================================================================

// CacheKey canonicalizes the filter plus its scope into a stable key. The
// resolved absolute bounds are part of the key, not just the preset name:
// "this month" resolves to different instants over time and must not hit
// an entry computed for an earlier month.
func (f TimeFilter) CacheKey(today Date, currency string, categories []string) string {
	from, to := f.Resolve(today)

	scope := append([]string(nil), categories...)
	sort.Strings(scope)

	var b strings.Builder
	b.WriteString(string(f.Preset))
	b.WriteByte('|')
	b.WriteString(from.String())
	b.WriteByte('|')
	b.WriteString(to.String())
	b.WriteByte('|')
	b.WriteString(currency)
	b.WriteByte('|')
	b.WriteString(strings.Join(scope, ","))
	return b.String()
}
