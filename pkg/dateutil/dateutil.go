// Package dateutil provides calendar-day arithmetic in a fixed reporting timezone.
//
// All retention and funnel windows are bucketed by calendar day in the
// configured location (Asia/Shanghai by default), not in UTC. Two moments on
// the same UTC day can land on different reporting days, so every day
// computation in the codebase goes through this package.
package dateutil

import (
	"time"
)

// DayFormat is the canonical YYYY-MM-DD layout used for query boundaries,
// cache keys and API payloads.
const DayFormat = "2006-01-02"

// Truncate returns midnight of t's calendar day in loc.
func Truncate(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// Format renders t's calendar day in loc as YYYY-MM-DD.
func Format(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DayFormat)
}

// AddDays shifts t by n calendar days (n may be negative) in loc.
// Uses AddDate so DST transitions cannot skew the day boundary.
func AddDays(t time.Time, n int, loc *time.Location) time.Time {
	local := t.In(loc)
	return local.AddDate(0, 0, n)
}

// Window returns `days` consecutive day strings in chronological order,
// ending with end's calendar day.
func Window(end time.Time, days int, loc *time.Location) []string {
	out := make([]string, 0, days)
	for i := days - 1; i >= 0; i-- {
		out = append(out, Format(AddDays(end, -i, loc), loc))
	}
	return out
}
