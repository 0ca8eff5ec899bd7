// Package retention computes cohort retention series and the signup funnel
// from per-day aggregation queries. This is the analytical core of the
// service; everything else is transport and presentation around it.
package retention

import (
	"errors"
	"time"
)

// WindowDays is the length of every retention series and funnel table:
// a 14-point backward-looking window.
const WindowDays = 14

// Default event names in the source logs. A cohort is acquired by the signup
// event; a cohort member counts as retained when it later emits the active
// event.
const (
	DefaultSignupEvent = "backend-sign_up"
	DefaultActiveEvent = "root"
)

// PresetIntervals are the interval lengths exposed by the dashboard selector.
// The calculator itself accepts any positive interval.
var PresetIntervals = []int{1, 3, 7, 15, 30}

// ErrInvalidInterval is returned for a non-positive interval length.
var ErrInvalidInterval = errors.New("retention: interval must be a positive number of days")

// ErrWindowMisaligned is returned when the funnel histogram window and the
// one-day retention series do not enumerate the same calendar days, e.g.
// when the two computations straddle a day boundary.
var ErrWindowMisaligned = errors.New("retention: funnel window does not align with retention series")

// CohortPoint is one row of a retention series: the cohort acquired on Date
// and how much of it came back after the interval.
type CohortPoint struct {
	Date           string  `json:"date"`
	CohortSize     int     `json:"cohort_size"`
	RetentionCount int     `json:"retention_count"`
	RetentionRate  float64 `json:"retention_rate"`
}

// Series is a chronologically ascending retention series of exactly
// WindowDays points.
type Series struct {
	IntervalDays int           `json:"interval_days"`
	ComputedAt   time.Time     `json:"computed_at"`
	Points       []CohortPoint `json:"points"`
}

// FunnelRow is one day of the signup funnel: visitors, registered visitors,
// new signups and the one-day retained count for the cohort acquired that day.
type FunnelRow struct {
	Date               string `json:"date"`
	AllVisitorCount    int64  `json:"all_visitor_count"`
	AllRegisteredCount int64  `json:"all_registered_count"`
	AllSignUpCount     int64  `json:"all_sign_up_count"`
	RetentionCount     int    `json:"retention_count"`
}
