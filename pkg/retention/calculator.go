package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/cohortview/cohortview/pkg/dateutil"
	"github.com/cohortview/cohortview/pkg/eventstore"
)

// Calculator derives retention series and funnel tables by querying an
// event store. It is purely sequential: each offset issues two day queries
// and the pair is combined before the next offset starts.
type Calculator struct {
	store       eventstore.EventStore
	loc         *time.Location
	now         func() time.Time
	signupEvent string
	activeEvent string
}

// Config tunes a Calculator. Zero values fall back to the source system's
// defaults (Asia/Shanghai reporting days, backend-sign_up/root events).
type Config struct {
	// Location is the reporting timezone for day boundaries.
	Location *time.Location

	// SignupEvent marks cohort acquisition; ActiveEvent marks retention.
	SignupEvent string
	ActiveEvent string

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New creates a Calculator over the given event store.
func New(store eventstore.EventStore, cfg Config) *Calculator {
	if cfg.Location == nil {
		cfg.Location = time.FixedZone("UTC+8", 8*60*60)
	}
	if cfg.SignupEvent == "" {
		cfg.SignupEvent = DefaultSignupEvent
	}
	if cfg.ActiveEvent == "" {
		cfg.ActiveEvent = DefaultActiveEvent
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Calculator{
		store:       store,
		loc:         cfg.Location,
		now:         cfg.Now,
		signupEvent: cfg.SignupEvent,
		activeEvent: cfg.ActiveEvent,
	}
}

// Series computes the retention series for the given interval length.
//
// For each offset i in 1..WindowDays the cohort day is today−(i+interval−1)
// and the return day is cohort day+interval, both as calendar days in the
// reporting timezone. The cohort is the signup-event user set on the cohort
// day; the retained count is the size of its intersection with the
// active-event user set on the return day. An empty cohort has retention
// rate 0 by definition. Points come back in chronological order.
func (c *Calculator) Series(ctx context.Context, intervalDays int) (*Series, error) {
	if intervalDays <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidInterval, intervalDays)
	}

	now := c.now()
	points := make([]CohortPoint, 0, WindowDays)

	for i := 1; i <= WindowDays; i++ {
		day := dateutil.AddDays(now, -(i + intervalDays - 1), c.loc)
		nextDay := dateutil.AddDays(day, intervalDays, c.loc)

		dayStr := dateutil.Format(day, c.loc)
		nextDayStr := dateutil.Format(nextDay, c.loc)

		cohort, err := c.store.UniqueUserIDs(ctx, dayStr, c.signupEvent)
		if err != nil {
			return nil, fmt.Errorf("fetch cohort for %s: %w", dayStr, err)
		}

		returning, err := c.store.UniqueUserIDs(ctx, nextDayStr, c.activeEvent)
		if err != nil {
			return nil, fmt.Errorf("fetch returning users for %s: %w", nextDayStr, err)
		}

		retained := cohort.Intersect(returning).Len()
		rate := 0.0
		if cohort.Len() > 0 {
			rate = float64(retained) / float64(cohort.Len())
		}

		points = append(points, CohortPoint{
			Date:           dayStr,
			CohortSize:     cohort.Len(),
			RetentionCount: retained,
			RetentionRate:  rate,
		})
	}

	// The loop walks backwards in time; flip to chronological order.
	for l, r := 0, len(points)-1; l < r; l, r = l+1, r-1 {
		points[l], points[r] = points[r], points[l]
	}

	return &Series{
		IntervalDays: intervalDays,
		ComputedAt:   now,
		Points:       points,
	}, nil
}
