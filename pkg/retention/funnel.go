package retention

import (
	"context"
	"fmt"

	"github.com/cohortview/cohortview/pkg/dateutil"
	"github.com/cohortview/cohortview/pkg/eventstore"
)

// Funnel computes the signup funnel over the 14-day window ending yesterday:
// one DailyHistogram call reshaped into FunnelRows, joined with the one-day
// retention series.
//
// The join is by date, not by position. The histogram window and the
// interval=1 retention series enumerate the same 14 calendar days only when
// both are computed against the same "today"; joining by date makes a clock
// shift between the two computations an explicit ErrWindowMisaligned instead
// of a silently shifted column.
func (c *Calculator) Funnel(ctx context.Context) ([]FunnelRow, error) {
	now := c.now()
	end := dateutil.AddDays(now, -1, c.loc)
	start := dateutil.AddDays(end, -(WindowDays - 1), c.loc)

	stats, err := c.store.DailyHistogram(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch funnel histogram: %w", err)
	}

	series, err := c.Series(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("fetch one-day retention: %w", err)
	}

	statsByDate := make(map[string]eventstore.DayStat, len(stats))
	windowDates := make(map[string]struct{}, len(series.Points))
	for _, p := range series.Points {
		windowDates[p.Date] = struct{}{}
	}
	for _, stat := range stats {
		if _, ok := windowDates[stat.Date]; !ok {
			return nil, fmt.Errorf("%w: histogram day %s outside retention window %s..%s",
				ErrWindowMisaligned, stat.Date,
				series.Points[0].Date, series.Points[len(series.Points)-1].Date)
		}
		statsByDate[stat.Date] = stat
	}

	// The retention series drives the iteration: exactly one row per window
	// day, zero-valued where the histogram has no bucket (a day with no
	// traffic at all).
	rows := make([]FunnelRow, 0, len(series.Points))
	for _, p := range series.Points {
		stat := statsByDate[p.Date]
		rows = append(rows, FunnelRow{
			Date:               p.Date,
			AllVisitorCount:    stat.AllVisitorCount,
			AllRegisteredCount: stat.AllRegisteredCount,
			AllSignUpCount:     stat.AllSignUpCount,
			RetentionCount:     p.RetentionCount,
		})
	}
	return rows, nil
}
