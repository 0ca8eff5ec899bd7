// Package eventstore defines the query gateway used to aggregate event-log
// data. Implementations: elastic (production), cached (TTL decorator for any
// backend), plus in-memory fakes in tests.
package eventstore

import (
	"context"
	"time"
)

// EventStore is the aggregation capability the retention and funnel
// calculators depend on. Both operations bucket by calendar day in the
// reporting timezone (UTC+8); callers pass day boundaries as YYYY-MM-DD.
type EventStore interface {
	// UniqueUserIDs returns the distinct user identifiers that produced the
	// named event during the given calendar day. The result is capped at the
	// backend's term-bucket limit; overflow is silently truncated, which is
	// acceptable for real traffic volumes.
	UniqueUserIDs(ctx context.Context, day string, eventName string) (UserIDSet, error)

	// DailyHistogram returns per-day visitor/registration/signup cardinality
	// estimates for the closed window [start, end], one DayStat per day in
	// chronological order.
	DailyHistogram(ctx context.Context, start, end time.Time) ([]DayStat, error)

	// Close releases backend resources.
	Close() error
}

// DayStat carries one day of funnel cardinality estimates. Counts are
// approximate distinct-counts reported by the backend, so the usual
// registered <= visitors relation is expected but not guaranteed.
type DayStat struct {
	Date               string `json:"date"`
	AllVisitorCount    int64  `json:"all_visitor_count"`
	AllRegisteredCount int64  `json:"all_registered_count"`
	AllSignUpCount     int64  `json:"all_sign_up_count"`
}

// UserIDSet is a set of opaque user identifiers scoped to one day and one
// event name. Identifiers are compared by exact value; the source system may
// emit numeric account IDs or string visitor IDs, both are kept as strings.
type UserIDSet map[string]struct{}

// NewUserIDSet builds a set from the given identifiers.
func NewUserIDSet(ids ...string) UserIDSet {
	s := make(UserIDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id into the set.
func (s UserIDSet) Add(id string) {
	s[id] = struct{}{}
}

// Contains reports whether id is in the set.
func (s UserIDSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of identifiers in the set.
func (s UserIDSet) Len() int {
	return len(s)
}

// Intersect returns the identifiers present in both sets.
func (s UserIDSet) Intersect(other UserIDSet) UserIDSet {
	small, large := s, other
	if large.Len() < small.Len() {
		small, large = large, small
	}
	out := make(UserIDSet)
	for id := range small {
		if large.Contains(id) {
			out[id] = struct{}{}
		}
	}
	return out
}

// IDs returns the identifiers as a slice, in no particular order.
func (s UserIDSet) IDs() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}
