// Package elastic implements the event store gateway on top of Elasticsearch.
//
// Two request shapes are issued against the daily-rotated event indices: a
// terms aggregation collecting distinct user IDs for one day and one event
// name, and a 14-day calendar-interval date histogram with three nested
// filter+cardinality sub-aggregations feeding the signup funnel. All range
// and bucket boundaries are pinned to UTC+8.
package elastic

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/goccy/go-json"

	"github.com/cohortview/cohortview/pkg/dateutil"
	"github.com/cohortview/cohortview/pkg/eventstore"
	"github.com/cohortview/cohortview/pkg/metrics"
)

// TermBucketCap is the terms aggregation size. Days with more distinct users
// than this are silently truncated; a known approximation, not a failure.
const TermBucketCap = 10000

// Config holds connection and schema settings for the Elasticsearch gateway.
type Config struct {
	// Addresses lists Elasticsearch node URLs.
	Addresses []string

	// APIKey is the base64 API key credential. Optional for unsecured clusters.
	APIKey string

	// Index is the index pattern matching all daily-rotated event indices.
	Index string

	// Document field names.
	TimestampField string
	UserIDField    string
	VisitorIDField string
	EventNameField string

	// SignupEvent is the event name counted as a new signup in the histogram.
	SignupEvent string

	// TimezoneOffset is the fixed offset applied to all range and bucketing
	// boundaries, e.g. "+08:00".
	TimezoneOffset string

	// Location is the reporting timezone matching TimezoneOffset.
	Location *time.Location
}

func (c *Config) applyDefaults() {
	if c.Index == "" {
		c.Index = "monitor-prod-20*"
	}
	if c.TimestampField == "" {
		c.TimestampField = "@timestamp"
	}
	if c.UserIDField == "" {
		c.UserIDField = "message.userId"
	}
	if c.VisitorIDField == "" {
		c.VisitorIDField = "message.visitorId.keyword"
	}
	if c.EventNameField == "" {
		c.EventNameField = "message.name.keyword"
	}
	if c.TimezoneOffset == "" {
		c.TimezoneOffset = "+08:00"
	}
	if c.Location == nil {
		c.Location = time.FixedZone("UTC+8", 8*60*60)
	}
}

// Store is an eventstore.EventStore backed by Elasticsearch.
type Store struct {
	client *elasticsearch.Client
	cfg    Config
}

// New creates an Elasticsearch-backed event store.
func New(cfg Config) (*Store, error) {
	cfg.applyDefaults()
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("elastic: at least one address is required")
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		APIKey:    cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("elastic: create client: %w", err)
	}

	return &Store{client: client, cfg: cfg}, nil
}

// UniqueUserIDs returns the distinct user IDs that produced eventName during
// the given calendar day (UTC+8). Capped at TermBucketCap buckets.
func (s *Store) UniqueUserIDs(ctx context.Context, day string, eventName string) (eventstore.UserIDSet, error) {
	body := map[string]any{
		"size": 0,
		"query": map[string]any{
			"bool": map[string]any{
				"must": []any{
					map[string]any{
						"range": map[string]any{
							s.cfg.TimestampField: map[string]any{
								"gte":       day + "T00:00:00",
								"lt":        day + "T23:59:59",
								"time_zone": s.cfg.TimezoneOffset,
							},
						},
					},
					map[string]any{
						"term": map[string]any{s.cfg.EventNameField: eventName},
					},
				},
			},
		},
		"aggs": map[string]any{
			"unique_user_ids": map[string]any{
				"terms": map[string]any{
					"field": s.cfg.UserIDField,
					"size":  TermBucketCap,
				},
			},
		},
	}

	var resp termsResponse
	if err := s.search(ctx, "unique_user_ids", body, &resp); err != nil {
		return nil, err
	}

	ids := make(eventstore.UserIDSet, len(resp.Aggregations.UniqueUserIDs.Buckets))
	for _, b := range resp.Aggregations.UniqueUserIDs.Buckets {
		ids.Add(b.id())
	}
	return ids, nil
}

// DailyHistogram returns one DayStat per calendar day in [start, end],
// bucketed in UTC+8, with visitor/registered/signup cardinality estimates.
func (s *Store) DailyHistogram(ctx context.Context, start, end time.Time) ([]eventstore.DayStat, error) {
	startDay := dateutil.Format(start, s.cfg.Location)
	endDay := dateutil.Format(end, s.cfg.Location)

	body := map[string]any{
		"size": 0,
		"query": map[string]any{
			"bool": map[string]any{
				"must": []any{
					map[string]any{
						"range": map[string]any{
							s.cfg.TimestampField: map[string]any{
								"gte":       startDay,
								"lte":       endDay,
								"format":    "yyyy-MM-dd",
								"time_zone": s.cfg.TimezoneOffset,
							},
						},
					},
				},
			},
		},
		"aggs": map[string]any{
			"by_day": map[string]any{
				"date_histogram": map[string]any{
					"field":             s.cfg.TimestampField,
					"calendar_interval": "day",
					"time_zone":         s.cfg.TimezoneOffset,
					"format":            "yyyy-MM-dd",
				},
				"aggs": map[string]any{
					"user_id_all": map[string]any{
						"filter": map[string]any{
							"range": map[string]any{s.cfg.UserIDField: map[string]any{"gte": 0}},
						},
						"aggs": map[string]any{
							"unique_visitor_id": map[string]any{
								"cardinality": map[string]any{"field": s.cfg.VisitorIDField},
							},
						},
					},
					"user_id_not_zero": map[string]any{
						"filter": map[string]any{
							"range": map[string]any{s.cfg.UserIDField: map[string]any{"gt": 0}},
						},
						"aggs": map[string]any{
							"unique_visitor_id": map[string]any{
								"cardinality": map[string]any{"field": s.cfg.VisitorIDField},
							},
						},
					},
					"new_sign_up": map[string]any{
						"filter": map[string]any{
							"term": map[string]any{s.cfg.EventNameField: s.cfg.SignupEvent},
						},
						"aggs": map[string]any{
							"unique_visitor_id": map[string]any{
								"cardinality": map[string]any{"field": s.cfg.UserIDField},
							},
						},
					},
				},
			},
		},
	}

	var resp histogramResponse
	if err := s.search(ctx, "daily_histogram", body, &resp); err != nil {
		return nil, err
	}

	stats := make([]eventstore.DayStat, 0, len(resp.Aggregations.ByDay.Buckets))
	for _, b := range resp.Aggregations.ByDay.Buckets {
		stats = append(stats, eventstore.DayStat{
			Date:               b.KeyAsString,
			AllVisitorCount:    int64(b.UserIDAll.UniqueVisitorID.Value),
			AllRegisteredCount: int64(b.UserIDNotZero.UniqueVisitorID.Value),
			AllSignUpCount:     int64(b.NewSignUp.UniqueVisitorID.Value),
		})
	}
	return stats, nil
}

// Close is a no-op; the underlying HTTP transport manages its own pool.
func (s *Store) Close() error {
	return nil
}

// search issues one _search request and decodes the response into out.
func (s *Store) search(ctx context.Context, operation string, body map[string]any, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return fmt.Errorf("elastic: encode %s request: %w", operation, err)
	}

	start := time.Now()
	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.cfg.Index),
		s.client.Search.WithBody(&buf),
	)
	metrics.GatewayQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GatewayQueries.WithLabelValues(operation, "error").Inc()
		return fmt.Errorf("elastic: %s search: %w", operation, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		metrics.GatewayQueries.WithLabelValues(operation, "error").Inc()
		return fmt.Errorf("elastic: %s search returned %s", operation, res.Status())
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		metrics.GatewayQueries.WithLabelValues(operation, "error").Inc()
		return fmt.Errorf("elastic: decode %s response: %w", operation, err)
	}

	metrics.GatewayQueries.WithLabelValues(operation, "ok").Inc()
	return nil
}

type termsResponse struct {
	Aggregations struct {
		UniqueUserIDs struct {
			Buckets []termBucket `json:"buckets"`
		} `json:"unique_user_ids"`
	} `json:"aggregations"`
}

type termBucket struct {
	Key         json.RawMessage `json:"key"`
	KeyAsString string          `json:"key_as_string"`
}

// id normalizes a bucket key to its exact textual value. Numeric keys keep
// their raw token text so identifier comparison stays bit-identical.
func (b termBucket) id() string {
	if b.KeyAsString != "" {
		return b.KeyAsString
	}
	raw := string(b.Key)
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b.Key, &s); err == nil {
			return s
		}
	}
	return raw
}

type cardinalityValue struct {
	Value float64 `json:"value"`
}

type histogramBucket struct {
	KeyAsString string `json:"key_as_string"`
	UserIDAll   struct {
		UniqueVisitorID cardinalityValue `json:"unique_visitor_id"`
	} `json:"user_id_all"`
	UserIDNotZero struct {
		UniqueVisitorID cardinalityValue `json:"unique_visitor_id"`
	} `json:"user_id_not_zero"`
	NewSignUp struct {
		UniqueVisitorID cardinalityValue `json:"unique_visitor_id"`
	} `json:"new_sign_up"`
}

type histogramResponse struct {
	Aggregations struct {
		ByDay struct {
			Buckets []histogramBucket `json:"buckets"`
		} `json:"by_day"`
	} `json:"aggregations"`
}
