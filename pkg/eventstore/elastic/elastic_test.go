package elastic

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServer fakes an Elasticsearch node. The product header is required
// or the client rejects the response during its compatibility check.
func newTestServer(t *testing.T, response string, capture *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")

		if capture != nil && r.Method == http.MethodPost {
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			if len(body) > 0 {
				require.NoError(t, json.Unmarshal(body, capture))
			}
		}
		_, _ = w.Write([]byte(response))
	}))
}

func newTestStore(t *testing.T, srv *httptest.Server) *Store {
	t.Helper()
	store, err := New(Config{
		Addresses:   []string{srv.URL},
		SignupEvent: "backend-sign_up",
	})
	require.NoError(t, err)
	return store
}

func TestUniqueUserIDs_ParsesMixedKeyTypes(t *testing.T) {
	response := `{
		"aggregations": {
			"unique_user_ids": {
				"buckets": [
					{"key": 1001, "doc_count": 3},
					{"key": 1002, "key_as_string": "1002", "doc_count": 1},
					{"key": "visitor-abc", "doc_count": 2}
				]
			}
		}
	}`

	var captured map[string]any
	srv := newTestServer(t, response, &captured)
	defer srv.Close()

	store := newTestStore(t, srv)
	ids, err := store.UniqueUserIDs(context.Background(), "2024-03-01", "backend-sign_up")
	require.NoError(t, err)

	assert.Equal(t, 3, ids.Len())
	assert.True(t, ids.Contains("1001"))
	assert.True(t, ids.Contains("1002"))
	assert.True(t, ids.Contains("visitor-abc"))
}

func TestUniqueUserIDs_RequestShape(t *testing.T) {
	var captured map[string]any
	srv := newTestServer(t, `{"aggregations":{"unique_user_ids":{"buckets":[]}}}`, &captured)
	defer srv.Close()

	store := newTestStore(t, srv)
	_, err := store.UniqueUserIDs(context.Background(), "2024-03-01", "root")
	require.NoError(t, err)

	require.NotNil(t, captured)
	assert.EqualValues(t, 0, captured["size"])

	must := captured["query"].(map[string]any)["bool"].(map[string]any)["must"].([]any)
	require.Len(t, must, 2)

	rangeClause := must[0].(map[string]any)["range"].(map[string]any)["@timestamp"].(map[string]any)
	assert.Equal(t, "2024-03-01T00:00:00", rangeClause["gte"])
	assert.Equal(t, "2024-03-01T23:59:59", rangeClause["lt"])
	assert.Equal(t, "+08:00", rangeClause["time_zone"])

	termClause := must[1].(map[string]any)["term"].(map[string]any)
	assert.Equal(t, "root", termClause["message.name.keyword"])

	terms := captured["aggs"].(map[string]any)["unique_user_ids"].(map[string]any)["terms"].(map[string]any)
	assert.Equal(t, "message.userId", terms["field"])
	assert.EqualValues(t, TermBucketCap, terms["size"])
}

func TestDailyHistogram_ParsesBuckets(t *testing.T) {
	response := `{
		"aggregations": {
			"by_day": {
				"buckets": [
					{
						"key_as_string": "2024-03-01",
						"user_id_all": {"unique_visitor_id": {"value": 120}},
						"user_id_not_zero": {"unique_visitor_id": {"value": 45}},
						"new_sign_up": {"unique_visitor_id": {"value": 12}}
					},
					{
						"key_as_string": "2024-03-02",
						"user_id_all": {"unique_visitor_id": {"value": 98}},
						"user_id_not_zero": {"unique_visitor_id": {"value": 40}},
						"new_sign_up": {"unique_visitor_id": {"value": 7}}
					}
				]
			}
		}
	}`

	var captured map[string]any
	srv := newTestServer(t, response, &captured)
	defer srv.Close()

	store := newTestStore(t, srv)
	loc := time.FixedZone("UTC+8", 8*60*60)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, loc)
	end := time.Date(2024, 3, 2, 0, 0, 0, 0, loc)

	stats, err := store.DailyHistogram(context.Background(), start, end)
	require.NoError(t, err)

	require.Len(t, stats, 2)
	assert.Equal(t, "2024-03-01", stats[0].Date)
	assert.EqualValues(t, 120, stats[0].AllVisitorCount)
	assert.EqualValues(t, 45, stats[0].AllRegisteredCount)
	assert.EqualValues(t, 12, stats[0].AllSignUpCount)
	assert.Equal(t, "2024-03-02", stats[1].Date)

	// Nested aggregation shape: day buckets with three filtered cardinalities.
	byDay := captured["aggs"].(map[string]any)["by_day"].(map[string]any)
	hist := byDay["date_histogram"].(map[string]any)
	assert.Equal(t, "day", hist["calendar_interval"])
	assert.Equal(t, "+08:00", hist["time_zone"])

	sub := byDay["aggs"].(map[string]any)
	assert.Contains(t, sub, "user_id_all")
	assert.Contains(t, sub, "user_id_not_zero")
	assert.Contains(t, sub, "new_sign_up")

	signupFilter := sub["new_sign_up"].(map[string]any)["filter"].(map[string]any)["term"].(map[string]any)
	assert.Equal(t, "backend-sign_up", signupFilter["message.name.keyword"])
}

func TestSearch_ErrorStatusPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"parsing_exception"}}`))
	}))
	defer srv.Close()

	store := newTestStore(t, srv)
	_, err := store.UniqueUserIDs(context.Background(), "2024-03-01", "root")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unique_user_ids")
}

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
