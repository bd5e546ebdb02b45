package openfda

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLabels serves total synthetic labels with skip/limit paging.
func fakeLabels(t *testing.T, total int, requests *atomic.Int32) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.Add(1)
		}

		assert.Equal(t, labelPath, r.URL.Path)

		q := r.URL.Query()
		if q.Get("search") == "openfda.brand_name:nothing" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error": {"code": "NOT_FOUND", "message": "No matches found!"}}`))

			return
		}

		limit, _ := strconv.Atoi(q.Get("limit"))
		skip, _ := strconv.Atoi(q.Get("skip"))

		results := []json.RawMessage{}
		for i := skip; i < min(skip+limit, total); i++ {
			results = append(results, json.RawMessage(fmt.Sprintf(`{"set_id": "set-%d"}`, i)))
		}

		resp := map[string]any{
			"meta":    map[string]any{"results": map[string]int{"skip": skip, "limit": limit, "total": total}},
			"results": results,
		}

		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestSearchLabels(t *testing.T) {
	srv := fakeLabels(t, 3, nil)
	client := NewClient(Options{BaseURL: srv.URL})

	page, err := client.SearchLabels(context.Background(), SearchOptions{Search: `openfda.brand_name:"Taltz"`, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Results, 2)
	assert.JSONEq(t, `{"set_id": "set-0"}`, string(page.Results[0]))

	t.Run("no matches is an empty page", func(t *testing.T) {
		page, err := client.SearchLabels(context.Background(), SearchOptions{Search: "openfda.brand_name:nothing"})
		require.NoError(t, err)
		assert.Empty(t, page.Results)
	})

	t.Run("skip window", func(t *testing.T) {
		_, err := client.SearchLabels(context.Background(), SearchOptions{Skip: MaxSkip + 1})
		require.ErrorIs(t, err, ErrSkipTooDeep)
	})
}

func TestSearchLabels_SendsAPIKeyAndCapsLimit(t *testing.T) {
	var gotQuery string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"meta": {"results": {"total": 0}}, "results": []}`))
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL, APIKey: "k1"})

	_, err := client.SearchLabels(context.Background(), SearchOptions{Limit: 5000})
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "api_key=k1")
	assert.Contains(t, gotQuery, "limit=1000")
}

func TestSearchLabels_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		_, _ = w.Write([]byte(`{"meta": {"results": {"total": 1}}, "results": [{"set_id": "a"}]}`))
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL, RetryWaitMin: time.Millisecond, RetryWaitMax: 2 * time.Millisecond})

	page, err := client.SearchLabels(context.Background(), SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, page.Results, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearchLabels_ClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"code": "BAD_REQUEST"}}`))
	}))
	defer srv.Close()

	_, err := NewClient(Options{BaseURL: srv.URL}).SearchLabels(context.Background(), SearchOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestEachPage(t *testing.T) {
	t.Run("all results", func(t *testing.T) {
		var requests atomic.Int32

		srv := fakeLabels(t, 5, &requests)
		client := NewClient(Options{BaseURL: srv.URL})

		var ids []string

		n, err := client.EachPage(context.Background(), "", 2, 0, func(results []json.RawMessage) error {
			for _, r := range results {
				var v struct {
					SetID string `json:"set_id"`
				}
				require.NoError(t, json.Unmarshal(r, &v))
				ids = append(ids, v.SetID)
			}

			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		assert.Equal(t, []string{"set-0", "set-1", "set-2", "set-3", "set-4"}, ids)
		assert.Equal(t, int32(3), requests.Load())
	})

	t.Run("stops at total", func(t *testing.T) {
		srv := fakeLabels(t, 50, nil)
		client := NewClient(Options{BaseURL: srv.URL})

		var sizes []int

		n, err := client.EachPage(context.Background(), "", 4, 6, func(results []json.RawMessage) error {
			sizes = append(sizes, len(results))

			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 6, n)
		assert.Equal(t, []int{4, 2}, sizes)
	})

	t.Run("callback error stops", func(t *testing.T) {
		srv := fakeLabels(t, 10, nil)
		client := NewClient(Options{BaseURL: srv.URL})

		_, err := client.EachPage(context.Background(), "", 5, 0, func([]json.RawMessage) error {
			return assert.AnError
		})
		require.ErrorIs(t, err, assert.AnError)
	})
}
