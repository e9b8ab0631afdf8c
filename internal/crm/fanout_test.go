package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// branchFromPath extracts the branch id from /v2api/<branch>/customer/index.
func branchFromPath(t *testing.T, path string) int {
	t.Helper()
	parts := strings.Split(strings.TrimPrefix(path, "/v2api/"), "/")
	require.NotEmpty(t, parts)
	var branch int
	_, err := fmt.Sscanf(parts[0], "%d", &branch)
	require.NoError(t, err)
	return branch
}

func TestSearchByPhone_MergesAllSubQueries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "79001234567", body["phone"])
		assert.Equal(t, float64(0), body["page"])

		branch := branchFromPath(t, r.URL.Path)
		isStudy := int(body["is_study"].(float64))

		// One distinctive item per (branch, is_study) pair.
		fmt.Fprintf(w, `{"total": %d, "count": 1, "items": [{"branch": %d, "is_study": %d}]}`,
			branch, branch, isStudy)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, primedCache())

	page, err := client.SearchByPhone(context.Background(), "79001234567")
	require.NoError(t, err)

	// Branches 1..4 twice over, once per study status.
	assert.Equal(t, 2*(1+2+3+4), page.Total)
	assert.Equal(t, 8, page.Count)
	assert.Len(t, page.Items, 8)
}

func TestSearchByPhone_ItemOrderIsDeterministic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		branch := branchFromPath(t, r.URL.Path)
		isStudy := int(body["is_study"].(float64))
		fmt.Fprintf(w, `{"total": 1, "count": 1, "items": [{"id": "%d-%d"}]}`, isStudy, branch)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, primedCache())

	first, err := client.SearchByPhone(context.Background(), "79001234567")
	require.NoError(t, err)
	second, err := client.SearchByPhone(context.Background(), "79001234567")
	require.NoError(t, err)

	require.Len(t, first.Items, 8)
	require.Equal(t, len(first.Items), len(second.Items))
	for i := range first.Items {
		assert.JSONEq(t, string(first.Items[i]), string(second.Items[i]))
	}

	// Submission order: all is_study=0 branches before any is_study=1.
	var ids []string
	for _, item := range first.Items {
		var parsed struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(item, &parsed))
		ids = append(ids, parsed.ID)
	}
	assert.Equal(t, []string{"0-1", "0-2", "0-3", "0-4", "1-1", "1-2", "1-3", "1-4"}, ids)
}

func TestSearchByPhone_ToleratesFailedSubQueries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Branch 3 is down in both study statuses.
		if branchFromPath(t, r.URL.Path) == 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"total": 1, "count": 1, "items": [{}]}`))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, primedCache())

	page, err := client.SearchByPhone(context.Background(), "79001234567")
	require.NoError(t, err)
	assert.Equal(t, 6, page.Total)
	assert.Len(t, page.Items, 6)
}

func TestSearchByPhone_HonorsConcurrencyCeiling(t *testing.T) {
	var inFlight, peak int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&inFlight, 1)
		for {
			observed := atomic.LoadInt32(&peak)
			if current <= observed || atomic.CompareAndSwapInt32(&peak, observed, current) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		w.Write([]byte(`{"total": 0, "count": 0, "items": []}`))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, primedCache())

	_, err := client.SearchByPhone(context.Background(), "79001234567")
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestSearchByPhone_FailsWithoutToken(t *testing.T) {
	cache := newFakeCache()

	// No cached token and an unreachable login endpoint.
	client, _ := newTestClient(t, "http://127.0.0.1:0", cache)

	_, err := client.SearchByPhone(context.Background(), "79001234567")
	require.Error(t, err)
}
