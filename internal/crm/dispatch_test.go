package crm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-gateway/internal/common/errors"
	"crm-gateway/internal/common/logging"
)

// fakeCache is an in-memory TokenCache double.
type fakeCache struct {
	mu     sync.Mutex
	values map[string]string
	getErr error
	setErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string]string)}
}

func (f *fakeCache) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return "", f.getErr
	}
	return f.values[key], nil
}

func (f *fakeCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.values[key] = value.(string)
	return nil
}

func (f *fakeCache) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	return nil
}

func testAuthenticator(baseURL string) *Authenticator {
	return &Authenticator{
		baseURL: baseURL + "/v2api",
		creds:   Credentials{Email: "bot@example.com", APIKey: "key"},
		http:    &http.Client{Timeout: 5 * time.Second},
		logger:  logging.NewDefaultLogger(),
	}
}

// newTestClient builds a gateway pointed at a test server, with a primed
// token cache and recorded backoff sleeps instead of real ones.
func newTestClient(t *testing.T, baseURL string, cache *fakeCache) (*Client, *[]time.Duration) {
	t.Helper()

	opts := DefaultOptions("crm.test")
	opts.RatePerSecond = 0
	opts.Logger = logging.NewDefaultLogger()

	tokens := NewTokenManager(cache, testAuthenticator(baseURL), time.Hour, opts.Logger)

	client, err := NewClient(opts, tokens)
	require.NoError(t, err)
	client.baseURL = baseURL + "/v2api"

	var sleeps []time.Duration
	client.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return client, &sleeps
}

func primedCache() *fakeCache {
	cache := newFakeCache()
	cache.values[tokenKey] = "token-1"
	return cache
}

func TestDispatch_RetriesOnRateLimit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1, 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.Write([]byte(`{"total": 1, "count": 1, "items": [{}]}`))
		}
	}))
	defer server.Close()

	client, sleeps := newTestClient(t, server.URL, primedCache())

	var page PageResult
	err := client.dispatch(context.Background(), client.endpoint("1/customer/index"), map[string]int{}, nil, "token-1", &page)
	require.NoError(t, err)

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *sleeps)
	assert.Equal(t, 1, page.Total)
}

func TestDispatch_BackoffDoublesUntilExhaustion(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, sleeps := newTestClient(t, server.URL, primedCache())

	err := client.dispatch(context.Background(), client.endpoint("1/customer/index"), map[string]int{}, nil, "token-1", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeRateLimit))

	// 5 attempts, a doubling sleep between each pair.
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}, *sleeps)
}

func TestDispatch_UnauthorizedIsNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client, sleeps := newTestClient(t, server.URL, primedCache())

	err := client.dispatch(context.Background(), client.endpoint("1/customer/index"), map[string]int{}, nil, "token-1", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeUnauthorized))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, *sleeps)
}

func TestDispatch_MalformedBodyIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, primedCache())

	var page PageResult
	err := client.dispatch(context.Background(), client.endpoint("1/customer/index"), map[string]int{}, nil, "token-1", &page)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeMalformed))
}

func TestDispatch_UnexpectedStatusIsTerminal(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, primedCache())

	err := client.dispatch(context.Background(), client.endpoint("1/customer/index"), map[string]int{}, nil, "token-1", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeInternal))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDispatch_NetworkErrorIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client, _ := newTestClient(t, server.URL, primedCache())
	server.Close()

	err := client.dispatch(context.Background(), client.endpoint("1/customer/index"), map[string]int{}, nil, "token-1", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeNetwork))
}

func TestDispatch_RequiresToken(t *testing.T) {
	client, _ := newTestClient(t, "http://127.0.0.1:0", primedCache())

	err := client.dispatch(context.Background(), client.endpoint("1/customer/index"), map[string]int{}, nil, "", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeUnauthorized))
}

func TestDispatch_SendsTokenHeader(t *testing.T) {
	var gotToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get(tokenHeader)
		w.Write([]byte(`{"total": 0, "count": 0, "items": []}`))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, primedCache())

	var page PageResult
	require.NoError(t, client.dispatch(context.Background(), client.endpoint("1/customer/index"), map[string]int{}, nil, "token-1", &page))
	assert.Equal(t, "token-1", gotToken)
}
