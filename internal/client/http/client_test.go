package http_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpclient "github.com/remitra/pricing-api/internal/client/http"
)

func TestClient_CachesGETWithinTTL(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"price":"100.5"}`))
	}))
	defer server.Close()

	client := httpclient.NewClient(
		httpclient.WithBaseURL(server.URL),
		httpclient.WithMinRequestInterval(time.Millisecond),
		httpclient.WithCacheTTL(time.Second),
	)

	ctx := context.Background()

	first, fromCache, err := client.GetInfo(ctx, "/spot")
	require.NoError(t, err)
	assert.False(t, fromCache)

	second, fromCache, err := client.GetInfo(ctx, "/spot")
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Equal(t, first, second)

	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()

	stats := client.Stats()
	assert.Equal(t, int64(1), stats.Requests)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, 1, stats.CacheSize)
}

func TestClient_RefetchesAfterTTLExpiry(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := httpclient.NewClient(
		httpclient.WithBaseURL(server.URL),
		httpclient.WithMinRequestInterval(time.Millisecond),
		httpclient.WithCacheTTL(40*time.Millisecond),
	)

	ctx := context.Background()

	_, _, err := client.GetInfo(ctx, "/spot")
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	_, fromCache, err := client.GetInfo(ctx, "/spot")
	require.NoError(t, err)
	assert.False(t, fromCache)

	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
}

func TestClient_DistinctQueryParamsDoNotCollide(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"` + r.URL.Query().Get("symbol") + `"}`))
	}))
	defer server.Close()

	client := httpclient.NewClient(
		httpclient.WithBaseURL(server.URL),
		httpclient.WithMinRequestInterval(time.Millisecond),
	)

	ctx := context.Background()

	btc, err := client.Get(ctx, "/spot", httpclient.WithQueryParam("symbol", "BTC/EUR"))
	require.NoError(t, err)
	eth, err := client.Get(ctx, "/spot", httpclient.WithQueryParam("symbol", "ETH/EUR"))
	require.NoError(t, err)

	assert.NotEqual(t, string(btc), string(eth))
}

func TestClient_RetriesThrottledResponsesWithIncreasingDelays(t *testing.T) {
	var mu sync.Mutex
	var arrivals []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		arrivals = append(arrivals, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := httpclient.NewClient(
		httpclient.WithBaseURL(server.URL),
		httpclient.WithMinRequestInterval(time.Millisecond),
		httpclient.WithRetry(3, 20*time.Millisecond),
	)

	_, err := client.Get(context.Background(), "/spot")
	require.Error(t, err)
	assert.ErrorIs(t, err, httpclient.ErrMaxRetriesExceeded)

	mu.Lock()
	defer mu.Unlock()
	// 3 retries means 4 total tries.
	require.Len(t, arrivals, 4)

	gap1 := arrivals[1].Sub(arrivals[0])
	gap2 := arrivals[2].Sub(arrivals[1])
	gap3 := arrivals[3].Sub(arrivals[2])
	assert.GreaterOrEqual(t, gap1, 20*time.Millisecond)
	assert.Greater(t, gap2, gap1)
	assert.Greater(t, gap3, gap2)

	stats := client.Stats()
	assert.Equal(t, int64(4), stats.Requests)
	assert.Equal(t, int64(3), stats.Retries)
}

func TestClient_DoesNotRetryOtherErrorStatuses(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	client := httpclient.NewClient(
		httpclient.WithBaseURL(server.URL),
		httpclient.WithMinRequestInterval(time.Millisecond),
		httpclient.WithRetry(3, 10*time.Millisecond),
	)

	_, err := client.Get(context.Background(), "/spot")
	require.Error(t, err)

	var httpErr *httpclient.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)

	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

func TestClient_ThrottlesOutboundRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := httpclient.NewClient(
		httpclient.WithBaseURL(server.URL),
		httpclient.WithMinRequestInterval(50*time.Millisecond),
		httpclient.WithCacheTTL(time.Nanosecond), // force network calls
	)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.Post(ctx, "/query", map[string]string{"n": "x"})
		require.NoError(t, err)
	}
	elapsed := time.Since(start)

	// Three calls through a 50ms limiter take at least two full intervals.
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
}

func TestClient_ClearCacheResetsCountersAndEntries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := httpclient.NewClient(
		httpclient.WithBaseURL(server.URL),
		httpclient.WithMinRequestInterval(time.Millisecond),
	)

	ctx := context.Background()
	_, err := client.Get(ctx, "/spot")
	require.NoError(t, err)
	_, err = client.Get(ctx, "/spot")
	require.NoError(t, err)

	client.ClearCache()

	stats := client.Stats()
	assert.Equal(t, int64(0), stats.Requests)
	assert.Equal(t, int64(0), stats.CacheHits)
	assert.Equal(t, 0, stats.CacheSize)
}

func TestClient_QueryCachesPOSTReadsByBody(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer server.Close()

	client := httpclient.NewClient(
		httpclient.WithBaseURL(server.URL),
		httpclient.WithMinRequestInterval(time.Millisecond),
		httpclient.WithCacheTTL(time.Second),
	)

	ctx := context.Background()

	_, fromCache, err := client.Query(ctx, "/search", map[string]string{"token": "USDT"})
	require.NoError(t, err)
	assert.False(t, fromCache)

	_, fromCache, err = client.Query(ctx, "/search", map[string]string{"token": "USDT"})
	require.NoError(t, err)
	assert.True(t, fromCache)

	// A different filter body is a different logical query.
	_, fromCache, err = client.Query(ctx, "/search", map[string]string{"token": "BTC"})
	require.NoError(t, err)
	assert.False(t, fromCache)

	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
}
