package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrMaxRetriesExceeded is returned when the retry budget for throttled
// requests has been exhausted.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// RequestOption represents a function that can modify an HTTP request
type RequestOption func(*http.Request)

// ClientOption represents a function that can modify the client
type ClientOption func(*Client)

// HTTPError represents an error returned from an HTTP request
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
	Method     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d %s: %s", e.Method, e.URL, e.StatusCode, e.Status, e.Body)
}

// MetricsCollector defines an interface for collecting client metrics
type MetricsCollector interface {
	RecordRequestDuration(method, path string, statusCode int, duration time.Duration)
	RecordRequestCount(method, path string, statusCode int)
	RecordRequestError(method, path string)
	RecordRetry(method, path string)
	RecordCacheHit(path string)
}

// NoopMetricsCollector is a metrics collector that does nothing
type NoopMetricsCollector struct{}

func (n *NoopMetricsCollector) RecordRequestDuration(method, path string, statusCode int, duration time.Duration) {
}
func (n *NoopMetricsCollector) RecordRequestCount(method, path string, statusCode int) {}
func (n *NoopMetricsCollector) RecordRequestError(method, path string)                 {}
func (n *NoopMetricsCollector) RecordRetry(method, path string)                        {}
func (n *NoopMetricsCollector) RecordCacheHit(path string)                             {}

// Stats is a snapshot of the client's process-wide counters.
type Stats struct {
	Requests  int64 `json:"requests"`
	Retries   int64 `json:"retries"`
	CacheHits int64 `json:"cache_hits"`
	CacheSize int   `json:"cache_size"`
}

// cacheEntry is a cached response body. Entries are only ever discarded
// lazily when read past their TTL or via ClearCache; there is no background
// sweep, so the map can grow with the number of distinct keys.
type cacheEntry struct {
	body     []byte
	storedAt time.Time
}

// Client is a resilient HTTP client: every outbound call passes a shared
// rate limiter, read requests are served from a short-lived response cache,
// and throttled responses are retried with exponential backoff.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	defaultHeaders map[string]string
	limiter        *rate.Limiter
	maxRetries     int
	retryBaseDelay time.Duration
	requestTimeout time.Duration
	cacheTTL       time.Duration
	metrics        MetricsCollector
	logger         *zap.Logger

	mu        sync.Mutex
	cache     map[string]cacheEntry
	requests  int64
	retries   int64
	cacheHits int64
}

// NewClient creates a new Client with the given options.
func NewClient(options ...ClientOption) *Client {
	client := &Client{
		httpClient: &http.Client{},
		defaultHeaders: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
		limiter:        rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
		maxRetries:     3,
		retryBaseDelay: time.Second,
		requestTimeout: 5 * time.Second,
		cacheTTL:       5 * time.Second,
		metrics:        &NoopMetricsCollector{},
		logger:         zap.NewNop(),
		cache:          make(map[string]cacheEntry),
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// WithBaseURL sets the base URL for all requests
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithDefaultHeader adds a default header to all requests
func WithDefaultHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.defaultHeaders[key] = value
	}
}

// WithRequestTimeout sets the per-attempt timeout. It bounds one network
// call only; retry backoff waits are governed by the caller's context.
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.requestTimeout = timeout
	}
}

// WithMinRequestInterval sets the minimum spacing between outbound calls
// issued through this client's limiter.
func WithMinRequestInterval(interval time.Duration) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
}

// WithLimiter installs a shared limiter so several clients pointing at
// different upstreams throttle against a single watermark.
func WithLimiter(limiter *rate.Limiter) ClientOption {
	return func(c *Client) {
		c.limiter = limiter
	}
}

// WithRetry sets the retry budget and the base backoff delay for throttled
// responses. Delays grow as baseDelay * 2^attempt.
func WithRetry(maxRetries int, baseDelay time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryBaseDelay = baseDelay
	}
}

// WithCacheTTL sets how long successful read responses are served from cache.
func WithCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.cacheTTL = ttl
	}
}

// WithMetricsCollector sets the metrics collector
func WithMetricsCollector(collector MetricsCollector) ClientOption {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHeader adds a header to the request
func WithHeader(key, value string) RequestOption {
	return func(req *http.Request) {
		req.Header.Set(key, value)
	}
}

// WithQueryParam adds a query parameter to the request
func WithQueryParam(key, value string) RequestOption {
	return func(req *http.Request) {
		q := req.URL.Query()
		q.Add(key, value)
		req.URL.RawQuery = q.Encode()
	}
}

// WithBearerToken adds bearer token authentication to the request
func WithBearerToken(token string) RequestOption {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get performs a GET request, serving a fresh cached response when one
// exists for the same URL.
func (c *Client) Get(ctx context.Context, path string, options ...RequestOption) ([]byte, error) {
	body, _, err := c.GetInfo(ctx, path, options...)
	return body, err
}

// GetInfo is Get plus cache provenance, for callers that surface cache
// metadata to their own clients.
func (c *Client) GetInfo(ctx context.Context, path string, options ...RequestOption) ([]byte, bool, error) {
	return c.doCached(ctx, http.MethodGet, path, nil, options...)
}

// GetJSON performs a cached GET and decodes the response body into target.
func (c *Client) GetJSON(ctx context.Context, path string, target interface{}, options ...RequestOption) error {
	body, _, err := c.doCached(ctx, http.MethodGet, path, nil, options...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// Query performs a POST with read semantics: the request carries a JSON
// filter body but the call is cached like a GET, keyed by URL plus body.
// Marketplace search endpoints are POST-shaped queries, which is why this
// exists alongside Post.
func (c *Client) Query(ctx context.Context, path string, body interface{}, options ...RequestOption) ([]byte, bool, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return c.doCached(ctx, http.MethodPost, path, payload, options...)
}

// QueryJSON is Query with JSON decoding of the response.
func (c *Client) QueryJSON(ctx context.Context, path string, body, target interface{}, options ...RequestOption) (bool, error) {
	raw, fromCache, err := c.Query(ctx, path, body, options...)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return false, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return fromCache, nil
}

// Post performs an uncached POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body interface{}, options ...RequestOption) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	fullURL, err := c.buildURL(path)
	if err != nil {
		return nil, err
	}
	return c.doWithRetry(ctx, http.MethodPost, path, fullURL, payload, options...)
}

// doCached wraps doWithRetry with the TTL response cache. The cache key is
// the request method plus the fully-resolved URL (after request options) plus
// any payload, so two calls with different query params never collide.
func (c *Client) doCached(ctx context.Context, method, path string, payload []byte, options ...RequestOption) ([]byte, bool, error) {
	fullURL, err := c.buildURL(path)
	if err != nil {
		return nil, false, err
	}

	// Resolve the final URL once so the cache key matches what is sent.
	probe, err := http.NewRequest(method, fullURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	for _, option := range options {
		option(probe)
	}
	resolvedURL := probe.URL.String()

	key := method + " " + resolvedURL
	if payload != nil {
		key += " " + string(payload)
	}

	if body := c.cacheGet(key); body != nil {
		c.metrics.RecordCacheHit(path)
		return body, true, nil
	}

	body, err := c.doWithRetry(ctx, method, path, resolvedURL, payload, options...)
	if err != nil {
		return nil, false, err
	}

	c.cacheSet(key, body)
	return body, false, nil
}

// doWithRetry issues the request, waiting on the shared limiter before every
// attempt and retrying throttled responses with exponential backoff. Any
// other failure is surfaced immediately.
func (c *Client) doWithRetry(ctx context.Context, method, path, fullURL string, payload []byte, options ...RequestOption) ([]byte, error) {
	var result []byte

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()

		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(attemptCtx, method, fullURL, bodyReader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		for key, value := range c.defaultHeaders {
			req.Header.Set(key, value)
		}
		for _, option := range options {
			option(req)
		}

		c.mu.Lock()
		c.requests++
		c.mu.Unlock()

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		duration := time.Since(start)
		if err != nil {
			c.metrics.RecordRequestError(method, path)
			if isThrottlingError(err) {
				return err
			}
			return backoff.Permanent(fmt.Errorf("http request failed: %w", err))
		}
		defer resp.Body.Close()

		bodyBytes, readErr := io.ReadAll(resp.Body)
		c.metrics.RecordRequestDuration(method, path, resp.StatusCode, duration)
		c.metrics.RecordRequestCount(method, path, resp.StatusCode)
		if readErr != nil {
			return backoff.Permanent(fmt.Errorf("failed to read response body: %w", readErr))
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			return &HTTPError{
				StatusCode: resp.StatusCode,
				Status:     resp.Status,
				URL:        fullURL,
				Method:     method,
				Body:       string(bodyBytes),
			}
		}

		if resp.StatusCode >= 400 {
			c.metrics.RecordRequestError(method, path)
			httpErr := &HTTPError{
				StatusCode: resp.StatusCode,
				Status:     resp.Status,
				URL:        fullURL,
				Method:     method,
				Body:       string(bodyBytes),
			}
			c.logger.Warn("HTTP error response",
				zap.String("method", method),
				zap.String("url", fullURL),
				zap.Int("status", resp.StatusCode),
				zap.Duration("duration", duration))
			return backoff.Permanent(httpErr)
		}

		result = bodyBytes
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.retryBaseDelay
	expBackoff.Multiplier = 2.0
	expBackoff.RandomizationFactor = 0
	expBackoff.MaxInterval = time.Minute
	expBackoff.MaxElapsedTime = 0

	notify := func(err error, delay time.Duration) {
		c.mu.Lock()
		c.retries++
		c.mu.Unlock()
		c.metrics.RecordRetry(method, path)
		c.logger.Warn("retrying throttled request",
			zap.String("method", method),
			zap.String("url", fullURL),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	err := backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(expBackoff, uint64(c.maxRetries)), ctx),
		notify)
	if err != nil {
		var httpErr *HTTPError
		throttled := isThrottlingError(err) ||
			(errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests)
		if throttled {
			return nil, fmt.Errorf("%w after %d retries: %v", ErrMaxRetriesExceeded, c.maxRetries, err)
		}
		return nil, err
	}

	return result, nil
}

// buildURL joins the base URL and path the same way regardless of slashes.
func (c *Client) buildURL(path string) (string, error) {
	if c.baseURL == "" {
		if _, err := url.ParseRequestURI(path); err != nil {
			return "", fmt.Errorf("invalid path used without base URL: %s, error: %w", path, err)
		}
		return path, nil
	}
	trimmedBase := strings.TrimSuffix(c.baseURL, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return trimmedBase + path, nil
}

func (c *Client) cacheGet(key string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cache[key]
	if !ok {
		return nil
	}
	if time.Since(entry.storedAt) >= c.cacheTTL {
		// Expired: treated as absent, purged on read only.
		delete(c.cache, key)
		return nil
	}
	c.cacheHits++
	body := make([]byte, len(entry.body))
	copy(body, entry.body)
	return body
}

func (c *Client) cacheSet(key string, body []byte) {
	stored := make([]byte, len(body))
	copy(stored, body)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cacheEntry{body: stored, storedAt: time.Now()}
}

// Stats returns a snapshot of the process-wide counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Requests:  c.requests,
		Retries:   c.retries,
		CacheHits: c.cacheHits,
		CacheSize: len(c.cache),
	}
}

// ClearCache drops all cached responses and resets the counters.
func (c *Client) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]cacheEntry)
	c.requests = 0
	c.retries = 0
	c.cacheHits = 0
}

// isThrottlingError reports whether an error's text indicates a server-side
// rate limit, for transports that fail before a status code is available.
func isThrottlingError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "rate limit")
}
