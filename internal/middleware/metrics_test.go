package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remitra/pricing-api/internal/middleware"
)

type httpObservation struct {
	method   string
	route    string
	status   int
	duration time.Duration
}

type fakeHTTPRecorder struct {
	observations []httpObservation
}

func (f *fakeHTTPRecorder) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	f.observations = append(f.observations, httpObservation{method, route, statusCode, duration})
}

func newMeteredRouter(recorder *fakeHTTPRecorder) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestMetrics(recorder))
	router.GET("/api/v1/p2p/*symbol", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	router.POST("/api/v1/pricing/calculate", func(c *gin.Context) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"ok": false})
	})
	return router
}

func TestRequestMetrics_RecordsRouteTemplate(t *testing.T) {
	recorder := &fakeHTTPRecorder{}
	router := newMeteredRouter(recorder)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/p2p/USDT/EUR", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, recorder.observations, 1)
	obs := recorder.observations[0]
	assert.Equal(t, http.MethodGet, obs.method)
	// The route template, not the raw path: parameters must not fan out labels.
	assert.Equal(t, "/api/v1/p2p/*symbol", obs.route)
	assert.Equal(t, http.StatusOK, obs.status)
	assert.GreaterOrEqual(t, obs.duration, time.Duration(0))
}

func TestRequestMetrics_RecordsStatusAndUnmatched(t *testing.T) {
	recorder := &fakeHTTPRecorder{}
	router := newMeteredRouter(recorder)

	router.ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodPost, "/api/v1/pricing/calculate", nil))
	router.ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodGet, "/nope", nil))

	require.Len(t, recorder.observations, 2)
	assert.Equal(t, http.StatusUnprocessableEntity, recorder.observations[0].status)
	assert.Equal(t, "unmatched", recorder.observations[1].route)
	assert.Equal(t, http.StatusNotFound, recorder.observations[1].status)
}
