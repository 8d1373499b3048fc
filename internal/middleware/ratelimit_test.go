package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/remitra/pricing-api/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newLimitedRouter(rps, burst int) *gin.Engine {
	router := gin.New()
	rl := middleware.NewRateLimiter(rps, burst, nil)
	router.Use(rl.Middleware())
	router.GET("/rates", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func get(router *gin.Engine, path, forwardedFor string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter_EnforcesBurst(t *testing.T) {
	router := newLimitedRouter(1, 2)

	assert.Equal(t, http.StatusOK, get(router, "/rates", "1.2.3.4").Code)
	assert.Equal(t, http.StatusOK, get(router, "/rates", "1.2.3.4").Code)

	rec := get(router, "/rates", "1.2.3.4")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRateLimiter_IsolatesClients(t *testing.T) {
	router := newLimitedRouter(1, 1)

	assert.Equal(t, http.StatusOK, get(router, "/rates", "1.2.3.4").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(router, "/rates", "1.2.3.4").Code)

	// A different client has its own budget.
	assert.Equal(t, http.StatusOK, get(router, "/rates", "5.6.7.8").Code)
}

func TestRateLimiter_SkipsHealthChecks(t *testing.T) {
	router := newLimitedRouter(1, 1)

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, get(router, "/health", "1.2.3.4").Code)
	}
}

// Concurrent requests from the same client touch one limiter entry's
// last-access stamp; run with -race.
func TestRateLimiter_ConcurrentSameClient(t *testing.T) {
	router := newLimitedRouter(1000, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				get(router, "/rates", "1.2.3.4")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, http.StatusOK, get(router, "/rates", "1.2.3.4").Code)
}
