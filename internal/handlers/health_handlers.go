package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	httpclient "github.com/remitra/pricing-api/internal/client/http"
)

// DependencyCheck probes one external dependency.
type DependencyCheck func(ctx context.Context) error

// HealthHandler reports service liveness and dependency health.
type HealthHandler struct {
	version string
	checks  map[string]DependencyCheck
	clients map[string]*httpclient.Client
}

// NewHealthHandler creates a health handler. checks may be nil.
func NewHealthHandler(version string, checks map[string]DependencyCheck, clients map[string]*httpclient.Client) *HealthHandler {
	return &HealthHandler{
		version: version,
		checks:  checks,
		clients: clients,
	}
}

type dependencyStatus struct {
	Status         string `json:"status"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Error          string `json:"error,omitempty"`
}

type healthResponse struct {
	Status       string                      `json:"status"`
	Version      string                      `json:"version"`
	Timestamp    time.Time                   `json:"timestamp"`
	Dependencies map[string]dependencyStatus `json:"dependencies,omitempty"`
	Clients      map[string]httpclient.Stats `json:"clients,omitempty"`
}

// GetHealth godoc
// @Summary Service health
// @Tags health
// @Produce json
// @Success 200 {object} APIResponse
// @Failure 503 {object} APIResponse
// @Router /health [get]
func (h *HealthHandler) GetHealth(c *gin.Context) {
	resp := healthResponse{
		Status:    "healthy",
		Version:   h.version,
		Timestamp: time.Now(),
	}

	if len(h.checks) > 0 {
		resp.Dependencies = make(map[string]dependencyStatus, len(h.checks))
		for name, check := range h.checks {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			start := time.Now()
			err := check(ctx)
			cancel()

			status := dependencyStatus{
				Status:         "up",
				ResponseTimeMs: time.Since(start).Milliseconds(),
			}
			if err != nil {
				status.Status = "down"
				status.Error = err.Error()
				resp.Status = "degraded"
			}
			resp.Dependencies[name] = status
		}
	}

	if len(h.clients) > 0 {
		resp.Clients = make(map[string]httpclient.Stats, len(h.clients))
		for name, client := range h.clients {
			resp.Clients[name] = client.Stats()
		}
	}

	statusCode := http.StatusOK
	if resp.Status != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}
	sendSuccess(c, statusCode, resp)
}
