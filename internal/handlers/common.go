package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/remitra/pricing-api/internal/logger"
)

// ResponseMetadata is attached to every API response.
type ResponseMetadata struct {
	RequestID        string `json:"request_id"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
	CacheHit         *bool  `json:"cache_hit,omitempty"`
	DataAgeSeconds   *int64 `json:"data_age_seconds,omitempty"`
}

// ErrorBody is the error half of the response envelope.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// APIResponse is the uniform response envelope.
type APIResponse struct {
	Success  bool             `json:"success"`
	Data     interface{}      `json:"data,omitempty"`
	Error    *ErrorBody       `json:"error,omitempty"`
	Metadata ResponseMetadata `json:"metadata"`
}

// requestIDKey is set by the correlation middleware.
const requestIDKey = "request_id"

// startTimeKey is set by the request logging middleware.
const startTimeKey = "request_start"

func buildMetadata(c *gin.Context) ResponseMetadata {
	meta := ResponseMetadata{RequestID: requestID(c)}
	if v, ok := c.Get(startTimeKey); ok {
		if started, ok := v.(time.Time); ok {
			meta.ProcessingTimeMs = time.Since(started).Milliseconds()
		}
	}
	return meta
}

func requestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if id, ok := v.(string); ok && id != "" {
			return id
		}
	}
	return uuid.NewString()
}

// sendError logs the failure and writes an error envelope.
func sendError(c *gin.Context, statusCode int, code, message string, err error) {
	logger.Error(message,
		zap.Error(err),
		zap.String("code", code),
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
	)
	c.JSON(statusCode, APIResponse{
		Success:  false,
		Error:    &ErrorBody{Code: code, Message: message},
		Metadata: buildMetadata(c),
	})
}

// sendErrorBody writes an error envelope from an already-structured error.
func sendErrorBody(c *gin.Context, statusCode int, body ErrorBody) {
	c.JSON(statusCode, APIResponse{
		Success:  false,
		Error:    &body,
		Metadata: buildMetadata(c),
	})
}

// sendSuccess writes a success envelope.
func sendSuccess(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, APIResponse{
		Success:  true,
		Data:     data,
		Metadata: buildMetadata(c),
	})
}

// sendSuccessMeta writes a success envelope with caller-enriched metadata.
func sendSuccessMeta(c *gin.Context, statusCode int, data interface{}, enrich func(*ResponseMetadata)) {
	meta := buildMetadata(c)
	if enrich != nil {
		enrich(&meta)
	}
	c.JSON(statusCode, APIResponse{
		Success:  true,
		Data:     data,
		Metadata: meta,
	})
}

// sendList writes a list envelope.
func sendList(c *gin.Context, items interface{}) {
	sendSuccess(c, http.StatusOK, gin.H{
		"object": "list",
		"data":   items,
	})
}
