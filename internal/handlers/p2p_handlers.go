package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/remitra/pricing-api/internal/types"
)

// MarketAggregator runs one P2P market aggregation pass.
type MarketAggregator interface {
	ParseMarketData(ctx context.Context, symbol string) *types.ParsingResult
}

// P2PHandler serves aggregated P2P market snapshots.
type P2PHandler struct {
	aggregator MarketAggregator
}

// NewP2PHandler creates a new P2P market handler.
func NewP2PHandler(aggregator MarketAggregator) *P2PHandler {
	return &P2PHandler{aggregator: aggregator}
}

// GetMarketData godoc
// @Summary Aggregated P2P market snapshot for a symbol
// @Tags p2p
// @Produce json
// @Param symbol path string true "Symbol, e.g. USDT/EUR"
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Failure 502 {object} APIResponse
// @Failure 503 {object} APIResponse
// @Router /p2p/{symbol} [get]
func (h *P2PHandler) GetMarketData(c *gin.Context) {
	// Symbols contain a slash, so the route uses a catch-all parameter.
	symbol := strings.TrimPrefix(c.Param("symbol"), "/")

	result := h.aggregator.ParseMarketData(c.Request.Context(), symbol)
	if !result.Success {
		status := statusForParsingError(result.Error)
		sendErrorBody(c, status, ErrorBody{
			Code:      string(result.Error.Code),
			Message:   result.Error.Message,
			Retryable: result.Error.Retryable,
		})
		return
	}

	sendSuccessMeta(c, http.StatusOK, result.Data, func(meta *ResponseMetadata) {
		meta.ProcessingTimeMs = result.ElapsedMs
	})
}

func statusForParsingError(e *types.ParsingError) int {
	switch e.Code {
	case types.CodeInvalidSymbolFormat:
		return http.StatusBadRequest
	case types.CodeNoValidOffers:
		return http.StatusNotFound
	case types.CodeThrottled:
		return http.StatusServiceUnavailable
	case types.CodeUpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
