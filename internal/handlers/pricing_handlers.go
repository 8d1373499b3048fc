package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	httpclient "github.com/remitra/pricing-api/internal/client/http"
	"github.com/remitra/pricing-api/internal/services"
	"github.com/remitra/pricing-api/internal/store"
	"github.com/remitra/pricing-api/internal/types"
)

// SpotProvider supplies reference spot rates. The bool reports whether the
// rate came from the response cache.
type SpotProvider interface {
	GetSpotRate(ctx context.Context, symbol string) (*types.SpotRate, bool, error)
}

// RateCalculator prices a symbol from a spot rate.
type RateCalculator interface {
	CalculateRate(ctx context.Context, symbol string, spot types.SpotRate, partnerID *string) (*types.PricingResult, error)
}

// PricingHandler serves rate calculation and spread config endpoints.
type PricingHandler struct {
	spots      SpotProvider
	calculator RateCalculator
	configs    store.SpreadConfigStore
}

// NewPricingHandler creates a new pricing handler.
func NewPricingHandler(spots SpotProvider, calculator RateCalculator, configs store.SpreadConfigStore) *PricingHandler {
	return &PricingHandler{
		spots:      spots,
		calculator: calculator,
		configs:    configs,
	}
}

// CalculateRateRequest is the body of POST /pricing/calculate.
type CalculateRateRequest struct {
	Symbol    string                  `json:"symbol" binding:"required"`
	Amount    string                  `json:"amount" binding:"required"`
	Direction types.Direction         `json:"direction" binding:"required"`
	Method    types.CalculationMethod `json:"calculation_method"`
	PartnerID *string                 `json:"partner_id"`
}

// CalculateRateResponse is the calculation result plus the converted amount.
type CalculateRateResponse struct {
	Symbol            string                  `json:"symbol"`
	SpotRate          decimal.Decimal         `json:"spot_rate"`
	FinalRate         decimal.Decimal         `json:"final_rate"`
	Spread            decimal.Decimal         `json:"spread"`
	SpreadPercentage  decimal.Decimal         `json:"spread_percentage"`
	Amount            decimal.Decimal         `json:"amount"`
	Result            decimal.Decimal         `json:"result"`
	Rate              decimal.Decimal         `json:"rate"`
	Direction         types.Direction         `json:"direction"`
	Timestamp         time.Time               `json:"timestamp"`
	CalculationMethod types.CalculationMethod `json:"calculation_method"`
	Confidence        float64                 `json:"confidence"`
	Warnings          []string                `json:"warnings,omitempty"`
	Metadata          map[string]interface{}  `json:"metadata,omitempty"`
}

// CalculateRate godoc
// @Summary Calculate a rate for a symbol
// @Description Applies the configured spread to the current spot rate and converts the requested amount
// @Tags pricing
// @Accept json
// @Produce json
// @Param request body CalculateRateRequest true "Calculation request"
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Router /pricing/calculate [post]
func (h *PricingHandler) CalculateRate(c *gin.Context) {
	var req CalculateRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body", err)
		return
	}

	method := req.Method
	if method == "" {
		method = types.MethodFixedSpread
	}
	if !method.Valid() {
		sendError(c, http.StatusBadRequest, "INVALID_REQUEST",
			fmt.Sprintf("unknown calculation method %q", method), nil)
		return
	}
	if !method.Implemented() {
		sendError(c, http.StatusBadRequest, "METHOD_NOT_SUPPORTED",
			fmt.Sprintf("calculation method %s is not supported", method), nil)
		return
	}
	if !req.Direction.Valid() {
		sendError(c, http.StatusBadRequest, "INVALID_REQUEST",
			fmt.Sprintf("direction must be BUY or SELL, got %q", req.Direction), nil)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		sendError(c, http.StatusBadRequest, "INVALID_REQUEST",
			fmt.Sprintf("amount must be a positive decimal, got %q", req.Amount), err)
		return
	}

	spot, cacheHit, err := h.spots.GetSpotRate(c.Request.Context(), req.Symbol)
	if err != nil {
		status, code := classifySpotError(err)
		sendError(c, status, code, fmt.Sprintf("failed to fetch spot rate for %s", req.Symbol), err)
		return
	}

	result, err := h.calculator.CalculateRate(c.Request.Context(), req.Symbol, *spot, req.PartnerID)
	if err != nil {
		var notFound *services.ConfigNotFoundError
		var inactive *services.ConfigInactiveError
		switch {
		case errors.As(err, &notFound):
			sendError(c, http.StatusNotFound, "CONFIG_NOT_FOUND", err.Error(), err)
		case errors.As(err, &inactive):
			sendError(c, http.StatusUnprocessableEntity, "CONFIG_INACTIVE", err.Error(), err)
		default:
			sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "rate calculation failed", err)
		}
		return
	}

	// SELL converts crypto to fiat at the final rate; BUY goes the other way.
	var converted decimal.Decimal
	if req.Direction == types.DirectionSell {
		converted = amount.Mul(result.FinalRate)
	} else {
		converted = amount.Div(result.FinalRate)
	}

	spreadPercentage := result.FixedSpread.Div(result.SpotRate).Mul(decimal.NewFromInt(100))

	dataAge := int64(time.Since(spot.Timestamp).Seconds())
	sendSuccessMeta(c, http.StatusOK, CalculateRateResponse{
		Symbol:            result.Symbol,
		SpotRate:          result.SpotRate,
		FinalRate:         result.FinalRate,
		Spread:            result.FixedSpread,
		SpreadPercentage:  spreadPercentage,
		Amount:            amount,
		Result:            converted,
		Rate:              result.FinalRate,
		Direction:         req.Direction,
		Timestamp:         result.Timestamp,
		CalculationMethod: result.CalculationMethod,
		Confidence:        result.Confidence,
		Warnings:          result.Warnings,
		Metadata:          result.Metadata,
	}, func(meta *ResponseMetadata) {
		meta.CacheHit = &cacheHit
		meta.DataAgeSeconds = &dataAge
	})
}

// GetConfigs godoc
// @Summary List spread configs for a symbol
// @Tags pricing
// @Produce json
// @Param symbol path string true "Symbol, e.g. USDT/EUR"
// @Success 200 {object} APIResponse
// @Router /pricing/configs/{symbol} [get]
func (h *PricingHandler) GetConfigs(c *gin.Context) {
	symbol := strings.TrimPrefix(c.Param("symbol"), "/")
	if symbol == "" {
		sendError(c, http.StatusBadRequest, "INVALID_REQUEST", "symbol is required", nil)
		return
	}

	configs, err := h.configs.ListConfigs(c.Request.Context(), symbol)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR",
			fmt.Sprintf("failed to list configs for %s", symbol), err)
		return
	}
	if len(configs) == 0 {
		sendError(c, http.StatusNotFound, "CONFIG_NOT_FOUND",
			fmt.Sprintf("no spread configs for symbol %s", symbol), nil)
		return
	}
	sendList(c, configs)
}

// classifySpotError maps feed failures to a status code and error code.
func classifySpotError(err error) (int, string) {
	if errors.Is(err, httpclient.ErrMaxRetriesExceeded) {
		return http.StatusServiceUnavailable, "FEED_THROTTLED"
	}
	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) {
		return http.StatusBadGateway, "FEED_ERROR"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}
