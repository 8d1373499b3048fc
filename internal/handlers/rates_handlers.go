package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/remitra/pricing-api/internal/logger"
	"github.com/remitra/pricing-api/internal/types"
)

// RatesHandler serves the bulk indicative rates endpoint.
type RatesHandler struct {
	spots      SpotProvider
	calculator RateCalculator
}

// NewRatesHandler creates a new rates handler.
func NewRatesHandler(spots SpotProvider, calculator RateCalculator) *RatesHandler {
	return &RatesHandler{spots: spots, calculator: calculator}
}

// Quote is one symbol's indicative two-way price. The bid is the raw spot
// rate; the ask carries the configured spread.
type Quote struct {
	Symbol     string          `json:"symbol"`
	Rate       decimal.Decimal `json:"rate"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	Spread     decimal.Decimal `json:"spread"`
	Confidence float64         `json:"confidence"`
	Timestamp  time.Time       `json:"timestamp"`
}

// GetRates godoc
// @Summary Indicative rates for a list of symbols
// @Description Returns bid/ask quotes for each requested symbol. Symbols that fail to price are skipped.
// @Tags pricing
// @Produce json
// @Param symbols query string true "Comma-separated symbols, e.g. USDT/EUR,BTC/EUR"
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Router /rates [get]
func (h *RatesHandler) GetRates(c *gin.Context) {
	raw := c.Query("symbols")
	if raw == "" {
		sendError(c, http.StatusBadRequest, "INVALID_REQUEST", "symbols query parameter is required", nil)
		return
	}

	if methodParam := c.Query("method"); methodParam != "" {
		method := types.CalculationMethod(methodParam)
		if !method.Valid() {
			sendError(c, http.StatusBadRequest, "INVALID_REQUEST",
				fmt.Sprintf("unknown calculation method %q", methodParam), nil)
			return
		}
		if !method.Implemented() {
			sendError(c, http.StatusBadRequest, "METHOD_NOT_SUPPORTED",
				fmt.Sprintf("calculation method %s is not supported", methodParam), nil)
			return
		}
	}

	symbols := make([]string, 0)
	for _, s := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			symbols = append(symbols, trimmed)
		}
	}
	if len(symbols) == 0 {
		sendError(c, http.StatusBadRequest, "INVALID_REQUEST", "symbols query parameter is empty", nil)
		return
	}

	quotes := make([]Quote, 0, len(symbols))
	for _, symbol := range symbols {
		spot, _, err := h.spots.GetSpotRate(c.Request.Context(), symbol)
		if err != nil {
			logger.Warn("skipping symbol: spot fetch failed",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		result, err := h.calculator.CalculateRate(c.Request.Context(), symbol, *spot, nil)
		if err != nil {
			logger.Warn("skipping symbol: calculation failed",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		quotes = append(quotes, Quote{
			Symbol:     symbol,
			Rate:       result.FinalRate,
			Bid:        result.SpotRate,
			Ask:        result.FinalRate,
			Spread:     result.FixedSpread,
			Confidence: result.Confidence,
			Timestamp:  result.Timestamp,
		})
	}

	sendList(c, quotes)
}
