package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpclient "github.com/remitra/pricing-api/internal/client/http"
	"github.com/remitra/pricing-api/internal/handlers"
	"github.com/remitra/pricing-api/internal/services"
	"github.com/remitra/pricing-api/internal/store"
	"github.com/remitra/pricing-api/internal/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSpotProvider struct {
	spot     *types.SpotRate
	cacheHit bool
	err      error
	perSym   map[string]*types.SpotRate
}

func (f *fakeSpotProvider) GetSpotRate(ctx context.Context, symbol string) (*types.SpotRate, bool, error) {
	if f.perSym != nil {
		if spot, ok := f.perSym[symbol]; ok {
			return spot, f.cacheHit, nil
		}
		return nil, false, fmt.Errorf("no feed for %s", symbol)
	}
	if f.err != nil {
		return nil, false, f.err
	}
	return f.spot, f.cacheHit, nil
}

type fakeCalculator struct {
	result *types.PricingResult
	err    error
}

func (f *fakeCalculator) CalculateRate(ctx context.Context, symbol string, spot types.SpotRate, partnerID *string) (*types.PricingResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeAggregator struct {
	result *types.ParsingResult
}

func (f *fakeAggregator) ParseMarketData(ctx context.Context, symbol string) *types.ParsingResult {
	r := *f.result
	r.Symbol = symbol
	return &r
}

func goodSpot() *types.SpotRate {
	return &types.SpotRate{
		Price:     decimal.NewFromInt(100),
		Source:    "test-feed",
		Timestamp: time.Now(),
	}
}

func goodResult() *types.PricingResult {
	return &types.PricingResult{
		Symbol:            "USDT/EUR",
		SpotRate:          decimal.NewFromInt(100),
		FixedSpread:       decimal.NewFromInt(2),
		FinalRate:         decimal.NewFromInt(102),
		CalculationMethod: types.MethodFixedSpread,
		Timestamp:         time.Now(),
		Confidence:        100,
	}
}

func doRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope
}

func pricingRouter(spots handlers.SpotProvider, calc handlers.RateCalculator) *gin.Engine {
	router := gin.New()
	h := handlers.NewPricingHandler(spots, calc, store.NewMemoryStore(nil))
	router.POST("/pricing/calculate", h.CalculateRate)
	return router
}

func TestPricingHandler_CalculateRate(t *testing.T) {
	t.Run("sell converts at the final rate", func(t *testing.T) {
		router := pricingRouter(&fakeSpotProvider{spot: goodSpot()}, &fakeCalculator{result: goodResult()})

		rec := doRequest(router, http.MethodPost, "/pricing/calculate", gin.H{
			"symbol":    "USDT/EUR",
			"amount":    "10",
			"direction": "SELL",
		})

		require.Equal(t, http.StatusOK, rec.Code)
		envelope := decodeEnvelope(t, rec)
		assert.Equal(t, true, envelope["success"])

		data := envelope["data"].(map[string]interface{})
		assert.Equal(t, "1020", data["result"])
		assert.Equal(t, "102", data["final_rate"])
		assert.Equal(t, "102", data["rate"])
		assert.Equal(t, "2", data["spread_percentage"])
		assert.Equal(t, "FIXED_SPREAD", data["calculation_method"])
	})

	t.Run("buy converts by division", func(t *testing.T) {
		router := pricingRouter(&fakeSpotProvider{spot: goodSpot()}, &fakeCalculator{result: goodResult()})

		rec := doRequest(router, http.MethodPost, "/pricing/calculate", gin.H{
			"symbol":    "USDT/EUR",
			"amount":    "204",
			"direction": "BUY",
		})

		require.Equal(t, http.StatusOK, rec.Code)
		data := decodeEnvelope(t, rec)["data"].(map[string]interface{})
		assert.Equal(t, "2", data["result"])
	})

	t.Run("declared but unimplemented methods are rejected", func(t *testing.T) {
		router := pricingRouter(&fakeSpotProvider{spot: goodSpot()}, &fakeCalculator{result: goodResult()})

		for _, method := range []string{"HYBRID_P2P", "VOLATILITY_ADJUSTED"} {
			rec := doRequest(router, http.MethodPost, "/pricing/calculate", gin.H{
				"symbol":             "USDT/EUR",
				"amount":             "10",
				"direction":          "SELL",
				"calculation_method": method,
			})
			require.Equal(t, http.StatusBadRequest, rec.Code, method)
			envelope := decodeEnvelope(t, rec)
			errBody := envelope["error"].(map[string]interface{})
			assert.Equal(t, "METHOD_NOT_SUPPORTED", errBody["code"])
		}
	})

	t.Run("unknown method is invalid", func(t *testing.T) {
		router := pricingRouter(&fakeSpotProvider{spot: goodSpot()}, &fakeCalculator{result: goodResult()})

		rec := doRequest(router, http.MethodPost, "/pricing/calculate", gin.H{
			"symbol":             "USDT/EUR",
			"amount":             "10",
			"direction":          "SELL",
			"calculation_method": "DARTBOARD",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		errBody := decodeEnvelope(t, rec)["error"].(map[string]interface{})
		assert.Equal(t, "INVALID_REQUEST", errBody["code"])
	})

	t.Run("non-positive amount is rejected", func(t *testing.T) {
		router := pricingRouter(&fakeSpotProvider{spot: goodSpot()}, &fakeCalculator{result: goodResult()})

		for _, amount := range []string{"0", "-5", "banana"} {
			rec := doRequest(router, http.MethodPost, "/pricing/calculate", gin.H{
				"symbol":    "USDT/EUR",
				"amount":    amount,
				"direction": "SELL",
			})
			assert.Equal(t, http.StatusBadRequest, rec.Code, "amount %q", amount)
		}
	})

	t.Run("missing config maps to 404", func(t *testing.T) {
		calc := &fakeCalculator{err: &services.ConfigNotFoundError{Symbol: "DOGE/EUR"}}
		router := pricingRouter(&fakeSpotProvider{spot: goodSpot()}, calc)

		rec := doRequest(router, http.MethodPost, "/pricing/calculate", gin.H{
			"symbol":    "DOGE/EUR",
			"amount":    "10",
			"direction": "SELL",
		})
		require.Equal(t, http.StatusNotFound, rec.Code)
		errBody := decodeEnvelope(t, rec)["error"].(map[string]interface{})
		assert.Equal(t, "CONFIG_NOT_FOUND", errBody["code"])
	})

	t.Run("throttled feed maps to 503", func(t *testing.T) {
		spots := &fakeSpotProvider{err: fmt.Errorf("spot: %w", httpclient.ErrMaxRetriesExceeded)}
		router := pricingRouter(spots, &fakeCalculator{result: goodResult()})

		rec := doRequest(router, http.MethodPost, "/pricing/calculate", gin.H{
			"symbol":    "USDT/EUR",
			"amount":    "10",
			"direction": "SELL",
		})
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		errBody := decodeEnvelope(t, rec)["error"].(map[string]interface{})
		assert.Equal(t, "FEED_THROTTLED", errBody["code"])
	})

	t.Run("cache provenance lands in metadata", func(t *testing.T) {
		router := pricingRouter(&fakeSpotProvider{spot: goodSpot(), cacheHit: true}, &fakeCalculator{result: goodResult()})

		rec := doRequest(router, http.MethodPost, "/pricing/calculate", gin.H{
			"symbol":    "USDT/EUR",
			"amount":    "10",
			"direction": "SELL",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		meta := decodeEnvelope(t, rec)["metadata"].(map[string]interface{})
		assert.Equal(t, true, meta["cache_hit"])
		assert.NotEmpty(t, meta["request_id"])
	})
}

func TestRatesHandler_GetRates(t *testing.T) {
	spots := &fakeSpotProvider{perSym: map[string]*types.SpotRate{
		"USDT/EUR": goodSpot(),
		"BTC/EUR":  goodSpot(),
	}}
	router := gin.New()
	h := handlers.NewRatesHandler(spots, &fakeCalculator{result: goodResult()})
	router.GET("/rates", h.GetRates)

	t.Run("quotes every symbol that prices", func(t *testing.T) {
		rec := doRequest(router, http.MethodGet, "/rates?symbols=USDT/EUR,BTC/EUR", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		data := decodeEnvelope(t, rec)["data"].(map[string]interface{})
		quotes := data["data"].([]interface{})
		require.Len(t, quotes, 2)

		first := quotes[0].(map[string]interface{})
		assert.Equal(t, "100", first["bid"])
		assert.Equal(t, "102", first["ask"])
	})

	t.Run("failed symbols are skipped, not fatal", func(t *testing.T) {
		rec := doRequest(router, http.MethodGet, "/rates?symbols=USDT/EUR,DOGE/EUR", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		data := decodeEnvelope(t, rec)["data"].(map[string]interface{})
		quotes := data["data"].([]interface{})
		assert.Len(t, quotes, 1)
	})

	t.Run("missing symbols parameter", func(t *testing.T) {
		rec := doRequest(router, http.MethodGet, "/rates", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unimplemented method is rejected", func(t *testing.T) {
		rec := doRequest(router, http.MethodGet, "/rates?symbols=USDT/EUR&method=HYBRID_P2P", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		errBody := decodeEnvelope(t, rec)["error"].(map[string]interface{})
		assert.Equal(t, "METHOD_NOT_SUPPORTED", errBody["code"])
	})
}

func TestP2PHandler_GetMarketData(t *testing.T) {
	newRouter := func(result *types.ParsingResult) *gin.Engine {
		router := gin.New()
		h := handlers.NewP2PHandler(&fakeAggregator{result: result})
		router.GET("/p2p/*symbol", h.GetMarketData)
		return router
	}

	t.Run("success returns the snapshot", func(t *testing.T) {
		router := newRouter(&types.ParsingResult{
			Success: true,
			Data: &types.P2PMarketData{
				Symbol:     "USDT/EUR",
				OfferCount: 3,
			},
			ElapsedMs: 12,
		})

		rec := doRequest(router, http.MethodGet, "/p2p/USDT/EUR", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		envelope := decodeEnvelope(t, rec)
		data := envelope["data"].(map[string]interface{})
		assert.Equal(t, float64(3), data["offer_count"])
		meta := envelope["metadata"].(map[string]interface{})
		assert.Equal(t, float64(12), meta["processing_time_ms"])
	})

	t.Run("error codes map to statuses", func(t *testing.T) {
		cases := []struct {
			code   types.ParsingErrorCode
			status int
		}{
			{types.CodeInvalidSymbolFormat, http.StatusBadRequest},
			{types.CodeNoValidOffers, http.StatusNotFound},
			{types.CodeThrottled, http.StatusServiceUnavailable},
			{types.CodeUpstreamError, http.StatusBadGateway},
			{types.CodeInternalError, http.StatusInternalServerError},
		}
		for _, tc := range cases {
			router := newRouter(&types.ParsingResult{
				Success: false,
				Error:   &types.ParsingError{Code: tc.code, Message: "boom"},
			})
			rec := doRequest(router, http.MethodGet, "/p2p/USDT/EUR", nil)
			assert.Equal(t, tc.status, rec.Code, string(tc.code))

			errBody := decodeEnvelope(t, rec)["error"].(map[string]interface{})
			assert.Equal(t, string(tc.code), errBody["code"])
		}
	})
}

func healthRouter(checks map[string]handlers.DependencyCheck) *gin.Engine {
	router := gin.New()
	h := handlers.NewHealthHandler("test", checks, nil)
	router.GET("/health", h.GetHealth)
	return router
}

func TestHealthHandler_ReportsDependencyRoundTrips(t *testing.T) {
	router := healthRouter(map[string]handlers.DependencyCheck{
		"rate_feed":    func(ctx context.Context) error { return nil },
		"p2p_market":   func(ctx context.Context) error { return nil },
		"config_store": func(ctx context.Context) error { return nil },
	})

	rec := doRequest(router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	envelope := decodeEnvelope(t, rec)
	data := envelope["data"].(map[string]interface{})
	assert.Equal(t, "healthy", data["status"])

	deps := data["dependencies"].(map[string]interface{})
	require.Len(t, deps, 3)
	for _, name := range []string{"rate_feed", "p2p_market", "config_store"} {
		dep, ok := deps[name].(map[string]interface{})
		require.True(t, ok, "missing dependency %s", name)
		assert.Equal(t, "up", dep["status"], name)
		assert.Contains(t, dep, "response_time_ms", name)
	}
}

func TestHealthHandler_DegradedDependency(t *testing.T) {
	router := healthRouter(map[string]handlers.DependencyCheck{
		"rate_feed": func(ctx context.Context) error { return nil },
		"p2p_market": func(ctx context.Context) error {
			return fmt.Errorf("connection refused")
		},
	})

	rec := doRequest(router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	envelope := decodeEnvelope(t, rec)
	data := envelope["data"].(map[string]interface{})
	assert.Equal(t, "degraded", data["status"])

	deps := data["dependencies"].(map[string]interface{})
	market := deps["p2p_market"].(map[string]interface{})
	assert.Equal(t, "down", market["status"])
	assert.Equal(t, "connection refused", market["error"])

	feed := deps["rate_feed"].(map[string]interface{})
	assert.Equal(t, "up", feed["status"])
}
