package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// VerificationLevel is the marketplace's seller identity tier.
type VerificationLevel string

const (
	VerificationBasic        VerificationLevel = "BASIC"
	VerificationIntermediate VerificationLevel = "INTERMEDIATE"
	VerificationAdvanced     VerificationLevel = "ADVANCED"
)

// P2PSeller describes the counterparty behind a marketplace offer.
type P2PSeller struct {
	ID                string            `json:"id"`
	Nickname          string            `json:"nickname"`
	CompletionRate    float64           `json:"completion_rate"` // percent, 0-100
	TotalOrders       int               `json:"total_orders"`
	Rating            float64           `json:"rating"` // derived, 0-5
	VerificationLevel VerificationLevel `json:"verification_level"`
	ResponseTime      int               `json:"response_time"` // seconds
	IsOnline          bool              `json:"is_online"`
}

// P2POffer is a single sell-side marketplace advertisement, immutable once
// produced by an aggregation pass.
type P2POffer struct {
	ID               string          `json:"id"`
	Seller           P2PSeller       `json:"seller"`
	FiatCurrency     string          `json:"fiat_currency"`
	CryptoCurrency   string          `json:"crypto_currency"`
	Price            decimal.Decimal `json:"price"`
	MinAmount        decimal.Decimal `json:"min_amount"`
	MaxAmount        decimal.Decimal `json:"max_amount"`
	AvailableAmount  decimal.Decimal `json:"available_amount"`
	PaymentMethods   []string        `json:"payment_methods"`
	PaymentTimeLimit int             `json:"payment_time_limit"` // minutes
}

// DataQuality is a heuristic reliability assessment of one aggregation pass.
type DataQuality struct {
	Score    float64  `json:"score"` // 0-100
	Issues   []string `json:"issues"`
	Coverage float64  `json:"coverage"` // top-seller coverage percent
}

// P2PMarketData is the aggregated snapshot for one symbol. It is recomputed
// from scratch on every pass, never updated incrementally.
type P2PMarketData struct {
	Symbol               string          `json:"symbol"`
	Offers               []P2POffer      `json:"offers"`
	TopSellers           []P2POffer      `json:"top_sellers"`
	WeightedAveragePrice decimal.Decimal `json:"weighted_average_price"`
	MedianPrice          decimal.Decimal `json:"median_price"`
	LowestPrice          decimal.Decimal `json:"lowest_price"`
	HighestPrice         decimal.Decimal `json:"highest_price"`
	TotalVolume          decimal.Decimal `json:"total_volume"`
	OfferCount           int             `json:"offer_count"`
	DataQuality          DataQuality     `json:"data_quality"`
}

// ParsingErrorCode classifies aggregation failures.
type ParsingErrorCode string

const (
	CodeInvalidSymbolFormat ParsingErrorCode = "INVALID_SYMBOL_FORMAT"
	CodeNoValidOffers       ParsingErrorCode = "NO_VALID_OFFERS"
	CodeUpstreamError       ParsingErrorCode = "UPSTREAM_ERROR"
	CodeThrottled           ParsingErrorCode = "THROTTLED"
	CodeInternalError       ParsingErrorCode = "INTERNAL_ERROR"
)

// ParsingError carries the structured failure of an aggregation pass.
type ParsingError struct {
	Code      ParsingErrorCode `json:"code"`
	Message   string           `json:"message"`
	Retryable bool             `json:"retryable"`
}

// ParsingResult is the success-or-failure envelope returned by the market
// aggregator. Failures never cross the aggregator boundary as errors; callers
// branch on Success.
type ParsingResult struct {
	Success   bool           `json:"success"`
	Symbol    string         `json:"symbol"`
	Data      *P2PMarketData `json:"data,omitempty"`
	Error     *ParsingError  `json:"error,omitempty"`
	ElapsedMs int64          `json:"elapsed_ms"`
	Timestamp time.Time      `json:"timestamp"`
}
