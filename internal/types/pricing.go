package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CalculationMethod identifies the algorithm used to produce a rate.
type CalculationMethod string

const (
	MethodFixedSpread CalculationMethod = "FIXED_SPREAD"

	// Declared for request compatibility; no algorithm exists for these yet
	// and requesting them is rejected as a validation error.
	MethodHybridP2P          CalculationMethod = "HYBRID_P2P"
	MethodVolatilityAdjusted CalculationMethod = "VOLATILITY_ADJUSTED"
)

// Implemented reports whether the method has a working algorithm behind it.
func (m CalculationMethod) Implemented() bool {
	return m == MethodFixedSpread
}

// Valid reports whether the method is a known method name.
func (m CalculationMethod) Valid() bool {
	switch m {
	case MethodFixedSpread, MethodHybridP2P, MethodVolatilityAdjusted:
		return true
	}
	return false
}

// Direction of a pricing request, from the counterparty's point of view.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Valid reports whether the direction is a known value.
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// SpotRate is a reference market price from an external feed.
// Consumers must treat it as read-only.
type SpotRate struct {
	Price     decimal.Decimal `json:"price"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
}

// SpreadConfig holds the per-symbol (optionally per-partner) spread rules.
// Invariant: MinSpreadPercent <= BaseSpreadPercent <= MaxSpreadPercent.
// The engine reads it as immutable for the duration of one calculation.
type SpreadConfig struct {
	ID                uuid.UUID       `json:"id"`
	Symbol            string          `json:"symbol"`
	PartnerID         *string         `json:"partner_id,omitempty"`
	BaseSpreadPercent decimal.Decimal `json:"base_spread_percent"`
	MinSpreadPercent  decimal.Decimal `json:"min_spread_percent"`
	MaxSpreadPercent  decimal.Decimal `json:"max_spread_percent"`
	IsActive          bool            `json:"is_active"`
	ValidFrom         time.Time       `json:"valid_from"`
	ValidTo           *time.Time      `json:"valid_to,omitempty"`
}

// ActiveAt reports whether the config's active window covers the given instant.
func (c *SpreadConfig) ActiveAt(now time.Time) bool {
	if !c.IsActive {
		return false
	}
	if now.Before(c.ValidFrom) {
		return false
	}
	if c.ValidTo != nil && now.After(*c.ValidTo) {
		return false
	}
	return true
}

// PricingResult is the outcome of one rate calculation. Constructed once per
// calculation and never mutated afterwards.
type PricingResult struct {
	Symbol            string                 `json:"symbol"`
	SpotRate          decimal.Decimal        `json:"spot_rate"`
	FixedSpread       decimal.Decimal        `json:"fixed_spread"`
	FinalRate         decimal.Decimal        `json:"final_rate"`
	CalculationMethod CalculationMethod      `json:"calculation_method"`
	Timestamp         time.Time              `json:"timestamp"`
	Confidence        float64                `json:"confidence"`
	Warnings          []string               `json:"warnings"`
	Metadata          map[string]interface{} `json:"metadata"`
}
