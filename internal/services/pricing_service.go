package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/remitra/pricing-api/internal/store"
	"github.com/remitra/pricing-api/internal/types"
)

var oneHundred = decimal.NewFromInt(100)

// ConfigNotFoundError indicates no spread config exists for the symbol.
type ConfigNotFoundError struct {
	Symbol string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("no spread config for symbol %s", e.Symbol)
}

// ConfigInactiveError indicates the resolved config is disabled or outside
// its validity window.
type ConfigInactiveError struct {
	Symbol   string
	ConfigID string
}

func (e *ConfigInactiveError) Error() string {
	return fmt.Sprintf("spread config %s for symbol %s is not active", e.ConfigID, e.Symbol)
}

// CalculationRecorder counts rate calculations by outcome.
type CalculationRecorder interface {
	RecordCalculation(symbol, outcome string)
}

// FixedSpreadService prices a symbol by applying a configured spread on top
// of the spot rate. All arithmetic is decimal; floats never touch money.
type FixedSpreadService struct {
	store              store.SpreadConfigStore
	freshnessThreshold time.Duration
	now                func() time.Time
	metrics            CalculationRecorder
	logger             *zap.Logger
}

// NewFixedSpreadService creates the pricing engine. now is injectable for
// tests; pass nil for the wall clock. metrics may be nil.
func NewFixedSpreadService(configStore store.SpreadConfigStore, freshnessThreshold time.Duration, now func() time.Time, metrics CalculationRecorder, logger *zap.Logger) *FixedSpreadService {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FixedSpreadService{
		store:              configStore,
		freshnessThreshold: freshnessThreshold,
		now:                now,
		metrics:            metrics,
		logger:             logger,
	}
}

func (s *FixedSpreadService) record(symbol, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordCalculation(symbol, outcome)
	}
}

// CalculateRate computes the final rate for one symbol from a spot rate and
// the symbol's spread config. The spread is the configured base percentage of
// spot, clamped to the configured min/max band; clamping and stale spot data
// surface as warnings, never as errors.
func (s *FixedSpreadService) CalculateRate(ctx context.Context, symbol string, spot types.SpotRate, partnerID *string) (*types.PricingResult, error) {
	if spot.Price.LessThanOrEqual(decimal.Zero) {
		s.record(symbol, "invalid_spot")
		return nil, fmt.Errorf("spot price must be positive, got %s", spot.Price)
	}

	cfg, err := s.store.GetConfig(ctx, symbol, partnerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.record(symbol, "config_not_found")
			return nil, &ConfigNotFoundError{Symbol: symbol}
		}
		s.record(symbol, "store_error")
		return nil, fmt.Errorf("resolving spread config for %s: %w", symbol, err)
	}

	now := s.now()
	if !cfg.ActiveAt(now) {
		s.record(symbol, "config_inactive")
		return nil, &ConfigInactiveError{Symbol: symbol, ConfigID: cfg.ID.String()}
	}

	var warnings []string

	spread := spot.Price.Mul(cfg.BaseSpreadPercent).Div(oneHundred)
	minSpread := spot.Price.Mul(cfg.MinSpreadPercent).Div(oneHundred)
	maxSpread := spot.Price.Mul(cfg.MaxSpreadPercent).Div(oneHundred)

	if spread.LessThan(minSpread) {
		spread = minSpread
		warnings = append(warnings, fmt.Sprintf("spread clamped to minimum %s%%", cfg.MinSpreadPercent))
	} else if spread.GreaterThan(maxSpread) {
		spread = maxSpread
		warnings = append(warnings, fmt.Sprintf("spread clamped to maximum %s%%", cfg.MaxSpreadPercent))
	}

	finalRate := spot.Price.Add(spread)

	age := now.Sub(spot.Timestamp)
	confidence := s.confidenceFor(age)
	if age > s.freshnessThreshold {
		warnings = append(warnings, fmt.Sprintf("spot rate is %.0fs old", age.Seconds()))
	}

	metadata := map[string]interface{}{
		"config_id":           cfg.ID.String(),
		"spot_source":         spot.Source,
		"spot_age_seconds":    int64(age.Seconds()),
		"base_spread_percent": cfg.BaseSpreadPercent.String(),
		"min_spread_percent":  cfg.MinSpreadPercent.String(),
		"max_spread_percent":  cfg.MaxSpreadPercent.String(),
	}
	if cfg.PartnerID != nil {
		metadata["partner_id"] = *cfg.PartnerID
	}

	s.record(symbol, "success")
	s.logger.Debug("calculated rate",
		zap.String("symbol", symbol),
		zap.String("spot", spot.Price.String()),
		zap.String("final", finalRate.String()),
		zap.Float64("confidence", confidence))

	return &types.PricingResult{
		Symbol:            symbol,
		SpotRate:          spot.Price,
		FixedSpread:       spread,
		FinalRate:         finalRate,
		CalculationMethod: types.MethodFixedSpread,
		Timestamp:         now,
		Confidence:        confidence,
		Warnings:          warnings,
		Metadata:          metadata,
	}, nil
}

// confidenceFor maps spot age to a 0-100 score: full confidence inside the
// freshness threshold, then one point lost per second of staleness.
func (s *FixedSpreadService) confidenceFor(age time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	excess := age.Seconds() - s.freshnessThreshold.Seconds()
	if excess <= 0 {
		return 100
	}
	confidence := 100 - excess
	if confidence < 0 {
		return 0
	}
	return confidence
}
