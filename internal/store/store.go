package store

import (
	"context"
	"errors"

	"github.com/remitra/pricing-api/internal/types"
)

// ErrNotFound is returned when no spread config exists for a symbol.
var ErrNotFound = errors.New("spread config not found")

// SpreadConfigStore resolves the spread rules for a symbol. A partner-scoped
// config wins over the symbol default when both exist.
type SpreadConfigStore interface {
	// GetConfig returns the best-matching config for the symbol. partnerID
	// may be nil for the default config.
	GetConfig(ctx context.Context, symbol string, partnerID *string) (*types.SpreadConfig, error)

	// ListConfigs returns every config known for the symbol.
	ListConfigs(ctx context.Context, symbol string) ([]types.SpreadConfig, error)
}
