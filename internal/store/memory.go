package store

import (
	"context"
	"sync"

	"github.com/remitra/pricing-api/internal/types"
)

// MemoryStore is an in-memory SpreadConfigStore seeded at startup. It backs
// deployments that run without a database.
type MemoryStore struct {
	mu      sync.RWMutex
	configs []types.SpreadConfig
}

// NewMemoryStore creates a store seeded with the given configs.
func NewMemoryStore(configs []types.SpreadConfig) *MemoryStore {
	copied := make([]types.SpreadConfig, len(configs))
	copy(copied, configs)
	return &MemoryStore{configs: copied}
}

// GetConfig returns the partner-scoped config for the symbol when one exists,
// otherwise the symbol default.
func (s *MemoryStore) GetConfig(ctx context.Context, symbol string, partnerID *string) (*types.SpreadConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var fallback *types.SpreadConfig
	for i := range s.configs {
		cfg := &s.configs[i]
		if cfg.Symbol != symbol {
			continue
		}
		if partnerID != nil && cfg.PartnerID != nil && *cfg.PartnerID == *partnerID {
			found := *cfg
			return &found, nil
		}
		if cfg.PartnerID == nil && fallback == nil {
			fallback = cfg
		}
	}
	if fallback != nil {
		found := *fallback
		return &found, nil
	}
	return nil, ErrNotFound
}

// ListConfigs returns every config for the symbol.
func (s *MemoryStore) ListConfigs(ctx context.Context, symbol string) ([]types.SpreadConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.SpreadConfig
	for _, cfg := range s.configs {
		if cfg.Symbol == symbol {
			out = append(out, cfg)
		}
	}
	return out, nil
}

// Upsert replaces the config with the same ID or appends a new one.
func (s *MemoryStore) Upsert(cfg types.SpreadConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.configs {
		if s.configs[i].ID == cfg.ID {
			s.configs[i] = cfg
			return
		}
	}
	s.configs = append(s.configs, cfg)
}
