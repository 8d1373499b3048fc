package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/remitra/pricing-api/internal/types"
)

// PgxStore is a Postgres-backed SpreadConfigStore.
type PgxStore struct {
	pool *pgxpool.Pool
}

// NewPgxStore creates a store over an existing connection pool.
func NewPgxStore(pool *pgxpool.Pool) *PgxStore {
	return &PgxStore{pool: pool}
}

const getConfigQuery = `
SELECT id, symbol, partner_id,
       base_spread_percent::text, min_spread_percent::text, max_spread_percent::text,
       is_active, valid_from, valid_to
FROM spread_configs
WHERE symbol = $1
  AND (partner_id = $2 OR partner_id IS NULL)
ORDER BY partner_id NULLS LAST
LIMIT 1`

const listConfigsQuery = `
SELECT id, symbol, partner_id,
       base_spread_percent::text, min_spread_percent::text, max_spread_percent::text,
       is_active, valid_from, valid_to
FROM spread_configs
WHERE symbol = $1
ORDER BY partner_id NULLS LAST`

// GetConfig returns the partner-scoped config when one exists, otherwise the
// symbol default. Numeric columns come back as text so the decimals survive
// the round trip without float conversion.
func (s *PgxStore) GetConfig(ctx context.Context, symbol string, partnerID *string) (*types.SpreadConfig, error) {
	row := s.pool.QueryRow(ctx, getConfigQuery, symbol, partnerID)
	cfg, err := scanConfig(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "querying spread config for %s", symbol)
	}
	return cfg, nil
}

// ListConfigs returns every config for the symbol.
func (s *PgxStore) ListConfigs(ctx context.Context, symbol string) ([]types.SpreadConfig, error) {
	rows, err := s.pool.Query(ctx, listConfigsQuery, symbol)
	if err != nil {
		return nil, errors.Wrapf(err, "listing spread configs for %s", symbol)
	}
	defer rows.Close()

	var configs []types.SpreadConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning spread config")
		}
		configs = append(configs, *cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating spread configs")
	}
	return configs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (*types.SpreadConfig, error) {
	var (
		cfg           types.SpreadConfig
		base, min, mx string
	)
	if err := row.Scan(&cfg.ID, &cfg.Symbol, &cfg.PartnerID,
		&base, &min, &mx,
		&cfg.IsActive, &cfg.ValidFrom, &cfg.ValidTo); err != nil {
		return nil, err
	}

	var err error
	if cfg.BaseSpreadPercent, err = decimal.NewFromString(base); err != nil {
		return nil, errors.Wrap(err, "parsing base_spread_percent")
	}
	if cfg.MinSpreadPercent, err = decimal.NewFromString(min); err != nil {
		return nil, errors.Wrap(err, "parsing min_spread_percent")
	}
	if cfg.MaxSpreadPercent, err = decimal.NewFromString(mx); err != nil {
		return nil, errors.Wrap(err, "parsing max_spread_percent")
	}
	return &cfg, nil
}
