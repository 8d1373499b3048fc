package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/remitra/pricing-api/internal/types"
)

// ClientConfig tunes the shared resilient fetch client.
type ClientConfig struct {
	MinRequestInterval time.Duration
	CacheTTL           time.Duration
	MaxRetries         int
	RetryBaseDelay     time.Duration
	RequestTimeout     time.Duration
}

// SellerFilters are the quality thresholds applied to marketplace sellers.
type SellerFilters struct {
	MinCompletionRate   float64
	MinRating           float64
	MinTotalOrders      int
	RequireVerification bool
	MaxResponseTime     int // seconds
}

// OfferFilters are the pricing/size thresholds applied to marketplace offers.
type OfferFilters struct {
	MinOfferAmount         decimal.Decimal
	ExcludedPaymentMethods []string
}

// Config is the full service configuration, resolved once at startup and
// passed to constructors explicitly.
type Config struct {
	Stage       string
	Port        string
	DatabaseURL string

	FeedBaseURL   string
	MarketBaseURL string

	Client  ClientConfig
	Sellers SellerFilters
	Offers  OfferFilters

	TopSellerCount     int
	FreshnessThreshold time.Duration

	// SpreadConfigs seeds the in-memory store when no database is configured.
	SpreadConfigs []types.SpreadConfig
}

// Load resolves configuration from the environment, applying defaults for
// anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		Stage:       getEnv("STAGE", "local"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		FeedBaseURL:   getEnv("RATE_FEED_URL", "https://feed.remitra.io"),
		MarketBaseURL: getEnv("P2P_MARKET_URL", "https://api2.bybit.com"),

		Client: ClientConfig{
			MinRequestInterval: getDuration("CLIENT_MIN_REQUEST_INTERVAL", 100*time.Millisecond),
			CacheTTL:           getDuration("CLIENT_CACHE_TTL", 5*time.Second),
			MaxRetries:         getInt("CLIENT_MAX_RETRIES", 3),
			RetryBaseDelay:     getDuration("CLIENT_RETRY_BASE_DELAY", time.Second),
			RequestTimeout:     getDuration("CLIENT_REQUEST_TIMEOUT", 5*time.Second),
		},
		Sellers: SellerFilters{
			MinCompletionRate:   getFloat("SELLER_MIN_COMPLETION_RATE", 90),
			MinRating:           getFloat("SELLER_MIN_RATING", 3.5),
			MinTotalOrders:      getInt("SELLER_MIN_TOTAL_ORDERS", 50),
			RequireVerification: getBool("SELLER_REQUIRE_VERIFICATION", true),
			MaxResponseTime:     getInt("SELLER_MAX_RESPONSE_TIME", 900),
		},
		Offers: OfferFilters{
			ExcludedPaymentMethods: getCSV("OFFER_EXCLUDED_PAYMENT_METHODS", nil),
		},

		TopSellerCount:     getInt("TOP_SELLER_COUNT", 10),
		FreshnessThreshold: getDuration("SPOT_FRESHNESS_THRESHOLD", 60*time.Second),
	}

	minAmount, err := getDecimal("OFFER_MIN_AMOUNT", "10")
	if err != nil {
		return nil, err
	}
	cfg.Offers.MinOfferAmount = minAmount

	configs, err := loadSpreadConfigs()
	if err != nil {
		return nil, err
	}
	cfg.SpreadConfigs = configs

	return cfg, nil
}

// loadSpreadConfigs reads the seed spread configs from SPREAD_CONFIGS_JSON.
// Falls back to a permissive default for the common corridors so a fresh
// checkout serves something sensible without a database.
func loadSpreadConfigs() ([]types.SpreadConfig, error) {
	if raw := os.Getenv("SPREAD_CONFIGS_JSON"); raw != "" {
		var configs []types.SpreadConfig
		if err := json.Unmarshal([]byte(raw), &configs); err != nil {
			return nil, errors.Wrap(err, "parsing SPREAD_CONFIGS_JSON")
		}
		for i := range configs {
			if configs[i].ID == uuid.Nil {
				configs[i].ID = uuid.New()
			}
		}
		return configs, nil
	}

	defaults := []string{"USDT/EUR", "USDT/USD", "BTC/EUR", "ETH/EUR"}
	configs := make([]types.SpreadConfig, 0, len(defaults))
	for _, symbol := range defaults {
		configs = append(configs, types.SpreadConfig{
			ID:                uuid.New(),
			Symbol:            symbol,
			BaseSpreadPercent: decimal.NewFromInt(2),
			MinSpreadPercent:  decimal.NewFromInt(1),
			MaxSpreadPercent:  decimal.NewFromInt(3),
			IsActive:          true,
			ValidFrom:         time.Now().Add(-time.Hour),
		})
	}
	return configs, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getCSV(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getDecimal(key, fallback string) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		v = fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parsing %s", key)
	}
	return d, nil
}
