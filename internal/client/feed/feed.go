package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	httpclient "github.com/remitra/pricing-api/internal/client/http"
	"github.com/remitra/pricing-api/internal/types"
)

const spotPath = "/spot"

// Client reads reference spot rates from the upstream price feed.
type Client struct {
	httpClient *httpclient.Client
	logger     *zap.Logger
}

// NewClient creates a new feed client.
func NewClient(httpClient *httpclient.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
	}
}

type spotResponse struct {
	Symbol    string    `json:"symbol"`
	Price     string    `json:"price"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// GetSpotRate fetches the current spot rate for a symbol. The second return
// value reports whether the rate came from the short-lived response cache.
func (c *Client) GetSpotRate(ctx context.Context, symbol string) (*types.SpotRate, bool, error) {
	body, fromCache, err := c.httpClient.GetInfo(ctx, spotPath,
		httpclient.WithQueryParam("symbol", symbol))
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch spot rate for %s: %w", symbol, err)
	}

	var resp spotResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false, fmt.Errorf("failed to decode spot rate for %s: %w", symbol, err)
	}

	price, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return nil, false, fmt.Errorf("feed returned unparseable price %q for %s: %w", resp.Price, symbol, err)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, false, fmt.Errorf("feed returned non-positive price %s for %s", price, symbol)
	}

	ts := resp.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	c.logger.Debug("fetched spot rate",
		zap.String("symbol", symbol),
		zap.String("price", price.String()),
		zap.Bool("from_cache", fromCache))

	return &types.SpotRate{
		Price:     price,
		Source:    resp.Source,
		Timestamp: ts,
	}, fromCache, nil
}
