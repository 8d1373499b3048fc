package bybit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	httpclient "github.com/remitra/pricing-api/internal/client/http"
)

const (
	// Sell-side advertisements: merchants selling crypto for fiat.
	sideSell = "1"

	defaultPageSize = "50"
	otcOnlinePath   = "/fiat/otc/item/online"
)

// Client fetches peer-to-peer OTC advertisements from the Bybit fiat
// marketplace through the shared resilient HTTP client.
type Client struct {
	httpClient *httpclient.Client
	logger     *zap.Logger
}

// NewClient creates a new marketplace client.
func NewClient(httpClient *httpclient.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
	}
}

// RawOffer is one advertisement exactly as the marketplace reports it.
// Monetary fields stay strings until the aggregator parses them into
// decimals; the marketplace is not trusted to produce clean numbers.
type RawOffer struct {
	ID                string   `json:"id"`
	AccountID         string   `json:"accountId"`
	NickName          string   `json:"nickName"`
	TokenID           string   `json:"tokenId"`
	CurrencyID        string   `json:"currencyId"`
	Price             string   `json:"price"`
	MinAmount         string   `json:"minAmount"`
	MaxAmount         string   `json:"maxAmount"`
	LastQuantity      string   `json:"lastQuantity"`
	Payments          []string `json:"payments"`
	PaymentPeriod     int      `json:"paymentPeriod"`
	RecentOrderNum    int      `json:"recentOrderNum"`
	RecentExecuteRate int      `json:"recentExecuteRate"`
	IsOnline          bool     `json:"isOnline"`
	AuthStatus        int      `json:"authStatus"`
	UserLevel         int      `json:"vipLevel"`
	AvgReplyTime      int      `json:"avgReplyTime"`
}

type onlineItemsRequest struct {
	TokenID    string   `json:"tokenId"`
	CurrencyID string   `json:"currencyId"`
	Side       string   `json:"side"`
	Payment    []string `json:"payment"`
	Page       string   `json:"page"`
	Size       string   `json:"size"`
}

type onlineItemsResult struct {
	Count int        `json:"count"`
	Items []RawOffer `json:"items"`
}

type onlineItemsResponse struct {
	RetCode int               `json:"ret_code"`
	RetMsg  string            `json:"ret_msg"`
	Result  onlineItemsResult `json:"result"`
}

// APIError is a logical error inside a 200 response from the marketplace.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit API error %d: %s", e.Code, e.Message)
}

// FetchSellOffers returns the online sell-side advertisements for the given
// crypto/fiat pair. One logical request; throttling, caching and retries are
// handled by the underlying client.
func (c *Client) FetchSellOffers(ctx context.Context, crypto, fiat string) ([]RawOffer, error) {
	reqBody := onlineItemsRequest{
		TokenID:    crypto,
		CurrencyID: fiat,
		Side:       sideSell,
		Payment:    []string{},
		Page:       "1",
		Size:       defaultPageSize,
	}

	var response onlineItemsResponse
	fromCache, err := c.httpClient.QueryJSON(ctx, otcOnlinePath, reqBody, &response)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch P2P offers for %s/%s: %w", crypto, fiat, err)
	}

	if response.RetCode != 0 {
		return nil, &APIError{Code: response.RetCode, Message: response.RetMsg}
	}

	c.logger.Debug("fetched P2P offers",
		zap.String("crypto", crypto),
		zap.String("fiat", fiat),
		zap.Int("count", len(response.Result.Items)),
		zap.Bool("from_cache", fromCache))

	return response.Result.Items, nil
}

// CompletionRatePercent normalizes the marketplace's execute-rate field,
// which is reported as an integer percentage.
func (o *RawOffer) CompletionRatePercent() float64 {
	return float64(o.RecentExecuteRate)
}

// ResponseTimeSeconds converts the marketplace's reply time (minutes) to
// seconds.
func (o *RawOffer) ResponseTimeSeconds() int {
	return o.AvgReplyTime * 60
}
