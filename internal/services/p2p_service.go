package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/remitra/pricing-api/internal/client/bybit"
	httpclient "github.com/remitra/pricing-api/internal/client/http"
	"github.com/remitra/pricing-api/internal/config"
	"github.com/remitra/pricing-api/internal/types"
)

// MarketClient fetches raw sell offers from the P2P marketplace.
type MarketClient interface {
	FetchSellOffers(ctx context.Context, crypto, fiat string) ([]bybit.RawOffer, error)
}

// AggregationRecorder counts aggregation passes by outcome.
type AggregationRecorder interface {
	RecordAggregation(symbol, outcome string)
}

// P2PMarketService aggregates marketplace sell offers into a quality-scored
// market snapshot. Every pass recomputes the snapshot from scratch.
type P2PMarketService struct {
	client         MarketClient
	sellerFilters  config.SellerFilters
	offerFilters   config.OfferFilters
	topSellerCount int
	now            func() time.Time
	metrics        AggregationRecorder
	logger         *zap.Logger
}

// NewP2PMarketService creates the aggregator. now is injectable for tests;
// pass nil for the wall clock. metrics may be nil.
func NewP2PMarketService(client MarketClient, sellers config.SellerFilters, offers config.OfferFilters, topSellerCount int, now func() time.Time, metrics AggregationRecorder, logger *zap.Logger) *P2PMarketService {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if topSellerCount <= 0 {
		topSellerCount = 10
	}
	return &P2PMarketService{
		client:         client,
		sellerFilters:  sellers,
		offerFilters:   offers,
		topSellerCount: topSellerCount,
		now:            now,
		metrics:        metrics,
		logger:         logger,
	}
}

// ParseMarketData runs one aggregation pass for a symbol. Failures are
// reported inside the result, never as a Go error; callers branch on Success.
func (s *P2PMarketService) ParseMarketData(ctx context.Context, symbol string) *types.ParsingResult {
	started := s.now()
	result := &types.ParsingResult{
		Symbol:    symbol,
		Timestamp: started,
	}
	finish := func() *types.ParsingResult {
		result.ElapsedMs = time.Since(started).Milliseconds()
		if s.metrics != nil {
			outcome := "success"
			if result.Error != nil {
				outcome = strings.ToLower(string(result.Error.Code))
			}
			s.metrics.RecordAggregation(symbol, outcome)
		}
		return result
	}

	crypto, fiat, ok := splitSymbol(symbol)
	if !ok {
		result.Error = &types.ParsingError{
			Code:    types.CodeInvalidSymbolFormat,
			Message: fmt.Sprintf("symbol %q must look like CRYPTO/FIAT, e.g. USDT/EUR", symbol),
		}
		return finish()
	}

	raw, err := s.client.FetchSellOffers(ctx, crypto, fiat)
	if err != nil {
		result.Error = classifyFetchError(err)
		s.logger.Warn("market fetch failed",
			zap.String("symbol", symbol),
			zap.String("code", string(result.Error.Code)),
			zap.Error(err))
		return finish()
	}

	offers := s.buildOffers(raw, crypto, fiat)
	offers = s.filterOffers(offers)
	if len(offers) == 0 {
		result.Error = &types.ParsingError{
			Code:    types.CodeNoValidOffers,
			Message: fmt.Sprintf("no offers for %s passed the quality filters", symbol),
		}
		return finish()
	}

	data := s.aggregate(symbol, offers)
	result.Success = true
	result.Data = data

	s.logger.Info("aggregated market data",
		zap.String("symbol", symbol),
		zap.Int("offers", data.OfferCount),
		zap.Int("top_sellers", len(data.TopSellers)),
		zap.Float64("quality", data.DataQuality.Score))
	return finish()
}

// splitSymbol validates and splits a CRYPTO/FIAT pair: exactly two non-empty
// parts around a single slash.
func splitSymbol(symbol string) (crypto, fiat string, ok bool) {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// classifyFetchError maps transport failures onto the structured error
// taxonomy. Exhausted retry budgets stay retryable so callers can come back
// after the upstream cools down.
func classifyFetchError(err error) *types.ParsingError {
	if errors.Is(err, httpclient.ErrMaxRetriesExceeded) {
		return &types.ParsingError{
			Code:      types.CodeThrottled,
			Message:   "marketplace is rate limiting requests",
			Retryable: true,
		}
	}

	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) {
		return &types.ParsingError{
			Code:      types.CodeUpstreamError,
			Message:   fmt.Sprintf("marketplace returned status %d", httpErr.StatusCode),
			Retryable: httpErr.StatusCode >= 500,
		}
	}

	var apiErr *bybit.APIError
	if errors.As(err, &apiErr) {
		return &types.ParsingError{
			Code:    types.CodeUpstreamError,
			Message: apiErr.Error(),
		}
	}

	return &types.ParsingError{
		Code:    types.CodeInternalError,
		Message: err.Error(),
	}
}

// buildOffers converts raw marketplace advertisements into typed offers,
// deriving a seller rating for each. Advertisements with unparseable numbers
// are dropped, not failed.
func (s *P2PMarketService) buildOffers(raw []bybit.RawOffer, crypto, fiat string) []types.P2POffer {
	offers := make([]types.P2POffer, 0, len(raw))
	for _, r := range raw {
		price, err := decimal.NewFromString(r.Price)
		if err != nil || price.LessThanOrEqual(decimal.Zero) {
			s.logger.Debug("dropping offer with bad price", zap.String("offer_id", r.ID), zap.String("price", r.Price))
			continue
		}
		minAmount, err := decimal.NewFromString(r.MinAmount)
		if err != nil {
			continue
		}
		maxAmount, err := decimal.NewFromString(r.MaxAmount)
		if err != nil {
			continue
		}
		available, err := decimal.NewFromString(r.LastQuantity)
		if err != nil {
			continue
		}

		seller := types.P2PSeller{
			ID:                r.AccountID,
			Nickname:          r.NickName,
			CompletionRate:    r.CompletionRatePercent(),
			TotalOrders:       r.RecentOrderNum,
			VerificationLevel: verificationFor(r.AuthStatus),
			ResponseTime:      r.ResponseTimeSeconds(),
			IsOnline:          r.IsOnline,
		}
		seller.Rating = deriveRating(seller, r.UserLevel)

		offers = append(offers, types.P2POffer{
			ID:               r.ID,
			Seller:           seller,
			FiatCurrency:     fiat,
			CryptoCurrency:   crypto,
			Price:            price,
			MinAmount:        minAmount,
			MaxAmount:        maxAmount,
			AvailableAmount:  available,
			PaymentMethods:   r.Payments,
			PaymentTimeLimit: r.PaymentPeriod,
		})
	}
	return offers
}

// verificationFor maps the marketplace auth status onto verification tiers.
func verificationFor(authStatus int) types.VerificationLevel {
	switch authStatus {
	case 1:
		return types.VerificationAdvanced
	case 2:
		return types.VerificationIntermediate
	default:
		return types.VerificationBasic
	}
}

// deriveRating synthesizes a 0-5 star rating from observable seller behavior.
// The marketplace exposes no rating of its own, so the score is built from a
// 3.0 baseline plus completion, volume, level and presence bonuses.
func deriveRating(seller types.P2PSeller, userLevel int) float64 {
	rating := 3.0
	rating += 2.0 * (seller.CompletionRate / 100)
	if seller.TotalOrders > 100 {
		rating += 0.3
	}
	if seller.TotalOrders > 500 {
		rating += 0.2
	}
	rating += 0.5 * float64(userLevel) / 10
	if seller.IsOnline {
		rating += 0.2
	}

	if rating > 5 {
		return 5
	}
	if rating < 0 {
		return 0
	}
	return rating
}

// filterOffers applies the configured seller and offer thresholds.
func (s *P2PMarketService) filterOffers(offers []types.P2POffer) []types.P2POffer {
	kept := make([]types.P2POffer, 0, len(offers))
	for _, offer := range offers {
		if !s.sellerPasses(offer.Seller) {
			continue
		}
		if offer.MinAmount.LessThan(s.offerFilters.MinOfferAmount) {
			continue
		}
		if s.hasExcludedPayment(offer.PaymentMethods) {
			continue
		}
		kept = append(kept, offer)
	}
	return kept
}

func (s *P2PMarketService) sellerPasses(seller types.P2PSeller) bool {
	f := s.sellerFilters
	if seller.CompletionRate < f.MinCompletionRate {
		return false
	}
	if seller.Rating < f.MinRating {
		return false
	}
	if seller.TotalOrders < f.MinTotalOrders {
		return false
	}
	if f.RequireVerification && seller.VerificationLevel == types.VerificationBasic {
		return false
	}
	if f.MaxResponseTime > 0 && seller.ResponseTime > f.MaxResponseTime {
		return false
	}
	return true
}

func (s *P2PMarketService) hasExcludedPayment(methods []string) bool {
	for _, m := range methods {
		for _, excluded := range s.offerFilters.ExcludedPaymentMethods {
			if strings.EqualFold(m, excluded) {
				return true
			}
		}
	}
	return false
}

// aggregate ranks the filtered offers, picks the top sellers and computes the
// price statistics and the data-quality score.
func (s *P2PMarketService) aggregate(symbol string, offers []types.P2POffer) *types.P2PMarketData {
	ranked := make([]types.P2POffer, len(offers))
	copy(ranked, offers)
	sortRanked(ranked)

	topCount := s.topSellerCount
	if topCount > len(ranked) {
		topCount = len(ranked)
	}
	topSellers := ranked[:topCount]

	totalVolume := decimal.Zero
	weightedSum := decimal.Zero
	online := 0
	lowest := offers[0].Price
	highest := offers[0].Price
	prices := make([]decimal.Decimal, 0, len(offers))
	for _, offer := range offers {
		totalVolume = totalVolume.Add(offer.AvailableAmount)
		weightedSum = weightedSum.Add(offer.Price.Mul(offer.AvailableAmount))
		prices = append(prices, offer.Price)
		if offer.Seller.IsOnline {
			online++
		}
		if offer.Price.LessThan(lowest) {
			lowest = offer.Price
		}
		if offer.Price.GreaterThan(highest) {
			highest = offer.Price
		}
	}

	weightedAvg := decimal.Zero
	if totalVolume.IsPositive() {
		weightedAvg = weightedSum.Div(totalVolume)
	} else {
		// Every offer reports zero inventory; fall back to a plain mean.
		sum := decimal.Zero
		for _, p := range prices {
			sum = sum.Add(p)
		}
		weightedAvg = sum.Div(decimal.NewFromInt(int64(len(prices))))
	}

	median := medianPrice(prices)

	expectedTop := s.topSellerCount
	if len(offers) < expectedTop {
		expectedTop = len(offers)
	}
	coverage := float64(len(topSellers)) / float64(expectedTop) * 100

	quality := s.assessQuality(len(offers), lowest, highest, coverage, online)

	return &types.P2PMarketData{
		Symbol:               symbol,
		Offers:               offers,
		TopSellers:           topSellers,
		WeightedAveragePrice: weightedAvg,
		MedianPrice:          median,
		LowestPrice:          lowest,
		HighestPrice:         highest,
		TotalVolume:          totalVolume,
		OfferCount:           len(offers),
		DataQuality:          quality,
	}
}

// sortRanked orders offers best-first: by rating, with near-equal ratings
// broken by completion rate and near-equal completion rates broken by order
// volume. The windows stop noise in derived ratings from reshuffling sellers
// whose track records are effectively identical.
func sortRanked(offers []types.P2POffer) {
	sort.SliceStable(offers, func(i, j int) bool {
		a, b := offers[i], offers[j]

		ratingDiff := a.Seller.Rating - b.Seller.Rating
		if ratingDiff > 0.1 || ratingDiff < -0.1 {
			return ratingDiff > 0
		}

		completionDiff := a.Seller.CompletionRate - b.Seller.CompletionRate
		if completionDiff > 1.0 || completionDiff < -1.0 {
			return completionDiff > 0
		}

		return a.Seller.TotalOrders > b.Seller.TotalOrders
	})
}

// medianPrice returns the median of the given prices, averaging the middle
// pair for even counts.
func medianPrice(prices []decimal.Decimal) decimal.Decimal {
	if len(prices) == 0 {
		return decimal.Zero
	}
	sorted := make([]decimal.Decimal, len(prices))
	copy(sorted, prices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}

// assessQuality scores the snapshot 0-100, deducting for thin books, poor
// top-seller coverage, wide price dispersion and absent sellers.
func (s *P2PMarketService) assessQuality(offerCount int, lowest, highest decimal.Decimal, coverage float64, online int) types.DataQuality {
	score := 100.0
	var issues []string

	if offerCount < 5 {
		score -= 20
		issues = append(issues, fmt.Sprintf("thin market: only %d offers", offerCount))
	}

	if coverage < 80 {
		score -= 15
		issues = append(issues, fmt.Sprintf("top sellers cover only %.1f%% of expected slots", coverage))
	}

	if lowest.IsPositive() {
		dispersion, _ := highest.Sub(lowest).Div(lowest).Mul(oneHundred).Float64()
		if dispersion > 10 {
			score -= 10
			issues = append(issues, fmt.Sprintf("price dispersion %.1f%% across offers", dispersion))
		}
	}

	onlineRatio := float64(online) / float64(offerCount) * 100
	if onlineRatio < 70 {
		score -= 10
		issues = append(issues, fmt.Sprintf("only %.0f%% of sellers are online", onlineRatio))
	}

	if score < 0 {
		score = 0
	}
	return types.DataQuality{
		Score:    score,
		Issues:   issues,
		Coverage: coverage,
	}
}
