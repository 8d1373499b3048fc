package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/remitra/pricing-api/internal/client/bybit"
	"github.com/remitra/pricing-api/internal/client/feed"
	httpclient "github.com/remitra/pricing-api/internal/client/http"
	"github.com/remitra/pricing-api/internal/config"
	"github.com/remitra/pricing-api/internal/handlers"
	"github.com/remitra/pricing-api/internal/logger"
	"github.com/remitra/pricing-api/internal/metrics"
	"github.com/remitra/pricing-api/internal/middleware"
	"github.com/remitra/pricing-api/internal/services"
	"github.com/remitra/pricing-api/internal/store"
)

// Version is stamped at build time.
var Version = "dev"

// Server wires the HTTP API together.
type Server struct {
	cfg    *config.Config
	router *gin.Engine
	pool   *pgxpool.Pool
}

// NewServer builds the full dependency graph: shared outbound limiter, the
// two upstream clients, the config store, both services and all handlers.
// pool may be nil, in which case spread configs come from the seeded
// in-memory store.
func NewServer(cfg *config.Config, pool *pgxpool.Pool) *Server {
	log := logger.Log

	collector := metrics.NewCollector()

	// One limiter across both upstreams: every outbound request, feed or
	// marketplace, respects the same spacing watermark.
	sharedLimiter := rate.NewLimiter(rate.Every(cfg.Client.MinRequestInterval), 1)

	feedHTTP := httpclient.NewClient(
		httpclient.WithBaseURL(cfg.FeedBaseURL),
		httpclient.WithLimiter(sharedLimiter),
		httpclient.WithRetry(cfg.Client.MaxRetries, cfg.Client.RetryBaseDelay),
		httpclient.WithCacheTTL(cfg.Client.CacheTTL),
		httpclient.WithRequestTimeout(cfg.Client.RequestTimeout),
		httpclient.WithMetricsCollector(collector),
		httpclient.WithLogger(log),
	)
	marketHTTP := httpclient.NewClient(
		httpclient.WithBaseURL(cfg.MarketBaseURL),
		httpclient.WithLimiter(sharedLimiter),
		httpclient.WithRetry(cfg.Client.MaxRetries, cfg.Client.RetryBaseDelay),
		httpclient.WithCacheTTL(cfg.Client.CacheTTL),
		httpclient.WithRequestTimeout(cfg.Client.RequestTimeout),
		httpclient.WithMetricsCollector(collector),
		httpclient.WithLogger(log),
	)

	feedClient := feed.NewClient(feedHTTP, log)
	marketClient := bybit.NewClient(marketHTTP, log)

	var configStore store.SpreadConfigStore
	if pool != nil {
		configStore = store.NewPgxStore(pool)
	} else {
		configStore = store.NewMemoryStore(cfg.SpreadConfigs)
	}

	pricingService := services.NewFixedSpreadService(configStore, cfg.FreshnessThreshold, nil, collector, log)
	p2pService := services.NewP2PMarketService(marketClient, cfg.Sellers, cfg.Offers, cfg.TopSellerCount, nil, collector, log)

	pricingHandler := handlers.NewPricingHandler(feedClient, pricingService, configStore)
	ratesHandler := handlers.NewRatesHandler(feedClient, pricingService)
	p2pHandler := handlers.NewP2PHandler(p2pService)

	probeSymbol := "USDT/EUR"
	if len(cfg.SpreadConfigs) > 0 {
		probeSymbol = cfg.SpreadConfigs[0].Symbol
	}
	checks := map[string]handlers.DependencyCheck{
		"rate_feed":  upstreamCheck(feedHTTP),
		"p2p_market": upstreamCheck(marketHTTP),
		"config_store": func(ctx context.Context) error {
			_, err := configStore.ListConfigs(ctx, probeSymbol)
			return err
		},
	}
	if pool != nil {
		checks["database"] = func(ctx context.Context) error {
			return pool.Ping(ctx)
		}
	}
	healthHandler := handlers.NewHealthHandler(Version, checks, map[string]*httpclient.Client{
		"rate_feed":  feedHTTP,
		"p2p_market": marketHTTP,
	})

	router := buildRouter(cfg, collector, pricingHandler, ratesHandler, p2pHandler, healthHandler, log)

	return &Server{
		cfg:    cfg,
		router: router,
		pool:   pool,
	}
}

// upstreamCheck measures one round trip to an upstream. Any HTTP status,
// error or not, proves the host is reachable; only transport failures and
// timeouts count as down.
func upstreamCheck(client *httpclient.Client) handlers.DependencyCheck {
	return func(ctx context.Context) error {
		_, err := client.Get(ctx, "/")
		var httpErr *httpclient.HTTPError
		if err == nil || errors.As(err, &httpErr) {
			return nil
		}
		return err
	}
}

func buildRouter(cfg *config.Config, collector *metrics.Collector, pricing *handlers.PricingHandler, rates *handlers.RatesHandler, p2p *handlers.P2PHandler, health *handlers.HealthHandler, log *zap.Logger) *gin.Engine {
	if cfg.Stage == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "X-Request-ID", "X-API-Key")
	router.Use(cors.New(corsConfig))

	router.Use(middleware.RequestContext())
	router.Use(middleware.RequestLogging(log))
	router.Use(middleware.RequestMetrics(collector))

	rateLimiter := middleware.NewRateLimiter(100, 200, log)
	router.Use(rateLimiter.Middleware())

	router.GET("/health", health.GetHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/pricing/calculate", pricing.CalculateRate)
		v1.GET("/pricing/configs/*symbol", pricing.GetConfigs)
		v1.GET("/rates", rates.GetRates)
		v1.GET("/p2p/*symbol", p2p.GetMarketData)
	}

	return router
}

// Router exposes the underlying engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    ":" + s.cfg.Port,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("port", s.cfg.Port), zap.String("version", Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
