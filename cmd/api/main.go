package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/remitra/pricing-api/internal/config"
	"github.com/remitra/pricing-api/internal/logger"
	"github.com/remitra/pricing-api/internal/server"
)

// @title Remitra Pricing API
// @version 1.0
// @description Fixed-spread pricing and P2P market aggregation service.
// @BasePath /api/v1
func main() {
	if err := godotenv.Load(); err != nil {
		// Missing .env is fine when variables come from the environment.
		log.Printf("no .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.InitLogger(cfg.Stage)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to create database pool", zap.Error(err))
		}
		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("database is unreachable", zap.Error(err))
		}
		logger.Info("using database-backed spread configs")
	} else {
		logger.Info("no DATABASE_URL set, using seeded in-memory spread configs")
	}

	srv := server.NewServer(cfg, pool)
	if err := srv.Run(ctx); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
