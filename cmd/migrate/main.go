package main

import (
	"context"
	"os"

	"storefront-checkout/internal/config"
	"storefront-checkout/internal/db"
	"storefront-checkout/internal/logging"
	"storefront-checkout/internal/migrate"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		logging.Init("migrate", "", "info").Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Init("migrate", cfg.Log.File, cfg.Log.Level)

	if cfg.DB.DSN == "" {
		logger.Error("db.dsn is empty; nothing to migrate (set CHECKOUT_DB__DSN)")
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DB.DSN, logger)
	if err != nil {
		logger.Error("connect db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	version, err := migrate.ApplyVersion(ctx, pool)
	if err != nil {
		logger.Error("apply migrations", "error", err)
		pool.Close()
		os.Exit(1)
	}

	logger.Info("migrations applied", "version", version)
}
