package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"storefront-checkout/internal/backend"
	"storefront-checkout/internal/cache"
	"storefront-checkout/internal/config"
	"storefront-checkout/internal/db"
	"storefront-checkout/internal/httpserver"
	"storefront-checkout/internal/logging"
	"storefront-checkout/internal/migrate"
	"storefront-checkout/internal/pricing"
	sessionrepo "storefront-checkout/internal/repository/session"
	checkoutsvc "storefront-checkout/internal/service/checkout"
	ordersvc "storefront-checkout/internal/service/order"
	paymentsvc "storefront-checkout/internal/service/payment"
	verificationsvc "storefront-checkout/internal/service/verification"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		logging.Init("api", "", "info").Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Init("api", cfg.Log.File, cfg.Log.Level)

	if err := run(cfg, logger); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	var (
		store    sessionrepo.Repository
		readyDep httpserver.Pinger
	)
	if cfg.DB.DSN != "" {
		pool, err := db.Connect(ctx, cfg.DB.DSN, logging.New("db"))
		if err != nil {
			return err
		}
		defer pool.Close()
		if _, err := migrate.ApplyVersion(ctx, pool); err != nil {
			return err
		}
		readyDep = pool
		store = sessionrepo.NewPostgres(pool)
	} else {
		logger.Warn("db.dsn empty, checkout sessions are kept in memory")
		store = sessionrepo.NewMemory()
	}

	var guard cache.InflightGuard
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return err
		}
		guard = cache.NewRedisInflightGuard(rdb, cfg.Inflight.TTL)
	} else {
		guard = cache.NewMemoryInflightGuard(cfg.Inflight.TTL)
	}

	client := backend.New(backend.Config{
		BaseURL:         cfg.Backend.BaseURL,
		Timeout:         cfg.Backend.Timeout,
		BreakerFailures: cfg.Backend.BreakerFailures,
		BreakerCooldown: cfg.Backend.BreakerCooldown,
	}, logging.New("backend"))

	policy := pricing.FixedPolicy{
		PromoDiscount:    cfg.Pricing.PromoDiscount,
		StoreCredit:      cfg.Pricing.StoreCredit,
		StandardShipping: cfg.Pricing.StandardShipping,
		PickupShipping:   cfg.Pricing.PickupShipping,
	}
	payments := paymentsvc.NewManager(client, cfg.Gateway.MinorUnitFactor, logging.New("payment"))
	checkoutService := checkoutsvc.New(checkoutsvc.Deps{
		Orders:   ordersvc.New(client, policy, logging.New("order")),
		Payments: payments,
		Verifier: verificationsvc.New(client, verificationsvc.Policy{
			Timeout:  cfg.Verify.Timeout,
			Attempts: cfg.Verify.Attempts,
			Backoff:  cfg.Verify.Backoff,
		}, logging.New("verification")),
		Store:  store,
		Guard:  guard,
		Logger: logging.New("checkout"),
	})

	warmCtx, cancel := context.WithTimeout(ctx, cfg.Backend.Timeout)
	if _, err := payments.FetchGatewayKey(warmCtx); err != nil {
		logger.Warn("gateway key not loaded at startup, will retry on first checkout", "error", err)
	}
	cancel()

	srv, err := httpserver.New(cfg.HTTP.Addr, logging.New("http"), httpserver.Deps{
		DB:          readyDep,
		Checkout:    checkoutService,
		CORSOrigins: cfg.HTTP.CORSOrigins,
	})
	if err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-stopCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case runErr = <-serverErr:
		logger.Error("server error", "error", runErr)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	} else {
		logger.Info("server stopped")
	}
	return runErr
}
