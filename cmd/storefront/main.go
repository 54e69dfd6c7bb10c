// Package main runs the storefront core: balance and purchase services over
// an HTTP API, with the adaptive cache and per-key lock registry wired in.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	app "github.com/lockshop/storefront/internal/app"
	"github.com/lockshop/storefront/internal/app/httpapi"
	"github.com/lockshop/storefront/internal/app/metrics"
	"github.com/lockshop/storefront/internal/app/storage"
	"github.com/lockshop/storefront/internal/app/storage/postgres"
	"github.com/lockshop/storefront/internal/cache"
	"github.com/lockshop/storefront/internal/config"
	"github.com/lockshop/storefront/internal/database"
	"github.com/lockshop/storefront/internal/middleware"
	"github.com/lockshop/storefront/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (overrides CONFIG_FILE)")
	flag.Parse()

	if *configPath == "" {
		*configPath = os.Getenv("CONFIG_FILE")
	}

	cfg, err := config.LoadFromPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	var store storage.Ledger
	if cfg.Database.DSN != "" {
		db, err := database.Open(cfg.Database)
		if err != nil {
			log.WithError(err).Error("open database")
			os.Exit(1)
		}
		defer db.Close()
		if err := database.Migrate(db); err != nil {
			log.WithError(err).Error("run migrations")
			os.Exit(1)
		}
		store = postgres.New(db)
		log.Info("using postgres store")
	} else {
		log.Warn("no database configured; using in-memory store")
	}

	var fanout cache.Fanout
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		fanout = cache.NewRedisFanout(client, cfg.Redis.Channel, log.WithField("component", "cache-fanout"))
	}

	application, err := app.New(app.Options{
		Store: store,
		Cache: cache.Config{
			MaxSize:   cfg.Cache.MaxSize,
			HighWater: cfg.Cache.HighWater,
			LowWater:  cfg.Cache.LowWater,
			MaxTTL:    time.Duration(cfg.Cache.MaxTTLSeconds) * time.Second,
		},
		Fanout:             fanout,
		LockTimeout:        time.Duration(cfg.Shop.LockTimeoutSeconds) * time.Second,
		MaxPurchaseQty:     cfg.Shop.MaxPurchaseQty,
		HistoryLimit:       cfg.Shop.HistoryLimit,
		DisplayRefreshSpec: cfg.Shop.DisplayRefreshSpec,
	}, log)
	if err != nil {
		log.WithError(err).Error("build application")
		os.Exit(1)
	}

	metrics.RegisterCacheStats(application.Cache)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start application")
		os.Exit(1)
	}

	limiter := middleware.NewRateLimiter(cfg.Server.RequestsPerMinute, cfg.Server.RateBurst, log.WithField("component", "ratelimit"))
	limiter.StartCleanup(10 * time.Minute)

	handler := metrics.InstrumentHandler(limiter.Handler(httpapi.NewHandler(application, log.WithField("component", "httpapi"))))

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("storefront listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server")
			cancel()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stop:
		log.Info("shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application stop")
	}
	log.Info("storefront stopped")
}
