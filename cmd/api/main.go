package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/TomyLeHuy/ecommerce-platform/internal/config"
	"github.com/TomyLeHuy/ecommerce-platform/internal/httpx"
	kafkax "github.com/TomyLeHuy/ecommerce-platform/internal/kafka"
	"github.com/TomyLeHuy/ecommerce-platform/internal/logging"
	"github.com/TomyLeHuy/ecommerce-platform/internal/memstore"
	"github.com/TomyLeHuy/ecommerce-platform/internal/orders"
	"github.com/TomyLeHuy/ecommerce-platform/internal/postgres"
	"github.com/TomyLeHuy/ecommerce-platform/internal/pricing"
	"github.com/TomyLeHuy/ecommerce-platform/internal/redisx"
	"github.com/TomyLeHuy/ecommerce-platform/internal/service"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "order-api",
		Usage: "order placement and lifecycle API",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP API",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "demo", Usage: "seed demo products into the memory store"},
				},
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "apply or roll back schema migrations",
				Subcommands: []*cli.Command{
					{Name: "up", Action: migrateUp},
					{
						Name:   "down",
						Flags:  []cli.Flag{&cli.IntFlag{Name: "steps", Value: 1}},
						Action: migrateDown,
					},
				},
			},
		},
		DefaultCommand: "serve",
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func migrateUp(_ *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	return postgres.Migrate(cfg.PostgresDSN)
}

func migrateDown(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	return postgres.MigrateDown(cfg.PostgresDSN, c.Int("steps"))
}

func serve(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("service", cfg.ServiceName))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store orders.Store
	switch cfg.StoreDriver {
	case config.StorePostgres:
		if cfg.MigrateOnStart {
			if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
				return err
			}
		}
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.PoolOptions{MaxConns: cfg.DBMaxConns})
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer db.Close()
		store = postgres.NewStore(db)
	case config.StoreMemory:
		mem := memstore.New()
		if c.Bool("demo") {
			seedDemo(mem)
		}
		store = mem
		logger.Warn("using in-memory store; data is lost on exit")
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger)
	prod.Start()

	calc, err := pricing.NewCalculator(cfg.Pricing)
	if err != nil {
		return err
	}
	svc, err := service.NewOrderService(service.Deps{
		Store:      store,
		Calculator: calc,
		Events:     kafkax.NewPublisher(prod, cfg.ServiceName),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	router := httpx.NewRouter(logger)
	oh := &httpx.OrdersHandler{
		Service: svc,
		Cache:   redisx.NewCache(rdb),
		Logger:  logger,
	}
	oh.Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("listen", zap.Error(err))
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	// handlers are drained; flush queued events
	prod.Close()
	prod.WaitClosed()
	return nil
}

func seedDemo(s *memstore.Store) {
	now := time.Now().UTC()
	for _, p := range []orders.Product{
		{ID: "demo-bread", ShopID: "demo-shop", SKU: "BRD-001", Name: "Sourdough Bread", Price: decimal.RequireFromString("4.50"), StockQuantity: 40, MinStockLevel: 5},
		{ID: "demo-milk", ShopID: "demo-shop", SKU: "MLK-001", Name: "Whole Milk 1L", Price: decimal.RequireFromString("1.29"), StockQuantity: 120, MinStockLevel: 20},
		{ID: "demo-honey", ShopID: "demo-shop", SKU: "HNY-001", Name: "Local Honey", Price: decimal.RequireFromString("8.90"), StockQuantity: 6, MinStockLevel: 2},
	} {
		p.IsActive = true
		p.CreatedAt, p.UpdatedAt = now, now
		s.PutProduct(p)
	}
}
