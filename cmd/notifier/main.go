package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/TomyLeHuy/ecommerce-platform/internal/config"
	kafkax "github.com/TomyLeHuy/ecommerce-platform/internal/kafka"
	"github.com/TomyLeHuy/ecommerce-platform/internal/logging"
	"github.com/TomyLeHuy/ecommerce-platform/internal/notify"
	"github.com/TomyLeHuy/ecommerce-platform/internal/orders"
	"github.com/TomyLeHuy/ecommerce-platform/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:   "notifier",
		Usage:  "deliver order and stock notifications from kafka",
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(_ *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	name := cfg.ServiceName + "-notifier"
	logger = logger.With(zap.String("service", name))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := notify.NewService(notify.Options{
		Dedup:  redisx.NewDedup(rdb, name),
		Sink:   notify.NewLogSink(logger.Named("sink")),
		Logger: logger,
	})

	topics := []string{orders.TopicOrderPlaced, orders.TopicOrderStatusChanged, orders.TopicLowStock}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, topics, cfg.NotifierWorkers, logger)

	logger.Info("notifier consumer started",
		zap.String("group", cfg.NotifierGroup),
		zap.Strings("topics", topics),
		zap.Int("workers", cfg.NotifierWorkers))
	// Start returns once ctx is cancelled and in-flight messages are done
	if err := cons.Start(ctx, svc.Handle); err != nil {
		return fmt.Errorf("consumer: %w", err)
	}
	logger.Info("notifier stopped")
	return nil
}
