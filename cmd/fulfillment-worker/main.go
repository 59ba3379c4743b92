package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/retailcore/checkout-core/internal/config"
	"github.com/retailcore/checkout-core/internal/fulfillment"
	"github.com/retailcore/checkout-core/pkg/idempotency"
	"github.com/retailcore/checkout-core/pkg/logging"
	"github.com/retailcore/checkout-core/pkg/shutdown"
	"github.com/retailcore/checkout-core/pkg/tracing"
)

func main() {
	_ = godotenv.Load()

	log := logging.New()
	cfg := config.Load()

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, "fulfillment-worker", cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("tracing init failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = tp.Shutdown(shutdownCtx)
	}()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	idem := idempotency.NewStore(rdb, 24*time.Hour)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.KafkaBrokers,
		GroupID: "fulfillment-worker",
		Topic:   cfg.OrderTopic,
	})
	defer reader.Close()

	consumer := fulfillment.NewConsumer(log, reader, idem,
		fulfillment.NewShipmentClient(cfg.ShipmentURL),
		fulfillment.NewInvoiceClient(cfg.InvoiceURL),
	)

	log.Info("fulfillment worker consuming", "topic", cfg.OrderTopic, "brokers", cfg.KafkaBrokers)
	if err := consumer.Run(ctx); err != nil {
		log.Error("consumer error", "err", err)
		os.Exit(1)
	}
	log.Info("fulfillment worker stopped")
}
