package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/retailcore/checkout-core/internal/config"
	invapp "github.com/retailcore/checkout-core/internal/inventory/application"
	invpg "github.com/retailcore/checkout-core/internal/inventory/infrastructure/postgres"
	orderapp "github.com/retailcore/checkout-core/internal/order/application"
	orderpg "github.com/retailcore/checkout-core/internal/order/infrastructure/postgres"
	"github.com/retailcore/checkout-core/internal/order/infrastructure/rest"
	paymentapp "github.com/retailcore/checkout-core/internal/payment/application"
	"github.com/retailcore/checkout-core/internal/payment/infrastructure/gateway"
	"github.com/retailcore/checkout-core/internal/payment/infrastructure/webhook"
	"github.com/retailcore/checkout-core/pkg/idempotency"
	"github.com/retailcore/checkout-core/pkg/logging"
	"github.com/retailcore/checkout-core/pkg/outbox"
	"github.com/retailcore/checkout-core/pkg/shutdown"
	"github.com/retailcore/checkout-core/pkg/tracing"
)

func main() {
	_ = godotenv.Load()

	log := logging.New()
	cfg := config.Load()

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, cfg.ServiceName, cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("tracing init failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = tp.Shutdown(shutdownCtx)
	}()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Error("postgres connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	idem := idempotency.NewStore(rdb, 24*time.Hour)

	invRepo := invpg.NewRepository(pool)
	orderRepo := orderpg.NewRepository(pool)

	verifier := invapp.NewVerifier(log, invRepo, invRepo)
	gw := gateway.NewClient(log, cfg.GatewayURL, cfg.GatewayAPIKey, cfg.GatewayTimeout)
	orders := orderapp.NewService(log, orderRepo.ReservationLedger(), invRepo, gw)
	reconciler := paymentapp.NewReconciler(log, orderRepo.SettlementLedger())

	producer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	defer producer.Close()

	hostname, _ := os.Hostname()
	relay := outbox.NewRelay(log, orderRepo, outbox.NewDispatcher(log, producer, cfg.OrderTopic), hostname)
	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error("outbox relay stopped", "err", err)
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	rest.NewHandler(log, verifier, orders).Register(r)
	webhook.NewHandler(log, cfg.WebhookSecret, reconciler, idem).Register(r)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		drainCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		_ = srv.Shutdown(drainCtx)
	}()

	log.Info("checkout service listening", "addr", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("http server error", "err", err)
		os.Exit(1)
	}
	log.Info("checkout service stopped")
}
