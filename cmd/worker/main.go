package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"order-service/internal/broker"
	"order-service/internal/clients"
	"order-service/internal/config"
	"order-service/internal/database"
	"order-service/internal/logging"
	"order-service/internal/search"
	"order-service/internal/service"
	"order-service/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// runner is implemented by every worker loop in internal/worker.
type runner interface {
	Run(ctx context.Context) error
}

func main() {
	kind := flag.String("worker", "all",
		"which loop to run: all, inbox, outbox-payments, outbox-notifications, outbox-shipping, consumer")
	flag.Parse()

	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	// ── Infrastructure ─────────────────────────────────────────────────────────

	store, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		slog.Error("postgres connect failed", "component", "worker", "error", err)
		os.Exit(1)
	}

	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := store.EnsureSchema(schemaCtx); err != nil {
		schemaCancel()
		slog.Error("schema setup failed", "component", "worker", "error", err)
		os.Exit(1)
	}
	schemaCancel()

	// ── Loop selection ─────────────────────────────────────────────────────────
	//
	// -worker picks a single loop so each kind can be scaled out as its own
	// deployment; the default "all" runs every loop in one process, which is
	// what local development and the compose file use. Clients are only
	// dialed for the loops that were actually selected.

	wantsAll := *kind == "all"
	var loops []runner

	if wantsAll || *kind == "outbox-payments" || *kind == "outbox-notifications" {
		httpClient := clients.New(cfg.HTTPReadTimeout, cfg.HTTPMaxRetry, cfg.HTTPMaxDelay)
		if wantsAll || *kind == "outbox-payments" {
			payments := clients.NewPayments(httpClient, cfg.PaymentsURL, cfg.AccessToken, cfg.PaymentsCallbackURL)
			loops = append(loops, worker.NewPaymentsDispatcher(store, payments, cfg.PollInterval))
		}
		if wantsAll || *kind == "outbox-notifications" {
			notifications := clients.NewNotifications(httpClient, cfg.NotificationsURL, cfg.AccessToken)
			loops = append(loops, worker.NewNotificationsDispatcher(store, notifications, cfg.PollInterval))
		}
	}

	var producer *broker.Producer
	if wantsAll || *kind == "outbox-shipping" {
		producer = broker.NewProducer(cfg.KafkaBootstrap, cfg.KafkaTopic)
		loops = append(loops, worker.NewShippingDispatcher(store, producer, cfg.PollInterval))
	}

	if wantsAll || *kind == "inbox" {
		searchClient, err := search.New(cfg.ElasticsearchURL)
		if err != nil {
			slog.Error("elasticsearch init failed", "component", "worker", "error", err)
			os.Exit(1)
		}
		loops = append(loops, worker.NewApplier(store, searchClient, cfg.PollInterval))
	}

	var consumer *broker.Consumer
	if wantsAll || *kind == "consumer" {
		consumer = broker.NewConsumer(cfg.KafkaBootstrap, cfg.KafkaTopic, cfg.KafkaGroupID)
		// The consumer records shipping results through the same transactional
		// core the API uses; it needs neither the catalog nor the projections.
		svc := service.New(store, nil, nil, nil)
		loops = append(loops, worker.NewConsumer(consumer, svc))
	}

	if len(loops) == 0 {
		slog.Error("unknown worker kind", "component", "worker", "kind", *kind)
		os.Exit(1)
	}

	// ── Metrics server ─────────────────────────────────────────────────────────

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:        ":" + cfg.MetricsPort,
		Handler:     metricsMux,
		ReadTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("metrics server started", "component", "worker", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "component", "worker", "error", err)
		}
	}()

	// ── Run ────────────────────────────────────────────────────────────────────
	//
	// ctx is cancelled on SIGINT/SIGTERM; every loop finishes its in-flight
	// batch or message and returns cleanly. If any loop fails, the group
	// context cancels the rest and the process exits non-zero so the
	// supervisor restarts it — for the consumer that means the uncommitted
	// offset is fetched again on the next boot.

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker started", "component", "worker", "kind", *kind, "loops", len(loops))

	g, gctx := errgroup.WithContext(ctx)
	for _, loop := range loops {
		g.Go(func() error { return loop.Run(gctx) })
	}
	runErr := g.Wait()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	//
	// All loops have returned. Close connections in reverse init order.

	metricsCtx, metricsCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer metricsCancel()
	if err := metricsSrv.Shutdown(metricsCtx); err != nil {
		slog.Error("metrics shutdown error", "component", "worker", "error", err)
	}

	if consumer != nil {
		consumer.Close()
	}
	if producer != nil {
		producer.Close()
	}
	store.Close()

	if runErr != nil {
		slog.Error("worker error", "component", "worker", "error", runErr)
		os.Exit(1)
	}
	slog.Info("worker stopped", "component", "worker")
}
