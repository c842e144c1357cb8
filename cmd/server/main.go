package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"custodia/internal/audit/handler"
	"custodia/internal/audit/metrics"
	"custodia/internal/audit/models"
	"custodia/internal/audit/notify"
	kafkanotify "custodia/internal/audit/notify/kafka"
	"custodia/internal/audit/service"
	"custodia/internal/audit/store"
	"custodia/internal/platform/config"
	"custodia/internal/platform/httpserver"
	"custodia/internal/platform/logger"
	"custodia/internal/platform/postgres"
	platformredis "custodia/internal/platform/redis"
	"custodia/pkg/platform/middleware/correlation"
	"custodia/pkg/platform/middleware/metadata"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Chain logic lives in the internal/audit packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	alg, err := models.ParseAlgorithm(cfg.HashAlgorithm)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var chain store.Store
	switch {
	case cfg.DatabaseURL != "":
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		pg := store.NewPostgres(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Error("schema setup failed", "error", err)
			os.Exit(1)
		}
		chain = pg
		log.Info("chain store: postgres")
	case cfg.RedisURL != "":
		client, err := platformredis.New(ctx, cfg.RedisURL)
		if err != nil {
			log.Error("redis unavailable", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		chain = store.NewRedis(client)
		log.Info("chain store: redis")
	default:
		chain = store.NewMemory()
		log.Warn("chain store: in-memory; entries will not survive a restart")
	}

	var notifier notify.Notifier = notify.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := kafkanotify.New(ctx, cfg.KafkaBrokers, cfg.AuditTopic, log)
		if err != nil {
			log.Error("kafka unavailable", "error", err)
			os.Exit(1)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := publisher.Close(flushCtx); err != nil {
				log.Warn("kafka flush failed", "error", err)
			}
		}()
		notifier = publisher
		log.Info("append notices: kafka", "brokers", cfg.KafkaBrokers)
	}

	recorder := service.NewRecorder(chain,
		service.WithAlgorithm(alg),
		service.WithLogger(log),
		service.WithMetrics(metrics.New()),
		service.WithNotifier(notifier),
	)

	router := chi.NewRouter()
	router.Use(correlation.Middleware)
	router.Use(metadata.ClientMetadata)
	handler.New(recorder, log).Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httpserver.New(cfg.Addr, router)
	log.Info("starting custodia", "addr", cfg.Addr, "algorithm", alg)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		log.Error("server error", "error", err)
		os.Exit(1)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}
