package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"campaign/internal/awsutil"
	"campaign/internal/config"
	"campaign/internal/httpserver"
	"campaign/internal/logging"
	"campaign/internal/observability"
	"campaign/internal/providers/twilio"
	sqsqueue "campaign/internal/queue/sqs"
	"campaign/internal/store/pg"
)

func main() {
	_ = godotenv.Load() // optional; OS environment is the source of truth in deployment

	cfg := config.LoadWebhook()
	logging.Init("webhook", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		slog.Error("webhook db connect failed", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	// Twilio status callbacks are buffered through SQS when a queue is
	// configured; burst traffic then lands on the webhook-processor
	// instead of the ledger.
	var events httpserver.EventBuffer
	if cfg.WebhookEventsQueueURL != "" {
		sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
		if err != nil {
			slog.Error("webhook sqs client init failed", "err", err)
			os.Exit(1)
		}
		events = &sqsqueue.Producer{SQS: sqsClient, QueueURL: cfg.WebhookEventsQueueURL}
	}

	s := httpserver.New()
	wh := &httpserver.Webhook{
		Store:                 pg.New(db),
		ResendSecret:          cfg.ResendWebhookSecret,
		VerifyTwilioSignature: twilio.VerifySignature,
		TwilioAuthToken:       cfg.TwilioAuthToken,
		PublicURL:             cfg.PublicWebhookURL,
		Events:                events,
	}
	wh.Register(s.Mux)

	s.Mux.HandleFunc("/healthz", httpserver.Healthz())
	s.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, func(ctx context.Context) error {
		return db.Ping(ctx)
	}))
	s.Mux.Use(httpserver.Logging)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: s.Mux}
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: promhttp.Handler()}

	go func() {
		slog.Info("webhook metrics listening", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("webhook metrics server failed", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("webhook shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	slog.Info("webhook listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("webhook server failed", "err", err)
		os.Exit(1)
	}

	db.Close()
}
