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

	"campaign/internal/analytics"
	"campaign/internal/config"
	"campaign/internal/execution"
	"campaign/internal/httpserver"
	"campaign/internal/logging"
	"campaign/internal/observability"
	"campaign/internal/providers/resend"
	"campaign/internal/providers/twilio"
	"campaign/internal/store/pg"
	"campaign/internal/util"
)

func main() {
	_ = godotenv.Load() // optional; OS environment is the source of truth in deployment

	cfg := config.LoadAPI()
	logging.Init("api", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		slog.Error("api db connect failed", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	dbStore := pg.New(db)

	executor := &execution.Executor{
		Store:       dbStore,
		IDGen:       util.NewSendID,
		TestModeCap: cfg.TestAudienceCap,
		AudienceCap: cfg.AudienceCap,
	}
	aggregator := &analytics.Aggregator{Store: dbStore}

	emailClient := &resend.Client{
		APIKey:  cfg.ResendAPIKey,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		From:    cfg.ResendFrom,
		BaseURL: cfg.ResendBaseURL,
	}
	smsClient := &twilio.Client{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		HTTP:       &http.Client{Timeout: 10 * time.Second},
		FromNumber: cfg.TwilioFromNumber,
		BaseURL:    cfg.TwilioBaseURL,
	}

	s := httpserver.New()
	api := &httpserver.API{
		Exec:      executor,
		Analytics: aggregator,
		Sends:     dbStore,
		Email:     emailClient,
		Messenger: smsClient,
	}
	api.Register(s.Mux)

	s.Mux.HandleFunc("/healthz", httpserver.Healthz())
	s.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, func(ctx context.Context) error {
		return db.Ping(ctx)
	}))
	s.Mux.Use(httpserver.Logging, httpserver.Metrics(observability.APIRequests))

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: s.Mux}
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: promhttp.Handler()}

	go func() {
		slog.Info("api metrics listening", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api metrics server failed", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("api shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	slog.Info("api listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("api server failed", "err", err)
		os.Exit(1)
	}

	db.Close()
}
