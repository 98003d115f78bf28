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
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"campaign/internal/config"
	"campaign/internal/dispatch"
	"campaign/internal/httpserver"
	"campaign/internal/logging"
	"campaign/internal/observability"
	"campaign/internal/providers/resend"
	"campaign/internal/providers/twilio"
	"campaign/internal/store/pg"
)

func main() {
	_ = godotenv.Load() // optional; OS environment is the source of truth in deployment

	cfg := config.LoadDispatcher()
	logging.Init("dispatcher", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		slog.Error("dispatcher db connect failed", "err", err)
		os.Exit(1)
	}

	startupCtx, startupCancel := context.WithTimeout(ctx, 3*time.Second)
	defer startupCancel()
	if err := db.Ping(startupCtx); err != nil {
		slog.Error("db not reachable", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

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

	limiter := rate.NewLimiter(rate.Limit(cfg.ProviderRPSPerPod), cfg.ProviderBurst)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "providers",
		MaxRequests: 3,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 10 },
	})

	processor := &dispatch.Processor{
		Store:     pg.New(db),
		Email:     emailClient,
		Messenger: smsClient,
		Limiter:   limiter,
		Breaker:   cb,
		BatchSize: cfg.BatchSize,
	}

	s := httpserver.New()
	queueAPI := &httpserver.DispatchAPI{
		Runner: processor,
		Secret: cfg.QueueSecret,
	}
	queueAPI.Register(s.Mux)

	s.Mux.HandleFunc("/healthz", httpserver.Healthz())
	s.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, func(ctx context.Context) error {
		return db.Ping(ctx)
	}))
	s.Mux.Use(httpserver.Logging)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: s.Mux}
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: promhttp.Handler()}

	go func() {
		slog.Info("dispatcher metrics listening", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("dispatcher metrics server failed", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("dispatcher shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	slog.Info("dispatcher listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("dispatcher server failed", "err", err)
		os.Exit(1)
	}

	db.Close()
}
