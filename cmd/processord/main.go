package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BKBLABS/monitoring-platform/internal/api"
	"github.com/BKBLABS/monitoring-platform/internal/bus"
	"github.com/BKBLABS/monitoring-platform/internal/config"
	"github.com/BKBLABS/monitoring-platform/internal/metricstore"
	"github.com/BKBLABS/monitoring-platform/internal/notify"
	"github.com/BKBLABS/monitoring-platform/internal/pipeline"
	"github.com/BKBLABS/monitoring-platform/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	port := getenv("PORT", "8080")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewStore(ctx, cfg.StateDB.URL)
	if err != nil {
		logger.Error("failed to connect to state db", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()
	repo := storage.NewRepository(store)

	metrics, err := metricstore.NewStore(metricstore.Config{
		Type:     cfg.MetricDB.Type,
		Host:     cfg.MetricDB.Host,
		Port:     cfg.MetricDB.Port,
		User:     cfg.MetricDB.Username,
		Password: cfg.MetricDB.Password,
		Database: cfg.MetricDB.Database,
	})
	if err != nil {
		logger.Error("failed to open metric store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer metrics.Close()
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if err := metrics.Ping(pingCtx); err != nil {
		cancelPing()
		logger.Error("failed to reach metric store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	cancelPing()

	var publisher *bus.Publisher
	if cfg.Bus.URL != "" {
		publisher, err = bus.NewPublisher(cfg.Bus.URL)
		if err != nil {
			logger.Error("failed to connect to nats", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer publisher.Close()
	}

	router := &notify.Router{
		Recipient: strings.Join(cfg.Alerting.ToEmails, ","),
		Logger:    logger,
	}
	if cfg.Alerting.EmailEnabled() {
		router.Email = &notify.Email{
			Server:   cfg.Alerting.SMTPServer,
			Port:     cfg.Alerting.SMTPPort,
			Username: cfg.Alerting.SMTPUser,
			Password: cfg.Alerting.SMTPPassword,
			From:     cfg.Alerting.FromEmail,
			To:       cfg.Alerting.ToEmails,
			UseTLS:   cfg.Alerting.UseTLS,
			Timeout:  cfg.Alerting.Timeout(),
		}
	}
	if cfg.Alerting.WebhookURL != "" {
		router.Webhook = &notify.Webhook{URL: cfg.Alerting.WebhookURL, Timeout: cfg.Alerting.Timeout()}
	}
	if publisher != nil {
		router.Publisher = publisher
	}

	rules := cfg.RuleSet()
	dispatcher := pipeline.NewDispatcher(repo, router, cfg.Pipeline.Suppression(), cfg.Pipeline.MaxDeliveryAttempts, logger)
	orch := &pipeline.Orchestrator{
		Source:        metricstore.NewSource(metrics),
		Watermarks:    repo,
		Dispatcher:    dispatcher,
		Rules:         rules,
		WindowSeconds: cfg.Pipeline.CorrelationWindowSeconds,
		Lookback:      cfg.Pipeline.Lookback(),
		CallTimeout:   cfg.Pipeline.CallTimeout(),
		Logger:        logger,
	}
	if publisher != nil {
		orch.Publisher = publisher
	}

	go orch.Run(ctx, cfg.Pipeline.CycleInterval())

	handler := &api.Handler{
		Runner:     orch,
		Alerts:     repo,
		Watermarks: repo,
		Deliveries: repo,
		Pinger:     store,
		Rules:      rules,
		Timeout:    cfg.Pipeline.CallTimeout(),
		StartedAt:  time.Now().UTC(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		cancel()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("processord listening",
		slog.String("port", port),
		slog.Int("rules", len(rules)),
		slog.Int("cycle_interval_seconds", cfg.Pipeline.CycleIntervalSeconds),
		slog.Int("window_seconds", cfg.Pipeline.CorrelationWindowSeconds))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.String("error", err.Error()))
	}
}

func getenv(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
