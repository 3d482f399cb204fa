package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BKBLABS/monitoring-platform/internal/config"
	"github.com/BKBLABS/monitoring-platform/internal/ingest"
	"github.com/BKBLABS/monitoring-platform/internal/metricstore"
	"github.com/BKBLABS/monitoring-platform/internal/zabbix"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	port := getenv("PORT", "8081")

	store, err := metricstore.NewStore(metricstore.Config{
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
	defer store.Close()

	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 30*time.Second)
	if err := store.EnsureSchema(schemaCtx); err != nil {
		cancelSchema()
		logger.Error("failed to ensure metric schema", slog.String("error", err.Error()))
		os.Exit(1)
	}
	cancelSchema()

	appClient := ingest.NewAppClient(
		cfg.AppSource.APIURL,
		cfg.AppSource.MetricsEndpoint,
		cfg.AppSource.HealthEndpoint,
		cfg.AppSource.Timeout(),
	)
	zabbixClient := zabbix.NewClient(cfg.Zabbix.URL, cfg.Zabbix.Username, cfg.Zabbix.Password, cfg.Zabbix.Timeout())

	appPoller := &ingest.AppPoller{
		Client:   appClient,
		Store:    store,
		Interval: cfg.AppSource.PollInterval(),
		Logger:   logger,
	}
	itemPoller := &ingest.ItemPoller{
		Source:   zabbixClient,
		Store:    store,
		HostID:   cfg.Zabbix.HostID,
		Interval: cfg.Zabbix.PollInterval(),
		Logger:   logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go appPoller.Run(ctx)
	go itemPoller.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		probeCtx, cancelProbe := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancelProbe()
		appStatus := appPoller.Status()
		itemStatus := itemPoller.Status()
		status := "ok"
		if appStatus.LastError != "" || itemStatus.LastError != "" {
			status = "degraded"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      status,
			"app_poller":  appStatus,
			"item_poller": itemStatus,
			"source":      appClient.Health(probeCtx),
		})
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		cancel()
		logoutCtx, cancelLogout := context.WithTimeout(context.Background(), 5*time.Second)
		if err := zabbixClient.Logout(logoutCtx); err != nil {
			logger.Warn("zabbix logout failed", slog.String("error", err.Error()))
		}
		cancelLogout()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("ingestd listening",
		slog.String("port", port),
		slog.String("app_source", cfg.AppSource.APIURL),
		slog.String("zabbix_host_id", cfg.Zabbix.HostID))
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
