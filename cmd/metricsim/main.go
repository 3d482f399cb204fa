package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// simulator serves the metric shape the ingest daemon polls: a response
// time sample and an error rate that occasionally spikes past 0.5.
type simulator struct {
	mu     sync.Mutex
	random *rand.Rand
}

func (s *simulator) sample() (int, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	responseTime := 50 + s.random.Intn(451)
	errorRate := s.random.Float64() * 0.4
	if s.random.Float64() < 0.2 {
		errorRate = 0.5 + s.random.Float64()*0.5
	}
	return responseTime, math.Round(errorRate*100) / 100
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	port := getenv("PORT", "5001")
	sim := &simulator{random: rand.New(rand.NewSource(time.Now().UnixNano()))}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		responseTime, errorRate := sim.sample()
		writeJSON(w, map[string]any{
			"timestamp":        time.Now().Unix(),
			"response_time_ms": responseTime,
			"error_rate":       errorRate,
		})
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status": "healthy"})
	})

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
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	logger.Info("metricsim listening", slog.String("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.String("error", err.Error()))
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func getenv(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
