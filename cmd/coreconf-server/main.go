// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Command coreconf-server runs a standalone CORECONF engine: it loads a
// YANG SID file (and an optional JSON seed), serves CoAP/UDP and
// CoAP-over-WebSocket clients against the resulting datastore, and
// exposes Prometheus metrics and an admin HTTP surface alongside it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/absmach/coreconf/pkg/config"
	"github.com/absmach/coreconf/pkg/datastore"
	"github.com/absmach/coreconf/pkg/handler"
	"github.com/absmach/coreconf/pkg/health"
	"github.com/absmach/coreconf/pkg/httpapi"
	"github.com/absmach/coreconf/pkg/metrics"
	"github.com/absmach/coreconf/pkg/persist"
	"github.com/absmach/coreconf/pkg/sid"
	"github.com/absmach/coreconf/pkg/transport/udp"
	"github.com/absmach/coreconf/pkg/transport/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting coreconf-server",
		slog.String("sid_file", cfg.SidFile),
		slog.String("coap_address", cfg.CoAPAddress),
		slog.String("ws_address", cfg.WSAddress))

	idx, err := sid.LoadFile(cfg.SidFile, sid.Options{})
	if err != nil {
		logger.Error("failed to load sid file", slog.String("error", err.Error()))
		os.Exit(1)
	}
	for _, w := range idx.Warnings() {
		logger.Warn("sid file warning", slog.String("error", w.Error()))
	}

	ds := datastore.New(idx)
	if cfg.SeedFile != "" {
		if err := seedFromFile(ds, cfg.SeedFile); err != nil {
			logger.Error("failed to load seed file", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	store, err := persist.Open(cfg.PersistPath, idx.Module())
	if err != nil {
		logger.Error("failed to open persistence store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()
	ds.WithPersistence(store)
	if err := ds.LoadPersisted(); err != nil {
		logger.Error("failed to restore persisted snapshot", slog.String("error", err.Error()))
		os.Exit(1)
	}

	m := metrics.New("coreconf")

	h, err := handler.New(ds, idx)
	if err != nil {
		logger.Error("failed to build request handler", slog.String("error", err.Error()))
		os.Exit(1)
	}
	h.WithMetrics(m)
	h.WithLogger(logger)
	if cfg.RateLimitEnabled {
		h.WithRateLimit(cfg.RateLimitCapacity, cfg.RateLimitRefill)
	}

	healthChecker := health.NewChecker(10 * time.Second)
	healthChecker.Register("goroutines", func(ctx context.Context) error {
		if n := runtime.NumGoroutine(); n > cfg.MaxGoroutines {
			return fmt.Errorf("goroutine count %d exceeds threshold %d", n, cfg.MaxGoroutines)
		}
		return nil
	})
	healthChecker.Register("datastore", func(ctx context.Context) error {
		m.DatastoreEntries.WithLabelValues().Set(float64(len(ds.Snapshot())))
		return nil
	})
	healthChecker.Register("persistence", func(ctx context.Context) error {
		_, err := store.Load()
		return err
	})

	admin := httpapi.New(ds)
	admin.Router.HandleFunc("/live", health.LivenessHandler())
	admin.Router.HandleFunc("/ready", healthChecker.ReadinessHandler())
	admin.Router.HandleFunc("/health", healthChecker.HTTPHandler())

	go startMetricsServer(cfg.MetricsPort, logger)
	go startAdminServer(cfg.HTTPPort, admin, logger)

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting CoAP/UDP listener", slog.String("address", cfg.CoAPAddress))
		return udp.Serve(ctx, cfg.CoAPAddress, h)
	})

	wsServer := &http.Server{
		Addr: cfg.WSAddress,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := ws.Serve(w, r, h); err != nil {
				logger.Debug("websocket connection closed", slog.String("error", err.Error()))
			}
		}),
	}
	g.Go(func() error {
		logger.Info("starting CoAP/WebSocket listener", slog.String("address", cfg.WSAddress))
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return wsServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ds.Flush()
			case <-ticker.C:
				if err := ds.Flush(); err != nil {
					logger.Warn("periodic snapshot flush failed", slog.String("error", err.Error()))
				}
			}
		}
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("context cancelled")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("shutdown error", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("graceful shutdown completed")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, forcing exit")
		os.Exit(1)
	}
}

func seedFromFile(ds *datastore.Datastore, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return err
	}
	return ds.Restore(tree)
}

// setupLogger creates a structured logger with the specified level and format.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(h)
}

// startMetricsServer starts the Prometheus metrics HTTP server.
func startMetricsServer(port int, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("starting metrics server", slog.String("address", addr))

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", slog.String("error", err.Error()))
	}
}

// startAdminServer starts the httpapi/health admin HTTP server.
func startAdminServer(port int, admin *httpapi.Server, logger *slog.Logger) {
	addr := fmt.Sprintf(":%d", port)
	logger.Info("starting admin server", slog.String("address", addr))

	srv := &http.Server{
		Addr:         addr,
		Handler:      admin,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("admin server error", slog.String("error", err.Error()))
	}
}
