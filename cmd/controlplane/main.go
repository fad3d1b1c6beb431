// Package main is the control plane's single-process entry point: it wires
// storage, the execution planner, the runner registry, the dispatch loop,
// the cron scheduler, and the HTTP/WebSocket API together and serves them
// until a shutdown signal arrives.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mergeci/controlplane/internal/artifactstore"
	"github.com/mergeci/controlplane/internal/config"
	"github.com/mergeci/controlplane/internal/dispatchloop"
	"github.com/mergeci/controlplane/internal/httpapi"
	"github.com/mergeci/controlplane/internal/logbus"
	"github.com/mergeci/controlplane/internal/logging"
	"github.com/mergeci/controlplane/internal/metrics"
	"github.com/mergeci/controlplane/internal/planner"
	"github.com/mergeci/controlplane/internal/runnerregistry"
	"github.com/mergeci/controlplane/internal/runnersession"
	"github.com/mergeci/controlplane/internal/schedule"
	"github.com/mergeci/controlplane/internal/secretbox"
	"github.com/mergeci/controlplane/internal/store"
)

func main() {
	ctx := context.Background()
	cfg := config.Load()
	logger := logging.NewFromEnv("controlplane")

	if cfg.SecretEncryptionKey == "" {
		log.Fatalf("CRITICAL: SECRET_ENCRYPTION_KEY is required")
	}
	if cfg.JWTSigningKey == "" {
		log.Fatalf("CRITICAL: JWT_SIGNING_KEY is required")
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer st.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("parse REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("connect to redis: %v", err)
	}

	artifactDir := config.GetEnv("ARTIFACT_STORAGE_DIR", "./data/artifacts")
	artifacts, err := artifactstore.NewLocal(artifactDir)
	if err != nil {
		log.Fatalf("init artifact store: %v", err)
	}

	secrets := secretbox.New([]byte(cfg.SecretEncryptionKey))
	bus := logbus.New(rdb, st)
	pl := planner.New(st)

	// Registry and Hub are mutually dependent: Registry.Dispatch calls into
	// the Hub's live session, and the Hub hands terminal job updates back to
	// the Registry. Construct Registry with a nil sender, build the Hub
	// against it, then close the loop with SetDispatch.
	registry := runnerregistry.New(st, nil)
	hub := runnersession.NewHub(st, registry, pl, secrets, bus)
	registry.SetDispatch(hub.Send)

	if err := registry.Hydrate(ctx, ""); err != nil {
		log.Fatalf("hydrate runner registry: %v", err)
	}

	if metrics.Enabled() {
		metrics.Init("controlplane")
	}

	loop := dispatchloop.New(st, pl, registry)
	scheduler := schedule.New(st, pl)

	srv := httpapi.New(cfg, st, registry, pl, bus, hub, secrets, artifacts)
	router := srv.Router(30 * time.Second)

	handler := router
	if metrics.Enabled() {
		handler = withMetricsEndpoint(router)
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // WebSocket routes are long-lived; bounded elsewhere.
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go loop.Run(runCtx, 2*time.Second)
	go registry.RunHeartbeatSweep(runCtx, cfg.RunnerHeartbeatInterval, int(cfg.RunnerOfflineThreshold.Seconds()))
	go scheduler.Run(runCtx, time.Minute)

	go func() {
		logger.WithFields(map[string]interface{}{"addr": cfg.HTTPAddr}).Info("controlplane starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("graceful shutdown error")
	}
}

// withMetricsEndpoint layers /metrics onto an already-built handler without
// threading a mux.Router reference through httpapi's package boundary.
func withMetricsEndpoint(next http.Handler) http.Handler {
	metricsHandler := promhttp.Handler()
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler)
	mux.Handle("/", next)
	return mux
}
