// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ahmadmdm/pos/possync"
)

func main() {
	cfg := loadConfig()

	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "your-secret-key-change-in-production"
		logger.Warn("Using default JWT secret - change in production!")
	}

	ctx := context.Background()
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Invalid database URL: %v", err)
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "pos-sync"
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.Fatalf("Failed to create connection pool: %v", err)
	}
	defer pool.Close()

	service, err := possync.NewSyncService(pool, &possync.ServiceConfig{
		AppName:          "pos-sync",
		RetryCeiling:     cfg.RetryCeiling,
		RetryInterval:    cfg.RetryInterval,
		RetryBatch:       cfg.RetryBatch,
		StalledClaimAge:  cfg.StalledClaimAge,
		RetentionHorizon: cfg.RetentionHorizon,
		MaxBatchSize:     cfg.MaxBatchSize,
		MaxPayloadBytes:  cfg.MaxPayloadBytes,
		SnapshotLimit:    cfg.SnapshotLimit,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to create sync service: %v", err)
	}
	defer service.Close()

	service.AddObserver(possync.NewSessionTotalsObserver(pool, logger))

	scheduler := possync.NewScheduler(service, logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	jwtAuth := possync.NewJWTAuth(jwtSecret)
	handlers := possync.NewHTTPSyncHandlers(service, jwtAuth, logger)

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux)

	// The JWT middleware validates the token once per request and places the
	// identity in the request context; /health stays reachable for probes.
	root := http.NewServeMux()
	root.HandleFunc("/health", handlers.HandleHealth)
	root.Handle("/", jwtAuth.Middleware(mux))

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      root,
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting POS sync server", "addr", httpServer.Addr)
		logger.Info("Endpoints:")
		logger.Info("  POST /sync/batch             - Submit offline documents")
		logger.Info("  GET  /sync/snapshot          - Pull master data delta")
		logger.Info("  GET  /sync/conflicts         - List conflicts")
		logger.Info("  POST /sync/conflicts/resolve - Resolve a conflict")
		logger.Info("  GET  /sync/status            - Ledger status counts")
		logger.Info("  GET  /sync/history           - Recent sync records")
		logger.Info("  POST /sessions/open          - Open a cash session")
		logger.Info("  POST /sessions/close         - Close a cash session")
		logger.Info("  POST /invoices/void          - Void a submitted invoice")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	logger.Info("Server exited")
}
