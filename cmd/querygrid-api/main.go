package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duckmesh/querygrid/internal/api"
	"github.com/duckmesh/querygrid/internal/auth"
	"github.com/duckmesh/querygrid/internal/config"
	"github.com/duckmesh/querygrid/internal/connections"
	"github.com/duckmesh/querygrid/internal/observability"
	"github.com/duckmesh/querygrid/internal/query"
)

func main() {
	cfg, err := config.LoadFromEnv("querygrid-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	specs, err := connections.LoadFile(cfg.Connections.File)
	if err != nil {
		logger.Error("failed to load connections", slog.String("file", cfg.Connections.File), slog.Any("error", err))
		os.Exit(1)
	}
	registry, err := connections.Build(specs, connections.OptionsFromConfig(cfg))
	if err != nil {
		logger.Error("failed to build connections", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = registry.Close() }()
	for _, conn := range registry.List() {
		logger.Info("connection registered",
			slog.String("connection", conn.Name),
			slog.String("dialect", conn.Dialect),
			slog.String("kind", string(conn.Adapter.Kind())),
		)
	}

	service := query.NewService(registry, logger)
	deps := api.Dependencies{
		Logger:            logger,
		Queries:           service,
		Readiness:         api.CheckConnectionsLoaded(service),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
