package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/duckmesh/duckmesh-source/internal/api"
	"github.com/duckmesh/duckmesh-source/internal/auth"
	"github.com/duckmesh/duckmesh-source/internal/config"
	"github.com/duckmesh/duckmesh-source/internal/connector"
	"github.com/duckmesh/duckmesh-source/internal/observability"
)

func main() {
	cfg, err := config.LoadFromEnvFiles("duckmesh-source-api", ".env")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	loader, err := connector.NewDescriptorLoader(cfg)
	if err != nil {
		logger.Error("failed to initialize descriptor loader", slog.Any("error", err))
		os.Exit(1)
	}
	source := connector.New(cfg, loader, logger)

	deps := api.Dependencies{
		Logger:           logger,
		Connector:        source,
		Readiness:        api.CheckEngine(source),
		DependencyTimout: 5 * time.Second,
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

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting source api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.Int("batch_size", cfg.Source.BatchSize),
			slog.String("stream_failure_policy", string(cfg.Source.StreamFailurePolicy)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		logger.Info("shutting down source api server")
		if err := server.Shutdown(shutdownCtx); err != nil {
			_ = server.Close()
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Error("api server failed", slog.Any("error", err))
		os.Exit(1)
	}
}
