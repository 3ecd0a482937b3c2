// Command reconciler accepts write intents over HTTP, drives them through the
// ledger and keeps the projection store and the caller's eligibility views in
// step with what the ledger settled.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/di"
	"github.com/yugo-dao/yugo-sync/pkg/config"
	"github.com/yugo-dao/yugo-sync/pkg/logger"
	"github.com/yugo-dao/yugo-sync/pkg/telemetry"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: cfg.App.Name,
		Development: cfg.IsDevelopment(),
		OutputPath:  "stdout",
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.Get()
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("reconciler stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	container, err := di.NewContainer(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer container.Close(context.Background())

	if err := container.Start(ctx); err != nil {
		return fmt.Errorf("failed to start projection refresher: %w", err)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      container.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown failed", zap.Error(err))
	}
	return nil
}
