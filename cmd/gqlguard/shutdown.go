package main

import (
	"context"
	"fmt"
	"time"

	"github.com/vyrodovalexey/gqlguard/internal/config"
	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

const shutdownTimeout = 30 * time.Second

// runGateway starts the gateway and the config watcher, then blocks until
// ctx is cancelled and shuts everything down.
func runGateway(ctx context.Context, app *application, configPath string, logger observability.Logger) error {
	if err := app.gateway.Start(ctx); err != nil {
		app.gateway.Close()
		_ = app.tracer.Shutdown(context.Background())
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	logger.Info("gqlguard started",
		observability.String("listen", app.gateway.PublicAddr()),
		observability.String("admin", app.gateway.AdminAddr()),
	)

	watcher := startConfigWatcher(ctx, app, configPath, logger)

	<-ctx.Done()
	logger.Info("received shutdown signal")

	shutdown(app, watcher, logger)
	return nil
}

// shutdown stops the watcher, drains the listeners and releases the
// analyzers, cache and tracer.
func shutdown(app *application, watcher *config.Watcher, logger observability.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Warn("failed to stop config watcher", observability.Error(err))
		}
		app.reloadMetrics.configWatcherStatus.Set(0)
	}

	if err := app.gateway.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop gateway gracefully", observability.Error(err))
	}
	app.gateway.Close()

	if err := app.tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	logger.Info("gqlguard stopped")
}
