package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/gqlguard/internal/config"
	"github.com/vyrodovalexey/gqlguard/internal/gateway"
	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

const (
	reloadResultSuccess = "success"
	reloadResultFailure = "failure"
)

// reloadMetrics holds Prometheus metrics for configuration reloads.
type reloadMetrics struct {
	configReloadTotal       *prometheus.CounterVec
	configReloadDuration    prometheus.Histogram
	configReloadLastSuccess prometheus.Gauge
	configWatcherStatus     prometheus.Gauge
}

// newReloadMetrics creates reload metrics and registers them with reg.
func newReloadMetrics(reg prometheus.Registerer) *reloadMetrics {
	rm := &reloadMetrics{
		configReloadTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gqlguard",
				Name:      "config_reload_total",
				Help:      "Total number of configuration reloads",
			},
			[]string{"result"},
		),
		configReloadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "gqlguard",
				Name:      "config_reload_duration_seconds",
				Help:      "Duration of configuration reload operations",
				Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1},
			},
		),
		configReloadLastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gqlguard",
				Name:      "config_reload_last_success_timestamp",
				Help:      "Timestamp of last successful config reload",
			},
		),
		configWatcherStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gqlguard",
				Name:      "config_watcher_running",
				Help:      "Whether the config file watcher is running (1=running, 0=stopped)",
			},
		),
	}

	for _, c := range []prometheus.Collector{
		rm.configReloadTotal,
		rm.configReloadDuration,
		rm.configReloadLastSuccess,
		rm.configWatcherStatus,
	} {
		_ = reg.Register(c)
	}
	for _, result := range []string{reloadResultSuccess, reloadResultFailure} {
		rm.configReloadTotal.WithLabelValues(result)
	}

	return rm
}

// startConfigWatcher starts watching the config file and everything it
// references. A watcher that cannot start is logged and the gateway keeps
// serving its current configuration.
func startConfigWatcher(
	ctx context.Context,
	app *application,
	configPath string,
	logger observability.Logger,
) *config.Watcher {
	rm := app.reloadMetrics

	watcher, err := config.NewWatcher(configPath, func(newCfg *config.GuardConfig) {
		logger.Info("configuration changed, reloading")
		reloadConfig(app, newCfg, logger)
	},
		config.WithLogger(logger),
		config.WithErrorCallback(func(error) {
			rm.configReloadTotal.WithLabelValues(reloadResultFailure).Inc()
		}),
	)
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		rm.configWatcherStatus.Set(0)
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
		rm.configWatcherStatus.Set(0)
		return nil
	}

	rm.configWatcherStatus.Set(1)
	return watcher
}

// reloadConfig rebuilds the analyzers and cache for newCfg and swaps them
// into the running gateway. On any failure the previous configuration stays
// in effect.
func reloadConfig(app *application, newCfg *config.GuardConfig, logger observability.Logger) bool {
	rm := app.reloadMetrics
	start := time.Now()
	defer func() {
		rm.configReloadDuration.Observe(time.Since(start).Seconds())
	}()

	bundle, err := gateway.BuildBundle(newCfg, logger)
	if err != nil {
		logger.Error("failed to build analyzers, keeping previous configuration",
			observability.Error(err))
		rm.configReloadTotal.WithLabelValues(reloadResultFailure).Inc()
		return false
	}

	if err := app.gateway.Reload(newCfg, bundle); err != nil {
		_ = bundle.Close()
		logger.Error("failed to apply configuration, keeping previous configuration",
			observability.Error(err))
		rm.configReloadTotal.WithLabelValues(reloadResultFailure).Inc()
		return false
	}

	app.config = newCfg
	rm.configReloadTotal.WithLabelValues(reloadResultSuccess).Inc()
	rm.configReloadLastSuccess.SetToCurrentTime()

	logger.Info("configuration reloaded",
		observability.Int("routes", len(newCfg.Spec.Routes)),
		observability.Int("upstreams", len(newCfg.Spec.Upstreams)),
		observability.Int("maxDepth", newCfg.Spec.Limits.MaxDepth),
		observability.Int64("maxCost", newCfg.Spec.Limits.MaxCost),
	)
	return true
}
