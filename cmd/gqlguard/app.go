package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/gqlguard/internal/config"
	"github.com/vyrodovalexey/gqlguard/internal/gateway"
	"github.com/vyrodovalexey/gqlguard/internal/graphql/metrics"
	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

// registry pairs where metrics are registered with what the admin
// listener exposes.
type registry struct {
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
}

func defaultRegistry() registry {
	return registry{registerer: prometheus.DefaultRegisterer, gatherer: prometheus.DefaultGatherer}
}

// application holds all application components.
type application struct {
	gateway       *gateway.Gateway
	tracer        *observability.Tracer
	config        *config.GuardConfig
	reloadMetrics *reloadMetrics
}

// initApplication builds the analyzers, the result cache and the gateway
// for cfg.
func initApplication(
	ctx context.Context,
	cfg *config.GuardConfig,
	logger observability.Logger,
	reg registry,
) (*application, error) {
	metrics.InitMetrics(reg.registerer)
	m := metrics.GetMetrics()
	m.InitVecMetrics()

	tracer, err := initTracer(ctx, cfg)
	if err != nil {
		return nil, err
	}

	bundle, err := gateway.BuildBundle(cfg, logger)
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, err
	}

	gw, err := gateway.New(cfg, bundle,
		gateway.WithLogger(logger),
		gateway.WithMetrics(m),
		gateway.WithGatherer(reg.gatherer),
		gateway.WithTracer(tracer),
		gateway.WithVersion(version),
	)
	if err != nil {
		_ = bundle.Close()
		_ = tracer.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	return &application{
		gateway:       gw,
		tracer:        tracer,
		config:        cfg,
		reloadMetrics: newReloadMetrics(reg.registerer),
	}, nil
}

// initTracer initializes the tracer from the observability section.
func initTracer(ctx context.Context, cfg *config.GuardConfig) (*observability.Tracer, error) {
	tracerCfg := observability.TracerConfig{
		ServiceName:    config.DefaultServiceName,
		ServiceVersion: version,
		SamplingRate:   1.0,
	}

	if cfg.Spec.Observability != nil && cfg.Spec.Observability.Tracing != nil {
		t := cfg.Spec.Observability.Tracing
		tracerCfg.Enabled = t.Enabled
		tracerCfg.SamplingRate = t.SamplingRate
		tracerCfg.OTLPEndpoint = t.OTLPEndpoint
		if t.ServiceName != "" {
			tracerCfg.ServiceName = t.ServiceName
		}
	}

	tracer, err := observability.NewTracer(ctx, tracerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	return tracer, nil
}
