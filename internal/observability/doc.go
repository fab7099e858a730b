// Package observability provides structured logging and distributed tracing
// for gqlguard.
//
// Logging is exposed through the Logger interface backed by zap:
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = logger.Sync() }()
//
//	logger.Info("operation admitted",
//	    observability.String("operation", "GetUser"),
//	    observability.Int("depth", 3),
//	)
//
// Tracing is configured once per process through NewTracer, which installs
// an OpenTelemetry TracerProvider exporting over OTLP/gRPC when an endpoint
// is configured.
package observability
