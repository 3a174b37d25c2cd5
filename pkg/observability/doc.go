// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Structured Logging
//
// Loggers are logrus loggers:
//
//	logger := observability.NewLogger(observability.ParseLogLevel("debug"), observability.JSONFormat, nil)
//	logger.WithFields(observability.PluginFields("perf", "tick")).Warn("slow tick")
//
// Components that accept an optional logger fall back to NopLogger.
//
// # Prometheus Metrics
//
// Metrics are registered against a caller-owned registry:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//	http.Handle("/metrics", observability.MetricsHandler(reg))
//
// Every Record method is safe to call on a nil *Metrics.
//
// # OpenTelemetry
//
// Stack construction, recomposition and stage transitions open spans on
// Tracer(). InitOTel installs OTLP gRPC exporters as the global providers:
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "plugstack",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// # Health Checks
//
// A HealthChecker aggregates named checks. An unhealthy critical check fails
// readiness, anything else only degrades it:
//
//	checker := observability.NewHealthChecker(version)
//	checker.AddCheck("instance-0", true, host.health)
//	observability.RegisterHealthRoutes(router, checker)
//
// # Panics
//
// Background goroutines defer RecoverPanic; goroutines that report an error
// convert the panic with MustRecover instead.
package observability
