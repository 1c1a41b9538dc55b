// Package observability provides structured logging, Prometheus metrics, health
// checks and OpenTelemetry tracing for the identity bridge.
//
// # Structured Logging
//
// One slog-backed JSON logger is shared by every component:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithComponent("resolver").WithField("state", "rejected").Info("token resolution finished")
//
// Request-scoped logging picks up the request and account IDs:
//
//	observability.FromContext(r.Context(), logger).Warn("mapping touch failed")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveResolution("provider", "resolved", "", time.Since(start))
//
// All helpers tolerate a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.AddCheck("identity_provider", keySet.Ping, false)
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "cohort",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// Spans are started with observability.Tracer(), which is a no-op until InitOTel runs.
package observability
