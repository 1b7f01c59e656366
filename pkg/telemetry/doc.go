// Package telemetry provides observability instrumentation for Stratus.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), Prometheus metrics and a lifecycle event stream into one
// system for monitoring the orchestration engine.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "stratus"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Structured Logging
//
// The logger provides component-specific logging with field helpers for
// the identifiers that matter during an order's life:
//
//	logger := tel.Logger.NewComponentLogger("orchestrator")
//	logger = logger.WithServiceID(serviceID).WithOrderID(orderID)
//	logger.Info("order admitted")
//	logger.WithError(err).Error("callback rejected")
//
// Log levels: trace, debug, info, warn, error, fatal.
//
// # Distributed Tracing
//
// Spans cover order admission, callback ingestion and provider calls:
//
//	ctx, span := tel.Tracer.StartOrderSpan(ctx, "deploy", serviceID, orderID)
//	defer span.End()
//
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	} else {
//	    telemetry.RecordSuccess(span)
//	}
//
// Exporters: otlp (gRPC), stdout (debugging), none.
//
// # Metrics
//
// Prometheus metrics track order throughput, callback outcomes, power
// actions and provider latency:
//
//	tel.Metrics.RecordOrderAdmitted("deploy")
//	tel.Metrics.RecordOrderCompleted("deploy", "successful", duration)
//	tel.Metrics.RecordCallback("deploy", telemetry.CallbackApplied)
//
// Metrics are exposed on a dedicated HTTP endpoint, /metrics by default.
//
// # Events
//
// The event publisher fans order lifecycle events out to subscribers,
// optionally filtered by level, type or service:
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("[%s] %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
package telemetry
