// Package telemetry provides logging, tracing and metrics for typewatch.
//
// Logging uses zerolog with a console writer by default. Tracing uses
// OpenTelemetry with an OTLP gRPC or stdout exporter; one span covers each
// install or uninstall batch and a child span covers each package-manager
// command. Metrics are Prometheus counters and histograms served by
// Metrics.Serve when enabled.
//
// Every recorder is nil-safe, so components can be built without telemetry:
//
//	var m *telemetry.Metrics
//	m.RecordCommand("install", "succeeded", time.Second) // no-op
//
// Typical setup:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Long-running components take their logger from the context they run with:
//
//	ctx = tel.WithContext(ctx)
//	logger := telemetry.FromContext(ctx).NewComponentLogger("queue")
package telemetry
