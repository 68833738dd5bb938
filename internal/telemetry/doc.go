// Package telemetry provides OpenTelemetry instrumentation for codetective.
//
// # Overview
//
// This package implements distributed tracing and metrics collection using the
// OpenTelemetry Go SDK. It exports telemetry data over OTLP to a collector,
// selecting the gRPC or HTTP exporter from configuration.
//
// # Usage
//
// Create a telemetry instance from the application configuration:
//
//	tel, err := telemetry.New(ctx, cfg.Telemetry, version.Version)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(ctx)
//
// Use tracer and meter:
//
//	tracer := tel.Tracer("codetective/orchestrator")
//	ctx, span := tracer.Start(ctx, "codetective.scan")
//	defer span.End()
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc
//	  insecure: true
//
// # Error Handling
//
// Telemetry failures do not crash the application. If an exporter cannot be
// initialized, the instance degrades gracefully and hands out no-op providers.
//
// # Testing
//
// Use TestTelemetry for tests:
//
//	tt := telemetry.NewTestTelemetry()
//	tracer := tt.Tracer("test")
//	_, span := tracer.Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
