// Package telemetry sets up OpenTelemetry tracing and metrics export.
//
// Telemetry is off by default. When enabled, New installs global tracer
// and meter providers that export over OTLP (gRPC or HTTP), so packages
// that call otel.Tracer or otel.Meter pick them up without extra wiring.
// Exporter failures never stop the daemon; the instance reports itself
// degraded instead.
package telemetry
