// Package observability provides monitoring and debugging capabilities for
// asky through metrics, structured logging, and distributed tracing.
//
// The package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured slog output with sensitive data redaction
//  3. Tracing - Request tracing with OpenTelemetry
//
// On top of those, a per-turn Timeline records stage timings for the
// preload pipeline and engine loop, so a halted or slow turn can be
// explained from a single log line.
//
// Everything here degrades gracefully: with no collector endpoint the
// tracer is a no-op, and metrics registration is the only global side
// effect.
package observability
