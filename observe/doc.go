// Package observe provides observability primitives for resilience-guarded
// calls: OpenTelemetry tracing and metrics plus structured JSON logging.
//
// It is a pure instrumentation library: no execution, no transport, no I/O
// beyond exporter setup. The resilience manager and the connection-pool
// manager consume an Observer (or its Logger and Meter) to emit per-call
// spans, counters, and logs.
package observe
