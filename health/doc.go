// Package health provides health checking primitives for guarded dependencies.
//
// This package implements a generic health checking framework for monitoring
// the components of a resilience layer: connection pools, guarded services,
// and the Go runtime itself. It provides interfaces for defining health
// checks, aggregating results from multiple checkers, and exposing health
// status via HTTP endpoints.
//
// # Core Concepts
//
// A Checker is any component that can report its health status. The Status
// type represents the health state: Healthy, Degraded, Unhealthy, or Unknown
// for components that have not been probed yet. When statuses are aggregated
// the worst one wins, with Unknown ranked between Healthy and Degraded.
//
// # Basic Usage
//
//	// Create a runtime checker
//	rtCheck := health.NewRuntimeChecker(health.RuntimeCheckerConfig{
//	    GoroutineWarning: 5000,
//	    HeapWarning:      0.80,
//	})
//
//	// Check health
//	result := rtCheck.Check(ctx)
//	if result.Status == health.StatusUnhealthy {
//	    log.Printf("Runtime critical: %s", result.Message)
//	}
//
// # Aggregating Health Checks
//
// Use Aggregator to combine multiple health checks into a single composite check:
//
//	agg := health.NewAggregator()
//	agg.Register("runtime", rtChecker)
//	agg.Register("database", dbChecker)
//	agg.Register("cache", cacheChecker)
//
//	// Check all components
//	results := agg.CheckAll(ctx)
//	overall := agg.OverallStatus(results)
//
// # HTTP Endpoints
//
// The package provides HTTP handlers for common health check patterns:
//
//	// Liveness probe (for Kubernetes)
//	http.Handle("/healthz", health.LivenessHandler())
//
//	// Readiness probe with component checks
//	http.Handle("/readyz", health.ReadinessHandler(aggregator))
//
//	// Detailed health status
//	http.Handle("/health", health.DetailedHandler(aggregator))
//
// Readiness treats Unknown as not ready: a component that has never been
// probed reports 503 until its first successful check.
package health
