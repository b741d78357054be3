package health

import (
	"context"
	"fmt"
	"runtime"
)

// RuntimeCheckerConfig configures the Go runtime health checker.
type RuntimeCheckerConfig struct {
	// GoroutineWarning is the goroutine count that triggers degraded status.
	// Default: 5000
	GoroutineWarning int

	// GoroutineCritical is the goroutine count that triggers unhealthy status.
	// Default: 20000
	GoroutineCritical int

	// HeapWarning is the fraction of the heap ceiling in use that triggers
	// degraded status. Value should be between 0 and 1. Default: 0.8 (80%)
	HeapWarning float64

	// HeapCritical is the fraction of the heap ceiling in use that triggers
	// unhealthy status. Value should be between 0 and 1. Default: 0.95 (95%)
	HeapCritical float64

	// MaxHeap is the heap ceiling in bytes.
	// If zero, uses the heap memory obtained from the OS.
	// Default: 0 (auto-detect)
	MaxHeap uint64
}

// RuntimeChecker checks goroutine count and heap usage.
type RuntimeChecker struct {
	config RuntimeCheckerConfig
}

// NewRuntimeChecker creates a new runtime health checker.
func NewRuntimeChecker(config RuntimeCheckerConfig) *RuntimeChecker {
	if config.GoroutineWarning <= 0 {
		config.GoroutineWarning = 5000
	}
	if config.GoroutineCritical <= config.GoroutineWarning {
		config.GoroutineCritical = 4 * config.GoroutineWarning
	}
	if config.HeapWarning <= 0 || config.HeapWarning >= 1 {
		config.HeapWarning = 0.8
	}
	if config.HeapCritical <= config.HeapWarning || config.HeapCritical >= 1 {
		config.HeapCritical = 0.95
		if config.HeapCritical <= config.HeapWarning {
			config.HeapCritical = (config.HeapWarning + 1) / 2
		}
	}

	return &RuntimeChecker{config: config}
}

// Name returns the name of this checker.
func (r *RuntimeChecker) Name() string {
	return "runtime"
}

// Check performs the runtime health check.
// The worse of the goroutine and heap verdicts wins.
func (r *RuntimeChecker) Check(ctx context.Context) Result {
	// Check context first
	select {
	case <-ctx.Done():
		return Unhealthy("context cancelled", ctx.Err())
	default:
	}

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	goroutines := runtime.NumGoroutine()

	maxHeap := r.config.MaxHeap
	if maxHeap == 0 {
		maxHeap = stats.HeapSys
	}

	var heapRatio float64
	if maxHeap > 0 {
		heapRatio = float64(stats.HeapAlloc) / float64(maxHeap)
	}

	details := map[string]any{
		"goroutines":     goroutines,
		"heap_alloc":     stats.HeapAlloc,
		"heap_alloc_mb":  float64(stats.HeapAlloc) / (1024 * 1024),
		"heap_sys":       stats.HeapSys,
		"heap_in_use":    stats.HeapInuse,
		"heap_objects":   stats.HeapObjects,
		"max_heap":       maxHeap,
		"heap_percent":   heapRatio * 100,
		"stack_in_use":   stats.StackInuse,
		"gc_pause_total": stats.PauseTotalNs,
		"num_gc":         stats.NumGC,
	}

	switch {
	case goroutines >= r.config.GoroutineCritical:
		return Unhealthy(
			fmt.Sprintf("goroutine count critical: %d", goroutines),
			ErrCheckFailed,
		).WithDetails(details)
	case heapRatio >= r.config.HeapCritical:
		return Unhealthy(
			fmt.Sprintf("heap usage critical: %.1f%%", heapRatio*100),
			ErrCheckFailed,
		).WithDetails(details)
	case goroutines >= r.config.GoroutineWarning:
		return Degraded(
			fmt.Sprintf("goroutine count high: %d", goroutines),
		).WithDetails(details)
	case heapRatio >= r.config.HeapWarning:
		return Degraded(
			fmt.Sprintf("heap usage high: %.1f%%", heapRatio*100),
		).WithDetails(details)
	}

	return Healthy(
		fmt.Sprintf("%d goroutines, heap at %.1f%%", goroutines, heapRatio*100),
	).WithDetails(details)
}

// ForceGC triggers a garbage collection.
// This is useful for tests or when you want accurate heap stats.
func (r *RuntimeChecker) ForceGC() {
	runtime.GC()
}
