/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package service manages the lifecycle of the process components (HTTP server, background workers):
// it starts them together, stops them on OS signals, and registers their Prometheus metrics.
package service

// Unit represents a service unit that can be started and stopped.
type Unit interface {
	// Start runs the unit. It may return right after initialization or block for the unit's lifetime.
	// A failure is reported by writing to fatalErr; on success nothing is written,
	// and the channel is not used after Start returns.
	Start(fatalErr chan<- error)

	// Stop halts the unit. It may be called even if Start has failed or was never called.
	Stop(gracefully bool) error
}

// MetricsRegisterer is an interface for objects that can register its own metrics.
type MetricsRegisterer interface {
	MustRegisterMetrics()
	UnregisterMetrics()
}
