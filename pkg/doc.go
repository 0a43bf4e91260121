// Package pkg provides shared utilities for the otghcd host scheduler.
//
// This package contains functionality used across the scheduler, its
// hardware abstraction and the example tools:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for USB protocol and scheduling failures
//   - Negative errno mapping for completion statuses
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with component context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogDebug(pkg.ComponentSchedule, "qh assigned", "channel", 3)
//
// # Errors
//
// Scheduler errors are sentinel values, wrapped with context where useful:
//
//	if errors.Is(err, pkg.ErrNoDevice) {
//	    // port disconnected
//	}
//
// [Errno] converts a completion error into the negative errno value a
// generic USB stack expects (-ETIMEDOUT for disconnect, -ECONNRESET for
// dequeue, -EPIPE for stall, and so on).
package pkg
