// Package safego provides a panic-recovering goroutine launcher for background work.
package safego

import "log/slog"

// Go launches fn in a new goroutine. If fn panics, the panic is recovered and
// logged rather than crashing the process. This should be used for all
// fire-and-forget goroutines (audit shipping, notification fan-out, stats
// collection) where an unrecovered panic would silently kill the goroutine
// forever. name identifies the goroutine in the panic log.
func Go(logger *slog.Logger, name string, fn func()) {
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("recovered panic in background goroutine", "goroutine", name, "panic", r)
			}
		}()
		fn()
	}()
}
