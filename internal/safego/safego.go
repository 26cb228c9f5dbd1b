// Package safego provides a panic-recovering goroutine launcher for background work.
package safego

import (
	"log/slog"
	"runtime/debug"
)

// Go launches fn in a new goroutine. If fn panics, the panic is recovered and
// logged under name rather than crashing the process. Use it for every
// fire-and-forget goroutine: dispatch timers, sweeps, and cleanup jobs.
func Go(name string, fn func()) {
	go Run(name, fn)
}

// Run calls fn on the current goroutine and recovers any panic it raises,
// reporting whether fn completed normally.
func Run(name string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered panic in background goroutine",
				"job", name, "panic", r, "stack", string(debug.Stack()))
			ok = false
		}
	}()
	fn()
	return true
}
