package restore

import (
	"errors"
	"sync/atomic"
)

// ErrBusy is returned when a restore is already running
var ErrBusy = errors.New("a restore operation is already in progress")

// Guard allows one restore in flight for the whole process. The device
// configuration is a single shared resource, so the guard is not per session.
type Guard struct {
	busy atomic.Bool
}

// TryAcquire claims the guard without blocking
func (g *Guard) TryAcquire() bool {
	return g.busy.CompareAndSwap(false, true)
}

// Release frees the guard
func (g *Guard) Release() {
	g.busy.Store(false)
}

// Busy reports whether a restore is running
func (g *Guard) Busy() bool {
	return g.busy.Load()
}
