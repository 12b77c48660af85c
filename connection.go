package uvworker

import (
	"context"
	"time"
)

// Connection is anything the heartbeat ticks and the shutdown controller can
// drain or abort. Transport layers built on top of a Worker register their
// connection handles here instead of being reached via the reactor's raw
// handle walk.
type Connection interface {
	// Tick is invoked once per heartbeat with the cached wall-clock time.
	Tick(now time.Time)
	// Close attempts a graceful close, honoring ctx's deadline.
	Close(ctx context.Context) error
	// Abort tears the connection down immediately, without waiting on any
	// in-flight I/O.
	Abort()
}

// ConnectionRegistry tracks the set of live connections a Worker's heartbeat
// and shutdown controller act on.
type ConnectionRegistry interface {
	// Register adds c to the registry and returns an id that can be used to
	// Unregister it later. Implementations are free to also drop entries
	// whose Connection has been garbage collected without an explicit
	// Unregister call.
	Register(c Connection) uint64
	// Unregister removes a previously registered connection.
	Unregister(id uint64)
	// Walk invokes fn for every currently live connection.
	Walk(fn func(Connection))
	// WalkConnectionsAndCloseAsync asks every live connection to close
	// gracefully, waiting up to timeout. allClosed is false if any
	// connection was still outstanding when the wait ended.
	WalkConnectionsAndCloseAsync(ctx context.Context, timeout time.Duration) (allClosed bool, err error)
	// WalkConnectionsAndAbortAsync aborts every live connection immediately
	// and waits up to timeout for them to finish tearing down.
	WalkConnectionsAndAbortAsync(ctx context.Context, timeout time.Duration) (allAborted bool, err error)
}
