package uvworker

import (
	"context"
	"sync"
	"time"
)

// connRegistry is the default ConnectionRegistry: a mutex-guarded map plus an
// insertion-ordered id slice for Walk. Unlike a promise registry, which
// scavenges weak pointers because a promise can be abandoned without
// ever settling, a Connection always goes through Close or Abort, so an
// explicit Unregister call is enough to keep the registry from growing
// without bound.
type connRegistry struct {
	mu     sync.RWMutex
	byID   map[uint64]Connection
	order  []uint64
	nextID uint64
}

// NewConnectionRegistry returns the default ConnectionRegistry implementation.
func NewConnectionRegistry() ConnectionRegistry {
	return &connRegistry{
		byID:   make(map[uint64]Connection),
		nextID: 1,
	}
}

func (r *connRegistry) Register(c Connection) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.byID[id] = c
	r.order = append(r.order, id)
	return id
}

func (r *connRegistry) Unregister(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

func (r *connRegistry) Walk(fn func(Connection)) {
	r.mu.RLock()
	ids := append([]uint64(nil), r.order...)
	r.mu.RUnlock()

	var dead []uint64
	for _, id := range ids {
		r.mu.RLock()
		c, ok := r.byID[id]
		r.mu.RUnlock()
		if !ok {
			dead = append(dead, id)
			continue
		}
		fn(c)
	}

	if len(dead) > 0 {
		r.compact(dead)
	}
}

// compact drops ids already removed from byID out of the order slice, so a
// long-running registry with heavy churn doesn't leak slice capacity on
// stale ids.
func (r *connRegistry) compact(dead []uint64) {
	deadSet := make(map[uint64]struct{}, len(dead))
	for _, id := range dead {
		deadSet[id] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.order[:0]
	for _, id := range r.order {
		if _, isDead := deadSet[id]; isDead {
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}

func (r *connRegistry) WalkConnectionsAndCloseAsync(ctx context.Context, timeout time.Duration) (bool, error) {
	return r.drain(ctx, timeout, func(c Connection, done chan<- struct{}) {
		go func() {
			_ = c.Close(ctx)
			close(done)
		}()
	})
}

func (r *connRegistry) WalkConnectionsAndAbortAsync(ctx context.Context, timeout time.Duration) (bool, error) {
	return r.drain(ctx, timeout, func(c Connection, done chan<- struct{}) {
		go func() {
			c.Abort()
			close(done)
		}()
	})
}

func (r *connRegistry) drain(ctx context.Context, timeout time.Duration, start func(Connection, chan<- struct{})) (bool, error) {
	var conns []Connection
	r.Walk(func(c Connection) {
		conns = append(conns, c)
	})
	if len(conns) == 0 {
		return true, nil
	}

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dones := make([]chan struct{}, len(conns))
	for i, c := range conns {
		done := make(chan struct{})
		dones[i] = done
		start(c, done)
	}

	remaining := len(conns)
	for _, done := range dones {
		select {
		case <-done:
			remaining--
		case <-dctx.Done():
			return remaining == 0, dctx.Err()
		}
	}
	return remaining == 0, nil
}
