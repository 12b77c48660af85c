package uvworker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	ticks     atomic.Int64
	closeErr  error
	closeDur  time.Duration
	abortDone atomic.Bool
}

func (c *fakeConn) Tick(time.Time) { c.ticks.Add(1) }

func (c *fakeConn) Close(ctx context.Context) error {
	if c.closeDur > 0 {
		select {
		case <-time.After(c.closeDur):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.closeErr
}

func (c *fakeConn) Abort() { c.abortDone.Store(true) }

func TestConnRegistry_RegisterWalkUnregister(t *testing.T) {
	r := NewConnectionRegistry()
	a := &fakeConn{}
	b := &fakeConn{}

	idA := r.Register(a)
	idB := r.Register(b)
	assert.NotEqual(t, idA, idB)

	var seen int
	r.Walk(func(Connection) { seen++ })
	assert.Equal(t, 2, seen)

	r.Unregister(idA)
	seen = 0
	r.Walk(func(Connection) { seen++ })
	assert.Equal(t, 1, seen)
}

func TestConnRegistry_WalkTicksEveryConnection(t *testing.T) {
	r := NewConnectionRegistry()
	conns := make([]*fakeConn, 5)
	for i := range conns {
		conns[i] = &fakeConn{}
		r.Register(conns[i])
	}

	now := time.Now()
	r.Walk(func(c Connection) { c.Tick(now) })

	for _, c := range conns {
		assert.EqualValues(t, 1, c.ticks.Load())
	}
}

func TestConnRegistry_CloseAsync_AllClose(t *testing.T) {
	r := NewConnectionRegistry()
	for i := 0; i < 10; i++ {
		r.Register(&fakeConn{})
	}

	allClosed, err := r.WalkConnectionsAndCloseAsync(context.Background(), time.Second)
	require.NoError(t, err)
	assert.True(t, allClosed)
}

func TestConnRegistry_CloseAsync_TimesOutWithStuckConnections(t *testing.T) {
	r := NewConnectionRegistry()
	r.Register(&fakeConn{closeDur: time.Hour})

	allClosed, err := r.WalkConnectionsAndCloseAsync(context.Background(), 20*time.Millisecond)
	assert.False(t, allClosed)
	assert.Error(t, err)
}

func TestConnRegistry_AbortAsync_InvokesAbort(t *testing.T) {
	r := NewConnectionRegistry()
	c := &fakeConn{}
	r.Register(c)

	allAborted, err := r.WalkConnectionsAndAbortAsync(context.Background(), time.Second)
	require.NoError(t, err)
	assert.True(t, allAborted)
	assert.True(t, c.abortDone.Load())
}

func TestConnRegistry_EmptyDrainReturnsTrueImmediately(t *testing.T) {
	r := NewConnectionRegistry()
	allClosed, err := r.WalkConnectionsAndCloseAsync(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.True(t, allClosed)
}

func TestConnRegistry_ConcurrentRegisterUnregister(t *testing.T) {
	r := NewConnectionRegistry()

	var wg sync.WaitGroup
	ids := make([]uint64, 100)
	for i := 0; i < 100; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids[i] = r.Register(&fakeConn{})
		}()
	}
	wg.Wait()

	wg.Add(100)
	for i := 0; i < 100; i++ {
		i := i
		go func() {
			defer wg.Done()
			r.Unregister(ids[i])
		}()
	}
	wg.Wait()

	var remaining int
	r.Walk(func(Connection) { remaining++ })
	assert.Zero(t, remaining)
}
