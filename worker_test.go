package uvworker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestWorker(t *testing.T, opts ...Option) *Worker {
	t.Helper()
	w := New(opts...)
	f := w.Start()
	_, err := f.Wait(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = w.Stop(context.Background(), time.Second)
	})
	return w
}

func TestWorker_StartAndStop(t *testing.T) {
	w := New()
	f := w.Start()
	_, err := f.Wait(context.Background())
	require.NoError(t, err)

	err = w.Stop(context.Background(), time.Second)
	assert.NoError(t, err)
}

func TestWorker_PostRunsOnLoop(t *testing.T) {
	w := startTestWorker(t)

	done := make(chan struct{})
	w.Post(func(w *Worker) {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("posted callback never ran")
	}
}

func TestWorker_PostAsyncSettlesFuture(t *testing.T) {
	w := startTestWorker(t)

	f := w.PostAsync(func(w *Worker) {})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := f.Wait(ctx)
	assert.NoError(t, err)
}

func TestWorker_PostAsyncPanicSettlesFutureWithError(t *testing.T) {
	w := startTestWorker(t)

	f := w.PostAsync(func(w *Worker) {
		panic("boom")
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := f.Wait(ctx)
	require.Error(t, err)
	var panicErr PanicError
	assert.ErrorAs(t, err, &panicErr)
}

func TestWorker_ThousandPostsAllRun(t *testing.T) {
	w := startTestWorker(t)

	const n = 1000
	var count atomic.Int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		w.Post(func(w *Worker) {
			count.Add(1)
			wg.Done()
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("only %d/%d posts completed", count.Load(), n)
	}
	assert.EqualValues(t, n, count.Load())
}

func TestWorker_CrossThreadPostRace(t *testing.T) {
	w := startTestWorker(t)

	const goroutines = 32
	const perGoroutine = 10000
	var count atomic.Int64
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				w.Post(func(w *Worker) {
					count.Add(1)
				})
			}
		}()
	}
	wg.Wait()

	deadline := time.Now().Add(5 * time.Second)
	for count.Load() < goroutines*perGoroutine && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.EqualValues(t, goroutines*perGoroutine, count.Load())
}

func TestWorker_FatalErrorFromUnrecoveredWorkItemPanic(t *testing.T) {
	w := New()
	f := w.Start()
	_, err := f.Wait(context.Background())
	require.NoError(t, err)

	w.Post(func(w *Worker) {
		panic(errors.New("fatal boom"))
	})

	deadline := time.Now().Add(time.Second)
	for w.FatalError() == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	require.Error(t, w.FatalError())
	var panicErr PanicError
	assert.ErrorAs(t, w.FatalError(), &panicErr)

	_ = w.Stop(context.Background(), time.Second)
}

func TestWorker_HeartbeatTicksRegisteredConnections(t *testing.T) {
	registry := NewConnectionRegistry()
	w := startTestWorker(t, WithHeartbeatInterval(20*time.Millisecond), WithConnectionRegistry(registry))

	c := &fakeConn{}
	registry.Register(c)

	deadline := time.Now().Add(time.Second)
	for c.ticks.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Greater(t, c.ticks.Load(), int64(0))
}

func TestWorker_StopIsIdempotentAgainstDoubleCall(t *testing.T) {
	w := New()
	f := w.Start()
	_, err := f.Wait(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = w.Stop(context.Background(), time.Second)
	}()
	go func() {
		defer wg.Done()
		errs[1] = w.Stop(context.Background(), time.Second)
	}()
	wg.Wait()

	oneAlreadyShuttingDown := errs[0] == ErrAlreadyShuttingDown || errs[1] == ErrAlreadyShuttingDown
	assert.True(t, oneAlreadyShuttingDown)
}
