// Package uvworker implements a single-threaded event-loop worker over an
// opaque native I/O reactor: cross-thread work posting through a
// double-buffered queue, a periodic heartbeat that ticks every registered
// connection with a cached wall-clock time, and a three-stage graceful
// shutdown protocol.
package uvworker

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/loopcore/uvworker/reactor"
)

// Worker owns a reactor.Loop and is the execution home for every callback
// run against it. Every method documented as loop-thread-only must only be
// called from inside a callback passed to Post/PostAsync/Schedule, or from
// the worker's own init/heartbeat/shutdown machinery.
type Worker struct {
	opts *workerOptions

	loop  *reactor.Loop
	async *reactor.Async
	timer *reactor.Timer

	registry ConnectionRegistry
	trace    Trace
	metrics  MetricsSink

	// poolCollaborators are disposed in teardownPhase; see §3/§4.A's "pool
	// collaborators" (a buffer-pool factory and write-request pool in the
	// original design, generalized here to opaque io.Closer values).
	poolCollaborators []io.Closer

	postQueue  *dualQueue[workItem]
	closeQueue *dualQueue[closeItem]

	startMu       sync.Mutex
	initCompleted bool
	startErr      error
	startDone     chan struct{}

	notifierState atomic.Int32 // live / closing / closed

	stopImmediate atomic.Bool
	stopping      atomic.Bool

	fatalMu  sync.Mutex
	fatalErr error

	now atomic.Int64 // unix nanoseconds, cached once per heartbeat tick

	joined    chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
}

const (
	notifierLive int32 = iota
	notifierClosing
	notifierClosed
)

// New constructs a Worker. The loop and its reactor are not started until
// Start is called.
func New(opts ...Option) *Worker {
	cfg := resolveOptions(opts)
	w := &Worker{
		opts:              cfg,
		registry:          cfg.registry,
		trace:             cfg.trace,
		metrics:           cfg.metrics,
		poolCollaborators: cfg.poolCollaborators,
		postQueue:         newDualQueue[workItem](),
		closeQueue:        newDualQueue[closeItem](),
		startDone:         make(chan struct{}),
		joined:            make(chan struct{}),
	}
	return w
}

// Start spawns the worker thread and returns a future that resolves once
// the loop, async notifier, and heartbeat timer have initialized
// successfully, or fails with the initialization error. Per §4.A phase 1,
// init runs under the start-barrier mutex before anything else touches the
// loop. The worker's run phase is bound to its own internal context,
// canceled only by Stop — Start takes no context of its own because the
// worker's lifetime is controlled exclusively through Stop.
func (w *Worker) Start() *Future {
	f := newFuture()

	runCtx, cancel := context.WithCancel(context.Background())
	w.runCtx = runCtx
	w.runCancel = cancel

	go w.runThread(f)

	return f
}

// runThread is the body of the worker's single OS-homed goroutine. It never
// returns control to Start; Start's caller only observes it through the
// returned Future and, later, through Stop's join wait.
func (w *Worker) runThread(startFuture *Future) {
	defer close(w.joined)

	if err := w.initPhase(); err != nil {
		w.startMu.Lock()
		w.startErr = err
		w.startMu.Unlock()
		close(w.startDone)
		startFuture.settle(nil, err)
		return
	}

	close(w.startDone)
	startFuture.settle(nil, nil)

	w.runPhase()
	w.teardownPhase()
}

// initPhase is §4.A phase 1: initialize the loop, the async notifier bound
// to the drain routine, and the heartbeat timer, then flip initCompleted
// under the start-barrier mutex.
func (w *Worker) initPhase() error {
	w.startMu.Lock()
	defer w.startMu.Unlock()

	loop, err := reactor.New()
	if err != nil {
		return fmt.Errorf("uvworker: loop init: %w", err)
	}
	w.loop = loop

	async, err := w.loop.NewAsync(w.onWake)
	if err != nil {
		return fmt.Errorf("uvworker: async notifier init: %w", err)
	}
	w.async = async
	w.notifierState.Store(notifierLive)

	timer, err := w.loop.NewTimer(w.opts.heartbeatInterval, w.onHeartbeat)
	if err != nil {
		// close the notifier inline rather than through the close queue:
		// we're still inside the start barrier and nothing is draining yet.
		w.async.Close(nil)
		return fmt.Errorf("uvworker: heartbeat timer init: %w", err)
	}
	w.timer = timer

	w.initCompleted = true
	return nil
}

// runPhase is §4.A phase 2: block in the reactor's Run until Stop is called
// or every handle has closed. A work item posted without a completion
// signal that panics propagates out through Run's call stack (it runs
// synchronously inside the loop's own goroutine); recovering it here and
// folding it into the fatal error slot is what makes that propagation
// become "the fatal error" rather than a crashed process.
func (w *Worker) runPhase() {
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok {
				w.setFatal(err)
			} else {
				w.setFatal(PanicError{Value: r})
			}
		}
	}()
	if err := w.loop.Run(w.runCtx); err != nil {
		w.setFatal(err)
	}
}

// asyncHandleID and timerHandleID identify the notifier and heartbeat timer
// in close-handle items queued during teardown. They're opaque bookkeeping,
// distinct from any id a ConnectionRegistry hands out.
const (
	asyncHandleID uint64 = 1
	timerHandleID uint64 = 2
)

// teardownPhase is §4.A phase 3. If stopImmediate was set, resources are
// deliberately leaked and we return without disposing anything further.
// Otherwise the notifier and heartbeat timer are disposed by queuing their
// close callbacks through the close-handle queue (§4.D: the notifier's own
// dispose call originates from the worker thread, so it's queued via 4.C
// rather than closed inline) and draining it once, then the loop and any
// pool collaborators are disposed.
func (w *Worker) teardownPhase() {
	w.abandonPendingFutures()

	if w.stopImmediate.Load() {
		return
	}

	w.notifierState.Store(notifierClosing)
	w.QueueCloseAsyncHandle(asyncHandleID, func() { w.async.Close(nil) })
	w.QueueCloseAsyncHandle(timerHandleID, func() { w.timer.Close(nil) })
	w.drainCloseQueue()
	w.notifierState.Store(notifierClosed)

	if err := w.loop.Close(); err != nil {
		w.setFatal(err)
	}

	w.disposePoolCollaborators()
}

// disposePoolCollaborators closes every collaborator registered via
// WithPoolCollaborators. Per §3/§4.A, teardown "disposes pool collaborators"
// (the transport's buffer-pool factory and write-request pool in the
// original design); this module generalizes them to opaque io.Closer values
// since their concrete shape is protocol-layer and out of this module's
// scope.
func (w *Worker) disposePoolCollaborators() {
	for _, c := range w.poolCollaborators {
		if err := c.Close(); err != nil {
			w.trace.LogError(err, "pool collaborator close failed")
			w.setFatal(err)
		}
	}
}

// abandonPendingFutures is §9's resolution of the first open question: any
// postAsync future still sitting in either queue buffer once the run phase
// has exited will never be picked up by a drain pass, so it's settled here
// with ErrWorkerStopped instead of left to block its caller's Wait forever.
// Settled off the loop thread, same as every other future completion.
func (w *Worker) abandonPendingFutures() {
	pending := make([]*Future, 0)

	w.postQueue.mu.Lock()
	for _, item := range w.postQueue.adding {
		if item.future != nil {
			pending = append(pending, item.future)
		}
	}
	for _, item := range w.postQueue.running {
		if item.future != nil {
			pending = append(pending, item.future)
		}
	}
	w.postQueue.adding = w.postQueue.adding[:0]
	w.postQueue.running = w.postQueue.running[:0]
	w.postQueue.mu.Unlock()

	for _, f := range pending {
		future := f
		go future.settle(nil, ErrWorkerStopped)
	}
}

// onWake runs on the loop thread whenever the async notifier fires. It
// implements the §4.B drain algorithm: alternate draining the post queue
// and the close queue, up to maxLoops passes, stopping early once a pass
// drains nothing from either.
func (w *Worker) onWake() {
	remaining := w.opts.maxLoops
	for {
		workHappened := w.drainPostQueue()
		closeHappened := w.drainCloseQueue()
		w.metrics.DrainPass()
		remaining--
		if (!workHappened && !closeHappened) || remaining <= 0 {
			break
		}
	}
	w.metrics.SetAddingQueueDepth(w.postQueue.len())
	w.metrics.SetLoopState(int32(w.loop.State()))
}

func (w *Worker) drainPostQueue() bool {
	items, ok := w.postQueue.drain()
	if !ok {
		return false
	}
	for i, item := range items {
		// Clear the slot before running it, so abandonPendingFutures never
		// sees a future whose callback has already run.
		items[i] = workItem{}
		w.runWorkItem(item)
	}
	return true
}

// runWorkItem executes one callback, applying the §4.B error policy: with a
// completion future present, a failure (error or panic) only fails that
// future. Without one, the failure is logged and escalated to fatal,
// propagating out to the run-phase caller.
func (w *Worker) runWorkItem(item workItem) {
	var panicVal any
	func() {
		defer func() {
			panicVal = recover()
		}()
		item.cb(w)
	}()

	if panicVal == nil {
		if item.future != nil {
			// Settled off the loop thread (§4.B, §9): a continuation
			// chained off this future must never run inline on the loop.
			f := item.future
			go f.settle(nil, nil)
		}
		return
	}

	err := PanicError{Value: panicVal}
	if item.future != nil {
		f := item.future
		go f.settle(nil, err)
		return
	}
	w.trace.LogError(err, "work item panicked without a completion signal")
	panic(err)
}

func (w *Worker) drainCloseQueue() bool {
	items, ok := w.closeQueue.drain()
	if !ok {
		return false
	}
	for _, item := range items {
		w.runCloseItem(item)
	}
	return true
}

// runCloseItem executes one close callback. §4.C: close failures are
// always logged and re-escalated to fatal, since they run the reactor's own
// teardown logic and can't be sandboxed behind a completion future.
func (w *Worker) runCloseItem(item closeItem) {
	var panicVal any
	func() {
		defer func() {
			panicVal = recover()
		}()
		item.cb()
	}()
	if panicVal != nil {
		err := PanicError{Value: panicVal}
		w.trace.LogError(err, "close-handle callback panicked")
		panic(err)
	}
}

// Post enqueues a fire-and-forget callback onto the worker and wakes it.
// Safe to call from any goroutine. Returns ErrLoopTerminated without
// enqueuing anything if the notifier has already moved past its live state
// — the worker is exiting and the callback would never run.
func (w *Worker) Post(cb func(w *Worker)) error {
	if err := w.notifierLiveErr(); err != nil {
		return err
	}
	w.postQueue.push(workItem{cb: cb})
	w.metrics.PostEnqueued()
	w.async.Signal()
	return nil
}

// PostAsync enqueues cb and returns a Future that settles after cb returns
// (or panics). Per §9, the future is always completed off the loop thread,
// from a dedicated goroutine, so a caller's continuation can never stall
// the loop by running inline on it. If the notifier has already moved past
// its live state, the returned future is settled immediately with
// ErrLoopTerminated instead of being enqueued.
func (w *Worker) PostAsync(cb func(w *Worker)) *Future {
	f := newFuture()
	if err := w.notifierLiveErr(); err != nil {
		go f.settle(nil, err)
		return f
	}
	w.postQueue.push(workItem{cb: cb, future: f})
	w.metrics.PostEnqueued()
	w.async.Signal()
	return f
}

// Schedule adapts Worker to a generic func()-based scheduler interface; it
// is observationally equivalent to Post(func(*Worker) { action() }), with
// any ErrLoopTerminated from a worker that's already exiting discarded the
// same way a fire-and-forget post's caller is expected to tolerate it.
func (w *Worker) Schedule(action func()) {
	_ = w.Post(func(*Worker) { action() })
}

// notifierLiveErr reports ErrLoopTerminated once the notifier has moved past
// its live state (§4.D, §9): a shutdown stage observing this on its own
// cooperative post treats the worker as already exiting rather than as an
// error and continues on to the join wait.
func (w *Worker) notifierLiveErr() error {
	if w.notifierState.Load() != notifierLive {
		return ErrLoopTerminated
	}
	return nil
}

// QueueCloseHandle is the thread-safe variant (§6): enqueue the close item
// and signal the loop. Safe from any goroutine. Returns ErrLoopTerminated
// without enqueuing if the notifier is no longer live.
func (w *Worker) QueueCloseHandle(handleID uint64, cb func()) error {
	if err := w.notifierLiveErr(); err != nil {
		return err
	}
	w.closeQueue.push(closeItem{cb: cb, handleID: handleID})
	w.metrics.CloseEnqueued()
	w.async.Signal()
	return nil
}

// QueueCloseAsyncHandle is the worker-thread-only variant (§6): enqueue
// without signaling, for use when already running inside the loop and no
// wake is required because the drain loop will see it on this pass or the
// next.
func (w *Worker) QueueCloseAsyncHandle(handleID uint64, cb func()) {
	w.closeQueue.push(closeItem{cb: cb, handleID: handleID})
	w.metrics.CloseEnqueued()
}

// Loop returns the reactor handle. Collaborators promise to only use it
// from the worker thread.
func (w *Worker) Loop() *reactor.Loop {
	return w.loop
}

// ConnectionRegistry returns the registry backing the heartbeat's walk and
// the shutdown controller's drain/abort.
func (w *Worker) ConnectionRegistry() ConnectionRegistry {
	return w.registry
}

// PoolCollaborators returns the collaborators registered via
// WithPoolCollaborators, disposed in teardownPhase.
func (w *Worker) PoolCollaborators() []io.Closer {
	return w.poolCollaborators
}

// FatalError returns the captured fatal error, or nil if none has occurred.
func (w *Worker) FatalError() error {
	w.fatalMu.Lock()
	defer w.fatalMu.Unlock()
	return w.fatalErr
}

func (w *Worker) setFatal(err error) {
	w.fatalMu.Lock()
	defer w.fatalMu.Unlock()
	if w.fatalErr == nil {
		w.fatalErr = err
	}
}
