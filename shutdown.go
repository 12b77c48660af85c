package uvworker

import (
	"context"
	"time"

	"github.com/loopcore/uvworker/reactor"
)

// stopStage identifies one of the three escalating shutdown stages, used
// only for trace messages.
type stopStage int

const (
	stageAllowStop stopStage = iota
	stageOnStopRude
	stageOnStopImmediate
)

func (s stopStage) String() string {
	switch s {
	case stageAllowStop:
		return "AllowStop"
	case stageOnStopRude:
		return "OnStopRude"
	case stageOnStopImmediate:
		return "OnStopImmediate"
	default:
		return "Unknown"
	}
}

// Stop orchestrates the three-stage graceful shutdown of §4.F. It returns
// any fatal error the worker thread captured during its run or teardown
// phase, and otherwise nil.
func (w *Worker) Stop(ctx context.Context, timeout time.Duration) error {
	w.startMu.Lock()
	started := w.initCompleted
	w.startMu.Unlock()
	if !started {
		return nil
	}

	if !w.stopping.CompareAndSwap(false, true) {
		return ErrAlreadyShuttingDown
	}

	if w.alreadyJoined() {
		return w.FatalError()
	}

	w.drainConnections(ctx)

	stepTimeout := timeout / 3
	stages := []func(){
		w.stageAllowStop,
		w.stageOnStopRude,
		w.stageOnStopImmediate,
	}
	names := []stopStage{stageAllowStop, stageOnStopRude, stageOnStopImmediate}

	for i, stage := range stages {
		stage()
		if w.waitJoin(stepTimeout) {
			w.metrics.StageCompleted(names[i].String())
			return w.FatalError()
		}
		w.metrics.StageTimedOut(names[i].String())
		w.trace.LogCritical(nil, "shutdown stage "+names[i].String()+" timed out, escalating")
	}

	// All three stages timed out; the caller's Stop still returns, per §4.F
	// step 6 and the "Rude stop" scenario in §8 — the worker may still be
	// running.
	return w.FatalError()
}

func (w *Worker) alreadyJoined() bool {
	select {
	case <-w.joined:
		return true
	default:
		return false
	}
}

func (w *Worker) waitJoin(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.joined:
		return true
	case <-timer.C:
		return false
	}
}

// drainConnections is §4.F step 3: ask the registry to close every
// connection gracefully within the worker's shutdown timeout, then abort
// whatever's left within one second.
func (w *Worker) drainConnections(ctx context.Context) {
	allClosed, err := w.registry.WalkConnectionsAndCloseAsync(ctx, w.opts.shutdownTimeout)
	if err != nil && err != context.DeadlineExceeded {
		w.trace.LogError(err, "connection drain failed")
	}
	if allClosed {
		return
	}

	remaining := 0
	w.registry.Walk(func(Connection) { remaining++ })
	w.trace.NotAllConnectionsClosedGracefully(remaining)

	allAborted, err := w.registry.WalkConnectionsAndAbortAsync(ctx, time.Second)
	if err != nil && err != context.DeadlineExceeded {
		w.trace.LogError(err, "connection abort failed")
	}
	if !allAborted {
		stuck := 0
		w.registry.Walk(func(Connection) { stuck++ })
		w.trace.NotAllConnectionsAborted(stuck)
	}
}

// stageAllowStop posts the cooperative instruction for stage 1: stop the
// heartbeat and unreference the notifier so the loop has no active handle
// keeping it alive. Once every other handle closes, Run returns naturally.
func (w *Worker) stageAllowStop() {
	w.postCooperative(func() {
		w.timer.Close(nil)
		w.async.Unref()
	})
}

// stageOnStopRude posts stage 2: walk the loop and dispose every handle
// other than the notifier itself, then unreference the notifier again
// (idempotent, in case stage 1's post never landed).
func (w *Worker) stageOnStopRude() {
	w.postCooperative(func() {
		w.loop.Walk(func(h reactor.Handle) bool {
			if a, ok := h.(*reactor.Async); ok && a == w.async {
				return true
			}
			h.Close(nil)
			return true
		})
		w.async.Unref()
	})
}

// stageOnStopImmediate posts stage 3: set stopImmediate and stop the loop
// outright. The worker returns from Run without teardown; resources are
// knowingly leaked.
func (w *Worker) stageOnStopImmediate() {
	w.postCooperative(func() {
		w.stopImmediate.Store(true)
		w.loop.Stop()
	})
	w.runCancel()
}

// postCooperative posts a single instruction, tolerating the notifier
// already being disposed: if this stage's post lands after the notifier
// has moved past live, Post returns ErrLoopTerminated instead of enqueuing
// anything, the worker is treated as already exiting, and we simply
// continue on to the join wait, per §9's second open question.
func (w *Worker) postCooperative(cb func()) {
	_ = w.Post(func(*Worker) { cb() })
}
