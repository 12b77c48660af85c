// Package reactor is a minimal, platform-native stand-in for the opaque
// single-threaded I/O loop a real libuv (or similar) binding would supply:
// epoll on Linux, kqueue on Darwin, one thread-safe wake primitive, and a
// handful of repeating-timer and async-notify handles layered over it.
//
// Everything above this package — queueing, shutdown staging, heartbeats —
// is expressed purely against the Loop type and its handles; nothing here
// knows about connections, work items, or shutdown stages.
package reactor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrLoopAlreadyRunning = errors.New("reactor: loop already running")
	ErrLoopClosed         = errors.New("reactor: loop closed")
)

// Handle is anything Walk can visit: the Async notifier and Timer handles
// currently registered with the loop.
type Handle interface {
	// Close schedules native teardown of the handle and invokes onClosed
	// once it has happened. Safe to call more than once.
	Close(onClosed func())
}

// Loop drives one OS thread's worth of epoll/kqueue polling plus a small set
// of timer and async handles. It is not safe for concurrent Run calls, and
// aside from Async.Signal and Stop, its methods are meant to be called from
// the loop's own goroutine.
type Loop struct {
	poller fdPoller

	wakeFd      int
	wakeWriteFd int

	state *FastState

	handlesMu sync.Mutex
	timers    []*Timer
	asyncs    []*Async
	active    atomic.Int64

	tickTime atomic.Int64 // unix nanoseconds, refreshed once per iteration

	stopRequested atomic.Bool
}

// New creates a loop with its wake primitive and I/O poller initialized, but
// not yet running.
func New() (*Loop, error) {
	l := &Loop{state: NewFastState()}

	wakeFd, wakeWriteFd, err := createWakeFd(0, wakeFDNonblock|wakeFDCloexec)
	if err != nil {
		return nil, err
	}
	l.wakeFd = wakeFd
	l.wakeWriteFd = wakeWriteFd

	if err := l.poller.init(); err != nil {
		_ = closeWakeFd(l.wakeFd, l.wakeWriteFd)
		return nil, err
	}
	// Watch the wake fd so a write from Signal, Stop or Unref interrupts a
	// blocked poll; Run drains it after every poll.
	if err := l.poller.RegisterFD(l.wakeFd, EventRead, func(IOEvents) {}); err != nil {
		_ = l.poller.close()
		_ = closeWakeFd(l.wakeFd, l.wakeWriteFd)
		return nil, err
	}

	l.tickTime.Store(time.Now().UnixNano())
	return l, nil
}

// Now returns the wall-clock time cached at the start of the loop's current
// (or most recent) iteration. Cheap to call repeatedly within one tick.
func (l *Loop) Now() time.Time {
	return time.Unix(0, l.tickTime.Load())
}

// State returns the loop's current lifecycle state, for metrics sampling.
func (l *Loop) State() LoopState {
	return l.state.Load()
}

// Run drives the loop until ctx is canceled, Stop is called, or every
// registered handle has closed. It returns nil on a clean exit.
func (l *Loop) Run(ctx context.Context) error {
	if !l.state.TryTransition(StateAwake, StateRunning) {
		return ErrLoopAlreadyRunning
	}
	stopWake := context.AfterFunc(ctx, l.wake)
	defer stopWake()

	for {
		l.tickTime.Store(time.Now().UnixNano())

		if ctx.Err() != nil || l.stopRequested.Load() {
			break
		}

		timeout := l.nextTimeout()

		l.state.TryTransition(StateRunning, StateSleeping)
		_, err := l.poller.pollIO(timeout)
		l.state.TransitionAny([]LoopState{StateRunning, StateSleeping}, StateRunning)
		if err != nil {
			return err
		}

		l.tickTime.Store(time.Now().UnixNano())

		drainWakeFd(l.wakeFd)
		l.dispatchAsyncs()
		l.runDueTimers()

		if ctx.Err() != nil || l.stopRequested.Load() {
			break
		}
		if l.active.Load() == 0 {
			break
		}
	}

	l.state.Store(StateTerminated)
	return nil
}

// Stop requests that Run return as soon as it next wakes, regardless of
// whether handles remain registered. Safe to call from any goroutine.
func (l *Loop) Stop() {
	l.stopRequested.Store(true)
	l.wake()
}

// Close releases the loop's OS-level resources. Run must have returned.
func (l *Loop) Close() error {
	err := l.poller.close()
	if wErr := closeWakeFd(l.wakeFd, l.wakeWriteFd); err == nil {
		err = wErr
	}
	return err
}

// Walk invokes fn for every currently registered Async and Timer handle,
// stopping early if fn returns false. Used by a shutdown controller's rude
// stage to dispose of everything but the handle it names as exempt.
func (l *Loop) Walk(fn func(Handle) bool) {
	l.handlesMu.Lock()
	handles := make([]Handle, 0, len(l.asyncs)+len(l.timers))
	for _, a := range l.asyncs {
		handles = append(handles, a)
	}
	for _, t := range l.timers {
		handles = append(handles, t)
	}
	l.handlesMu.Unlock()

	for _, h := range handles {
		if !fn(h) {
			return
		}
	}
}

// RegisterFD registers fd for I/O readiness notification on this loop.
func (l *Loop) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	return l.poller.RegisterFD(fd, events, cb)
}

// UnregisterFD stops monitoring fd.
func (l *Loop) UnregisterFD(fd int) error {
	return l.poller.UnregisterFD(fd)
}

// ModifyFD changes the monitored events for fd.
func (l *Loop) ModifyFD(fd int, events IOEvents) error {
	return l.poller.ModifyFD(fd, events)
}

func (l *Loop) nextTimeout() int {
	l.handlesMu.Lock()
	defer l.handlesMu.Unlock()

	if len(l.timers) == 0 {
		if l.active.Load() == 0 {
			return 0
		}
		return -1
	}

	now := time.Now()
	earliest := time.Duration(-1)
	for _, t := range l.timers {
		if t.closed.Load() {
			continue
		}
		d := t.deadline.Sub(now)
		if d < 0 {
			d = 0
		}
		if earliest < 0 || d < earliest {
			earliest = d
		}
	}
	if earliest < 0 {
		return -1
	}
	return int(earliest.Milliseconds())
}

func (l *Loop) runDueTimers() {
	now := time.Now()

	l.handlesMu.Lock()
	due := make([]*Timer, 0)
	for _, t := range l.timers {
		if !t.closed.Load() && !t.deadline.After(now) {
			due = append(due, t)
		}
	}
	l.handlesMu.Unlock()

	for _, t := range due {
		if t.closed.Load() {
			continue
		}
		t.onTick()
		if t.closed.Load() {
			continue
		}
		t.deadline = time.Now().Add(t.period)
	}
}

func (l *Loop) dispatchAsyncs() {
	l.handlesMu.Lock()
	asyncs := append([]*Async(nil), l.asyncs...)
	l.handlesMu.Unlock()

	for _, a := range asyncs {
		if a.pending.CompareAndSwap(true, false) {
			a.onWake()
		}
	}
}

func (l *Loop) wake() {
	buf := [8]byte{1, 0, 0, 0, 0, 0, 0, 0}
	_, _ = writeFD(l.wakeWriteFd, buf[:])
}

func (l *Loop) registerTimer(t *Timer) {
	l.handlesMu.Lock()
	l.timers = append(l.timers, t)
	l.handlesMu.Unlock()
	l.active.Add(1)
}

func (l *Loop) unregisterTimer(t *Timer) {
	l.handlesMu.Lock()
	for i, other := range l.timers {
		if other == t {
			l.timers = append(l.timers[:i], l.timers[i+1:]...)
			break
		}
	}
	l.handlesMu.Unlock()
	l.active.Add(-1)
}

func (l *Loop) registerAsync(a *Async) {
	l.handlesMu.Lock()
	l.asyncs = append(l.asyncs, a)
	l.handlesMu.Unlock()
}

func (l *Loop) unregisterAsync(a *Async) {
	l.handlesMu.Lock()
	for i, other := range l.asyncs {
		if other == a {
			l.asyncs = append(l.asyncs[:i], l.asyncs[i+1:]...)
			break
		}
	}
	l.handlesMu.Unlock()
}

// Async is a thread-safe wake handle: Signal coalesces any number of calls
// between two loop iterations into a single invocation of onWake, mirroring
// libuv's uv_async_t.
type Async struct {
	loop    *Loop
	onWake  func()
	pending atomic.Bool
	closed  atomic.Bool
	refd    atomic.Bool
}

// NewAsync registers a new Async handle on the loop. onWake runs on the
// loop's own goroutine. The handle counts toward Loop.active (the bookkeeping
// Run uses to decide when it can return naturally) until Unref or Close is
// called.
func (l *Loop) NewAsync(onWake func()) (*Async, error) {
	if l.state.IsTerminal() {
		return nil, ErrLoopClosed
	}
	a := &Async{loop: l, onWake: onWake}
	a.refd.Store(true)
	l.registerAsync(a)
	l.active.Add(1)
	return a, nil
}

// Signal wakes the loop and ensures onWake runs at least once afterward.
// Safe to call from any goroutine, including concurrently with itself.
func (a *Async) Signal() {
	if a.closed.Load() {
		return
	}
	a.pending.Store(true)
	a.loop.wake()
}

// Unref excludes the handle from Loop.active without closing it: it keeps
// firing on Signal, it just no longer keeps Run alive on its own. Mirrors
// libuv's uv_unref. Safe to call more than once; only the first call (before
// Close or a prior Unref) has an effect.
func (a *Async) Unref() {
	if a.refd.CompareAndSwap(true, false) {
		a.loop.active.Add(-1)
		a.loop.wake()
	}
}

// Ref reverses Unref, for symmetry with libuv's uv_ref.
func (a *Async) Ref() {
	if a.refd.CompareAndSwap(false, true) {
		a.loop.active.Add(1)
	}
}

// Close unregisters the handle and invokes onClosed once, synchronously on
// the calling goroutine before Close returns. Safe to call more than once.
func (a *Async) Close(onClosed func()) {
	if !a.closed.CompareAndSwap(false, true) {
		return
	}
	a.Unref()
	a.loop.unregisterAsync(a)
	if onClosed != nil {
		onClosed()
	}
}

// Timer is a repeating handle that fires onTick every period until closed,
// caching Loop.Now() on each iteration the way a libuv repeating timer does.
type Timer struct {
	loop     *Loop
	period   time.Duration
	onTick   func()
	deadline time.Time
	closed   atomic.Bool
}

// NewTimer registers a repeating timer that fires onTick roughly every
// period, starting one period from now. onTick runs on the loop's goroutine.
func (l *Loop) NewTimer(period time.Duration, onTick func()) (*Timer, error) {
	if l.state.IsTerminal() {
		return nil, ErrLoopClosed
	}
	t := &Timer{
		loop:     l,
		period:   period,
		onTick:   onTick,
		deadline: time.Now().Add(period),
	}
	l.registerTimer(t)
	return t, nil
}

// Close unregisters the timer and invokes onClosed once. Safe to call more
// than once.
func (t *Timer) Close(onClosed func()) {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	t.loop.unregisterTimer(t)
	if onClosed != nil {
		onClosed()
	}
}
