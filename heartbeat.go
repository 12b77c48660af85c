package uvworker

import "time"

// onHeartbeat is §4.E: cache now, then tick every registered connection.
// Runs on the loop thread as the repeating reactor.Timer's callback.
func (w *Worker) onHeartbeat() {
	now := w.loop.Now()
	w.now.Store(now.UnixNano())
	w.registry.Walk(func(c Connection) {
		c.Tick(now)
	})
	w.metrics.HeartbeatTick()
}

// Now returns the wall-clock time cached by the most recent heartbeat tick.
// Cheap to call repeatedly from work items running on the loop thread.
func (w *Worker) Now() time.Time {
	return time.Unix(0, w.now.Load())
}
