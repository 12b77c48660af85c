package uvworker

// Trace is the logging surface the worker, heartbeat, and shutdown
// controller report through. Transports typically supply tracelog.New,
// which backs this with github.com/joeycumines/logiface; tests can supply
// NoOpTrace or a recording stub.
type Trace interface {
	// LogError reports an error: a work-item callback that failed without a
	// completion signal or a close-handle callback that failed (both then
	// escalate to fatal), a pool collaborator that failed to close, or a
	// connection drain/abort error.
	LogError(err error, msg string)
	// LogCritical reports an error severe enough to need operator
	// attention: a shutdown stage that timed out and was escalated.
	LogCritical(err error, msg string)
	// NotAllConnectionsClosedGracefully reports how many connections were
	// still open after the graceful close-drain window elapsed.
	NotAllConnectionsClosedGracefully(remaining int)
	// NotAllConnectionsAborted reports how many connections were still
	// open after the forcible abort window elapsed.
	NotAllConnectionsAborted(remaining int)
}

// NoOpTrace discards everything. It is the Worker's default Trace so a
// caller that doesn't care about logging doesn't have to supply one.
type NoOpTrace struct{}

func (NoOpTrace) LogError(error, string)               {}
func (NoOpTrace) LogCritical(error, string)            {}
func (NoOpTrace) NotAllConnectionsClosedGracefully(int) {}
func (NoOpTrace) NotAllConnectionsAborted(int)          {}
