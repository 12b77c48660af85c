package uvworker

// MetricsSink receives counter/gauge observations from the worker's
// collaborators. The root package depends only on this interface, not on
// Prometheus itself, so metrics stay optional — metrics.Collector satisfies
// it, and callers that don't care can leave it unset.
type MetricsSink interface {
	PostEnqueued()
	CloseEnqueued()
	DrainPass()
	HeartbeatTick()
	StageCompleted(stage string)
	StageTimedOut(stage string)
	SetAddingQueueDepth(n int)
	SetLoopState(state int32)
}

// NoOpMetricsSink discards every observation. The default when no
// WithMetricsSink option is supplied.
type NoOpMetricsSink struct{}

func (NoOpMetricsSink) PostEnqueued()              {}
func (NoOpMetricsSink) CloseEnqueued()             {}
func (NoOpMetricsSink) DrainPass()                 {}
func (NoOpMetricsSink) HeartbeatTick()             {}
func (NoOpMetricsSink) StageCompleted(string)      {}
func (NoOpMetricsSink) StageTimedOut(string)       {}
func (NoOpMetricsSink) SetAddingQueueDepth(int)    {}
func (NoOpMetricsSink) SetLoopState(int32)         {}
