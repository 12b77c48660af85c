package uvworker

import (
	"io"
	"time"
)

// workerOptions holds configuration resolved from a set of Option values.
type workerOptions struct {
	maxLoops          int
	heartbeatInterval time.Duration
	shutdownTimeout   time.Duration
	registry          ConnectionRegistry
	trace             Trace
	metrics           MetricsSink
	poolCollaborators []io.Closer
}

// Option configures a Worker at construction time.
type Option interface {
	apply(*workerOptions)
}

type optionFunc func(*workerOptions)

func (f optionFunc) apply(o *workerOptions) { f(o) }

// WithMaxLoops sets the drain-pass cap (§4.B); the default is 8.
func WithMaxLoops(n int) Option {
	return optionFunc(func(o *workerOptions) {
		if n > 0 {
			o.maxLoops = n
		}
	})
}

// WithHeartbeatInterval overrides the heartbeat period; the default is
// 1000ms.
func WithHeartbeatInterval(d time.Duration) Option {
	return optionFunc(func(o *workerOptions) {
		if d > 0 {
			o.heartbeatInterval = d
		}
	})
}

// WithShutdownTimeout sets the connection-drain budget Stop gives the
// graceful close of every connection, before the three shutdown stages run
// and before it escalates to a forcible abort.
func WithShutdownTimeout(d time.Duration) Option {
	return optionFunc(func(o *workerOptions) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	})
}

// WithConnectionRegistry overrides the default ConnectionRegistry. Useful
// for tests that want to observe registrations directly.
func WithConnectionRegistry(r ConnectionRegistry) Option {
	return optionFunc(func(o *workerOptions) {
		if r != nil {
			o.registry = r
		}
	})
}

// WithTrace overrides the default no-op Trace sink.
func WithTrace(t Trace) Option {
	return optionFunc(func(o *workerOptions) {
		if t != nil {
			o.trace = t
		}
	})
}

// WithMetricsSink wires a MetricsSink to observe queue/heartbeat/shutdown
// activity. The default is NoOpMetricsSink.
func WithMetricsSink(m MetricsSink) Option {
	return optionFunc(func(o *workerOptions) {
		if m != nil {
			o.metrics = m
		}
	})
}

// WithPoolCollaborators registers collaborators the worker disposes during
// teardown (§3/§4.A's "pool collaborators"), alongside the notifier, timer,
// and loop itself. Not disposed at all if the worker exits via stage-3
// immediate shutdown, matching teardownPhase's deliberate leak there.
func WithPoolCollaborators(cs ...io.Closer) Option {
	return optionFunc(func(o *workerOptions) {
		o.poolCollaborators = append(o.poolCollaborators, cs...)
	})
}

func resolveOptions(opts []Option) *workerOptions {
	cfg := &workerOptions{
		maxLoops:          8,
		heartbeatInterval: 1000 * time.Millisecond,
		shutdownTimeout:   5 * time.Second,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(cfg)
	}
	if cfg.registry == nil {
		cfg.registry = NewConnectionRegistry()
	}
	if cfg.trace == nil {
		cfg.trace = NoOpTrace{}
	}
	if cfg.metrics == nil {
		cfg.metrics = NoOpMetricsSink{}
	}
	return cfg
}
