// Package metrics wires the worker's operational counters into Prometheus.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric uvworker reports. Construct one with
// NewCollector and pass it to the worker's collaborators that need to
// observe activity; it registers itself with the default registry on
// construction.
type Collector struct {
	postsEnqueued  prometheus.Counter
	closesEnqueued prometheus.Counter
	drainPasses    prometheus.Counter
	heartbeatTicks prometheus.Counter

	stageCompleted *prometheus.CounterVec
	stageTimedOut  *prometheus.CounterVec

	addingQueueDepth prometheus.Gauge
	loopState        prometheus.Gauge
}

// NewCollector builds and registers the collector's metrics.
func NewCollector() *Collector {
	c := &Collector{
		postsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "uvworker_posts_enqueued_total",
			Help: "Work items enqueued onto the worker via Post or PostAsync.",
		}),
		closesEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "uvworker_close_requests_enqueued_total",
			Help: "Handle-close requests enqueued onto the worker.",
		}),
		drainPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "uvworker_drain_passes_total",
			Help: "Alternating post/close drain passes executed by the wake handler.",
		}),
		heartbeatTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "uvworker_heartbeat_ticks_total",
			Help: "Heartbeat timer firings, each ticking every registered connection.",
		}),
		stageCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uvworker_shutdown_stage_completed_total",
			Help: "Shutdown stages that completed (worker joined) before their timeout.",
		}, []string{"stage"}),
		stageTimedOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uvworker_shutdown_stage_timed_out_total",
			Help: "Shutdown stages that timed out and were escalated.",
		}, []string{"stage"}),
		addingQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "uvworker_adding_queue_depth",
			Help: "Number of items in the post queue's adding buffer at last sample.",
		}),
		loopState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "uvworker_loop_state",
			Help: "Current FastState value of the reactor loop (0=Awake 1=Terminated 2=Sleeping 3=Running 4=Terminating).",
		}),
	}

	prometheus.MustRegister(
		c.postsEnqueued,
		c.closesEnqueued,
		c.drainPasses,
		c.heartbeatTicks,
		c.stageCompleted,
		c.stageTimedOut,
		c.addingQueueDepth,
		c.loopState,
	)

	return c
}

func (c *Collector) PostEnqueued()  { c.postsEnqueued.Inc() }
func (c *Collector) CloseEnqueued() { c.closesEnqueued.Inc() }
func (c *Collector) DrainPass()     { c.drainPasses.Inc() }
func (c *Collector) HeartbeatTick() { c.heartbeatTicks.Inc() }

func (c *Collector) StageCompleted(stage string) { c.stageCompleted.WithLabelValues(stage).Inc() }
func (c *Collector) StageTimedOut(stage string)   { c.stageTimedOut.WithLabelValues(stage).Inc() }

func (c *Collector) SetAddingQueueDepth(n int) { c.addingQueueDepth.Set(float64(n)) }
func (c *Collector) SetLoopState(state int32)  { c.loopState.Set(float64(state)) }

// StartServer serves /metrics on the given port. Blocks until the server
// exits or fails to start.
func StartServer(port int) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(fmt.Sprintf(":%d", port), nil)
}
