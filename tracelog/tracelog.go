// Package tracelog backs uvworker.Trace with github.com/joeycumines/logiface,
// rate-limiting repeated critical lines through github.com/joeycumines/go-catrate
// so a worker wedged for minutes doesn't flood the sink.
package tracelog

import (
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// categories identify the repeated-line buckets passed to the limiter.
const (
	categoryCritical    = "critical"
	categoryNotClosed   = "not_closed"
	categoryNotAborted  = "not_aborted"
)

// defaultCriticalRates caps critical-line spam to once every two seconds and
// at most 30 in any one minute, mirroring the kind of sliding-window budget
// catrate.NewLimiter expects.
var defaultCriticalRates = map[time.Duration]int{
	2 * time.Second: 1,
	time.Minute:     30,
}

// Tracer implements uvworker.Trace over a *logiface.Logger[logiface.Event].
type Tracer struct {
	log     *logiface.Logger[logiface.Event]
	limiter *catrate.Limiter
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithRates overrides the sliding-window budget applied to repeated critical
// lines.
func WithRates(rates map[time.Duration]int) Option {
	return func(t *Tracer) {
		t.limiter = catrate.NewLimiter(rates)
	}
}

// New builds a Tracer around an existing logiface logger.
func New(log *logiface.Logger[logiface.Event], opts ...Option) *Tracer {
	t := &Tracer{log: log, limiter: catrate.NewLimiter(defaultCriticalRates)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracer) LogError(err error, msg string) {
	if b := t.log.Err(); b.Enabled() {
		b.Err(err).Log(msg)
	}
}

func (t *Tracer) LogCritical(err error, msg string) {
	if _, ok := t.limiter.Allow(categoryCritical); !ok {
		return
	}
	if b := t.log.Crit(); b.Enabled() {
		b.Err(err).Log(msg)
	}
}

func (t *Tracer) NotAllConnectionsClosedGracefully(remaining int) {
	if _, ok := t.limiter.Allow(categoryNotClosed); !ok {
		return
	}
	if b := t.log.Warning(); b.Enabled() {
		b.Int(`remaining`, remaining).Log(`not all connections closed gracefully`)
	}
}

func (t *Tracer) NotAllConnectionsAborted(remaining int) {
	if _, ok := t.limiter.Allow(categoryNotAborted); !ok {
		return
	}
	if b := t.log.Warning(); b.Enabled() {
		b.Int(`remaining`, remaining).Log(`not all connections aborted`)
	}
}
