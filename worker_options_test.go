package uvworker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestResolveOptions_Defaults(t *testing.T) {
	cfg := resolveOptions(nil)
	assert.Equal(t, 8, cfg.maxLoops)
	assert.Equal(t, 1000*time.Millisecond, cfg.heartbeatInterval)
	assert.Equal(t, 5*time.Second, cfg.shutdownTimeout)
	assert.NotNil(t, cfg.registry)
	assert.Equal(t, NoOpTrace{}, cfg.trace)
	assert.Equal(t, NoOpMetricsSink{}, cfg.metrics)
}

func TestResolveOptions_Overrides(t *testing.T) {
	registry := NewConnectionRegistry()
	cfg := resolveOptions([]Option{
		WithMaxLoops(3),
		WithHeartbeatInterval(500 * time.Millisecond),
		WithShutdownTimeout(2 * time.Second),
		WithConnectionRegistry(registry),
	})
	assert.Equal(t, 3, cfg.maxLoops)
	assert.Equal(t, 500*time.Millisecond, cfg.heartbeatInterval)
	assert.Equal(t, 2*time.Second, cfg.shutdownTimeout)
	assert.Same(t, registry, cfg.registry)
}

func TestResolveOptions_IgnoresZeroAndNilValues(t *testing.T) {
	cfg := resolveOptions([]Option{
		nil,
		WithMaxLoops(0),
		WithHeartbeatInterval(0),
		WithShutdownTimeout(0),
		WithConnectionRegistry(nil),
		WithTrace(nil),
	})
	assert.Equal(t, 8, cfg.maxLoops)
	assert.Equal(t, 1000*time.Millisecond, cfg.heartbeatInterval)
	assert.Equal(t, 5*time.Second, cfg.shutdownTimeout)
	assert.NotNil(t, cfg.registry)
}

func TestWithPoolCollaborators_Appends(t *testing.T) {
	var closed int
	a := closerFunc(func() error { closed++; return nil })
	b := closerFunc(func() error { closed++; return nil })

	cfg := resolveOptions([]Option{
		WithPoolCollaborators(a),
		WithPoolCollaborators(b),
	})

	assert.Len(t, cfg.poolCollaborators, 2)

	for _, c := range cfg.poolCollaborators {
		assert.NoError(t, c.Close())
	}
	assert.Equal(t, 2, closed)
}
