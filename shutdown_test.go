package uvworker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingMetrics is a MetricsSink test double that only cares about which
// shutdown stages finished or timed out; every other observation is
// discarded.
type recordingMetrics struct {
	NoOpMetricsSink

	mu        sync.Mutex
	completed []string
	timedOut  []string
}

func (m *recordingMetrics) StageCompleted(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, stage)
}

func (m *recordingMetrics) StageTimedOut(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timedOut = append(m.timedOut, stage)
}

func (m *recordingMetrics) snapshot() (completed, timedOut []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.completed...), append([]string(nil), m.timedOut...)
}

// TestStop_CooperativeStageCompletesQuickly exercises the common case: no
// extra handles are registered, so unreffing the notifier in stageAllowStop
// must let Run return naturally without ever reaching stage 2 or 3.
func TestStop_CooperativeStageCompletesQuickly(t *testing.T) {
	metrics := &recordingMetrics{}
	w := New(WithMetricsSink(metrics))
	f := w.Start()
	_, err := f.Wait(context.Background())
	require.NoError(t, err)

	start := time.Now()
	err = w.Stop(context.Background(), 300*time.Millisecond)
	assert.NoError(t, err)
	assert.Less(t, time.Since(start), 300*time.Millisecond)

	completed, timedOut := metrics.snapshot()
	assert.Equal(t, []string{"AllowStop"}, completed)
	assert.Empty(t, timedOut)
}

// TestStop_RudeStageClosesExtraHandles registers an extra timer handle that
// never closes itself, so stage 1 (AllowStop) can't let Run return on its
// own; stage 2 (OnStopRude) must dispose of it.
func TestStop_RudeStageClosesExtraHandles(t *testing.T) {
	w := New()
	f := w.Start()
	_, err := f.Wait(context.Background())
	require.NoError(t, err)

	registered := make(chan struct{})
	w.Post(func(w *Worker) {
		_, tErr := w.Loop().NewTimer(time.Hour, func() {})
		require.NoError(t, tErr)
		close(registered)
	})

	select {
	case <-registered:
	case <-time.After(time.Second):
		t.Fatal("extra timer was never registered")
	}

	err = w.Stop(context.Background(), 300*time.Millisecond)
	assert.NoError(t, err)
}

func TestStop_DrainsConnectionsBeforeStages(t *testing.T) {
	registry := NewConnectionRegistry()
	w := New(WithConnectionRegistry(registry))
	f := w.Start()
	_, err := f.Wait(context.Background())
	require.NoError(t, err)

	c := &fakeConn{}
	registry.Register(c)

	err = w.Stop(context.Background(), 500*time.Millisecond)
	assert.NoError(t, err)
}

func TestStop_NeverStartedReturnsNil(t *testing.T) {
	w := New()
	err := w.Stop(context.Background(), time.Second)
	assert.NoError(t, err)
}

func TestStopStage_String(t *testing.T) {
	assert.Equal(t, "AllowStop", stageAllowStop.String())
	assert.Equal(t, "OnStopRude", stageOnStopRude.String())
	assert.Equal(t, "OnStopImmediate", stageOnStopImmediate.String())
}
