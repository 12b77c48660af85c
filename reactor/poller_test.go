//go:build linux || darwin

package reactor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestLoop_RegisterFDFiresOnReadable(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	fds := make([]int, 2)
	require.NoError(t, syscallPipe(fds))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	var fired atomic.Bool
	require.NoError(t, l.RegisterFD(fds[0], EventRead, func(ev IOEvents) {
		if ev&EventRead != 0 {
			fired.Store(true)
		}
	}))
	defer l.UnregisterFD(fds[0])

	timer, err := l.NewTimer(5*time.Millisecond, func() {})
	require.NoError(t, err)
	defer timer.Close(nil)

	done := make(chan struct{})
	go func() {
		_ = l.Run(context.Background())
		close(done)
	}()

	_, werr := unix.Write(fds[1], []byte("x"))
	require.NoError(t, werr)

	deadline := time.Now().Add(time.Second)
	for !fired.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.True(t, fired.Load())

	l.Stop()
	<-done
}

func TestFDPoller_DuplicateRegisterFails(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	fds := make([]int, 2)
	require.NoError(t, syscallPipe(fds))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	require.NoError(t, l.RegisterFD(fds[0], EventRead, func(IOEvents) {}))
	defer l.UnregisterFD(fds[0])

	err = l.RegisterFD(fds[0], EventRead, func(IOEvents) {})
	assert.ErrorIs(t, err, ErrFDAlreadyRegistered)
}

func TestFDPoller_UnregisterUnknownFails(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	err = l.UnregisterFD(999)
	assert.ErrorIs(t, err, ErrFDNotRegistered)
}

func syscallPipe(fds []int) error {
	var raw [2]int
	if err := unix.Pipe(raw[:]); err != nil {
		return err
	}
	fds[0], fds[1] = raw[0], raw[1]
	return nil
}
