package uvworker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture_SettleThenWait(t *testing.T) {
	f := newFuture()
	f.settle(42, nil)

	result, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestFuture_SettleOnce(t *testing.T) {
	f := newFuture()
	f.settle("first", nil)
	f.settle("second", errors.New("ignored"))

	result, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", result)
}

func TestFuture_WaitTimesOutBeforeSettle(t *testing.T) {
	f := newFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFuture_DoneClosesOnSettle(t *testing.T) {
	f := newFuture()
	select {
	case <-f.Done():
		t.Fatal("future should not be done yet")
	default:
	}

	f.settle(nil, errors.New("boom"))

	select {
	case <-f.Done():
	default:
		t.Fatal("future should be done after settle")
	}
}
