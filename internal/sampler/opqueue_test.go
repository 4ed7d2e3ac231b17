package sampler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpQueueRunSyncReturnsError(t *testing.T) {
	q := NewOpQueue(4)
	q.Start()
	defer q.Close()

	want := errors.New("boom")
	err := q.RunSync(func(ctx context.Context) error { return want })
	require.ErrorIs(t, err, want)
}

func TestOpQueueSerializesEnqueuedOps(t *testing.T) {
	q := NewOpQueue(8)
	q.Start()
	defer q.Close()

	var counter atomic.Int32
	var last atomic.Int32
	out := make(chan struct{}, 8)
	for i := 0; i < 8; i++ {
		require.NoError(t, q.Enqueue(OpFunc(func(ctx context.Context) error {
			counter.Add(1)
			last.Store(counter.Load())
			out <- struct{}{}
			return nil
		})))
	}
	for i := 0; i < 8; i++ {
		<-out
	}
	require.Equal(t, int32(8), counter.Load())
}

func TestOpQueueCloseStopsAcceptingWork(t *testing.T) {
	q := NewOpQueue(1)
	q.Start()
	q.Close()

	err := q.RunSync(func(ctx context.Context) error { return nil })
	require.Error(t, err)
}
