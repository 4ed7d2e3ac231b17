package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gosampler/internal/sample"
)

type memBacking struct {
	channels int
	frames   []float32 // interleaved
}

func (m *memBacking) ReadFramesAt(offset int64, n int) ([]float32, error) {
	start := int(offset) * m.channels
	if start >= len(m.frames) {
		return nil, nil
	}
	end := start + n*m.channels
	if end > len(m.frames) {
		end = len(m.frames)
	}
	return m.frames[start:end], nil
}

func (m *memBacking) Close() error { return nil }

func newTestSample(totalFrames int) *sample.Sample {
	backing := &memBacking{channels: 1, frames: make([]float32, totalFrames)}
	for i := range backing.frames {
		backing.frames[i] = float32(i)
	}
	return &sample.Sample{
		Name:        "test",
		Channels:    1,
		TotalFrames: int64(totalFrames),
		Backing:     backing,
	}
}

func TestAllocateReadRelease(t *testing.T) {
	pool := NewPool(2, 64)
	filler := NewFiller(pool, time.Millisecond)

	smpl := newTestSample(200)
	h, err := pool.Allocate(1, smpl, 0, LoopParams{})
	require.NoError(t, err)
	require.Equal(t, StateAwaitingFill, pool.State(h))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go filler.Run(ctx)

	require.Eventually(t, func() bool {
		return pool.FillLevel(h) > 0
	}, time.Second, time.Millisecond)

	dst := make([]float32, 10)
	n, err := pool.Read(h, dst, 10)
	require.NoError(t, err)
	require.Greater(t, n, 0)
	require.Equal(t, float32(0), dst[0])

	pool.Release(h)
	require.Equal(t, StateUnused, pool.State(h))
}

func TestPoolExhaustion(t *testing.T) {
	pool := NewPool(1, 16)
	smpl := newTestSample(100)

	_, err := pool.Allocate(1, smpl, 0, LoopParams{})
	require.NoError(t, err)

	_, err = pool.Allocate(2, smpl, 0, LoopParams{})
	require.ErrorIs(t, err, ErrPoolExhausted)
}

func TestReleaseInvalidatesHandle(t *testing.T) {
	pool := NewPool(1, 16)
	smpl := newTestSample(100)

	h, err := pool.Allocate(1, smpl, 0, LoopParams{})
	require.NoError(t, err)
	pool.Release(h)

	h2, err := pool.Allocate(2, smpl, 0, LoopParams{})
	require.NoError(t, err)
	require.NotEqual(t, h, h2)

	n, _ := pool.Read(h, make([]float32, 4), 4)
	require.Equal(t, 0, n)
}

func TestEndOfSampleReachesEndState(t *testing.T) {
	pool := NewPool(1, 256)
	filler := NewFiller(pool, time.Millisecond)
	smpl := newTestSample(8)

	h, err := pool.Allocate(1, smpl, 0, LoopParams{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go filler.Run(ctx)

	dst := make([]float32, 8)
	require.Eventually(t, func() bool {
		n, _ := pool.Read(h, dst, 8)
		return n > 0
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		n, _ := pool.Read(h, dst, 8)
		return n == 0 && pool.State(h) == StateEndReached
	}, time.Second, time.Millisecond)
}
