package stream

import (
	"context"
	"encoding/binary"
	"math"
	"time"
)

// Filler is the single disk I/O thread described in spec section 4.2. It
// periodically scans the pool for streams whose free space exceeds the
// low-water mark and whose sample still has unread frames, and tops them
// up. It may be edge-signaled to reduce scan latency, but a free-running
// ticker guarantees correctness never depends on the signal arriving.
type Filler struct {
	pool     *Pool
	signal   chan struct{}
	interval time.Duration
}

// NewFiller creates a Filler over pool, scanning at least every interval.
func NewFiller(pool *Pool, interval time.Duration) *Filler {
	if interval <= 0 {
		interval = 5 * time.Millisecond
	}
	return &Filler{
		pool:     pool,
		signal:   make(chan struct{}, 1),
		interval: interval,
	}
}

// Kick coalesces an edge-triggered "a voice spawned, scan soon" signal.
// Safe to call from the RT thread: it is a non-blocking buffered send.
func (f *Filler) Kick() {
	select {
	case f.signal <- struct{}{}:
	default:
	}
}

// Run blocks, scanning the pool until ctx is canceled. It is intended to
// be the sole goroutine body of the disk I/O thread.
func (f *Filler) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.scan()
		case <-f.signal:
			f.scan()
		}
	}
}

func (f *Filler) scan() {
	p := f.pool
	for _, s := range p.slots {
		st := State(s.state.Load())
		if st != StateAwaitingFill && st != StateActive {
			continue
		}
		smpl := s.smpl
		if smpl == nil || smpl.Backing == nil {
			continue
		}

		free := p.capacity - s.ring.Length()/s.frameBytes
		if free <= p.lowWater {
			continue
		}

		writePos := s.writePos.Load()
		remaining := smpl.TotalFrames - writePos
		if remaining <= 0 {
			if s.loop.Enabled && (s.loop.PlayCount == 0 || s.loopPlayed < s.loop.PlayCount) {
				s.loopPlayed++
				writePos = s.loop.Start
				s.writePos.Store(writePos)
				remaining = smpl.TotalFrames - writePos
			} else {
				s.endReached.Store(true)
				continue
			}
		}

		toRead := free
		if s.loop.Enabled && s.loop.End > 0 {
			untilLoopEnd := s.loop.End - writePos
			if untilLoopEnd > 0 && int64(toRead) > untilLoopEnd {
				toRead = int(untilLoopEnd)
			}
		}
		if int64(toRead) > remaining {
			toRead = int(remaining)
		}
		if toRead <= 0 {
			continue
		}

		frames, err := smpl.Backing.ReadFramesAt(writePos, toRead)
		if err != nil || len(frames) == 0 {
			continue
		}
		n := len(frames) / smpl.Channels

		raw := make([]byte, n*s.frameBytes)
		for i, v := range frames[:n*smpl.Channels] {
			binary.LittleEndian.PutUint32(raw[i*4:i*4+4], math.Float32bits(v))
		}
		written, _ := s.ring.Write(raw)
		s.writePos.Add(int64(written / s.frameBytes))

		if st == StateAwaitingFill {
			s.state.Store(int32(StateActive))
		}
	}
}
