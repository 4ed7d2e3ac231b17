// Package stream implements the disk streaming subsystem described in spec
// section 4.2: a fixed-size pool of ring-buffered streams that keep voice
// sample data flowing from secondary storage without ever blocking the
// audio thread.
//
// Each Stream's ring buffer is a github.com/smallnest/ringbuffer.RingBuffer
// of raw bytes (float32 frames packed little-endian), the same pattern
// tphakala/birdnet-go uses for its named analysis buffers
// (internal/myaudio/analysis_buffer*.go): a byte ring buffer behind a
// mutex, written by one producer and drained by one consumer.
package stream

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"

	"gosampler/internal/sample"
)

// State is a Disk Stream's lifecycle state (spec section 4.2).
type State int32

const (
	StateUnused State = iota
	StateAwaitingFill
	StateActive
	StateEndReached
	StateReleasing
)

// ErrPoolExhausted is returned by Allocate when no free stream slot exists.
var ErrPoolExhausted = errors.New("stream: pool exhausted")

// Handle identifies a Stream. The zero Handle never refers to a real
// stream, matching Voice's "at most one stream handle" invariant: a Voice
// that has never streamed simply holds a zero Handle.
type Handle struct {
	index int
	gen    uint32
}

func (h Handle) valid() bool { return h.gen != 0 }

// LoopParams mirrors sample.Loop but travels with the stream allocation so
// the fill goroutine can honor wrap semantics without dereferencing the
// Sample (which may be replaced under it by a Resource Manager Update).
type LoopParams struct {
	Start     int64
	End       int64
	PlayCount int
	Enabled   bool
}

type slot struct {
	gen         uint32
	state       atomic.Int32
	voiceID     uint64
	smpl        *sample.Sample
	ring        *ringbuffer.RingBuffer
	readPos     atomic.Int64 // frames consumed by the voice
	writePos    atomic.Int64 // frames produced by the disk thread
	loopPlayed  int
	loop        LoopParams
	frameBytes  int
	endReached  atomic.Bool
	scratch     []byte // reused by Read; sized once at Allocate, never reallocated on the RT path
}

// Pool is the fixed-size, O(1)-allocate collection of Streams described in
// spec section 4.2. Allocate/Read/Release are the RT-side contract; the
// Filler (see filler.go) is the only writer.
type Pool struct {
	mu       sync.Mutex
	slots    []*slot
	free     []int
	capacity int // frames per stream ring buffer
	lowWater int // refill threshold, in frames
}

// NewPool creates a pool of size streams, each able to hold capacityFrames
// frames of its sample's native frame size.
func NewPool(size, capacityFrames int) *Pool {
	p := &Pool{
		slots:    make([]*slot, size),
		free:     make([]int, size),
		capacity: capacityFrames,
		lowWater: capacityFrames / 4,
	}
	for i := range p.slots {
		p.slots[i] = &slot{}
		p.free[i] = size - 1 - i
	}
	return p
}

// Len returns the pool's fixed stream capacity.
func (p *Pool) Len() int { return len(p.slots) }

// ActiveCount returns how many streams are currently not StateUnused. Safe
// to call from a control thread for the total_stream_count listener.
func (p *Pool) ActiveCount() int {
	n := 0
	for _, s := range p.slots {
		if State(s.state.Load()) != StateUnused {
			n++
		}
	}
	return n
}

// Allocate reserves a stream for voiceID reading smpl starting at
// startOffset, honoring loop. It is O(1) and safe to call from the RT
// render path; it returns ErrPoolExhausted if every slot is occupied.
func (p *Pool) Allocate(voiceID uint64, smpl *sample.Sample, startOffset int64, loop LoopParams) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return Handle{}, ErrPoolExhausted
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	s := p.slots[idx]
	s.gen++
	s.voiceID = voiceID
	s.smpl = smpl
	s.loop = loop
	s.loopPlayed = 0
	s.frameBytes = smpl.Channels * 4 // float32 per channel
	s.ring = ringbuffer.New(p.capacity * s.frameBytes)
	s.scratch = make([]byte, p.capacity*s.frameBytes)
	s.readPos.Store(startOffset)
	s.writePos.Store(startOffset)
	s.endReached.Store(false)
	s.state.Store(int32(StateAwaitingFill))

	return Handle{index: idx, gen: s.gen}, nil
}

func (p *Pool) lookup(h Handle) (*slot, bool) {
	if !h.valid() || h.index < 0 || h.index >= len(p.slots) {
		return nil, false
	}
	s := p.slots[h.index]
	if s.gen != h.gen {
		return nil, false
	}
	return s, true
}

// Read copies up to len(dst)/channels frames into dst (interleaved
// float32), advancing the read cursor. It never blocks: if fewer frames
// are available than requested, Read returns the frames it has, short of
// end-of-sample only when the stream's endReached flag is set and the
// buffer has drained. Fill-level visibility relies on the ring buffer's
// own internal synchronization.
func (p *Pool) Read(h Handle, dst []float32, nFrames int) (int, error) {
	s, ok := p.lookup(h)
	if !ok {
		return 0, errors.New("stream: invalid handle")
	}
	maxFrames := len(s.scratch) / s.frameBytes
	if nFrames > maxFrames {
		nFrames = maxFrames
	}
	want := nFrames * s.frameBytes / 4 // floats
	raw := s.scratch[:nFrames*s.frameBytes]
	n, _ := s.ring.Read(raw)
	framesRead := n / s.frameBytes

	for i := 0; i < framesRead*s.frameBytes/4 && i < want; i++ {
		bits := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		dst[i] = math.Float32frombits(bits)
	}
	s.readPos.Add(int64(framesRead))

	if framesRead == 0 && s.endReached.Load() {
		s.state.Store(int32(StateEndReached))
	} else if framesRead > 0 {
		s.state.Store(int32(StateActive))
	}
	return framesRead, nil
}

// FillLevel returns the current ring buffer occupancy in frames, via an
// acquire-load-equivalent read of the underlying buffer length.
func (p *Pool) FillLevel(h Handle) int {
	s, ok := p.lookup(h)
	if !ok {
		return 0
	}
	return s.ring.Length() / s.frameBytes
}

// Release marks the stream for reuse. No I/O is performed; the slot is
// returned to the free list and a new allocation invalidates any
// outstanding Handle sharing its index via the generation counter.
func (p *Pool) Release(h Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.lookup(h)
	if !ok {
		return
	}
	s.state.Store(int32(StateReleasing))
	s.smpl = nil
	s.ring = nil
	s.state.Store(int32(StateUnused))
	p.free = append(p.free, h.index)
}

// State returns the current lifecycle state of h.
func (p *Pool) State(h Handle) State {
	s, ok := p.lookup(h)
	if !ok {
		return StateUnused
	}
	return State(s.state.Load())
}
