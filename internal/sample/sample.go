// Package sample implements the uniform interface over sample data described
// in spec section 3 ("Sample"): an immutable audio payload addressed by a
// file identifier and in-file index, with an optional RAM prefix used to
// hide disk-stream start latency.
package sample

import "fmt"

// LoopMode selects how a Sample's loop region is traversed.
type LoopMode int

const (
	LoopNone LoopMode = iota
	LoopForward
	LoopPingPong
	LoopBackward
)

// Loop describes a Sample's embedded loop region.
type Loop struct {
	Start     int64
	End       int64
	PlayCount int // 0 means infinite
	Mode      LoopMode
}

// Backing is the abstract interface every concrete sample-file loader
// implements. Only ReadFramesAt is expected to do I/O; it must be safe to
// call from the disk I/O thread only (never from the RT render path).
type Backing interface {
	// ReadFramesAt reads up to n interleaved frames starting at frame
	// offset and returns however many were actually available.
	ReadFramesAt(offset int64, n int) ([]float32, error)
	Close() error
}

// Sample is the immutable, resource-manager-owned audio payload described
// in spec section 3.
type Sample struct {
	Name          string
	SampleRate    int
	Channels      int
	FrameSize     int // bytes per frame (all channels)
	TotalFrames   int64
	Loop          *Loop
	MaxStartFrame int64 // maximum playback start offset

	// Backing is the concrete multi-format reader. RAMPrefix, when
	// non-nil, caches the first PrefixFrames frames so a freshly spawned
	// voice can begin playback before its disk stream has filled.
	Backing      Backing
	RAMPrefix    []float32
	PrefixFrames int64

	// FileID and Index identify the resource-manager key this Sample was
	// created under (file path, in-file instrument/sample index).
	FileID string
	Index  int
}

// ReadPrefix returns up to n frames from the RAM prefix starting at
// offset, or (nil, false) if the prefix does not cover that range.
func (s *Sample) ReadPrefix(offset int64, n int) ([]float32, bool) {
	if s.RAMPrefix == nil || offset < 0 || offset+int64(n) > s.PrefixFrames {
		return nil, false
	}
	start := offset * int64(s.Channels)
	end := start + int64(n)*int64(s.Channels)
	if end > int64(len(s.RAMPrefix)) {
		return nil, false
	}
	return s.RAMPrefix[start:end], true
}

// FullyRAMResident reports whether the entire sample fits in the RAM
// prefix, letting a voice fall back to RAM-only playback when the stream
// pool is exhausted (spec section 4.2, Failure).
func (s *Sample) FullyRAMResident() bool {
	return s.RAMPrefix != nil && s.PrefixFrames >= s.TotalFrames
}

// PreparePrefix synchronously caches the first n frames (or re-centers the
// prefix around startOffset when a voice spawns far into the sample,
// per spec section 4.2's initial-cache policy).
func (s *Sample) PreparePrefix(n int, startOffset int64) error {
	if s.Backing == nil {
		return fmt.Errorf("sample %q: no backing store", s.Name)
	}
	if startOffset > 0 {
		// Re-center: we only ever need enough prefix to hide stream
		// fill latency from the actual start point, so shrink the
		// window instead of caching from frame zero.
		if remaining := s.TotalFrames - startOffset; remaining < int64(n) {
			n = int(remaining)
		}
	}
	if n <= 0 {
		s.RAMPrefix = nil
		s.PrefixFrames = 0
		return nil
	}
	frames, err := s.Backing.ReadFramesAt(startOffset, n)
	if err != nil {
		return fmt.Errorf("sample %q: prepare prefix: %w", s.Name, err)
	}
	s.RAMPrefix = frames
	s.PrefixFrames = int64(len(frames)) / int64(s.Channels)
	return nil
}

// Key identifies a Sample within the resource manager: (file path, index).
type Key struct {
	Path  string
	Index int
}

func (k Key) String() string { return fmt.Sprintf("%s#%d", k.Path, k.Index) }
