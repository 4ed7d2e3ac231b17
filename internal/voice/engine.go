package voice

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"gosampler/internal/instrument"
	"gosampler/internal/resource"
	"gosampler/internal/sample"
	"gosampler/internal/script"
	"gosampler/internal/stream"
)

// Engine is one sampler format's voice core: its own instrument and
// sample resource managers, its own disk stream pool, and the global
// voice/stream caps its Channels share (spec section 4.3). A Sampler
// hosts one Engine per active format.
type Engine struct {
	Name string

	Instruments *resource.Manager[instrument.Key, *instrument.Instrument]
	Samples     *resource.Manager[sample.Key, *sample.Sample]
	Streams     *stream.Pool
	Filler      *stream.Filler
	Programs    *script.Cache

	// ScaleTuning holds a 12-entry cents-offset table (index 0 = C) for
	// alternate tunings; ResolvePitch folds it into a Region's base pitch.
	// Zero value is equal temperament.
	ScaleTuning [12]int8

	MaxVoices  int
	MaxStreams int

	mu       sync.Mutex
	channels map[int]*Channel

	nextVoiceID atomic.Uint64
	cycleCount  atomic.Uint64
	voiceBirth  map[uint64]uint64 // voice id -> cycle it was spawned on, for the stealing policy's age term

	consumer uuid.UUID // this Engine's identity when borrowing from its resource managers
}

// NewEngine creates an Engine with the given global voice/disk-stream
// caps and a freshly allocated disk stream pool sized to maxStreams.
func NewEngine(name string, maxVoices, maxStreams, streamCapacityFrames int) *Engine {
	e := &Engine{
		Name:       name,
		Streams:    stream.NewPool(maxStreams, streamCapacityFrames),
		Programs:   script.NewCache(),
		MaxVoices:  maxVoices,
		MaxStreams: maxStreams,
		channels:   make(map[int]*Channel),
		voiceBirth: make(map[uint64]uint64),
		consumer:   uuid.New(),
	}
	e.Filler = stream.NewFiller(e.Streams, 0)
	e.Instruments = resource.New(e.loadInstrument, e.unloadInstrument)
	e.Samples = resource.New(e.loadSample, e.unloadSample)
	for i := range e.ScaleTuning {
		e.ScaleTuning[i] = 0
	}
	return e
}

func (e *Engine) loadInstrument(key instrument.Key, consumer uuid.UUID, report resource.ProgressFunc) (*instrument.Instrument, any, error) {
	// Concrete file-format loaders (.gig/.sfz/.sf2/...) are external
	// collaborators this package never instantiates (spec non-goals);
	// callers inject their own Factory by replacing e.Instruments before
	// first use when they need real parsing.
	return &instrument.Instrument{Name: key.Path, FileID: key.Path, Index: key.Index}, nil, nil
}

func (e *Engine) unloadInstrument(key instrument.Key, instr *instrument.Instrument, arg any) {}

func (e *Engine) loadSample(key sample.Key, consumer uuid.UUID, report resource.ProgressFunc) (*sample.Sample, any, error) {
	backing, smpl, err := sample.OpenWAV(key.Path)
	if err != nil {
		return nil, nil, err
	}
	smpl.Index = key.Index
	return &smpl, backing, nil
}

func (e *Engine) unloadSample(key sample.Key, smpl *sample.Sample, arg any) {
	if smpl.Backing != nil {
		_ = smpl.Backing.Close()
	}
}

// ResolvePitch returns key as a fractional semitone number under the
// engine's ScaleTuning table: key plus its semitone class's cents offset
// expressed as a fraction of a semitone.
func (e *Engine) ResolvePitch(key int) float64 {
	class := ((key % 12) + 12) % 12
	cents := float64(e.ScaleTuning[class])
	return float64(key) + cents/100.0
}

// SetScaleTuning replaces the 12-entry cents-offset table.
func (e *Engine) SetScaleTuning(table [12]int8) {
	e.ScaleTuning = table
}

// AddChannel registers ch under its ID.
func (e *Engine) AddChannel(ch *Channel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.channels[ch.ID] = ch
}

// RemoveChannel unregisters the channel with the given ID.
func (e *Engine) RemoveChannel(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.channels, id)
}

// Channel looks up a registered channel by ID.
func (e *Engine) Channel(id int) (*Channel, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.channels[id]
	return ch, ok
}

// Channels returns a snapshot of every registered channel.
func (e *Engine) Channels() []*Channel {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Channel, 0, len(e.channels))
	for _, ch := range e.channels {
		out = append(out, ch)
	}
	return out
}

func (e *Engine) newVoiceID() uint64 { return e.nextVoiceID.Add(1) }

// TotalVoices counts active voices across every registered channel.
func (e *Engine) TotalVoices() int {
	total := 0
	for _, ch := range e.Channels() {
		total += len(ch.Voices)
	}
	return total
}
