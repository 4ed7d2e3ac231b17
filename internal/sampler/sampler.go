// Package sampler implements the top-level Sampler object described in
// spec section 4.5: the control-protocol boundary that ties the Resource
// Manager, Disk Streaming, Voice/Engine Core, Script VM, and Device
// Routing modules together behind one exported method set, plus the
// Sampler Channel id allocation policy and the Reset teardown sequence.
// An LSCP server is explicitly out of scope (spec.md section 1); this
// method set is the contract such a server, or cmd/gosampler's cobra
// subcommands, would sit in front of.
package sampler

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"gosampler/internal/device"
	"gosampler/internal/instrument"
	"gosampler/internal/listener"
	"gosampler/internal/metrics"
	"gosampler/internal/sample"
	"gosampler/internal/voice"
)

// maxChannels bounds the Sampler Channel id space; spec.md does not name a
// hard limit, so this is a generous round number rather than a derived
// constant.
const maxChannels = 256

// maxConcurrentLoads bounds how many instrument/sample Borrow calls may be
// in flight at once, so a burst of LoadInstrument calls cannot starve the
// disk thread with concurrent file opens.
const maxConcurrentLoads = 4

// Sampler is the top-level object a control surface drives. Channel
// creation/destruction, engine changes, instrument loads and device
// connections run through ops, a single-goroutine queue, so they are
// serialized regardless of how many goroutines call in; RegisterEngine,
// SetErrorHandler, SetMIDIFilter and EvictSample run on the caller's
// goroutine.
type Sampler struct {
	mu       sync.Mutex
	engines  map[string]*voice.Engine
	channels map[int]*voice.Channel
	chEngine map[int]string

	devices *device.Manager
	bus     *listener.Bus
	metrics *metrics.Registry

	ops     *OpQueue
	loadSem *semaphore.Weighted
	errs    ErrorHandler

	consumer uuid.UUID
}

// New creates an empty Sampler. Engines must be registered with
// RegisterEngine before any channel can use them; drivers must be
// registered on Devices() before any device operation can succeed.
func New(reg prometheus.Registerer) *Sampler {
	s := &Sampler{
		engines:  make(map[string]*voice.Engine),
		channels: make(map[int]*voice.Channel),
		chEngine: make(map[int]string),
		devices:  device.NewManager(),
		bus:      listener.NewBus(),
		metrics:  metrics.NewRegistry(reg),
		ops:      NewOpQueue(64),
		loadSem:  semaphore.NewWeighted(maxConcurrentLoads),
		errs:     DefaultErrorHandler{},
		consumer: uuid.New(),
	}
	s.ops.Start()
	return s
}

// SetErrorHandler replaces the handler used for errors the control queue
// cannot return directly to a caller (currently unused by any op, but
// Reset's best-effort stages will route failures here once a caller needs
// fire-and-forget teardown).
func (s *Sampler) SetErrorHandler(h ErrorHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == nil {
		h = DefaultErrorHandler{}
	}
	s.errs = h
}

// Devices exposes the device registry so callers can register concrete
// AudioDriver/MIDIDriver implementations before use.
func (s *Sampler) Devices() *device.Manager { return s.devices }

// Bus exposes the listener registry for Subscribe* calls.
func (s *Sampler) Bus() *listener.Bus { return s.bus }

// Metrics exposes the Prometheus collector bundle.
func (s *Sampler) Metrics() *metrics.Registry { return s.metrics }

// RegisterEngine makes an Engine available under name for CreateChannel.
func (s *Sampler) RegisterEngine(name string, eng *voice.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engines[name] = eng
}

// allocChannelID implements spec section 4.5's id policy: one past the
// highest existing id, falling back to the lowest unused id below that,
// failing only when every slot up to maxChannels is occupied.
func (s *Sampler) allocChannelID() (int, error) {
	if len(s.channels) == 0 {
		return 0, nil
	}
	highest := -1
	for id := range s.channels {
		if id > highest {
			highest = id
		}
	}
	if highest+1 < maxChannels {
		return highest + 1, nil
	}
	for id := 0; id < maxChannels; id++ {
		if _, used := s.channels[id]; !used {
			return id, nil
		}
	}
	return 0, ErrNoChannelSlot
}

// CreateChannel allocates a new Sampler Channel bound to engineType and
// returns its id.
func (s *Sampler) CreateChannel(engineType string) (int, error) {
	var id int
	err := s.ops.RunSync(func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		eng, ok := s.engines[engineType]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownEngine, engineType)
		}
		newID, err := s.allocChannelID()
		if err != nil {
			return err
		}
		ch := voice.NewChannel(newID, eng)
		eng.AddChannel(ch)
		s.channels[newID] = ch
		s.chEngine[newID] = engineType
		id = newID
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.bus.FireChannelCount(s.ChannelCount())
	return id, nil
}

// DestroyChannel tears down a channel: releases its device bindings and
// removes it from its Engine.
func (s *Sampler) DestroyChannel(id int) error {
	err := s.ops.RunSync(func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		ch, ok := s.channels[id]
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownChannel, id)
		}
		ch.Engine.RemoveChannel(id)
		s.devices.ClearChannel(id)
		delete(s.channels, id)
		delete(s.chEngine, id)
		return nil
	})
	if err != nil {
		return err
	}
	s.bus.FireChannelCount(s.ChannelCount())
	return nil
}

// SetChannelEngine repoints channel at a different registered Engine,
// firing EngineChange with the previous and new engine type names
// (spec section 4.5's supplemented EngineToBeChanged/EngineChanged pair).
func (s *Sampler) SetChannelEngine(id int, engineType string) error {
	return s.ops.RunSync(func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		oldCh, ok := s.channels[id]
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownChannel, id)
		}
		newEng, ok := s.engines[engineType]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownEngine, engineType)
		}
		from := s.chEngine[id]
		oldCh.Engine.RemoveChannel(id)
		newCh := voice.NewChannel(id, newEng)
		newEng.AddChannel(newCh)
		s.channels[id] = newCh
		s.chEngine[id] = engineType
		s.bus.FireEngineChange(id, listener.EngineChangeEvent{Channel: id, From: from, To: engineType})
		return nil
	})
}

// Channel looks up a channel by id for render-path wiring (a driver's
// callback calls voice.RenderCycle on the returned *voice.Channel
// directly; Sampler itself never touches the render path).
func (s *Sampler) Channel(id int) (*voice.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[id]
	return ch, ok
}

// LoadInstrument resolves (path, index) through the channel's Engine's
// instrument resource manager and assigns it, bounded by loadSem so a
// burst of calls cannot flood the disk thread with concurrent opens.
func (s *Sampler) LoadInstrument(channel int, path string, index int) error {
	if err := s.loadSem.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer s.loadSem.Release(1)

	return s.ops.RunSync(func(ctx context.Context) error {
		s.mu.Lock()
		ch, ok := s.channels[channel]
		s.mu.Unlock()
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownChannel, channel)
		}
		instr, err := ch.Engine.Instruments.Borrow(instrument.Key{Path: path, Index: index}, s.consumer)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInstrumentLoad, err)
		}
		ch.LoadInstrument(instr)
		return nil
	})
}

// ConnectAudioDevice binds deviceUID to channel via the device registry.
func (s *Sampler) ConnectAudioDevice(channel int, deviceUID string) error {
	return s.ops.RunSync(func(ctx context.Context) error {
		if _, ok := s.Channel(channel); !ok {
			return fmt.Errorf("%w: %d", ErrUnknownChannel, channel)
		}
		s.devices.BindAudio(channel, deviceUID)
		return nil
	})
}

// DisconnectAudioDevice unbinds channel's audio device.
func (s *Sampler) DisconnectAudioDevice(channel int) error {
	return s.ops.RunSync(func(ctx context.Context) error {
		return s.devices.UnbindAudio(channel)
	})
}

// ConnectMIDI binds portUID to channel.
func (s *Sampler) ConnectMIDI(channel int, portUID string) error {
	return s.ops.RunSync(func(ctx context.Context) error {
		if _, ok := s.Channel(channel); !ok {
			return fmt.Errorf("%w: %d", ErrUnknownChannel, channel)
		}
		s.devices.BindMIDI(channel, portUID)
		return nil
	})
}

// DisconnectMIDI unbinds portUID from channel.
func (s *Sampler) DisconnectMIDI(channel int, portUID string) error {
	return s.ops.RunSync(func(ctx context.Context) error {
		s.devices.UnbindMIDI(channel, portUID)
		return nil
	})
}

// SetMIDIFilter replaces channel's MIDI filter.
func (s *Sampler) SetMIDIFilter(channel int, f voice.MIDIFilter) error {
	ch, ok := s.Channel(channel)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, channel)
	}
	ch.SetFilter(f)
	return nil
}

// ChannelCount returns the number of live Sampler Channels.
func (s *Sampler) ChannelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

// ChannelIDs returns a snapshot of every live channel id.
func (s *Sampler) ChannelIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.channels))
	for id := range s.channels {
		ids = append(ids, id)
	}
	return ids
}

// VoiceCount returns how many voices are currently active on channel.
func (s *Sampler) VoiceCount(channel int) int {
	ch, ok := s.Channel(channel)
	if !ok {
		return 0
	}
	return len(ch.Voices)
}

// TotalVoices sums VoiceCount across every channel.
func (s *Sampler) TotalVoices() int {
	total := 0
	for _, id := range s.ChannelIDs() {
		total += s.VoiceCount(id)
	}
	return total
}

// EvictSample forces a sample resource out of an engine's cache,
// exercising resource.Manager.Handback from a control surface rather than
// only from voice reaping.
func (s *Sampler) EvictSample(engineType string, key sample.Key) {
	s.mu.Lock()
	eng, ok := s.engines[engineType]
	s.mu.Unlock()
	if !ok {
		return
	}
	eng.Samples.Handback(key, s.consumer)
}

// Close stops the op queue without tearing down any channel or device
// state; used by short-lived CLI invocations that want a clean goroutine
// exit but not a full Reset.
func (s *Sampler) Close() {
	s.ops.Close()
}
