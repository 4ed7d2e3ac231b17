package voice

import (
	"sync"

	"gosampler/internal/instrument"
	"gosampler/internal/script"
)

// MIDIEvent is one drained Channel-bound MIDI message, tagged with the
// sub-cycle frame it logically belongs to so the scheduler can spawn and
// render voices in the same order the source MIDI stream did.
type MIDIEvent struct {
	SubFrame int
	Status   byte
	Data1    byte
	Data2    byte
}

// MIDIFilter restricts which events a Channel accepts. A negative
// MIDIChannel means "any MIDI channel".
type MIDIFilter struct {
	MIDIChannel int
	LowKey      int
	HighKey     int
	LowVel      int
	HighVel     int
}

// Accepts reports whether ev passes f; ev.Status's low nibble is the MIDI
// channel for channel-voice messages.
func (f MIDIFilter) Accepts(ev MIDIEvent) bool {
	if f.MIDIChannel >= 0 && int(ev.Status&0x0F) != f.MIDIChannel {
		return false
	}
	switch ev.Status & 0xF0 {
	case 0x90, 0x80: // note on/off
		key := int(ev.Data1)
		if key < f.LowKey || key > f.HighKey {
			return false
		}
		if ev.Status&0xF0 == 0x90 {
			vel := int(ev.Data2)
			if vel < f.LowVel || vel > f.HighVel {
				return false
			}
		}
	}
	return true
}

// DefaultMIDIFilter accepts every channel, key, and velocity.
func DefaultMIDIFilter() MIDIFilter {
	return MIDIFilter{MIDIChannel: -1, LowKey: 0, HighKey: 127, LowVel: 0, HighVel: 127}
}

// eventQueueCapacity bounds how many MIDI events a Channel buffers
// between render cycles; a cycle at 64 frames/128 voices worth of chords
// comfortably fits in this without the producer ever blocking.
const eventQueueCapacity = 1024

// Channel is an Engine Channel (spec section 4.5): one instrument slot
// with its own voice set, pending MIDI queue, and script execution state.
// It is rendered by exactly one scheduler at a time; control-thread
// mutation (binding, filter changes, note injection) is synchronized
// separately from the render path via the fields marked below.
type Channel struct {
	ID     int
	Engine *Engine

	mu     sync.Mutex // guards Filter and Instrument only; never held across a render cycle
	Filter MIDIFilter
	Instr  *instrument.Instrument

	events chan MIDIEvent

	Voices  []*Voice
	Globals *script.Globals

	// ControlCtx holds a context for the Instrument's non-polyphonic
	// handlers (init, controller, pgs). Nothing in this package sets it;
	// LoadInstrument leaves it as it is.
	ControlCtx *script.ExecContext
}

// NewChannel creates an unbound Channel on eng.
func NewChannel(id int, eng *Engine) *Channel {
	return &Channel{
		ID:     id,
		Engine: eng,
		Filter: DefaultMIDIFilter(),
		events: make(chan MIDIEvent, eventQueueCapacity),
	}
}

// SetFilter replaces the channel's MIDI filter. Safe to call from a
// control thread at any time.
func (c *Channel) SetFilter(f MIDIFilter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Filter = f
}

func (c *Channel) filter() MIDIFilter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Filter
}

// LoadInstrument swaps in instr under the channel lock. It does not
// compile or start any control-level script and does not touch
// ControlCtx; voices spawned afterwards match against instr's Regions.
func (c *Channel) LoadInstrument(instr *instrument.Instrument) {
	c.mu.Lock()
	c.Instr = instr
	c.mu.Unlock()
}

// PushEvent enqueues ev for the next render cycle. It is non-blocking and
// safe to call from a driver's real-time MIDI callback; an event arriving
// when the queue is full is dropped rather than stalling the caller.
func (c *Channel) PushEvent(ev MIDIEvent) bool {
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

// drainEvents pulls every currently queued event without blocking,
// preserving arrival order (spec section 4.3's sub-cycle-frame ordering
// requirement is enforced by the caller sorting on SubFrame).
func (c *Channel) drainEvents() []MIDIEvent {
	var out []MIDIEvent
	for {
		select {
		case ev := <-c.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}
