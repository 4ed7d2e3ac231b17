// Package listener implements the typed observer lists described in spec
// section 4.5: callbacks fire only when a watched value changes from what
// was last delivered to that specific callback (edge-dedup), and are only
// ever invoked from a control thread, never from the render path.
package listener

import "sync"

// EngineChangeEvent reports an Engine Channel's sampler engine type
// changing, e.g. when a channel is repointed at a different format.
type EngineChangeEvent struct {
	Channel int
	From    string
	To      string
}

// MIDIPortEvent reports a MIDI input or output port appearing or
// disappearing from a device's enumeration.
type MIDIPortEvent struct {
	DeviceUID string
	PortName  string
	Added     bool
}

// intObserver is a dedup key scope name paired with a handler, used for the
// several plain int-count broadcasts (channel count, device counts,
// per-channel voice/stream/buffer-fill counts, fx-send count, ...).
type intObserver struct {
	id   int
	last int
	fn   func(int)
}

type engineObserver struct {
	id   int
	last EngineChangeEvent
	fn   func(EngineChangeEvent)
}

type midiPortObserver struct {
	id int
	fn func(MIDIPortEvent)
}

// Bus is a registry of typed observer lists, one per broadcast kind the
// top-level Sampler exposes. It is safe for concurrent Subscribe/Fire
// calls, but Fire must only ever be called from a control thread.
type Bus struct {
	mu sync.Mutex

	nextID int

	channelCount    []*intObserver
	deviceCount     map[string][]*intObserver // keyed by "audio" or "midi"
	voiceCount      map[int][]*intObserver     // keyed by channel id
	streamCount     map[int][]*intObserver
	bufferFillCount map[int][]*intObserver
	fxSendCount     map[int][]*intObserver
	totalVoices     []*intObserver
	totalStreams    []*intObserver
	engineChange    map[int][]*engineObserver // keyed by channel id
	midiPorts       []*midiPortObserver
}

// NewBus creates an empty observer registry.
func NewBus() *Bus {
	return &Bus{
		deviceCount:     make(map[string][]*intObserver),
		voiceCount:      make(map[int][]*intObserver),
		streamCount:     make(map[int][]*intObserver),
		bufferFillCount: make(map[int][]*intObserver),
		fxSendCount:     make(map[int][]*intObserver),
		engineChange:    make(map[int][]*engineObserver),
	}
}

func (b *Bus) id() int {
	b.nextID++
	return b.nextID
}

// SubscribeChannelCount registers fn to fire whenever the Sampler's
// channel count changes. It returns an unsubscribe function.
func (b *Bus) SubscribeChannelCount(fn func(count int)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := &intObserver{id: b.id(), last: -1, fn: fn}
	b.channelCount = append(b.channelCount, o)
	return func() { b.removeInt(&b.channelCount, o.id) }
}

// FireChannelCount delivers count to every channel-count observer whose
// last-fired value differs from it.
func (b *Bus) FireChannelCount(count int) { b.fireIntList(&b.channelCount, count) }

// SubscribeDeviceCount registers fn for the named device kind ("audio" or
// "midi").
func (b *Bus) SubscribeDeviceCount(kind string, fn func(count int)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := &intObserver{id: b.id(), last: -1, fn: fn}
	b.deviceCount[kind] = append(b.deviceCount[kind], o)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.deviceCount[kind]
		b.deviceCount[kind] = removeByID(list, o.id)
	}
}

// FireDeviceCount delivers count to kind's device-count observers.
func (b *Bus) FireDeviceCount(kind string, count int) {
	b.mu.Lock()
	list := b.deviceCount[kind]
	b.mu.Unlock()
	deliverInt(list, count)
}

// SubscribeVoiceCount registers fn for the per-channel active voice count.
func (b *Bus) SubscribeVoiceCount(channel int, fn func(count int)) func() {
	return b.subscribeChannelInt(&b.voiceCount, channel, fn)
}

// FireVoiceCount delivers count to channel's voice-count observers.
func (b *Bus) FireVoiceCount(channel, count int) { b.fireChannelInt(b.voiceCount, channel, count) }

// SubscribeStreamCount registers fn for the per-channel active disk
// stream count.
func (b *Bus) SubscribeStreamCount(channel int, fn func(count int)) func() {
	return b.subscribeChannelInt(&b.streamCount, channel, fn)
}

// FireStreamCount delivers count to channel's stream-count observers.
func (b *Bus) FireStreamCount(channel, count int) { b.fireChannelInt(b.streamCount, channel, count) }

// SubscribeBufferFillCount registers fn for a channel's aggregate disk
// buffer fill percentage (0-100).
func (b *Bus) SubscribeBufferFillCount(channel int, fn func(percent int)) func() {
	return b.subscribeChannelInt(&b.bufferFillCount, channel, fn)
}

// FireBufferFillCount delivers percent to channel's buffer-fill observers.
func (b *Bus) FireBufferFillCount(channel, percent int) {
	b.fireChannelInt(b.bufferFillCount, channel, percent)
}

// SubscribeFxSendCount registers fn for a channel's effect send count.
func (b *Bus) SubscribeFxSendCount(channel int, fn func(count int)) func() {
	return b.subscribeChannelInt(&b.fxSendCount, channel, fn)
}

// FireFxSendCount delivers count to channel's fx-send-count observers.
func (b *Bus) FireFxSendCount(channel, count int) { b.fireChannelInt(b.fxSendCount, channel, count) }

// SubscribeTotalVoices registers fn for the Sampler-wide active voice count.
func (b *Bus) SubscribeTotalVoices(fn func(count int)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := &intObserver{id: b.id(), last: -1, fn: fn}
	b.totalVoices = append(b.totalVoices, o)
	return func() { b.removeInt(&b.totalVoices, o.id) }
}

// FireTotalVoices delivers count to the total-voices observers.
func (b *Bus) FireTotalVoices(count int) { b.fireIntList(&b.totalVoices, count) }

// SubscribeTotalStreams registers fn for the Sampler-wide active disk
// stream count.
func (b *Bus) SubscribeTotalStreams(fn func(count int)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := &intObserver{id: b.id(), last: -1, fn: fn}
	b.totalStreams = append(b.totalStreams, o)
	return func() { b.removeInt(&b.totalStreams, o.id) }
}

// FireTotalStreams delivers count to the total-streams observers.
func (b *Bus) FireTotalStreams(count int) { b.fireIntList(&b.totalStreams, count) }

// SubscribeEngineChange registers fn for a channel's engine-type changes.
func (b *Bus) SubscribeEngineChange(channel int, fn func(EngineChangeEvent)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := &engineObserver{id: b.id(), fn: fn}
	b.engineChange[channel] = append(b.engineChange[channel], o)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.engineChange[channel]
		out := list[:0]
		for _, e := range list {
			if e.id != o.id {
				out = append(out, e)
			}
		}
		b.engineChange[channel] = out
	}
}

// FireEngineChange delivers ev to channel's engine-change observers whose
// last-fired (From, To) pair differs from ev.
func (b *Bus) FireEngineChange(channel int, ev EngineChangeEvent) {
	b.mu.Lock()
	list := b.engineChange[channel]
	b.mu.Unlock()
	for _, o := range list {
		if o.last == ev {
			continue
		}
		o.last = ev
		o.fn(ev)
	}
}

// SubscribeMIDIPorts registers fn for MIDI port add/remove events across
// all devices; unlike the count observers this is not deduped since each
// event is inherently an edge (a port either appeared or disappeared).
func (b *Bus) SubscribeMIDIPorts(fn func(MIDIPortEvent)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := &midiPortObserver{id: b.id(), fn: fn}
	b.midiPorts = append(b.midiPorts, o)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		out := b.midiPorts[:0]
		for _, e := range b.midiPorts {
			if e.id != o.id {
				out = append(out, e)
			}
		}
		b.midiPorts = out
	}
}

// FireMIDIPort delivers ev to every MIDI port observer.
func (b *Bus) FireMIDIPort(ev MIDIPortEvent) {
	b.mu.Lock()
	list := append([]*midiPortObserver(nil), b.midiPorts...)
	b.mu.Unlock()
	for _, o := range list {
		o.fn(ev)
	}
}

func (b *Bus) subscribeChannelInt(m *map[int][]*intObserver, channel int, fn func(int)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := &intObserver{id: b.id(), last: -1, fn: fn}
	(*m)[channel] = append((*m)[channel], o)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		(*m)[channel] = removeByID((*m)[channel], o.id)
	}
}

func (b *Bus) fireChannelInt(m map[int][]*intObserver, channel, value int) {
	b.mu.Lock()
	list := m[channel]
	b.mu.Unlock()
	deliverInt(list, value)
}

func (b *Bus) fireIntList(list *[]*intObserver, value int) {
	b.mu.Lock()
	snapshot := *list
	b.mu.Unlock()
	deliverInt(snapshot, value)
}

func (b *Bus) removeInt(list *[]*intObserver, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	*list = removeByID(*list, id)
}

func deliverInt(list []*intObserver, value int) {
	for _, o := range list {
		if o.last == value {
			continue
		}
		o.last = value
		o.fn(value)
	}
}

func removeByID(list []*intObserver, id int) []*intObserver {
	out := list[:0]
	for _, o := range list {
		if o.id != id {
			out = append(out, o)
		}
	}
	return out
}
