package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/patrickmn/go-cache"
)

// capabilityCacheTTL bounds how long an enumerated device's capability
// set (sample rates, channel counts) is trusted before a fresh
// enumeration call is required; a device's capabilities essentially never
// change while it stays plugged in, so this is generous.
const capabilityCacheTTL = 10 * time.Minute

// Manager owns the registered drivers, the capability cache, and Sampler
// Channel binding state: a channel may bind at most one audio device and
// any number of MIDI ports (spec section 4.5).
type Manager struct {
	mu sync.Mutex

	audioDrivers map[string]AudioDriver
	midiDrivers  map[string]MIDIDriver

	audioBindings map[int]string   // channel id -> audio device UID
	midiBindings  map[int][]string // channel id -> MIDI port UIDs
	autonomous    map[string]bool  // device UID -> autonomous flag, from last enumeration

	capCache *cache.Cache
}

// NewManager creates an empty device registry.
func NewManager() *Manager {
	return &Manager{
		audioDrivers:  make(map[string]AudioDriver),
		midiDrivers:   make(map[string]MIDIDriver),
		audioBindings: make(map[int]string),
		midiBindings:  make(map[int][]string),
		autonomous:    make(map[string]bool),
		capCache:      cache.New(capabilityCacheTTL, 2*capabilityCacheTTL),
	}
}

// RegisterAudioDriver makes an AudioDriver available by name.
func (m *Manager) RegisterAudioDriver(d AudioDriver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audioDrivers[d.Name()] = d
}

// RegisterMIDIDriver makes a MIDIDriver available by name.
func (m *Manager) RegisterMIDIDriver(d MIDIDriver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.midiDrivers[d.Name()] = d
}

// AudioDevices returns driverName's enumerated devices, using the
// capability cache on a hit.
func (m *Manager) AudioDevices(ctx context.Context, driverName string) ([]AudioDevice, error) {
	key := "audio:" + driverName
	if v, ok := m.capCache.Get(key); ok {
		return v.([]AudioDevice), nil
	}
	m.mu.Lock()
	drv, ok := m.audioDrivers[driverName]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("device: unknown audio driver %q", driverName)
	}
	devs, err := drv.EnumerateDevices(ctx)
	if err != nil {
		return nil, err
	}
	m.capCache.Set(key, devs, cache.DefaultExpiration)

	m.mu.Lock()
	for _, d := range devs {
		m.autonomous[d.UID] = d.IsAutonomous
	}
	m.mu.Unlock()
	return devs, nil
}

// MIDIPorts returns driverName's enumerated ports, using the capability
// cache on a hit.
func (m *Manager) MIDIPorts(ctx context.Context, driverName string) ([]MIDIDevice, error) {
	key := "midi:" + driverName
	if v, ok := m.capCache.Get(key); ok {
		return v.([]MIDIDevice), nil
	}
	m.mu.Lock()
	drv, ok := m.midiDrivers[driverName]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("device: unknown MIDI driver %q", driverName)
	}
	ports, err := drv.EnumeratePorts(ctx)
	if err != nil {
		return nil, err
	}
	m.capCache.Set(key, ports, cache.DefaultExpiration)
	return ports, nil
}

// BindAudio attaches deviceUID to channel, replacing any prior binding.
// A channel may carry at most one audio device (spec section 4.5).
func (m *Manager) BindAudio(channel int, deviceUID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audioBindings[channel] = deviceUID
}

// UnbindAudio clears channel's audio device binding. It refuses whenever
// the bound device is autonomous, whatever other channels it serves,
// since an autonomous device is reclaimed by the driver as a whole unit,
// not per channel — callers must route that case through a full Reset.
func (m *Manager) UnbindAudio(channel int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	uid, bound := m.audioBindings[channel]
	if !bound {
		return nil
	}
	if m.autonomous[uid] {
		return fmt.Errorf("device: channel %d is bound to autonomous device %q; detach via Reset", channel, uid)
	}
	delete(m.audioBindings, channel)
	return nil
}

// BindMIDI attaches portUID to channel; a channel may carry any number of
// MIDI ports.
func (m *Manager) BindMIDI(channel int, portUID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.midiBindings[channel] {
		if existing == portUID {
			return
		}
	}
	m.midiBindings[channel] = append(m.midiBindings[channel], portUID)
}

// UnbindMIDI detaches portUID from channel.
func (m *Manager) UnbindMIDI(channel int, portUID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ports := m.midiBindings[channel]
	out := ports[:0]
	for _, p := range ports {
		if p != portUID {
			out = append(out, p)
		}
	}
	m.midiBindings[channel] = out
}

// ClearChannel releases every binding channel holds, unconditionally —
// used during Sampler.Reset, where even autonomous devices are torn down.
func (m *Manager) ClearChannel(channel int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.audioBindings, channel)
	delete(m.midiBindings, channel)
}

// ResetAll releases every channel's bindings unconditionally, for
// Sampler.Reset's ordered teardown (detach every MIDI device, then every
// audio device) rather than per-channel ClearChannel calls.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audioBindings = make(map[int]string)
	m.midiBindings = make(map[int][]string)
}

// Bindings reports channel's current audio device and MIDI port UIDs.
func (m *Manager) Bindings(channel int) (audioUID string, midiUIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audioBindings[channel], append([]string(nil), m.midiBindings[channel]...)
}

// logger returns a component-scoped logger; this package keeps its own
// handle rather than taking one by constructor injection, matching the
// package-level charmbracelet/log usage convention used throughout the
// ambient stack.
func logger() *log.Logger { return log.With("component", "device") }
