package device

import (
	"context"
	"time"

	"gosampler/internal/listener"
)

// Monitor polls a Manager's registered drivers for hotplug changes and
// fires listener.Bus MIDI port events. Polling interval adapts between
// baseInterval and maxInterval: it speeds back up the instant a change is
// seen and backs off geometrically after a run of quiet polls, the same
// shape the teacher used for its native CoreAudio/CoreMIDI hotplug
// watcher, now driven by the abstract MIDIDriver interface instead of a
// platform-specific enumeration call.
type Monitor struct {
	mgr    *Manager
	bus    *listener.Bus
	driver string

	baseInterval time.Duration
	maxInterval  time.Duration

	lastPorts map[string]bool // port UID -> last known presence
}

// NewMonitor creates a Monitor watching driverName's MIDI ports through
// mgr, broadcasting add/remove edges on bus.
func NewMonitor(mgr *Manager, bus *listener.Bus, driverName string) *Monitor {
	return &Monitor{
		mgr:          mgr,
		bus:          bus,
		driver:       driverName,
		baseInterval: 50 * time.Millisecond,
		maxInterval:  200 * time.Millisecond,
		lastPorts:    make(map[string]bool),
	}
}

// Run polls until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	interval := m.baseInterval
	noChangeStreak := 0
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		changed := m.poll(ctx)
		if changed {
			noChangeStreak = 0
			interval = m.baseInterval
		} else {
			noChangeStreak++
			if noChangeStreak > 10 {
				interval = time.Duration(float64(interval) * 1.1)
				if interval > m.maxInterval {
					interval = m.maxInterval
				}
			}
		}
		timer.Reset(interval)
	}
}

func (m *Monitor) poll(ctx context.Context) bool {
	// Bypass the capability cache: hotplug detection needs the live set,
	// not whatever was cached at the last successful enumeration.
	m.mgr.mu.Lock()
	drv, ok := m.mgr.midiDrivers[m.driver]
	m.mgr.mu.Unlock()
	if !ok {
		return false
	}
	ports, err := drv.EnumeratePorts(ctx)
	if err != nil {
		logger().Warn("device: MIDI enumeration failed", "driver", m.driver, "err", err)
		return false
	}

	seen := make(map[string]bool, len(ports))
	changed := false
	for _, p := range ports {
		seen[p.UID] = true
		if !m.lastPorts[p.UID] {
			changed = true
			m.bus.FireMIDIPort(listener.MIDIPortEvent{DeviceUID: p.UID, PortName: p.Name, Added: true})
		}
	}
	for uid := range m.lastPorts {
		if !seen[uid] {
			changed = true
			m.bus.FireMIDIPort(listener.MIDIPortEvent{DeviceUID: uid, Added: false})
		}
	}
	m.lastPorts = seen
	return changed
}
