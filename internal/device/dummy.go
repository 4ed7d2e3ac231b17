package device

import (
	"context"
	"fmt"
	"sync"
)

// DummyAudioDriver is an in-memory AudioDriver used by tests and by the
// §8-scenario harness: it reports a fixed device list and never touches
// real hardware.
type DummyAudioDriver struct {
	mu      sync.Mutex
	devices []AudioDevice
}

// NewDummyAudioDriver creates a driver reporting devices.
func NewDummyAudioDriver(devices ...AudioDevice) *DummyAudioDriver {
	return &DummyAudioDriver{devices: devices}
}

func (d *DummyAudioDriver) Name() string { return "dummy" }

func (d *DummyAudioDriver) EnumerateDevices(ctx context.Context) ([]AudioDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]AudioDevice(nil), d.devices...), nil
}

// SetDevices replaces the reported device list, for exercising hotplug
// detection in tests.
func (d *DummyAudioDriver) SetDevices(devices []AudioDevice) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices = devices
}

func (d *DummyAudioDriver) Open(deviceUID string, sampleRate, bufferFrames int, render RenderFunc) (AudioStream, error) {
	d.mu.Lock()
	found := false
	for _, dev := range d.devices {
		if dev.UID == deviceUID {
			found = true
			break
		}
	}
	d.mu.Unlock()
	if !found {
		return nil, fmt.Errorf("device: unknown audio device %q", deviceUID)
	}
	return &dummyStream{}, nil
}

type dummyStream struct{}

func (dummyStream) Close() error { return nil }

// DummyMIDIDriver is an in-memory MIDIDriver for tests.
type DummyMIDIDriver struct {
	mu    sync.Mutex
	ports []MIDIDevice
}

// NewDummyMIDIDriver creates a driver reporting ports.
func NewDummyMIDIDriver(ports ...MIDIDevice) *DummyMIDIDriver {
	return &DummyMIDIDriver{ports: ports}
}

func (d *DummyMIDIDriver) Name() string { return "dummy" }

func (d *DummyMIDIDriver) EnumeratePorts(ctx context.Context) ([]MIDIDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]MIDIDevice(nil), d.ports...), nil
}

func (d *DummyMIDIDriver) SetPorts(ports []MIDIDevice) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ports = ports
}

func (d *DummyMIDIDriver) OpenIn(portUID string, onEvent func(status, data1, data2 byte)) (MIDIPort, error) {
	return &dummyMIDIPort{}, nil
}

type dummyMIDIPort struct{}

func (dummyMIDIPort) Close() error { return nil }
