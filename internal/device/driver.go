// Package device models the audio/MIDI device routing layer from spec
// section 4.5: a Sampler Channel binds at most one audio device, any
// number of MIDI input ports, and an optional MIDI filter. Concrete
// driver backends (CoreAudio, ALSA, JACK, ...) are external collaborators
// this package never instantiates itself; it defines the interfaces they
// implement plus the binding rules, capability memoization, and hotplug
// monitoring that sit above them.
package device

import "context"

// AudioDevice describes one enumerated audio interface.
type AudioDevice struct {
	UID          string
	Name         string
	MaxChannels  int
	SampleRates  []int
	IsOnline     bool
	IsAutonomous bool // true for devices the driver owns end-to-end (e.g. a virtual loopback) and can silently reclaim
}

// MIDIDevice describes one enumerated MIDI port.
type MIDIDevice struct {
	UID      string
	Name     string
	IsInput  bool
	IsOnline bool
}

// AudioDriver is the capability surface a concrete audio backend exposes.
// Render callbacks are pulled, not pushed: the driver calls Render once
// per hardware buffer period from its own real-time thread.
type AudioDriver interface {
	Name() string
	EnumerateDevices(ctx context.Context) ([]AudioDevice, error)
	Open(deviceUID string, sampleRate, bufferFrames int, render RenderFunc) (AudioStream, error)
}

// RenderFunc fills out with exactly len(out)/channels interleaved frames.
// It is invoked on the driver's real-time thread and must not allocate,
// lock, or perform I/O (spec section 4.3).
type RenderFunc func(out []float32, channels int)

// AudioStream is a running audio device connection.
type AudioStream interface {
	Close() error
}

// MIDIDriver is the capability surface a concrete MIDI backend exposes.
type MIDIDriver interface {
	Name() string
	EnumeratePorts(ctx context.Context) ([]MIDIDevice, error)
	OpenIn(portUID string, onEvent func(status, data1, data2 byte)) (MIDIPort, error)
}

// MIDIPort is an open MIDI connection.
type MIDIPort interface {
	Close() error
}
