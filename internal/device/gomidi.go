package device

import (
	"context"
	"fmt"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// GoMIDIDriver implements MIDIDriver over gitlab.com/gomidi/midi/v2's
// driver registry, the teacher's own MIDI dependency. It talks to
// whatever concrete backend has registered itself with the drivers
// package (rtmidi, portmidi, ...); this type only does enumeration and
// message decoding.
type GoMIDIDriver struct{}

// NewGoMIDIDriver creates a driver over the currently registered gomidi
// backend.
func NewGoMIDIDriver() *GoMIDIDriver { return &GoMIDIDriver{} }

func (d *GoMIDIDriver) Name() string { return "gomidi" }

func (d *GoMIDIDriver) EnumeratePorts(ctx context.Context) ([]MIDIDevice, error) {
	ins := midi.GetInPorts()
	outs := midi.GetOutPorts()
	out := make([]MIDIDevice, 0, len(ins)+len(outs))
	for _, p := range ins {
		out = append(out, MIDIDevice{UID: p.String(), Name: p.String(), IsInput: true, IsOnline: true})
	}
	for _, p := range outs {
		out = append(out, MIDIDevice{UID: p.String(), Name: p.String(), IsInput: false, IsOnline: true})
	}
	return out, nil
}

func (d *GoMIDIDriver) OpenIn(portUID string, onEvent func(status, data1, data2 byte)) (MIDIPort, error) {
	in, err := midi.FindInPort(portUID)
	if err != nil {
		return nil, fmt.Errorf("device: gomidi: port %q not found: %w", portUID, err)
	}
	stop, err := midi.ListenTo(in, func(msg midi.Message, timestampms int32) {
		raw := msg.Bytes()
		var status, d1, d2 byte
		if len(raw) > 0 {
			status = raw[0]
		}
		if len(raw) > 1 {
			d1 = raw[1]
		}
		if len(raw) > 2 {
			d2 = raw[2]
		}
		onEvent(status, d1, d2)
	}, drivers.ListenConfig{})
	if err != nil {
		return nil, fmt.Errorf("device: gomidi: listen on %q failed: %w", portUID, err)
	}
	return &gomidiPort{stop: stop}, nil
}

type gomidiPort struct {
	stop func()
}

func (p *gomidiPort) Close() error {
	if p.stop != nil {
		p.stop()
	}
	return nil
}
