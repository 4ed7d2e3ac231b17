package device

import (
	"context"
	"fmt"

	"github.com/rakyll/portmidi"
)

// PortMIDIDriver implements MIDIDriver over rakyll/portmidi, the
// teacher's other MIDI dependency. It is selected by driver name at
// device-creation time so a Sampler can mix gomidi- and portmidi-backed
// ports in the same process if the host platform needs both.
type PortMIDIDriver struct{}

// NewPortMIDIDriver creates a driver over the portmidi library. Callers
// must have already called portmidi.Initialize().
func NewPortMIDIDriver() *PortMIDIDriver { return &PortMIDIDriver{} }

func (d *PortMIDIDriver) Name() string { return "portmidi" }

func (d *PortMIDIDriver) EnumeratePorts(ctx context.Context) ([]MIDIDevice, error) {
	count := portmidi.CountDevices()
	out := make([]MIDIDevice, 0, count)
	for i := 0; i < count; i++ {
		id := portmidi.DeviceID(i)
		info := portmidi.Info(id)
		if info == nil {
			continue
		}
		out = append(out, MIDIDevice{
			UID:      fmt.Sprintf("portmidi:%d", id),
			Name:     info.Name,
			IsInput:  info.IsInputAvailable,
			IsOnline: true,
		})
	}
	return out, nil
}

func (d *PortMIDIDriver) OpenIn(portUID string, onEvent func(status, data1, data2 byte)) (MIDIPort, error) {
	var id portmidi.DeviceID
	if _, err := fmt.Sscanf(portUID, "portmidi:%d", &id); err != nil {
		return nil, fmt.Errorf("device: portmidi: malformed port id %q: %w", portUID, err)
	}
	stream, err := portmidi.NewInputStream(id, 1024)
	if err != nil {
		return nil, fmt.Errorf("device: portmidi: open %q failed: %w", portUID, err)
	}
	p := &portmidiPort{stream: stream, done: make(chan struct{})}
	go p.pump(onEvent)
	return p, nil
}

type portmidiPort struct {
	stream *portmidi.Stream
	done   chan struct{}
}

func (p *portmidiPort) pump(onEvent func(status, data1, data2 byte)) {
	ch := p.stream.Listen()
	for {
		select {
		case <-p.done:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			onEvent(byte(ev.Status), byte(ev.Data1), byte(ev.Data2))
		}
	}
}

func (p *portmidiPort) Close() error {
	close(p.done)
	return p.stream.Close()
}
