package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAudioDeviceCacheHit(t *testing.T) {
	m := NewManager()
	drv := NewDummyAudioDriver(AudioDevice{UID: "dev1", Name: "Test Interface"})
	m.RegisterAudioDriver(drv)

	devs, err := m.AudioDevices(context.Background(), "dummy")
	require.NoError(t, err)
	require.Len(t, devs, 1)

	drv.SetDevices(nil) // cache should still report the prior snapshot
	devs2, err := m.AudioDevices(context.Background(), "dummy")
	require.NoError(t, err)
	require.Len(t, devs2, 1)
}

func TestBindAudioAtMostOnePerChannel(t *testing.T) {
	m := NewManager()
	m.BindAudio(1, "dev-a")
	m.BindAudio(1, "dev-b")
	uid, _ := m.Bindings(1)
	require.Equal(t, "dev-b", uid)
}

func TestUnbindAutonomousDeviceRefused(t *testing.T) {
	m := NewManager()
	drv := NewDummyAudioDriver(AudioDevice{UID: "loop", IsAutonomous: true})
	m.RegisterAudioDriver(drv)
	_, err := m.AudioDevices(context.Background(), "dummy")
	require.NoError(t, err)

	m.BindAudio(2, "loop")
	err = m.UnbindAudio(2)
	require.Error(t, err)

	m.ClearChannel(2)
	uid, _ := m.Bindings(2)
	require.Empty(t, uid)
}

func TestMidiBindingsAccumulate(t *testing.T) {
	m := NewManager()
	m.BindMIDI(3, "portA")
	m.BindMIDI(3, "portB")
	m.BindMIDI(3, "portA") // duplicate, no-op
	_, ports := m.Bindings(3)
	require.ElementsMatch(t, []string{"portA", "portB"}, ports)

	m.UnbindMIDI(3, "portA")
	_, ports = m.Bindings(3)
	require.Equal(t, []string{"portB"}, ports)
}
