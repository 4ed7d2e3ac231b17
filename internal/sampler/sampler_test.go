package sampler

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"gosampler/internal/voice"
)

func newTestSampler(t *testing.T) *Sampler {
	t.Helper()
	s := New(prometheus.NewRegistry())
	eng := voice.NewEngine("test", 32, 8, 4096)
	s.RegisterEngine("default", eng)
	t.Cleanup(s.Close)
	return s
}

func TestCreateChannelUnknownEngine(t *testing.T) {
	s := newTestSampler(t)
	_, err := s.CreateChannel("nope")
	require.ErrorIs(t, err, ErrUnknownEngine)
}

func TestChannelIDAllocationFillsLowestGap(t *testing.T) {
	s := newTestSampler(t)

	id0, err := s.CreateChannel("default")
	require.NoError(t, err)
	require.Equal(t, 0, id0)

	id1, err := s.CreateChannel("default")
	require.NoError(t, err)
	require.Equal(t, 1, id1)

	id2, err := s.CreateChannel("default")
	require.NoError(t, err)
	require.Equal(t, 2, id2)

	require.NoError(t, s.DestroyChannel(id1))

	// Highest existing id is now 2, so the next allocation should take
	// 3 (one past highest), not reuse the gap at 1 yet.
	id3, err := s.CreateChannel("default")
	require.NoError(t, err)
	require.Equal(t, 3, id3)

	require.NoError(t, s.DestroyChannel(id3))
	require.NoError(t, s.DestroyChannel(id2))

	// Highest existing id is now 0; next alloc is 1 (one past highest).
	id4, err := s.CreateChannel("default")
	require.NoError(t, err)
	require.Equal(t, 1, id4)
}

func TestChannelIDExhaustionReturnsErrNoChannelSlot(t *testing.T) {
	s := newTestSampler(t)
	for i := 0; i < maxChannels; i++ {
		_, err := s.CreateChannel("default")
		require.NoError(t, err)
	}
	_, err := s.CreateChannel("default")
	require.ErrorIs(t, err, ErrNoChannelSlot)
}

func TestDestroyUnknownChannel(t *testing.T) {
	s := newTestSampler(t)
	err := s.DestroyChannel(99)
	require.ErrorIs(t, err, ErrUnknownChannel)
}

func TestChannelCountTracksCreateDestroy(t *testing.T) {
	s := newTestSampler(t)
	require.Equal(t, 0, s.ChannelCount())

	id, err := s.CreateChannel("default")
	require.NoError(t, err)
	require.Equal(t, 1, s.ChannelCount())

	require.NoError(t, s.DestroyChannel(id))
	require.Equal(t, 0, s.ChannelCount())
}

func TestConnectAudioDeviceUnknownChannel(t *testing.T) {
	s := newTestSampler(t)
	err := s.ConnectAudioDevice(7, "dev")
	require.ErrorIs(t, err, ErrUnknownChannel)
}

func TestResetTearsDownChannelsAndBindings(t *testing.T) {
	s := newTestSampler(t)

	id, err := s.CreateChannel("default")
	require.NoError(t, err)
	require.NoError(t, s.ConnectAudioDevice(id, "dev-a"))
	require.NoError(t, s.ConnectMIDI(id, "port-a"))

	require.NoError(t, s.Reset(context.Background()))

	require.Equal(t, 0, s.ChannelCount())
	uid, ports := s.Devices().Bindings(id)
	require.Empty(t, uid)
	require.Empty(t, ports)
}

func TestLoadInstrumentUnknownChannel(t *testing.T) {
	s := newTestSampler(t)
	err := s.LoadInstrument(5, "inst.gig", 0)
	require.ErrorIs(t, err, ErrUnknownChannel)
}
