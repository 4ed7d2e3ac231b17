package stats

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"gosampler/internal/metrics"
	"gosampler/internal/sampler"
	"gosampler/internal/voice"
)

func TestReporterSampleWithNoChannelsFiresZero(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := sampler.New(reg)
	defer s.Close()
	m := metrics.NewRegistry(prometheus.NewRegistry())

	var total int
	stop := s.Bus().SubscribeTotalVoices(func(count int) { total = count })
	defer stop()

	r := NewReporter(s, m)
	r.sample(context.Background())

	require.Equal(t, 0, total)
}

func TestReporterSamplePublishesPerChannelVoiceCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := sampler.New(reg)
	defer s.Close()
	eng := voice.NewEngine("default", 32, 8, 4096)
	s.RegisterEngine("default", eng)

	id, err := s.CreateChannel("default")
	require.NoError(t, err)

	m := metrics.NewRegistry(prometheus.NewRegistry())
	r := NewReporter(s, m)
	r.sample(context.Background())

	g, err := m.ActiveVoices.GetMetricWithLabelValues(channelLabel(id))
	require.NoError(t, err)
	require.Equal(t, float64(0), testutil.ToFloat64(g))
}
