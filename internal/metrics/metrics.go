// Package metrics exposes the sampler's control-thread-visible counters as
// Prometheus collectors: active voices and disk streams, render cycle
// timing, and MIDI event throughput. Nothing here is read from the render
// path; the scheduler updates plain counters there and a control-thread
// tick copies them into these gauges (spec section 4.3's RT-safety rule
// forbids calling into the Prometheus client from inside a render cycle).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every collector the sampler registers, scoped under
// one Prometheus registerer so a caller can mount it under any namespace.
type Registry struct {
	ActiveVoices     *prometheus.GaugeVec
	ActiveStreams    *prometheus.GaugeVec
	VoicesStolen     prometheus.Counter
	StreamsExhausted prometheus.Counter
	RenderCycleTime  prometheus.Histogram
	MIDIEventsTotal  prometheus.Counter
	ScriptsSuspended prometheus.Counter
}

// NewRegistry creates and registers every collector against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		ActiveVoices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gosampler",
			Name:      "active_voices",
			Help:      "Currently rendering voices, by engine channel.",
		}, []string{"channel"}),
		ActiveStreams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gosampler",
			Name:      "active_streams",
			Help:      "Currently allocated disk streams, by engine channel.",
		}, []string{"channel"}),
		VoicesStolen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gosampler",
			Name:      "voices_stolen_total",
			Help:      "Voices terminated early to free a slot for a new note.",
		}),
		StreamsExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gosampler",
			Name:      "stream_pool_exhausted_total",
			Help:      "Voice spawns that fell back to RAM-only playback because the disk stream pool was full.",
		}),
		RenderCycleTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gosampler",
			Name:      "render_cycle_seconds",
			Help:      "Wall-clock duration of one audio render cycle.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 2, 16),
		}),
		MIDIEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gosampler",
			Name:      "midi_events_total",
			Help:      "MIDI events drained from channel queues across all cycles.",
		}),
		ScriptsSuspended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gosampler",
			Name:      "script_auto_suspends_total",
			Help:      "NKSP handler instances auto-suspended on hitting an instruction budget.",
		}),
	}
	reg.MustRegister(
		r.ActiveVoices,
		r.ActiveStreams,
		r.VoicesStolen,
		r.StreamsExhausted,
		r.RenderCycleTime,
		r.MIDIEventsTotal,
		r.ScriptsSuspended,
	)
	return r
}
