// Package stats implements the ~1 Hz control-thread statistics loop from
// spec section 5: the sampler's per-channel voice counts, copied into
// internal/metrics's ActiveVoices gauge, alongside process-level CPU/RSS
// sampling that is logged at debug level. It is grounded on the teacher's device_monitor.go polling-loop
// shape (a ticker-driven goroutine with a context.Context cooperative
// stop), simplified to a fixed cadence since a statistics reporter, unlike
// hotplug detection, has no "back off when nothing changes" case worth
// optimizing for.
package stats

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shirou/gopsutil/v3/process"

	"gosampler/internal/metrics"
	"gosampler/internal/sampler"
)

// DefaultInterval is the statistics loop's sampling cadence.
const DefaultInterval = time.Second

// Reporter samples a Sampler's per-channel voice counts once per Interval,
// copies them into a metrics.Registry and fires the bus's total-voices
// event, then logs the host process's CPU/RSS at debug level.
type Reporter struct {
	Sampler  *sampler.Sampler
	Metrics  *metrics.Registry
	Interval time.Duration

	proc *process.Process
}

// NewReporter creates a Reporter for s, publishing into m.
func NewReporter(s *sampler.Sampler, m *metrics.Registry) *Reporter {
	r := &Reporter{Sampler: s, Metrics: m, Interval: DefaultInterval}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		r.proc = p
	}
	return r
}

// Run samples until ctx is canceled.
func (r *Reporter) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sample(ctx)
		}
	}
}

func (r *Reporter) sample(ctx context.Context) {
	total := 0
	for _, id := range r.Sampler.ChannelIDs() {
		n := r.Sampler.VoiceCount(id)
		total += n
		r.Metrics.ActiveVoices.WithLabelValues(channelLabel(id)).Set(float64(n))
	}
	r.Sampler.Bus().FireTotalVoices(total)

	if r.proc == nil {
		return
	}
	cpuPct, err := r.proc.CPUPercentWithContext(ctx)
	if err != nil {
		log.With("component", "stats").Debug("cpu sample failed", "err", err)
		return
	}
	mem, err := r.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		log.With("component", "stats").Debug("memory sample failed", "err", err)
		return
	}
	log.With("component", "stats").Debug("tick",
		"voices", total,
		"cpu_percent", cpuPct,
		"rss_bytes", mem.RSS,
	)
}

func channelLabel(id int) string {
	return "ch" + strconv.Itoa(id)
}
