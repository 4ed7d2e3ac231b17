package sampler

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"gosampler/internal/voice"
)

// Reset performs the ordered teardown spec section 4.5 describes: destroy
// every channel, detach every MIDI device, detach every audio device,
// release instrument-map metadata, then unload editor plugins. Each stage
// completes before the next begins; work within a stage fans out on an
// errgroup (destroying twenty channels one at a time would otherwise make
// Reset's latency scale with channel count for no reason). Editor plugins
// are an external collaborator this repo never loads (spec.md non-goals),
// so that stage is a documented no-op rather than a silently skipped step.
func (s *Sampler) Reset(ctx context.Context) error {
	ids := s.ChannelIDs()
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			return s.DestroyChannel(id)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("sampler: reset: destroy channels: %w", err)
	}

	// MIDI devices, then audio devices: DestroyChannel above already
	// cleared each destroyed channel's bindings, but ResetAll also drops
	// any binding left behind by a channel that was removed from
	// s.channels through a path other than DestroyChannel (defensive;
	// no such path exists today, but Reset promises a clean slate
	// regardless of how channels were torn down).
	s.devices.ResetAll()

	// Instrument-map metadata: release the Sampler's own hold on every
	// cached Instrument so an OnDemand entry with no other consumer is
	// destroyed by the Resource Manager rather than lingering until the
	// process exits.
	s.releaseAllInstruments()

	// Editor plugins: out of scope (spec.md section 1 non-goal); nothing
	// to unload.

	return nil
}

func (s *Sampler) releaseAllInstruments() {
	s.mu.Lock()
	engines := make([]*voice.Engine, 0, len(s.engines))
	for _, eng := range s.engines {
		engines = append(engines, eng)
	}
	s.mu.Unlock()

	for _, eng := range engines {
		for _, key := range eng.Instruments.Entries() {
			eng.Instruments.Handback(key, s.consumer)
		}
	}
}
