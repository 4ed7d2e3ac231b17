// Package instrument implements the Instrument/Region data model from spec
// section 3: a structured collection of Regions, each mapping a
// (key, velocity, controller) rectangle to a Sample plus playback
// parameters. Regions reference Samples by weak relation (a resource-manager
// key), never by owning pointer, so an Instrument carries no back-pointers
// and no ownership cycles.
package instrument

import (
	"strconv"

	"gosampler/internal/sample"
)

// Range is an inclusive [Low, High] rectangle edge.
type Range struct {
	Low, High int
}

// Contains reports whether v falls within the inclusive range.
func (r Range) Contains(v int) bool { return v >= r.Low && v <= r.High }

// EnvelopeStage describes one ADSR-style stage in seconds/level units; the
// render path interprets Level in [0,1] and Time in seconds.
type EnvelopeStage struct {
	Time  float64
	Level float64
}

// Envelope is a minimal attack/decay/sustain/release envelope.
type Envelope struct {
	Attack  float64
	Decay   float64
	Sustain float64
	Release float64
}

// FilterParams carries a simple one-pole/biquad filter's configuration; the
// render path is the only consumer and treats zero-value FilterParams as
// "no filter".
type FilterParams struct {
	CutoffHz  float64
	Resonance float64
	Enabled   bool
}

// EffectSend assigns a fraction of a voice's output to a named send bus.
type EffectSend struct {
	Bus   string
	Level float32
}

// Region maps a (key, velocity, controller) rectangle to a Sample
// reference plus per-region playback parameters. The SampleKey is a weak
// relation resolved through the resource manager at voice-spawn time;
// Region never owns a *sample.Sample.
type Region struct {
	KeyRange        Range
	VelocityRange   Range
	ControllerRange map[int]Range // CC number -> allowed value range

	SampleKey  sample.Key
	PitchCents int

	Envelope    Envelope
	Filter      FilterParams
	LoopOverride *sample.Loop // nil means use the Sample's own loop

	EffectSends []EffectSend

	// NoteScript and ReleaseScript, when non-empty, are NKSP source
	// fragments for voices spawned from this Region (spec section 4.3):
	// the voice scheduler compiles them and starts their "note" /
	// "release" handler on note-on / note-off, but does not run the
	// resulting contexts.
	NoteScript    string
	ReleaseScript string
}

// Matches reports whether key/velocity (and, if present, every controller
// constraint) fall inside this Region's rectangle.
func (r *Region) Matches(key, velocity int, controllers map[int]int) bool {
	if !r.KeyRange.Contains(key) || !r.VelocityRange.Contains(velocity) {
		return false
	}
	for cc, rng := range r.ControllerRange {
		v, ok := controllers[cc]
		if !ok || !rng.Contains(v) {
			return false
		}
	}
	return true
}

// Key identifies an Instrument by its origin file and in-file index, the
// same shape as sample.Key, used as the resource-manager key for the
// instrument cache.
type Key struct {
	Path  string
	Index int
}

func (k Key) String() string {
	if k.Index == 0 {
		return k.Path
	}
	return k.Path + "#" + strconv.Itoa(k.Index)
}

// Instrument is a structured collection of Regions, addressed by the same
// (file, index) identity as the Sample it was loaded from.
type Instrument struct {
	Name    string
	FileID  string
	Index   int
	Regions []*Region
}

// Match returns every Region whose rectangle contains (key, velocity,
// controllers); a note-on may legitimately map to several layered Regions.
func (i *Instrument) Match(key, velocity int, controllers map[int]int) []*Region {
	var out []*Region
	for _, r := range i.Regions {
		if r.Matches(key, velocity, controllers) {
			out = append(out, r)
		}
	}
	return out
}
