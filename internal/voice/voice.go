// Package voice implements the Voice / Engine Core from spec section 4.3:
// per-cycle MIDI draining, Region-matched voice spawning, envelope/filter
// rendering pulling from RAM or the disk stream pool, and the global
// voice/stream stealing policy. RenderCycle's per-frame mixing reads from
// RAM or the disk stream pool without allocating, but the render path is
// not free of blocking work: spawning a voice borrows its sample from the
// Engine's resource.Manager (which opens the WAV file on first use) and
// allocates the Voice, and reaping a voice hands the sample back.
package voice

import (
	"gosampler/internal/instrument"
	"gosampler/internal/sample"
	"gosampler/internal/script"
	"gosampler/internal/stream"
)

// EnvStage is one phase of a Voice's amplitude envelope.
type EnvStage int

const (
	StageAttack EnvStage = iota
	StageDecay
	StageSustain
	StageRelease
	StageDone
)

// EnvState is the per-voice envelope follower.
type EnvState struct {
	Stage EnvStage
	Level float64
}

// Advance steps the envelope by dt seconds against env's configured
// stage times, returning the instantaneous level in [0,1].
func (e *EnvState) Advance(dt float64, env instrument.Envelope) float64 {
	switch e.Stage {
	case StageAttack:
		if env.Attack <= 0 {
			e.Level = 1
			e.Stage = StageDecay
			break
		}
		e.Level += dt / env.Attack
		if e.Level >= 1 {
			e.Level = 1
			e.Stage = StageDecay
		}
	case StageDecay:
		if env.Decay <= 0 {
			e.Level = env.Sustain
			e.Stage = StageSustain
			break
		}
		target := env.Sustain
		step := dt / env.Decay
		if e.Level > target {
			e.Level -= step
			if e.Level <= target {
				e.Level = target
				e.Stage = StageSustain
			}
		} else {
			e.Stage = StageSustain
		}
	case StageSustain:
		e.Level = env.Sustain
	case StageRelease:
		if env.Release <= 0 {
			e.Level = 0
			e.Stage = StageDone
			break
		}
		e.Level -= dt / env.Release
		if e.Level <= 0 {
			e.Level = 0
			e.Stage = StageDone
		}
	}
	return e.Level
}

// Release transitions the envelope into its release stage.
func (e *EnvState) Release() {
	if e.Stage != StageDone {
		e.Stage = StageRelease
	}
}

// Voice is one active note. It carries at most one disk stream handle —
// HasStream is the single source of truth for that invariant; Stream is
// meaningless when HasStream is false.
type Voice struct {
	ID       uint64
	NoteID   uint64
	Channel  int
	Key      int
	Velocity int

	Region *instrument.Region
	Smpl   *sample.Sample

	HasStream bool
	Stream    stream.Handle
	Pool      *stream.Pool // the pool Stream was allocated from; nil when !HasStream

	PlayPos float64 // fractional frame offset into the sample
	Pitch   float64 // playback rate multiplier, 1.0 = unit speed

	// framePos, curFrame/nextFrame and the streamBuf fields implement a
	// phase-accumulator resampler over a sequential-only source (the disk
	// stream's ring buffer has no random access): framePos counts the
	// frames fetched so far, curFrame/nextFrame bracket floor(PlayPos) and
	// the frame after it, and they are advanced one integer frame at a
	// time as PlayPos crosses them, never by re-seeking.
	framePos  int64
	curFrame  float32
	nextFrame float32
	primed    bool

	streamBuf    []float32
	streamValid  int
	streamCursor int

	Env       EnvState
	Releasing bool

	// NoteCtx is the polyphonic script instance started on this voice's
	// note-on handler (and, after Release, its release handler, forked
	// from the note context when there is one). The scheduler only starts
	// these contexts; nothing in this package calls Run on them. Nil when
	// the Region carries no script.
	NoteCtx *script.ExecContext
}

// StealScore returns the terms the global cap's stealing policy ranks
// voices by: release-phase voices (releasePriority 0) are stolen first,
// oldest first among them, then the quietest (lowest level), then the
// oldest (greatest age) overall.
func StealScore(v *Voice, cycleNow uint64, startedAt uint64) (releasePriority int, level float64, age uint64) {
	rp := 1
	if v.Env.Stage == StageRelease {
		rp = 0
	}
	return rp, v.Env.Level, cycleNow - startedAt
}
