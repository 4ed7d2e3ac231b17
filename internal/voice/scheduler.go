package voice

import (
	"math"
	"sort"
	"time"

	"gosampler/internal/instrument"
	"gosampler/internal/sample"
	"gosampler/internal/script"
	"gosampler/internal/stream"
)

// RenderCycle advances one Channel by frameCount frames, draining its
// pending MIDI in sub-cycle-frame order, spawning and releasing voices as
// note-on/note-off events dictate, and mixing every active voice's output
// into out (mono, len(out) == frameCount). The per-frame mix path
// (renderSpan/mixVoice/readVoiceFrame) does not allocate; the per-cycle
// bookkeeping around it (event sorting, the channel snapshot taken by
// enforceVoiceCap) and MIDI event handling do.
func RenderCycle(ch *Channel, frameCount int, sampleRate int, now time.Time, out []float32) {
	for i := range out {
		out[i] = 0
	}

	events := ch.drainEvents()
	sort.SliceStable(events, func(i, j int) bool { return events[i].SubFrame < events[j].SubFrame })

	filter := ch.filter()
	dt := 1.0 / float64(sampleRate)

	cursor := 0
	for _, ev := range events {
		if !filter.Accepts(ev) {
			continue
		}
		if ev.SubFrame > cursor && ev.SubFrame <= frameCount {
			renderSpan(ch, out[cursor:ev.SubFrame], dt)
			cursor = ev.SubFrame
		}
		applyEvent(ch, ev, now)
	}
	if cursor < len(out) {
		renderSpan(ch, out[cursor:], dt)
	}

	reapFinishedVoices(ch)
	enforceVoiceCap(ch)
	ch.Engine.cycleCount.Add(1)
}

func applyEvent(ch *Channel, ev MIDIEvent, now time.Time) {
	switch ev.Status & 0xF0 {
	case 0x90: // note on (velocity 0 is a note off by convention)
		if ev.Data2 == 0 {
			releaseNote(ch, int(ev.Data1))
			return
		}
		spawnVoices(ch, int(ev.Data1), int(ev.Data2))
	case 0x80:
		releaseNote(ch, int(ev.Data1))
	}
}

func spawnVoices(ch *Channel, key, velocity int) {
	ch.mu.Lock()
	instr := ch.Instr
	ch.mu.Unlock()
	if instr == nil {
		return
	}

	for _, region := range instr.Match(key, velocity, nil) {
		smpl, err := ch.Engine.Samples.Borrow(region.SampleKey, ch.Engine.consumer)
		if err != nil {
			continue
		}

		v := &Voice{
			ID:        ch.Engine.newVoiceID(),
			NoteID:    noteID(key, velocity),
			Channel:   ch.ID,
			Key:       key,
			Velocity:  velocity,
			Region:    region,
			Smpl:      smpl,
			SampleKey: region.SampleKey,
			Pitch:     pitchRatio(ch.Engine.ResolvePitch(key) + float64(region.PitchCents)/100.0 - float64(key)),
		}

		if !smpl.FullyRAMResident() {
			loop := loopParamsFor(region, smpl)
			if h, err := ch.Engine.Streams.Allocate(v.ID, smpl, 0, loop); err == nil {
				v.HasStream = true
				v.Stream = h
				v.Pool = ch.Engine.Streams
				v.streamBuf = make([]float32, streamReadBatch)
			}
		}

		if region.NoteScript != "" {
			prog := ch.Engine.Programs.Compile(region.NoteScript)
			if ch.Globals == nil {
				ch.Globals = script.NewGlobals(prog)
			}
			v.NoteCtx = script.NewExecContext(prog, ch.Globals, &noteHost{v: v})
			v.NoteCtx.NoteID = v.NoteID
			v.NoteCtx.StartHandler("note")
		}

		ch.Voices = append(ch.Voices, v)
		ch.Engine.voiceBirth[v.ID] = ch.Engine.cycleCount.Load()
	}
}

func releaseNote(ch *Channel, key int) {
	for _, v := range ch.Voices {
		if v.Key != key || v.Releasing {
			continue
		}
		v.Releasing = true
		v.Env.Release()
		if v.Region != nil && v.Region.ReleaseScript != "" {
			prog := ch.Engine.Programs.Compile(v.Region.ReleaseScript)
			var fork *script.ExecContext
			var err error
			if v.NoteCtx != nil {
				fork, err = v.NoteCtx.ForkTo("release")
			} else {
				fork = script.NewExecContext(prog, ch.Globals, &noteHost{v: v})
				fork.StartHandler("release")
			}
			if err == nil && fork != nil {
				v.NoteCtx = fork
			}
		}
	}
}

func renderSpan(ch *Channel, span []float32, dt float64) {
	if len(span) == 0 {
		return
	}
	for _, v := range ch.Voices {
		mixVoice(v, span, dt)
	}
}

func mixVoice(v *Voice, span []float32, dt float64) {
	var env instrument.Envelope
	if v.Region != nil {
		env = v.Region.Envelope
	}
	for i := range span {
		frame, ok := readVoiceFrame(v)
		if !ok {
			v.Env.Stage = StageDone
			break
		}
		level := v.Env.Advance(dt, env)
		span[i] += frame * float32(level)
		v.PlayPos += v.Pitch
	}
}

// streamReadBatch is how many frames a voice pulls from its disk stream at
// once; small enough to keep latency low, large enough that the Pool.Read
// call amortizes across many output samples instead of happening every one.
const streamReadBatch = 256

// readVoiceFrame returns the linearly interpolated next sample by advancing
// a phase accumulator over curFrame/nextFrame, pulling a fresh integer frame
// via fetchNextFrame only when PlayPos crosses the next integer boundary.
// ok is false once the voice's source is exhausted and it should be reaped.
func readVoiceFrame(v *Voice) (float32, bool) {
	if !v.primed {
		first, ok := fetchNextFrame(v)
		if !ok {
			return 0, false
		}
		v.curFrame = first
		v.nextFrame, _ = fetchNextFrame(v)
		v.primed = true
	}
	if int64(v.PlayPos) >= v.Smpl.TotalFrames {
		return 0, false
	}
	for int64(v.PlayPos) >= v.framePos-1 && v.framePos < v.Smpl.TotalFrames {
		v.curFrame = v.nextFrame
		next, ok := fetchNextFrame(v)
		if !ok {
			return v.curFrame, true
		}
		v.nextFrame = next
	}
	frac := float32(v.PlayPos - math.Floor(v.PlayPos))
	return v.curFrame + (v.nextFrame-v.curFrame)*frac, true
}

// fetchNextFrame returns the next sequential frame from the RAM prefix or,
// once that is exhausted, the voice's disk stream (refilling streamBuf in
// batches of streamReadBatch so the steady-state call allocates nothing).
func fetchNextFrame(v *Voice) (float32, bool) {
	idx := v.framePos
	if idx >= v.Smpl.TotalFrames {
		return 0, false
	}
	if v.Smpl.RAMPrefix != nil && idx < v.Smpl.PrefixFrames {
		v.framePos++
		return v.Smpl.RAMPrefix[idx*int64(v.Smpl.Channels)], true
	}
	if !v.HasStream {
		return 0, false
	}
	if v.streamCursor >= v.streamValid {
		n, err := v.Pool.Read(v.Stream, v.streamBuf, len(v.streamBuf)/max1(v.Smpl.Channels))
		if err != nil || n == 0 {
			return 0, false
		}
		v.streamValid = n
		v.streamCursor = 0
	}
	f := v.streamBuf[v.streamCursor*v.Smpl.Channels]
	v.streamCursor++
	v.framePos++
	return f, true
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func reapFinishedVoices(ch *Channel) {
	out := ch.Voices[:0]
	for _, v := range ch.Voices {
		if v.Env.Stage == StageDone {
			if v.HasStream {
				ch.Engine.Streams.Release(v.Stream)
			}
			ch.Engine.Samples.Handback(v.SampleKey, ch.Engine.consumer)
			delete(ch.Engine.voiceBirth, v.ID)
			continue
		}
		out = append(out, v)
	}
	ch.Voices = out
}

// enforceVoiceCap steals voices past the Engine's MaxVoices limit,
// oldest-release-phase first, then quietest, then oldest overall (spec
// section 4.3).
func enforceVoiceCap(ch *Channel) {
	eng := ch.Engine
	total := eng.TotalVoices()
	if total <= eng.MaxVoices {
		return
	}
	excess := total - eng.MaxVoices

	type candidate struct{ v *Voice }
	var pool []candidate
	for _, c := range eng.Channels() {
		for _, v := range c.Voices {
			pool = append(pool, candidate{v})
		}
	}
	cycle := eng.cycleCount.Load()
	sort.Slice(pool, func(i, j int) bool {
		rpI, lvlI, ageI := StealScore(pool[i].v, cycle, eng.voiceBirth[pool[i].v.ID])
		rpJ, lvlJ, ageJ := StealScore(pool[j].v, cycle, eng.voiceBirth[pool[j].v.ID])
		if rpI != rpJ {
			return rpI < rpJ
		}
		if rpI == 0 && ageI != ageJ {
			return ageI > ageJ
		}
		if lvlI != lvlJ {
			return lvlI < lvlJ
		}
		return ageI > ageJ
	})
	for i := 0; i < excess && i < len(pool); i++ {
		pool[i].v.Env.Stage = StageDone
	}
}

func loopParamsFor(region *instrument.Region, smpl *sample.Sample) stream.LoopParams {
	loop := smpl.Loop
	if region.LoopOverride != nil {
		loop = region.LoopOverride
	}
	if loop == nil {
		return stream.LoopParams{}
	}
	return stream.LoopParams{Start: loop.Start, End: loop.End, PlayCount: loop.PlayCount, Enabled: true}
}

func pitchRatio(semitoneOffset float64) float64 {
	return math.Exp2(semitoneOffset / 12.0)
}

func noteID(key, velocity int) uint64 {
	return uint64(key)<<32 | uint64(uint32(velocity))
}

// noteHost resolves the handful of dynamic variables an NKSP handler
// reads about the event that triggered it.
type noteHost struct {
	v *Voice
}

func (h *noteHost) ResolveDynamicInt(name string) (int32, bool) {
	switch name {
	case "EVENT_NOTE":
		return int32(h.v.Key), true
	case "EVENT_VELOCITY":
		return int32(h.v.Velocity), true
	}
	return 0, false
}
func (h *noteHost) ResolveDynamicString(name string) (string, bool) { return "", false }
func (h *noteHost) SetDynamicInt(name string, v int32)              {}
func (h *noteHost) SetDynamicString(name string, v string)          {}
func (h *noteHost) RandomInt(lo, hi int32) int32                    { return lo }
