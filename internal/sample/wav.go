package sample

import (
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVBacking decodes PCM frames out of a .wav file. It is the one concrete,
// in-scope loader this repo ships; it plays the role spec section 6
// describes for .gig/.sfz/.sf2 loaders without pretending to implement any
// of them.
type WAVBacking struct {
	path    string
	file    *os.File
	decoder *wav.Decoder
	format  *audio.Format
}

// OpenWAV opens path and validates it as a PCM wav file, returning a Backing
// plus the Sample metadata derived from its header.
func OpenWAV(path string) (*WAVBacking, Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Sample{}, fmt.Errorf("sample: open %s: %w", path, err)
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, Sample{}, fmt.Errorf("sample: %s is not a valid wav file", path)
	}
	dec.ReadInfo()
	format := dec.Format()
	if format == nil {
		f.Close()
		return nil, Sample{}, fmt.Errorf("sample: %s: missing format chunk", path)
	}

	totalFrames := int64(dec.PCMLen()) / int64(format.NumChannels) / int64(dec.BitDepth/8)

	b := &WAVBacking{path: path, file: f, decoder: dec, format: format}
	s := Sample{
		Name:        path,
		SampleRate:  format.SampleRate,
		Channels:    format.NumChannels,
		FrameSize:   format.NumChannels * (int(dec.BitDepth) / 8),
		TotalFrames: totalFrames,
		Backing:     b,
		FileID:      path,
	}
	return b, s, nil
}

// ReadFramesAt implements Backing. It seeks to offset and decodes up to n
// interleaved float32 frames; it is only ever called off the RT thread.
func (b *WAVBacking) ReadFramesAt(offset int64, n int) ([]float32, error) {
	if n <= 0 {
		return nil, nil
	}
	bytesPerFrame := b.format.NumChannels * int(b.decoder.BitDepth/8)
	if err := b.decoder.FwdToPCM(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("sample: %s: seek pcm: %w", b.path, err)
	}
	if _, err := b.file.Seek(int64(b.decoder.PCMChunk.Pos)+offset*int64(bytesPerFrame), io.SeekStart); err != nil {
		return nil, fmt.Errorf("sample: %s: seek: %w", b.path, err)
	}

	buf := &audio.IntBuffer{
		Format: b.format,
		Data:   make([]int, n*b.format.NumChannels),
	}
	read, err := b.decoder.PCMBuffer(buf)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("sample: %s: decode: %w", b.path, err)
	}

	out := make([]float32, read)
	scale := float32(int(1) << (uint(b.decoder.BitDepth) - 1))
	for i := 0; i < read; i++ {
		out[i] = float32(buf.Data[i]) / scale
	}
	return out, nil
}

// Close releases the underlying file handle.
func (b *WAVBacking) Close() error {
	return b.file.Close()
}
