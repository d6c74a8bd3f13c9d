package audio

import (
	"fmt"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// PCM is decoded mono audio with samples in [-1, 1].
type PCM struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the length in seconds.
func (p PCM) Duration() float64 {
	if p.SampleRate <= 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.SampleRate)
}

// Slice returns the samples between start and end seconds, clamped to the buffer.
func (p PCM) Slice(start, end float64) []float64 {
	i := int(math.Max(0, start) * float64(p.SampleRate))
	j := int(math.Min(p.Duration(), end) * float64(p.SampleRate))
	if i >= len(p.Samples) || j <= i {
		return nil
	}
	if j > len(p.Samples) {
		j = len(p.Samples)
	}
	return p.Samples[i:j]
}

// ReadWAV decodes a PCM WAV file, downmixing to mono by averaging channels.
func ReadWAV(path string) (PCM, error) {
	f, err := os.Open(path) // #nosec G304 - path comes from the cache layer
	if err != nil {
		return PCM{}, fmt.Errorf("%w: open %s: %w", ErrDecodeFailure, path, err)
	}
	defer func() { _ = f.Close() }()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return PCM{}, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return PCM{}, fmt.Errorf("%w: read pcm %s: %w", ErrInvalidWAV, path, err)
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = int(d.BitDepth)
	}
	if bitDepth <= 0 || bitDepth > 32 {
		return PCM{}, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidWAV, bitDepth)
	}
	scale := math.Ldexp(1, bitDepth-1)

	frames := len(buf.Data) / channels
	samples := make([]float64, frames)
	for i := range samples {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c])
		}
		samples[i] = sum / float64(channels) / scale
	}
	return PCM{Samples: samples, SampleRate: buf.Format.SampleRate}, nil
}

// WriteWAV encodes mono samples as 16-bit PCM.
func WriteWAV(path string, samples []float64, sampleRate int) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	f, err := os.Create(path) // #nosec G304 - path is built by the application
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(math.Round(math.Max(-1, math.Min(1, s)) * 32767))
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return f.Close()
}
