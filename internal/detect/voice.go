package detect

import (
	"context"
	"fmt"
	"math"

	"github.com/maauso/samplepacker/internal/dsp"
	"github.com/maauso/samplepacker/internal/segment"
	"github.com/maauso/samplepacker/internal/settings"
)

// voiceSampleRates lists the rates the frame classifier accepts.
var voiceSampleRates = map[int]bool{8000: true, 16000: true, 32000: true, 48000: true}

// VoiceClassifier decides, frame by frame, whether 16-bit PCM contains voice.
// aggressiveness ranges from 0 (lenient) to 3 (strict).
type VoiceClassifier interface {
	Classify(ctx context.Context, frames [][]int16, sampleRate, aggressiveness int) ([]bool, error)
}

// VoiceVAD detects voiced regions by classifying fixed-duration PCM frames
// and merging consecutive voiced frames.
type VoiceVAD struct {
	classifier VoiceClassifier
}

// NewVoiceVAD creates a voice detector. A nil classifier selects
// EnergyClassifier.
func NewVoiceVAD(c VoiceClassifier) VoiceVAD {
	if c == nil {
		c = EnergyClassifier{}
	}
	return VoiceVAD{classifier: c}
}

// Name implements Detector.
func (VoiceVAD) Name() string { return segment.DetectorVoice }

// Detect implements Detector.
func (v VoiceVAD) Detect(ctx context.Context, samples []float64, sampleRate int, s settings.ProcessingSettings) ([]segment.Segment, error) {
	if !voiceSampleRates[sampleRate] {
		return nil, fmt.Errorf("%w: voice detection needs 8, 16, 32 or 48 kHz audio, got %d Hz", ErrDetectorUnavailable, sampleRate)
	}
	switch s.FrameDurationMs {
	case 10, 20, 30:
	default:
		return nil, fmt.Errorf("%w: frame duration %d ms", ErrDetectorFailure, s.FrameDurationMs)
	}
	classifier := v.classifier
	if classifier == nil {
		classifier = EnergyClassifier{}
	}

	filtered := dsp.Bandpass(samples, sampleRate, s.LowFreq, s.HighFreq)
	frameLen := sampleRate * s.FrameDurationMs / 1000
	frames := ToPCM16Frames(filtered, frameLen)
	if len(frames) == 0 {
		return nil, nil
	}

	voiced, err := classifier.Classify(ctx, frames, sampleRate, s.Aggressiveness)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hopSec := float64(frameLen) / float64(sampleRate)
	ones := make([]float64, len(voiced))
	for i := range ones {
		ones[i] = 1
	}
	return runsToSegments(dsp.MaskRuns(voiced), hopSec, ones, runBounds{minMs: s.Voice.MinMs}, segment.DetectorVoice), nil
}

// ToPCM16Frames clips x to [-1, 1], scales it to signed 16-bit and splits it
// into frames of frameLen samples. A trailing partial frame is dropped.
func ToPCM16Frames(x []float64, frameLen int) [][]int16 {
	if frameLen <= 0 {
		return nil
	}
	n := len(x) / frameLen
	frames := make([][]int16, n)
	for i := range frames {
		frame := make([]int16, frameLen)
		for k := range frame {
			v := math.Max(-1, math.Min(1, x[i*frameLen+k]))
			frame[k] = int16(math.Round(v * 32767))
		}
		frames[i] = frame
	}
	return frames
}

// EnergyClassifier marks a frame as voiced when its energy clears an adaptive
// noise floor by an aggressiveness-dependent margin and its zero-crossing rate
// stays in the range typical of band-limited speech.
type EnergyClassifier struct{}

// marginsDB maps aggressiveness to the required rise above the noise floor.
var marginsDB = [4]float64{3, 6, 9, 12}

const (
	noiseFloorPercentile = 10
	absoluteFloorDB      = -60
	maxZCR               = 0.45
	minZCR               = 0.002
)

// Classify implements VoiceClassifier.
func (EnergyClassifier) Classify(ctx context.Context, frames [][]int16, _ int, aggressiveness int) ([]bool, error) {
	if aggressiveness < 0 || aggressiveness > 3 {
		return nil, fmt.Errorf("%w: aggressiveness %d", ErrDetectorFailure, aggressiveness)
	}
	energies := make([]float64, len(frames))
	zcrs := make([]float64, len(frames))
	for i, f := range frames {
		if err := checkpoint(ctx, i); err != nil {
			return nil, err
		}
		energies[i], zcrs[i] = frameStats(f)
	}

	floor := dsp.Percentile(energies, noiseFloorPercentile)
	threshold := math.Max(floor+marginsDB[aggressiveness], absoluteFloorDB)

	voiced := make([]bool, len(frames))
	for i := range frames {
		voiced[i] = energies[i] >= threshold && zcrs[i] >= minZCR && zcrs[i] <= maxZCR
	}
	return voiced, nil
}

// frameStats returns the frame energy in dBFS and its zero-crossing rate.
func frameStats(frame []int16) (float64, float64) {
	if len(frame) == 0 {
		return math.Inf(-1), 0
	}
	var sum float64
	crossings := 0
	for k, s := range frame {
		v := float64(s) / 32768
		sum += v * v
		if k > 0 && (frame[k-1] >= 0) != (s >= 0) {
			crossings++
		}
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	db := 20 * math.Log10(rms+1e-12)
	return db, float64(crossings) / float64(len(frame))
}
