package detect

import (
	"context"

	"github.com/maauso/samplepacker/internal/dsp"
	"github.com/maauso/samplepacker/internal/segment"
	"github.com/maauso/samplepacker/internal/settings"
)

// SpectralInterestingness scores every STFT frame with a weighted sum of
// normalized flux, centroid, rolloff, flatness and RMS, then keeps runs of
// frames in the top percentile of that score.
type SpectralInterestingness struct{}

// Name implements Detector.
func (SpectralInterestingness) Name() string { return segment.DetectorSpectral }

// Detect implements Detector.
func (SpectralInterestingness) Detect(ctx context.Context, samples []float64, sampleRate int, s settings.ProcessingSettings) ([]segment.Segment, error) {
	cfg := s.Spectral
	if len(samples) < cfg.FFTSize || sampleRate <= 0 {
		return nil, nil
	}
	spec := dsp.STFT(samples, cfg.FFTSize, cfg.HopSize)
	if len(spec.Frames) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	freqs := dsp.BinFrequencies(cfg.FFTSize, sampleRate)
	n := len(spec.Frames)
	centroids := make([]float64, n)
	rolloffs := make([]float64, n)
	flatness := make([]float64, n)
	for i, frame := range spec.Frames {
		if err := checkpoint(ctx, i); err != nil {
			return nil, err
		}
		centroids[i] = dsp.Centroid(freqs, frame)
		rolloffs[i] = dsp.Rolloff(freqs, frame)
		flatness[i] = dsp.Flatness(frame)
	}

	w := cfg.Weights
	features := []struct {
		weight float64
		z      []float64
	}{
		{w.Flux, dsp.ZScore(dsp.SpectralFlux(spec))},
		{w.Centroid, dsp.ZScore(centroids)},
		{w.Rolloff, dsp.ZScore(rolloffs)},
		{w.Flatness, dsp.ZScore(flatness)},
		{w.RMS, dsp.ZScore(dsp.FrameRMS(spec))},
	}
	combined := make([]float64, n)
	for _, f := range features {
		for i, v := range f.z {
			combined[i] += f.weight * v
		}
	}

	score := dsp.ZScore(combined)
	if degenerate(score) {
		return nil, nil
	}
	thr := dsp.Percentile(score, cfg.Percentile)
	mask := make([]bool, n)
	for i, v := range score {
		mask[i] = v >= thr
	}

	hopSec := float64(cfg.HopSize) / float64(sampleRate)
	return runsToSegments(dsp.MaskRuns(mask), hopSec, score, runBounds{minMs: cfg.MinMs}, segment.DetectorSpectral), nil
}
