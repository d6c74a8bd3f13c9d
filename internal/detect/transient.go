package detect

import (
	"context"

	"github.com/maauso/samplepacker/internal/dsp"
	"github.com/maauso/samplepacker/internal/segment"
	"github.com/maauso/samplepacker/internal/settings"
)

// TransientFlux finds impacts and clicks: runs of high spectral flux gated
// with an adaptive percentile threshold and hysteresis.
type TransientFlux struct{}

// Name implements Detector.
func (TransientFlux) Name() string { return segment.DetectorTransient }

// Detect implements Detector.
func (TransientFlux) Detect(ctx context.Context, samples []float64, sampleRate int, s settings.ProcessingSettings) ([]segment.Segment, error) {
	cfg := s.Transient
	if len(samples) < cfg.FFTSize || sampleRate <= 0 {
		return nil, nil
	}
	spec := dsp.STFT(samples, cfg.FFTSize, cfg.HopSize)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	z := dsp.ZScore(dsp.SpectralFlux(spec))
	if degenerate(z) {
		return nil, nil
	}
	thr := dsp.Percentile(z, cfg.Percentile)
	runs := dsp.Hysteresis(z, thr*cfg.RiseFactor, thr*cfg.FallFactor)

	hopSec := float64(cfg.HopSize) / float64(sampleRate)
	bounds := runBounds{minMs: cfg.MinMs, maxMs: cfg.MaxMs}
	return runsToSegments(runs, hopSec, z, bounds, segment.DetectorTransient), nil
}

// degenerate reports whether a normalized feature carries no information,
// which happens for silence or perfectly stationary input.
func degenerate(z []float64) bool {
	for _, v := range z {
		if v != 0 {
			return false
		}
	}
	return true
}
