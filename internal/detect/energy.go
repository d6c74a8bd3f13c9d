package detect

import (
	"context"

	"github.com/maauso/samplepacker/internal/dsp"
	"github.com/maauso/samplepacker/internal/segment"
	"github.com/maauso/samplepacker/internal/settings"
)

// NonSilenceEnergy finds regions whose RMS energy stands out from the file's
// own background. Z-scoring the envelope removes a constant noise bed.
type NonSilenceEnergy struct{}

// Name implements Detector.
func (NonSilenceEnergy) Name() string { return segment.DetectorNonSilence }

// Detect implements Detector.
func (NonSilenceEnergy) Detect(ctx context.Context, samples []float64, sampleRate int, s settings.ProcessingSettings) ([]segment.Segment, error) {
	cfg := s.Energy
	window := int(float64(sampleRate) * cfg.WindowMs / 1000)
	hop := int(float64(sampleRate) * cfg.HopMs / 1000)
	if window <= 0 || hop <= 0 || len(samples) < window {
		return nil, nil
	}

	env := dsp.RMSEnvelope(samples, window, hop)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(env) == 0 {
		return nil, nil
	}

	z := dsp.ZScore(env)
	if degenerate(z) {
		return nil, nil
	}
	thr := dsp.Percentile(z, cfg.Percentile)
	runs := dsp.Hysteresis(z, thr*cfg.RiseFactor, thr*cfg.FallFactor)

	hopSec := float64(hop) / float64(sampleRate)
	bounds := runBounds{minMs: cfg.MinMs, maxMs: cfg.MaxMs}
	return runsToSegments(runs, hopSec, z, bounds, segment.DetectorNonSilence), nil
}
