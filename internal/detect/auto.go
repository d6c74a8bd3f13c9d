package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maauso/samplepacker/internal/segment"
	"github.com/maauso/samplepacker/internal/settings"
)

// Auto runs several detectors one after another and pools their output into
// a single candidate set. Each pooled segment is tagged with the detector
// that produced it so later tie-breaks can use detector priority.
type Auto struct {
	detectors []Detector
	logger    *slog.Logger
}

// NewAuto creates an auto detector over the given detectors, which are run in
// the order given.
func NewAuto(logger *slog.Logger, detectors ...Detector) *Auto {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auto{detectors: detectors, logger: logger}
}

// Name implements Detector.
func (a *Auto) Name() string { return settings.ModeAuto }

// Detect implements Detector. An unavailable or failing detector is logged
// and skipped; an error is returned only when every detector failed.
func (a *Auto) Detect(ctx context.Context, samples []float64, sampleRate int, s settings.ProcessingSettings) ([]segment.Segment, error) {
	var (
		pool []segment.Segment
		errs []error
	)
	for _, d := range a.detectors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		segs, err := Run(ctx, d, samples, sampleRate, s)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			a.logger.Warn("detector skipped in auto mode",
				slog.String("detector", d.Name()),
				slog.Bool("unavailable", errors.Is(err, ErrDetectorUnavailable)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}

		for _, seg := range segs {
			seg = seg.Clone()
			seg.SetAttr(segment.AttrPrimaryDetector, d.Name())
			seg.SetAttr(segment.AttrDetectors, d.Name())
			pool = append(pool, seg)
		}
		a.logger.Debug("detector finished",
			slog.String("detector", d.Name()),
			slog.Int("segments", len(segs)),
		)
	}

	if len(a.detectors) > 0 && len(errs) == len(a.detectors) {
		return nil, fmt.Errorf("%w: all detectors failed: %w", ErrDetectorFailure, errors.Join(errs...))
	}
	segment.SortByStart(pool)
	return pool, nil
}
