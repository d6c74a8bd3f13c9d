// Package detect implements the detectors that turn PCM audio into candidate
// segments: voice activity, spectral-flux transients, energy non-silence and
// spectral interestingness, plus the auto mode that pools all four.
package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maauso/samplepacker/internal/dsp"
	"github.com/maauso/samplepacker/internal/segment"
	"github.com/maauso/samplepacker/internal/settings"
)

// Static errors for detection.
var (
	// ErrDetectorUnavailable is returned when a detector cannot run at all for
	// the given input, e.g. an unsupported sample rate.
	ErrDetectorUnavailable = errors.New("detector unavailable")
	// ErrDetectorFailure is returned when a detector started but failed.
	ErrDetectorFailure = errors.New("detector failure")
	// ErrUnknownMode is returned for a mode with no detector behind it.
	ErrUnknownMode = errors.New("unknown detection mode")
)

// Detector produces candidate segments from mono PCM samples in [-1, 1].
// Implementations are stateless across calls and check ctx between frames.
type Detector interface {
	// Name returns the segment label this detector emits.
	Name() string
	// Detect returns candidate segments ordered by start.
	Detect(ctx context.Context, samples []float64, sampleRate int, s settings.ProcessingSettings) ([]segment.Segment, error)
}

// DetectorError identifies which detector failed.
type DetectorError struct {
	Detector string
	Err      error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("detector %s: %v", e.Detector, e.Err)
}

func (e *DetectorError) Unwrap() error {
	return e.Err
}

// Option configures detectors built by ForMode.
type Option func(*options)

type options struct {
	classifier VoiceClassifier
	logger     *slog.Logger
}

// WithClassifier replaces the default voice classifier.
func WithClassifier(c VoiceClassifier) Option {
	return func(o *options) {
		o.classifier = c
	}
}

// WithLogger sets the logger used by auto mode to report skipped detectors.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// ForMode returns the detector selected by a settings mode.
func ForMode(mode string, opts ...Option) (Detector, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	voice := NewVoiceVAD(o.classifier)

	switch mode {
	case settings.ModeVoice:
		return voice, nil
	case settings.ModeTransient:
		return TransientFlux{}, nil
	case settings.ModeNonSilence:
		return NonSilenceEnergy{}, nil
	case settings.ModeSpectral:
		return SpectralInterestingness{}, nil
	case settings.ModeAuto:
		return NewAuto(o.logger, voice, TransientFlux{}, SpectralInterestingness{}, NonSilenceEnergy{}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// Run invokes d and normalizes its failure modes: cancellation is passed
// through untouched, unavailability and failures are wrapped in a
// DetectorError, and a panic inside the detector becomes a failure.
func Run(ctx context.Context, d Detector, samples []float64, sampleRate int, s settings.ProcessingSettings) (segs []segment.Segment, err error) {
	defer func() {
		if r := recover(); r != nil {
			segs = nil
			err = &DetectorError{Detector: d.Name(), Err: fmt.Errorf("%w: panic: %v", ErrDetectorFailure, r)}
		}
	}()

	segs, err = d.Detect(ctx, samples, sampleRate, s)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err == nil {
		return segs, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	var de *DetectorError
	if errors.As(err, &de) {
		return nil, err
	}
	if !errors.Is(err, ErrDetectorUnavailable) && !errors.Is(err, ErrDetectorFailure) {
		err = fmt.Errorf("%w: %w", ErrDetectorFailure, err)
	}
	return nil, &DetectorError{Detector: d.Name(), Err: err}
}

// checkEvery is how many frames a detector processes between cancellation
// checks.
const checkEvery = 256

func checkpoint(ctx context.Context, i int) error {
	if i%checkEvery != 0 {
		return nil
	}
	return ctx.Err()
}

// runBounds limits the duration of emitted runs in milliseconds. A zero max
// means unbounded.
type runBounds struct {
	minMs float64
	maxMs float64
}

func (b runBounds) accept(durMs float64) bool {
	if durMs < b.minMs {
		return false
	}
	return b.maxMs <= 0 || durMs <= b.maxMs
}

// runsToSegments converts frame runs into segments using the frame hop. The
// score of each segment is the peak of scores within its run.
func runsToSegments(runs []dsp.Run, hopSec float64, scores []float64, bounds runBounds, label string) []segment.Segment {
	var out []segment.Segment
	for _, r := range runs {
		start := float64(r.Onset) * hopSec
		end := float64(r.Offset) * hopSec
		if !bounds.accept((end - start) * 1000) {
			continue
		}
		seg := segment.New(start, end, label, dsp.PeakIn(scores, r))
		out = append(out, seg)
	}
	return out
}
