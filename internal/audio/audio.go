// Package audio is the decode/denoise collaborator. It shells out to ffmpeg
// to probe sources, apply the denoise filter chain and resample to the mono
// analysis rate, and reads the resulting 16-bit WAV into float samples.
package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/maauso/samplepacker/internal/settings"
)

// Info describes a probed source file.
type Info struct {
	Duration   float64 `json:"duration"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	BitDepth   int     `json:"bit_depth"`
	Format     string  `json:"format"`
}

// DecodeOpts configures denoising and the analysis resample.
type DecodeOpts struct {
	// Denoise is one of settings.DenoiseOff, DenoiseAFFTDN or DenoiseANLMDN.
	Denoise string
	// HighpassHz and LowpassHz add band filters ahead of the denoiser.
	// Zero disables a filter.
	HighpassHz float64
	LowpassHz  float64
	// NoiseReductionDB is the afftdn reduction strength.
	NoiseReductionDB float64
	// SampleRate is the mono analysis rate.
	SampleRate int
}

// DecodeOptsFrom extracts the decode-affecting subset of s.
func DecodeOptsFrom(s settings.ProcessingSettings) DecodeOpts {
	return DecodeOpts{
		Denoise:          s.DenoiseMethod,
		HighpassHz:       s.HighpassHz,
		LowpassHz:        s.LowpassHz,
		NoiseReductionDB: s.NoiseReductionDB,
		SampleRate:       s.AnalysisSampleRate,
	}
}

// Transcoder wraps the external decode/denoise process.
type Transcoder interface {
	// Probe reads duration and stream parameters of a source.
	Probe(ctx context.Context, path string) (Info, error)

	// Analyze writes a mono 16-bit WAV at opts.SampleRate to dst, with the
	// denoise chain from opts applied.
	Analyze(ctx context.Context, src, dst string, opts DecodeOpts) error
}

// ensureInput fails early with a decode error when src is not a readable file.
func ensureInput(src, operation string) error {
	info, err := os.Stat(src)
	switch {
	case os.IsNotExist(err):
		return &FFmpegError{
			Operation:   operation,
			Stderr:      "input file does not exist: " + src,
			ExitCode:    -1,
			Suggestions: []string{"Verify the file still exists at the selected location."},
		}
	case err != nil:
		return fmt.Errorf("%w: stat %s: %w", ErrDecodeFailure, src, err)
	case info.IsDir():
		return &FFmpegError{
			Operation:   operation,
			Stderr:      "input is a directory: " + src,
			ExitCode:    -1,
			Suggestions: []string{"Choose an audio file instead of a directory."},
		}
	}
	return nil
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	return nil
}
