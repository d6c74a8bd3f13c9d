// Package media cuts exported samples out of source recordings.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Static errors for clip extraction.
var (
	// ErrInvalidRange is returned when end is not after start.
	ErrInvalidRange = errors.New("invalid clip range: end must be after start")
	// ErrInvalidClipOptions is returned for unsupported formats, channel
	// layouts, bit depths or negative fades.
	ErrInvalidClipOptions = errors.New("invalid clip options")
	// ErrExportFailure marks every failed ffmpeg export.
	ErrExportFailure = errors.New("sample export failed")
)

// Output formats.
const (
	FormatWAV  = "wav"
	FormatFLAC = "flac"
)

// sampleFormats maps a bit depth to ffmpeg's -sample_fmt value.
var sampleFormats = map[string]string{
	"16":  "s16",
	"24":  "s32",
	"32f": "flt",
}

// Clipper extracts one time range of a source into its own file.
type Clipper interface {
	ExtractClip(ctx context.Context, src, dst string, start, end float64, opts ClipOpts) error
}

// ClipOpts controls how a clip is encoded. Zero values keep the source's
// sample rate, channels and bit depth.
type ClipOpts struct {
	FadeInMs   float64
	FadeOutMs  float64
	Format     string
	SampleRate int
	BitDepth   string
	Channels   string
	Normalize  bool
	// LUFSTarget enables loudness normalization when non-zero and takes
	// precedence over Normalize.
	LUFSTarget float64
}

// DefaultClipOpts returns 5 ms fades and WAV output.
func DefaultClipOpts() ClipOpts {
	return ClipOpts{FadeInMs: 5, FadeOutMs: 5, Format: FormatWAV}
}

// Validate checks the options.
func (o ClipOpts) Validate() error {
	if o.FadeInMs < 0 || o.FadeOutMs < 0 {
		return fmt.Errorf("%w: fades must be non-negative", ErrInvalidClipOptions)
	}
	if f := strings.ToLower(o.Format); f != "" && f != FormatWAV && f != FormatFLAC {
		return fmt.Errorf("%w: format %q", ErrInvalidClipOptions, o.Format)
	}
	if o.Channels != "" && o.Channels != "mono" && o.Channels != "stereo" {
		return fmt.Errorf("%w: channels %q", ErrInvalidClipOptions, o.Channels)
	}
	if o.SampleRate < 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidClipOptions, o.SampleRate)
	}
	if _, ok := sampleFormats[o.BitDepth]; o.BitDepth != "" && !ok {
		return fmt.Errorf("%w: bit depth %q", ErrInvalidClipOptions, o.BitDepth)
	}
	return nil
}

// Extension returns the file extension for the output format.
func (o ClipOpts) Extension() string {
	if strings.EqualFold(o.Format, FormatFLAC) {
		return ".flac"
	}
	return ".wav"
}

// FFmpegClipper implements Clipper using the ffmpeg CLI.
type FFmpegClipper struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
}

// NewFFmpegClipper creates a new FFmpegClipper.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegClipper(ffmpegPath string) *FFmpegClipper {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegClipper{ffmpegPath: ffmpegPath}
}

// ExtractClip writes [start, end) of src to dst. FLAC clips without any
// filters first try a stream copy and fall back to re-encoding if the copy
// fails. WAV clips are always re-encoded so their duration is exact.
func (p *FFmpegClipper) ExtractClip(ctx context.Context, src, dst string, start, end float64, opts ClipOpts) error {
	if end <= start || start < 0 {
		return fmt.Errorf("%w: start=%.6f, end=%.6f", ErrInvalidRange, start, end)
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("%w: source: %w", ErrExportFailure, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	if strings.EqualFold(opts.Format, FormatFLAC) && len(clipFilters(end-start, opts)) == 0 {
		if err := p.runFFmpeg(ctx, copyArgs(src, dst, start, end)); err == nil {
			return nil
		} else if ctx.Err() != nil {
			return err
		}
	}
	return p.runFFmpeg(ctx, encodeArgs(src, dst, start, end, opts))
}

// clipFilters builds the -af chain: fades, then loudness handling.
func clipFilters(duration float64, opts ClipOpts) []string {
	var filters []string
	if opts.FadeInMs > 0 {
		filters = append(filters, fmt.Sprintf("afade=t=in:st=0:d=%.3f", opts.FadeInMs/1000))
	}
	if opts.FadeOutMs > 0 {
		st := max(0, duration-opts.FadeOutMs/1000)
		filters = append(filters, fmt.Sprintf("afade=t=out:st=%.3f:d=%.3f", st, opts.FadeOutMs/1000))
	}
	switch {
	case opts.LUFSTarget != 0:
		filters = append(filters, "loudnorm=I="+strconv.FormatFloat(opts.LUFSTarget, 'f', -1, 64))
	case opts.Normalize:
		filters = append(filters, "dynaudnorm")
	}
	return filters
}

func copyArgs(src, dst string, start, end float64) []string {
	return []string{
		"-y", "-hide_banner", "-nostdin",
		"-ss", fmt.Sprintf("%.6f", start),
		"-i", src,
		"-t", fmt.Sprintf("%.6f", end-start),
		"-c", "copy",
		dst,
	}
}

func encodeArgs(src, dst string, start, end float64, opts ClipOpts) []string {
	args := []string{
		"-y", "-hide_banner", "-nostdin",
		"-ss", fmt.Sprintf("%.6f", start),
		"-i", src,
		"-t", fmt.Sprintf("%.6f", end-start),
		"-vn",
	}
	if filters := clipFilters(end-start, opts); len(filters) > 0 {
		args = append(args, "-af", strings.Join(filters, ","))
	}
	switch opts.Channels {
	case "mono":
		args = append(args, "-ac", "1")
	case "stereo":
		args = append(args, "-ac", "2")
	}
	if opts.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(opts.SampleRate))
	}
	if fmtName, ok := sampleFormats[opts.BitDepth]; ok {
		args = append(args, "-sample_fmt", fmtName)
	}
	format := strings.ToLower(opts.Format)
	if format == "" {
		format = FormatWAV
	}
	return append(args, "-f", format, dst)
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (p *FFmpegClipper) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, strings.TrimSpace(e.Stderr))
}

// Unwrap exposes ErrExportFailure and the process error.
func (e *FFmpegError) Unwrap() []error {
	return []error{ErrExportFailure, e.Err}
}

// Verify interface implementation at compile time.
var _ Clipper = (*FFmpegClipper)(nil)
