package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/maauso/samplepacker/internal/settings"
)

// durationRe matches the "Duration: HH:MM:SS.ms" banner line of ffmpeg.
var durationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+)\.(\d+)`)

// FFmpegTranscoder implements Transcoder using the ffmpeg and ffprobe CLIs.
type FFmpegTranscoder struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegTranscoder creates a new FFmpegTranscoder.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found in PATH). ffprobe is
// looked up next to it.
func NewFFmpegTranscoder(ffmpegPath string) *FFmpegTranscoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	ffprobePath := "ffprobe"
	if dir := filepath.Dir(ffmpegPath); dir != "." {
		ffprobePath = filepath.Join(dir, "ffprobe")
	}
	return &FFmpegTranscoder{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// probeOutput is the subset of ffprobe's JSON we read.
type probeOutput struct {
	Streams []struct {
		CodecType     string `json:"codec_type"`
		SampleRate    string `json:"sample_rate"`
		Channels      int    `json:"channels"`
		BitsPerSample int    `json:"bits_per_sample"`
		BitsPerRaw    string `json:"bits_per_raw_sample"`
		SampleFmt     string `json:"sample_fmt"`
		Duration      string `json:"duration"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

// Probe implements Transcoder.Probe. It prefers ffprobe and falls back to
// parsing the ffmpeg banner when ffprobe is not installed.
func (t *FFmpegTranscoder) Probe(ctx context.Context, path string) (Info, error) {
	if err := ensureInput(path, "read audio metadata"); err != nil {
		return Info{}, err
	}

	args := []string{"-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", path}
	stdout, err := t.run(ctx, t.ffprobePath, "read audio metadata", args, nil)
	if notInstalled(err) {
		d, derr := t.bannerDuration(ctx, path)
		if derr != nil {
			return Info{}, derr
		}
		return Info{Duration: d}, nil
	}
	if err != nil {
		return Info{}, err
	}
	return parseProbe(stdout)
}

func parseProbe(data []byte) (Info, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Info{}, fmt.Errorf("%w: ffprobe returned malformed metadata: %w", ErrDecodeFailure, err)
	}

	info := Info{Format: out.Format.FormatName}
	info.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	for _, s := range out.Streams {
		if s.CodecType != "audio" {
			continue
		}
		if info.Duration == 0 {
			info.Duration, _ = strconv.ParseFloat(s.Duration, 64)
		}
		info.SampleRate, _ = strconv.Atoi(s.SampleRate)
		info.Channels = s.Channels
		info.BitDepth = s.BitsPerSample
		if raw, err := strconv.Atoi(s.BitsPerRaw); err == nil && raw > 0 {
			info.BitDepth = raw
		}
		if info.BitDepth == 0 {
			switch {
			case strings.Contains(s.SampleFmt, "s16"):
				info.BitDepth = 16
			case strings.Contains(s.SampleFmt, "s24"):
				info.BitDepth = 24
			case strings.Contains(s.SampleFmt, "s32"), strings.Contains(s.SampleFmt, "flt"):
				info.BitDepth = 32
			}
		}
		break
	}
	if info.SampleRate == 0 && info.Channels == 0 {
		return Info{}, fmt.Errorf("%w: no audio stream found", ErrDecodeFailure)
	}
	return info, nil
}

// bannerDuration returns the duration of a media file from ffmpeg's stderr banner.
func (t *FFmpegTranscoder) bannerDuration(ctx context.Context, path string) (float64, error) {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, t.ffmpegPath, "-hide_banner", "-i", path, "-f", "null", "-")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// ffmpeg may exit non-zero here; the banner is still printed.
	_ = cmd.Run()
	if ctx.Err() != nil {
		return 0, fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
	}
	d, ok := parseDuration(stderr.String())
	if !ok {
		return 0, &FFmpegError{
			Operation: "read audio duration",
			Command:   cmd.Args,
			ExitCode:  -1,
			Stderr:    stderr.String(),
		}
	}
	return d, nil
}

// parseDuration extracts seconds from a "Duration: HH:MM:SS.ms" line.
func parseDuration(output string) (float64, bool) {
	m := durationRe.FindStringSubmatch(output)
	if len(m) < 5 {
		return 0, false
	}
	hours, _ := strconv.ParseFloat(m[1], 64)
	minutes, _ := strconv.ParseFloat(m[2], 64)
	seconds, _ := strconv.ParseFloat(m[3], 64)
	frac, _ := strconv.ParseFloat("0."+m[4], 64)
	return hours*3600 + minutes*60 + seconds + frac, true
}

// FilterChain builds the -af argument for opts.
func FilterChain(opts DecodeOpts) string {
	var filters []string
	if opts.HighpassHz > 0 {
		filters = append(filters, "highpass=f="+formatHz(opts.HighpassHz))
	}
	if opts.LowpassHz > 0 && (opts.SampleRate == 0 || opts.LowpassHz < float64(opts.SampleRate)/2) {
		filters = append(filters, "lowpass=f="+formatHz(opts.LowpassHz))
	}
	switch opts.Denoise {
	case settings.DenoiseAFFTDN:
		filters = append(filters, fmt.Sprintf("afftdn=nr=%s:nt=w", formatHz(opts.NoiseReductionDB)))
	case settings.DenoiseANLMDN:
		filters = append(filters, "anlmdn")
	}
	if len(filters) == 0 {
		return "anull"
	}
	return strings.Join(filters, ",")
}

func formatHz(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Analyze implements Transcoder.Analyze.
func (t *FFmpegTranscoder) Analyze(ctx context.Context, src, dst string, opts DecodeOpts) error {
	if opts.SampleRate <= 0 {
		return fmt.Errorf("%w: analysis sample rate must be positive, got %d", ErrDecodeFailure, opts.SampleRate)
	}
	if err := ensureInput(src, "prepare analysis audio"); err != nil {
		return err
	}
	if err := ensureDir(dst); err != nil {
		return err
	}

	args := []string{
		"-y", "-hide_banner", "-nostdin",
		"-i", src,
		"-vn",
		"-af", FilterChain(opts),
		"-ac", "1",
		"-ar", strconv.Itoa(opts.SampleRate),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		dst,
	}
	_, err := t.run(ctx, t.ffmpegPath, "prepare analysis audio", args, []string{
		"Check that the selected denoise method is supported by your FFmpeg build.",
		"Ensure the requested sample rate is supported by FFmpeg.",
	})
	return err
}

// run executes a media command and returns its stdout. Failures carry the
// command, exit code, stderr and suggestions.
func (t *FFmpegTranscoder) run(ctx context.Context, bin, operation string, args, suggestions []string) ([]byte, error) {
	// #nosec G204 - binaries are set by the application, not user input
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
	}

	fe := &FFmpegError{
		Operation: operation,
		Command:   append([]string{bin}, args...),
		ExitCode:  -1,
		Stderr:    stderr.String(),
		Err:       err,
	}
	var exitErr *exec.ExitError
	switch {
	case notInstalled(err):
		fe.Stderr = "executable not found on PATH"
		fe.Suggestions = []string{
			"Install FFmpeg (https://ffmpeg.org/download.html).",
			"Ensure the ffmpeg and ffprobe binaries are available on PATH.",
		}
	case errors.As(err, &exitErr):
		fe.ExitCode = exitErr.ExitCode()
		fe.Suggestions = dedupe(append(append(classify(fe.Stderr), suggestions...), commonSuggestions...))
	}
	return nil, fe
}

// notInstalled reports whether err means the binary itself could not be started.
func notInstalled(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

// Verify interface implementation at compile time.
var _ Transcoder = (*FFmpegTranscoder)(nil)
