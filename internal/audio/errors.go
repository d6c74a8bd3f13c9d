package audio

import (
	"errors"
	"fmt"
	"strings"
)

// Static errors for decoding.
var (
	// ErrDecodeFailure is returned when the source cannot be probed, denoised,
	// resampled or read back.
	ErrDecodeFailure = errors.New("decode failure")
	// ErrInvalidWAV is returned when a derivative file is not a PCM WAV.
	ErrInvalidWAV = errors.New("invalid wav file")
)

// commonSuggestions are appended to every failed command.
var commonSuggestions = []string{
	"Verify FFmpeg is installed and accessible on PATH.",
	"Check that the source file exists and is readable.",
	"Ensure the output directory is writable.",
}

// FFmpegError describes a failed ffmpeg or ffprobe invocation, preserving the
// attempted command and its diagnostic output.
type FFmpegError struct {
	Operation   string
	Command     []string
	ExitCode    int
	Stderr      string
	Suggestions []string
	Err         error
}

func (e *FFmpegError) Error() string {
	msg := fmt.Sprintf("%s failed", e.Operation)
	if e.ExitCode >= 0 {
		msg += fmt.Sprintf(" with exit code %d", e.ExitCode)
	}
	if len(e.Command) > 0 {
		msg += ": " + e.CommandString()
	}
	if brief := e.BriefStderr(3); brief != "" {
		msg += ", stderr: " + brief
	}
	return msg
}

// Unwrap exposes ErrDecodeFailure and the underlying process error.
func (e *FFmpegError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrDecodeFailure, e.Err}
	}
	return []error{ErrDecodeFailure}
}

// CommandString returns the command quoted for display.
func (e *FFmpegError) CommandString() string {
	parts := make([]string, len(e.Command))
	for i, arg := range e.Command {
		if arg == "" || strings.ContainsAny(arg, " \t'\"") {
			arg = "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
		}
		parts[i] = arg
	}
	return strings.Join(parts, " ")
}

// BriefStderr returns the last maxLines non-empty lines of stderr.
func (e *FFmpegError) BriefStderr(maxLines int) string {
	var lines []string
	for _, l := range strings.Split(e.Stderr, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return strings.Join(lines, " | ")
}

// UserMessage renders the error with its suggestions as a bulleted list.
func (e *FFmpegError) UserMessage() string {
	var b strings.Builder
	b.WriteString(e.Error())
	if len(e.Suggestions) > 0 {
		b.WriteString("\nSuggestions:")
		for _, s := range e.Suggestions {
			b.WriteString("\n  • ")
			b.WriteString(s)
		}
	}
	return b.String()
}

// dedupe returns items without repeats, keeping first occurrences.
func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, s := range items {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// classify adds suggestions based on well-known stderr messages.
func classify(stderr string) []string {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "invalid data") || strings.Contains(lower, "corrupt"):
		return []string{
			"Try converting the file to WAV or FLAC first.",
			"If the file was recorded on portable media, copy it locally first.",
		}
	case strings.Contains(lower, "no such file or directory"):
		return []string{"Verify the file still exists at the selected location."}
	case strings.Contains(lower, "permission denied"):
		return []string{"Check your read permissions for the file and containing directory."}
	case strings.Contains(lower, "no such filter"):
		return []string{"Check that the selected denoise method is supported by your FFmpeg build."}
	}
	return nil
}
