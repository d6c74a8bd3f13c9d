package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not available.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH, skipping test")
	}
}

// createTestAudio creates a stereo sine recording using ffmpeg.
func createTestAudio(t *testing.T, path string, duration float64) {
	t.Helper()

	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("sine=frequency=440:duration=%.1f", duration),
		"-ar", "44100",
		"-ac", "2",
		path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test audio: %v\noutput: %s", err, output)
	}
}

// probeDuration returns the duration of a media file using ffprobe.
func probeDuration(t *testing.T, path string) float64 {
	t.Helper()

	out, err := exec.Command("ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		t.Fatalf("ffprobe failed: %v", err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		t.Fatalf("parse duration %q: %v", out, err)
	}
	return d
}

func TestNewFFmpegClipper(t *testing.T) {
	t.Run("default path", func(t *testing.T) {
		p := NewFFmpegClipper("")
		if p.ffmpegPath != "ffmpeg" {
			t.Errorf("expected default path 'ffmpeg', got %q", p.ffmpegPath)
		}
	})

	t.Run("custom path", func(t *testing.T) {
		p := NewFFmpegClipper("/usr/local/bin/ffmpeg")
		if p.ffmpegPath != "/usr/local/bin/ffmpeg" {
			t.Errorf("expected custom path, got %q", p.ffmpegPath)
		}
	})
}

func TestClipOptsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    ClipOpts
		wantErr bool
	}{
		{"defaults", DefaultClipOpts(), false},
		{"flac 24 bit stereo", ClipOpts{Format: "FLAC", BitDepth: "24", Channels: "stereo", SampleRate: 48000}, false},
		{"zero value", ClipOpts{}, false},
		{"negative fade", ClipOpts{FadeInMs: -1}, true},
		{"mp3", ClipOpts{Format: "mp3"}, true},
		{"surround", ClipOpts{Channels: "5.1"}, true},
		{"8 bit", ClipOpts{BitDepth: "8"}, true},
		{"negative rate", ClipOpts{SampleRate: -44100}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidClipOptions) {
				t.Errorf("expected ErrInvalidClipOptions, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestClipFilters(t *testing.T) {
	tests := []struct {
		name     string
		duration float64
		opts     ClipOpts
		want     string
	}{
		{"default fades", 1.5, DefaultClipOpts(), "afade=t=in:st=0:d=0.005,afade=t=out:st=1.495:d=0.005"},
		{"fade longer than clip", 0.01, ClipOpts{FadeOutMs: 50}, "afade=t=out:st=0.000:d=0.050"},
		{"normalize", 1, ClipOpts{Normalize: true}, "dynaudnorm"},
		{"lufs wins over normalize", 1, ClipOpts{Normalize: true, LUFSTarget: -14}, "loudnorm=I=-14"},
		{"none", 1, ClipOpts{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(clipFilters(tt.duration, tt.opts), ",")
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncodeArgs(t *testing.T) {
	opts := ClipOpts{FadeInMs: 5, Format: FormatFLAC, SampleRate: 48000, BitDepth: "24", Channels: "mono"}
	got := strings.Join(encodeArgs("in.wav", "out.flac", 1.25, 2.5, opts), " ")
	want := "-y -hide_banner -nostdin -ss 1.250000 -i in.wav -t 1.250000 -vn -af afade=t=in:st=0:d=0.005 -ac 1 -ar 48000 -sample_fmt s32 -f flac out.flac"
	if got != want {
		t.Errorf("encodeArgs:\n got %q\nwant %q", got, want)
	}

	got = strings.Join(encodeArgs("in.wav", "out.wav", 0, 1, ClipOpts{}), " ")
	if !strings.HasSuffix(got, "-vn -f wav out.wav") {
		t.Errorf("expected bare wav encode, got %q", got)
	}
}

func TestExtension(t *testing.T) {
	if got := (ClipOpts{Format: "Flac"}).Extension(); got != ".flac" {
		t.Errorf("expected .flac, got %q", got)
	}
	if got := (ClipOpts{}).Extension(); got != ".wav" {
		t.Errorf("expected .wav, got %q", got)
	}
}

func TestExtractClip_InvalidInput(t *testing.T) {
	p := NewFFmpegClipper("")
	ctx := context.Background()
	dst := filepath.Join(t.TempDir(), "out.wav")

	t.Run("inverted range", func(t *testing.T) {
		err := p.ExtractClip(ctx, "in.wav", dst, 2, 1, DefaultClipOpts())
		if !errors.Is(err, ErrInvalidRange) {
			t.Errorf("expected ErrInvalidRange, got %v", err)
		}
	})

	t.Run("bad options", func(t *testing.T) {
		err := p.ExtractClip(ctx, "in.wav", dst, 0, 1, ClipOpts{Format: "ogg"})
		if !errors.Is(err, ErrInvalidClipOptions) {
			t.Errorf("expected ErrInvalidClipOptions, got %v", err)
		}
	})

	t.Run("missing source", func(t *testing.T) {
		err := p.ExtractClip(ctx, "/nonexistent/in.wav", dst, 0, 1, DefaultClipOpts())
		if !errors.Is(err, ErrExportFailure) {
			t.Errorf("expected ErrExportFailure, got %v", err)
		}
	})
}

func TestFFmpegError(t *testing.T) {
	e := &FFmpegError{Args: []string{"-i", "x.wav"}, Stderr: "boom\n", Err: errors.New("exit status 1")}
	if !errors.Is(e, ErrExportFailure) {
		t.Error("FFmpegError must unwrap to ErrExportFailure")
	}
	if !strings.Contains(e.Error(), "stderr: boom") {
		t.Errorf("unexpected message %q", e.Error())
	}
}

func TestExtractClip(t *testing.T) {
	skipIfNoFFmpeg(t)

	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "source.wav")
	createTestAudio(t, src, 3)
	p := NewFFmpegClipper("")

	t.Run("wav with fades", func(t *testing.T) {
		dst := filepath.Join(tmpDir, "samples", "clip.wav")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := p.ExtractClip(ctx, src, dst, 0.5, 1.75, DefaultClipOpts()); err != nil {
			t.Fatalf("ExtractClip failed: %v", err)
		}
		if d := probeDuration(t, dst); d < 1.2 || d > 1.3 {
			t.Errorf("expected ~1.25s clip, got %.3f", d)
		}
	})

	t.Run("flac stream copy", func(t *testing.T) {
		dst := filepath.Join(tmpDir, "samples", "clip.flac")
		if err := p.ExtractClip(context.Background(), src, dst, 1, 2, ClipOpts{Format: FormatFLAC}); err != nil {
			t.Fatalf("ExtractClip failed: %v", err)
		}
		if info, err := os.Stat(dst); err != nil || info.Size() == 0 {
			t.Errorf("expected non-empty output, got %v", err)
		}
	})

	t.Run("mono 16 bit resampled", func(t *testing.T) {
		dst := filepath.Join(tmpDir, "samples", "mono.wav")
		opts := ClipOpts{Channels: "mono", SampleRate: 22050, BitDepth: "16"}
		if err := p.ExtractClip(context.Background(), src, dst, 0, 1, opts); err != nil {
			t.Fatalf("ExtractClip failed: %v", err)
		}
	})
}

func TestExtractClip_ContextCancellation(t *testing.T) {
	skipIfNoFFmpeg(t)

	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "source.wav")
	createTestAudio(t, src, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewFFmpegClipper("").ExtractClip(ctx, src, filepath.Join(tmpDir, "out.wav"), 0, 1, DefaultClipOpts())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestExtractClip_MissingBinary(t *testing.T) {
	src := filepath.Join(t.TempDir(), "in.wav")
	if err := os.WriteFile(src, []byte("RIFF"), 0600); err != nil {
		t.Fatal(err)
	}

	p := NewFFmpegClipper(filepath.Join(t.TempDir(), "no-ffmpeg"))
	err := p.ExtractClip(context.Background(), src, filepath.Join(t.TempDir(), "out.wav"), 0, 1, ClipOpts{})

	var fe *FFmpegError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FFmpegError, got %v", err)
	}
	if !errors.Is(err, ErrExportFailure) {
		t.Error("expected ErrExportFailure")
	}
}
