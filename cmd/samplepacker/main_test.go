package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/samplepacker/internal/export"
	"github.com/maauso/samplepacker/internal/segment"
	"github.com/maauso/samplepacker/internal/settings"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	t.Setenv("OUTPUT_DIR", filepath.Join(root, "out"))
	t.Setenv("CACHE_DIR", filepath.Join(root, "cache"))
	t.Setenv("LOG_LEVEL", "error")
	return root
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeOutput(t *testing.T, dir string) string {
	t.Helper()
	doc := &export.Document{
		Version: export.DocumentVersion,
		Source:  "/in/take.wav",
		Segments: []segment.Segment{
			segment.New(0.0, 1.0, segment.DetectorVoice, 1),
			segment.New(0.5, 1.5, segment.DetectorTransient, 0.8),
			segment.New(3.0, 4.0, segment.DetectorTransient, 0.7),
		},
	}
	doc.Summarize()
	path := export.MarkerPath(dir)
	require.NoError(t, export.WriteDocument(path, doc))
	return path
}

func TestSettingsFlags_DefaultsMatchSettings(t *testing.T) {
	var flags struct {
		Settings SettingsFlags `embed:""`
	}
	parser, err := kong.New(&flags, settingsVars())
	require.NoError(t, err)
	_, err = parser.Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, settings.Default(), flags.Settings.Settings())
}

func TestSettingsFlags_Override(t *testing.T) {
	var flags struct {
		Settings SettingsFlags `embed:""`
	}
	parser, err := kong.New(&flags, settingsVars())
	require.NoError(t, err)
	_, err = parser.Parse([]string{"--mode=transient", "--max-samples=12", "--pre-pad-ms=20", "--denoise=off", "--remember-overlap-choice"})
	require.NoError(t, err)

	s := flags.Settings.Settings()
	assert.Equal(t, settings.ModeTransient, s.Mode)
	assert.Equal(t, 12, s.MaxSamples)
	assert.Equal(t, 20.0, s.PrePadMs)
	assert.Equal(t, "off", s.DenoiseMethod)
	assert.True(t, s.RememberOverlapChoice)
	assert.NoError(t, s.Validate())
}

func TestRun_OverlapsDryRun(t *testing.T) {
	root := setupEnv(t)
	path := writeOutput(t, filepath.Join(root, "out", "take"))

	code, stdout, _ := runCLI(t, "overlaps", path, "--op", "remove-overlaps", "--dry-run")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "3 -> 2 segments (dry run)")

	doc, err := export.ReadDocument(path)
	require.NoError(t, err)
	assert.Len(t, doc.Segments, 3, "dry run writes nothing")
}

func TestRun_OverlapsMerge(t *testing.T) {
	root := setupEnv(t)
	dir := filepath.Join(root, "out", "take")
	path := writeOutput(t, dir)

	code, stdout, _ := runCLI(t, "overlaps", path, "--op=merge-overlaps")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "3 -> 2 segments")

	doc, err := export.ReadDocument(path)
	require.NoError(t, err)
	require.Len(t, doc.Segments, 2)
	assert.Equal(t, 0.0, doc.Segments[0].Start)
	assert.Equal(t, 1.5, doc.Segments[0].End)
	assert.Equal(t, 2, doc.Summary.Total)
	assert.FileExists(t, filepath.Join(dir, export.MarkersDir, export.AudacityFile))
}

func TestRun_OverlapsRequiresOp(t *testing.T) {
	root := setupEnv(t)
	path := writeOutput(t, filepath.Join(root, "out", "take"))

	code, _, _ := runCLI(t, "overlaps", path, "--op=shuffle")
	assert.Equal(t, exitError, code)
}

func TestRun_ProcessRejectsInvalidSettings(t *testing.T) {
	root := setupEnv(t)

	code, _, stderr := runCLI(t, "process", root, "--max-samples=0", "-q")
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "invalid settings")
}

func TestRun_ProcessMissingInput(t *testing.T) {
	root := setupEnv(t)

	code, _, _ := runCLI(t, "process", filepath.Join(root, "missing"), "-q")
	assert.Equal(t, exitError, code)
}

func TestRun_ProcessEmptyDirectory(t *testing.T) {
	root := setupEnv(t)
	input := t.TempDir()
	summary := filepath.Join(root, "run.json")

	code, stdout, _ := runCLI(t, "process", input, "-q", "--summary", summary)
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "Completed:")
	assert.FileExists(t, summary)
}

func TestRun_CacheCommands(t *testing.T) {
	setupEnv(t)

	code, stdout, _ := runCLI(t, "cache", "prune")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "0 entries")

	code, stdout, _ = runCLI(t, "cache", "stats")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "Entries:")
}

func TestRun_InvalidConfig(t *testing.T) {
	setupEnv(t)
	t.Setenv("TILE_WORKERS", "99")

	code, _, stderr := runCLI(t, "cache", "stats")
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "TILE_WORKERS")
}

func TestApplyOp(t *testing.T) {
	segs := []segment.Segment{
		segment.New(0, 1, segment.DetectorVoice, 1),
		segment.New(0.001, 1.001, segment.DetectorTransient, 0.5),
	}

	got, err := applyOp(opRemoveDuplicates, segs)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = applyOp("shuffle", segs)
	assert.Error(t, err)
}
