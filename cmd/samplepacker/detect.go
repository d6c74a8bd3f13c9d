package main

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/maauso/samplepacker/internal/audio"
	"github.com/maauso/samplepacker/internal/bootstrap"
	"github.com/maauso/samplepacker/internal/cli"
	"github.com/maauso/samplepacker/internal/detect"
	"github.com/maauso/samplepacker/internal/merge"
	"github.com/maauso/samplepacker/internal/settings"
)

// DetectCmd runs detection on one file in a background task.
type DetectCmd struct {
	File string `arg:"" type:"existingfile" help:"Audio file."`

	Settings SettingsFlags `embed:""`

	JSON bool `help:"Print segments as JSON."`
}

// Run decodes the file through the cache, detects and merges, and prints
// the final segments. Ctrl-C cancels detection and prints nothing.
func (c *DetectCmd) Run(app *App) error {
	s := c.Settings.Settings()
	if err := s.Validate(); err != nil {
		return err
	}
	deps, err := app.Deps()
	if err != nil {
		return err
	}

	pcm, err := analysisPCM(app.ctx, deps, c.File, s)
	if err != nil {
		return err
	}

	d, err := detect.ForMode(s.Mode, detect.WithLogger(app.logger))
	if err != nil {
		return err
	}
	task := detect.StartTask(app.ctx, d, pcm.Samples, pcm.SampleRate, s)
	outcome := task.Wait()
	switch {
	case outcome.Cancelled:
		return errCancelled
	case outcome.Err != nil:
		return outcome.Err
	}

	res, err := merge.NewEngine(app.logger).Run(outcome.Segments, s, pcm.Duration())
	if err != nil {
		return err
	}
	app.logger.Debug("detection finished",
		slog.String("file", c.File),
		slog.String("detector", d.Name()),
		slog.Int("candidates", len(outcome.Segments)),
		slog.Int("segments", len(res.Segments)),
	)

	if c.JSON {
		enc := json.NewEncoder(app.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Segments)
	}
	cli.PrintSegments(app.stdout, res.Segments)
	cli.PrintMergeStats(app.stdout, res.Stats)
	return nil
}

// analysisPCM returns the cached analysis stream of path, decoding it on a
// miss.
func analysisPCM(ctx context.Context, deps *bootstrap.Dependencies, path string, s settings.ProcessingSettings) (audio.PCM, error) {
	opts := audio.DecodeOptsFrom(s)
	var pcm audio.PCM
	_, err := deps.Cache.GetOrLoad(ctx, path, s,
		func(ctx context.Context, dst string) error {
			return deps.Transcoder.Analyze(ctx, path, dst, opts)
		},
		func(derivative string) (err error) {
			pcm, err = audio.ReadWAV(derivative)
			return err
		},
	)
	if err != nil {
		if ctx.Err() != nil {
			return audio.PCM{}, errCancelled
		}
		return audio.PCM{}, err
	}
	return pcm, nil
}
