package main

import (
	"fmt"

	"github.com/maauso/samplepacker/internal/batch"
	"github.com/maauso/samplepacker/internal/bootstrap"
	"github.com/maauso/samplepacker/internal/cli"
	"github.com/maauso/samplepacker/internal/media"
	"github.com/maauso/samplepacker/internal/overlap"
	"github.com/maauso/samplepacker/internal/progress"
)

// ProcessCmd runs the batch pipeline.
type ProcessCmd struct {
	Path string `arg:"" type:"path" help:"Audio file or directory."`

	Settings SettingsFlags `embed:""`

	Jobs      int    `short:"j" help:"Files processed in parallel. Defaults to JOBS, then one per CPU."`
	Force     bool   `short:"f" help:"Reprocess files that already have a complete output."`
	Recursive bool   `short:"r" help:"Descend into subdirectories."`
	Policy    string `help:"Overlap policy for this run, overriding any remembered choice."`

	ExportSamples bool    `help:"Cut one audio clip per segment."`
	Template      string  `help:"Sample file name template." default:"${template}"`
	Format        string  `help:"Sample format." enum:"wav,flac" default:"wav"`
	FadeMs        float64 `help:"Fade in and out of each sample." default:"5"`
	Normalize     bool    `help:"Peak-normalize samples."`

	Summary string `type:"path" help:"Also write the run summary as JSON to this file."`
	Quiet   bool   `short:"q" help:"Log per-file results instead of drawing a progress bar."`
}

// Run processes the input and prints the run summary.
func (c *ProcessCmd) Run(app *App) error {
	s := c.Settings.Settings()
	switch {
	case c.Jobs > 0:
		s.Jobs = c.Jobs
	case app.cfg.Jobs > 0:
		s.Jobs = app.cfg.Jobs
	}
	if err := s.Validate(); err != nil {
		return err
	}

	opts := []batch.Option{
		batch.WithJobs(s.Jobs),
		batch.WithForce(c.Force),
		batch.WithRecursive(c.Recursive),
	}
	if c.Policy != "" {
		p, err := overlap.ParsePolicy(c.Policy)
		if err != nil {
			return err
		}
		opts = append(opts, batch.WithOverlapPolicy(p))
	}

	deps, err := app.Deps()
	if err != nil {
		return err
	}
	s.CacheDir = deps.Cache.Dir()

	exporter, err := deps.NewExporter(bootstrap.ExportOptions{
		Template: c.Template,
		Samples:  c.ExportSamples,
		Clip: media.ClipOpts{
			FadeInMs:  c.FadeMs,
			FadeOutMs: c.FadeMs,
			Format:    c.Format,
			Normalize: c.Normalize,
		},
	})
	if err != nil {
		return err
	}

	var bar *progress.Bar
	if c.Quiet {
		opts = append(opts, batch.WithReporter(progress.NewLog(app.logger)))
	} else {
		bar = progress.NewBar(app.stderr)
		opts = append(opts, batch.WithReporter(bar))
	}

	app.startPruner()
	summary, runErr := deps.NewRunner(exporter, opts...).Run(app.ctx, c.Path, s)
	if bar != nil {
		bar.Wait()
	}
	if summary == nil {
		return runErr
	}

	cli.PrintSummary(app.stdout, summary)
	if c.Summary != "" {
		if err := summary.WriteJSON(c.Summary); err != nil {
			return err
		}
	}

	switch {
	case runErr != nil:
		return runErr
	case summary.Cancelled:
		return errCancelled
	case len(summary.Failures()) > 0:
		return fmt.Errorf("%w: %d of %d", errFilesFailed, len(summary.Failures()), summary.Counts.Total)
	}
	return nil
}
