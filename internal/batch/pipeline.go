package batch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/maauso/samplepacker/internal/audio"
	"github.com/maauso/samplepacker/internal/cache"
	"github.com/maauso/samplepacker/internal/detect"
	"github.com/maauso/samplepacker/internal/export"
	"github.com/maauso/samplepacker/internal/job"
	"github.com/maauso/samplepacker/internal/overlap"
	"github.com/maauso/samplepacker/internal/progress"
	"github.com/maauso/samplepacker/internal/segment"
	"github.com/maauso/samplepacker/internal/settings"
)

// pipeline runs the stages of one file in their fixed order and returns the
// committed output, or the stage that failed.
func (r *Runner) pipeline(ctx context.Context, rs *run, w work, s settings.ProcessingSettings) (*export.Result, string, error) {
	j := w.job
	path := j.Path
	bg := context.WithoutCancel(ctx)
	enter := func(stage string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = rs.tracker.Stage(bg, j, stage)
		rs.emit(progress.Event{Kind: progress.StageStarted, Path: path, Stage: stage})
		return nil
	}

	if err := enter(job.StageCache); err != nil {
		return nil, job.StageCache, err
	}
	opts := audio.DecodeOptsFrom(s)
	var pcm audio.PCM
	_, err := r.cache.GetOrLoad(ctx, path, s,
		func(ctx context.Context, dst string) error {
			return r.transcoder.Analyze(ctx, path, dst, opts)
		},
		func(derivative string) (err error) {
			pcm, err = audio.ReadWAV(derivative)
			return err
		},
	)
	if err != nil {
		if errors.Is(err, audio.ErrDecodeFailure) || errors.Is(err, cache.ErrCacheCorruption) {
			return nil, job.StageDecode, err
		}
		return nil, job.StageCache, err
	}

	if err := enter(job.StageDecode); err != nil {
		return nil, job.StageDecode, err
	}
	duration := pcm.Duration()
	info, err := r.transcoder.Probe(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, job.StageDecode, ctx.Err()
		}
		r.logger.Warn("probe failed, using analysis stream parameters",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		info = audio.Info{Duration: duration, SampleRate: pcm.SampleRate, Channels: 1, Format: "wav"}
	}

	if err := enter(job.StageDetect); err != nil {
		return nil, job.StageDetect, err
	}
	d := r.detector
	if d == nil {
		if d, err = detect.ForMode(s.Mode, r.detectOpts...); err != nil {
			return nil, job.StageDetect, err
		}
	}
	candidates, err := detect.Run(ctx, d, pcm.Samples, pcm.SampleRate, s)
	if err != nil {
		return nil, job.StageDetect, err
	}

	if err := enter(job.StageMerge); err != nil {
		return nil, job.StageMerge, err
	}
	merged, err := r.merger.Run(candidates, s, duration)
	if err != nil {
		return nil, job.StageMerge, err
	}

	if err := enter(job.StageOverlap); err != nil {
		return nil, job.StageOverlap, err
	}
	rec := r.reconcile(w.prior, merged.Segments, s, duration)
	if !rec.report.Empty() {
		r.logger.Info("overlaps with previous output",
			slog.String("path", path),
			slog.String("policy", string(rec.policy)),
			slog.Int("overlaps", len(rec.report.Overlaps)),
			slog.Int("duplicates", len(rec.report.Duplicates)),
		)
	}

	if err := enter(job.StageExport); err != nil {
		return nil, job.StageExport, err
	}
	out, err := r.exporter.Export(ctx, export.Request{
		Name:       w.name,
		Source:     path,
		Info:       info,
		Settings:   s,
		Segments:   rec.segments,
		Stats:      merged.Stats,
		Preference: rec.preference,
		Policy:     rec.policy,
		Overlaps:   rec.report,
	})
	if err != nil {
		return nil, job.StageExport, err
	}
	return out, job.StageExport, nil
}

type reconciled struct {
	segments   []segment.Segment
	preference overlap.Preference
	policy     overlap.Policy
	report     overlap.Report
}

// reconcile applies overlap resolution against a previous output of the
// same file. The runner's explicit policy wins, then a remembered choice
// from the previous output, then the settings policy.
func (r *Runner) reconcile(prior *export.Document, segs []segment.Segment, s settings.ProcessingSettings, duration float64) reconciled {
	var remembered overlap.Preference
	if prior != nil {
		remembered = prior.Preference
	}
	explicit := r.policy
	if explicit == "" && !(remembered.Remember && remembered.Policy != "") {
		explicit = overlap.Policy(s.OverlapPolicy)
	}
	policy := overlap.ResolvePolicy(remembered, explicit)

	pref := overlap.Preference{Policy: policy, Remember: s.RememberOverlapChoice}
	if !pref.Remember && remembered.Remember {
		pref = remembered
	}

	if prior == nil {
		return reconciled{segments: segs, preference: pref, policy: policy}
	}

	existing := make([]segment.Segment, 0, len(prior.Segments))
	for _, seg := range prior.Segments {
		if seg.Valid(duration) {
			existing = append(existing, seg)
		}
	}
	return reconciled{
		segments:   overlap.Reconcile(existing, segs, policy),
		preference: pref,
		policy:     policy,
		report:     overlap.FindOverlaps(existing, segs, segment.DuplicateTolerance),
	}
}
