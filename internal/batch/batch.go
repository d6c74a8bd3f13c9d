// Package batch runs the per-file pipeline over a file or a directory tree:
// cache, decode, detect, merge, overlap and export, with a bounded number of
// files in flight.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/samplepacker/internal/audio"
	"github.com/maauso/samplepacker/internal/cache"
	"github.com/maauso/samplepacker/internal/detect"
	"github.com/maauso/samplepacker/internal/export"
	"github.com/maauso/samplepacker/internal/job"
	"github.com/maauso/samplepacker/internal/job/id"
	"github.com/maauso/samplepacker/internal/merge"
	"github.com/maauso/samplepacker/internal/overlap"
	"github.com/maauso/samplepacker/internal/progress"
	"github.com/maauso/samplepacker/internal/segment"
	"github.com/maauso/samplepacker/internal/settings"
)

// ErrFileFailure marks a file whose pipeline failed. Other files of the run
// are unaffected.
var ErrFileFailure = errors.New("file processing failed")

// FileError records the file and stage of a pipeline failure.
type FileError struct {
	Path  string
	Stage string
	Err   error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Path, e.Stage, e.Err)
}

// Unwrap exposes ErrFileFailure and the stage error.
func (e *FileError) Unwrap() []error {
	return []error{ErrFileFailure, e.Err}
}

// Merger finalizes the candidate segments of one file.
type Merger interface {
	Run(candidates []segment.Segment, s settings.ProcessingSettings, duration float64) (merge.Result, error)
}

var _ Merger = (*merge.Engine)(nil)

// DefaultExtensions are the audio file types picked up from directories.
var DefaultExtensions = []string{".wav", ".flac", ".mp3", ".ogg", ".m4a", ".aiff"}

// Runner processes batches. It is safe to call Run concurrently; each run
// gets its own job tracker.
type Runner struct {
	cache      *cache.AudioCache
	transcoder audio.Transcoder
	exporter   *export.Exporter
	merger     Merger
	repo       job.Repository
	detector   detect.Detector
	detectOpts []detect.Option
	policy     overlap.Policy
	jobs       int
	force      bool
	recursive  bool
	extensions map[string]bool
	reporter   progress.Reporter
	logger     *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithJobs sets how many files are processed concurrently.
func WithJobs(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.jobs = n
		}
	}
}

// WithForce reprocesses files that already have a complete output.
func WithForce(force bool) Option {
	return func(r *Runner) {
		r.force = force
	}
}

// WithRecursive descends into subdirectories.
func WithRecursive(recursive bool) Option {
	return func(r *Runner) {
		r.recursive = recursive
	}
}

// WithReporter sets the progress reporter.
func WithReporter(rep progress.Reporter) Option {
	return func(r *Runner) {
		if rep != nil {
			r.reporter = rep
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithExtensions replaces DefaultExtensions. Extensions are matched without
// regard to case.
func WithExtensions(exts ...string) Option {
	return func(r *Runner) {
		if len(exts) == 0 {
			return
		}
		r.extensions = extensionSet(exts)
	}
}

// WithRepository stores jobs in repo instead of a private in-memory one.
func WithRepository(repo job.Repository) Option {
	return func(r *Runner) {
		if repo != nil {
			r.repo = repo
		}
	}
}

// WithDetector uses d for every file instead of the detector selected by
// the settings mode.
func WithDetector(d detect.Detector) Option {
	return func(r *Runner) {
		r.detector = d
	}
}

// WithDetectorOptions configures detectors selected by mode.
func WithDetectorOptions(opts ...detect.Option) Option {
	return func(r *Runner) {
		r.detectOpts = append(r.detectOpts, opts...)
	}
}

// WithOverlapPolicy overrides both the settings policy and any remembered
// choice when reconciling with a previous output.
func WithOverlapPolicy(p overlap.Policy) Option {
	return func(r *Runner) {
		r.policy = p
	}
}

// WithMerger replaces the default merge engine.
func WithMerger(m Merger) Option {
	return func(r *Runner) {
		if m != nil {
			r.merger = m
		}
	}
}

func extensionSet(exts []string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = true
	}
	return set
}

// NewRunner creates a Runner.
func NewRunner(c *cache.AudioCache, t audio.Transcoder, e *export.Exporter, opts ...Option) *Runner {
	r := &Runner{
		cache:      c,
		transcoder: t,
		exporter:   e,
		repo:       job.NewMemoryRepository(),
		jobs:       1,
		extensions: extensionSet(DefaultExtensions),
		reporter:   progress.Nop,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.merger == nil {
		r.merger = merge.NewEngine(r.logger)
	}
	if len(r.detectOpts) == 0 {
		r.detectOpts = []detect.Option{detect.WithLogger(r.logger)}
	}
	return r
}

// run is the state of one Run call.
type run struct {
	id       string
	tracker  *job.Tracker
	total    int
	mu       sync.Mutex
	done     int
	reporter progress.Reporter
}

// emit delivers events one at a time.
func (rs *run) emit(e progress.Event) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.emitLocked(e)
}

func (rs *run) emitLocked(e progress.Event) {
	e.RunID = rs.id
	e.Total = rs.total
	e.Done = rs.done
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	rs.reporter.Report(e)
}

// finished counts j as done and reports it.
func (rs *run) finished(j *job.Job, err error) {
	snap := j.Clone()
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.done++
	rs.emitLocked(progress.Event{
		Kind:     progress.FileFinished,
		Path:     snap.Path,
		Stage:    snap.Stage,
		Status:   string(snap.Status),
		Segments: snap.Segments,
		Err:      err,
	})
}

type work struct {
	job   *job.Job
	name  string
	prior *export.Document
}

// Run processes inputPath with s. Settings are validated before anything
// else happens. Files with a complete previous output are skipped unless
// the runner forces reprocessing.
//
// A failing file is recorded in the summary and does not stop the run.
// Cancelling ctx stops the run without error: the summary is marked
// Cancelled and lists only the files that finished. A violated segment
// invariant aborts the run and is returned together with the summary.
func (r *Runner) Run(ctx context.Context, inputPath string, s settings.ProcessingSettings) (*Summary, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	files, root, err := r.discover(inputPath)
	if err != nil {
		return nil, err
	}
	names := outputNames(files, root)

	started := time.Now()
	runID := id.Run()
	rs := &run{
		id:       runID,
		tracker:  job.NewTracker(r.repo, runID, r.logger),
		total:    len(files),
		reporter: r.reporter,
	}
	bg := context.WithoutCancel(ctx)

	r.logger.Info("batch started",
		slog.String("run_id", runID),
		slog.String("input", inputPath),
		slog.Int("files", len(files)),
		slog.Int("jobs", r.jobs),
		slog.Bool("force", r.force),
	)
	rs.emit(progress.Event{Kind: progress.RunStarted})

	var pending []work
	for _, path := range files {
		j, err := rs.tracker.Add(bg, path)
		if err != nil {
			return nil, err
		}
		w := work{job: j, name: names[path]}

		doc, err := r.exporter.Load(w.name)
		switch {
		case err == nil && !r.force:
			j.SetOutput(r.exporter.OutputDir(w.name), nil)
			if err := rs.tracker.Skip(bg, j, len(doc.Segments)); err != nil {
				return nil, err
			}
			rs.finished(j, nil)
			continue
		case err == nil:
			w.prior = doc
		case !export.IsMissing(err):
			r.logger.Warn("previous output unreadable, reprocessing",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
		pending = append(pending, w)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.jobs)
	for _, w := range pending {
		w := w
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return r.process(gctx, rs, w, s)
		})
	}
	runErr := g.Wait()

	for _, w := range pending {
		if w.job.GetStatus() == job.StatusPending {
			_ = rs.tracker.Cancel(bg, w.job)
		}
	}

	summary, err := r.summarize(bg, rs, inputPath, started)
	if err != nil {
		return nil, err
	}
	summary.Cancelled = ctx.Err() != nil

	rs.emit(progress.Event{Kind: progress.RunFinished})
	r.logger.Info("batch finished",
		slog.String("run_id", runID),
		slog.Int("completed", summary.Counts.Completed),
		slog.Int("skipped", summary.Counts.Skipped),
		slog.Int("failed", summary.Counts.Failed),
		slog.Int("cancelled", summary.Counts.Cancelled),
		slog.Duration("elapsed", summary.Duration),
	)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return summary, runErr
	}
	return summary, nil
}

// process runs one file and records its outcome. Only an invariant
// violation is returned, which cancels the rest of the run.
func (r *Runner) process(ctx context.Context, rs *run, w work, s settings.ProcessingSettings) error {
	j := w.job
	bg := context.WithoutCancel(ctx)
	if ctx.Err() != nil {
		_ = rs.tracker.Cancel(bg, j)
		return nil
	}
	if err := rs.tracker.Start(bg, j); err != nil {
		return err
	}
	rs.emit(progress.Event{Kind: progress.FileStarted, Path: j.Path})

	out, stage, err := r.pipeline(ctx, rs, w, s)
	switch {
	case err == nil:
		if err := rs.tracker.Complete(bg, j, len(out.Document.Segments), out.Dir, out.URLs); err != nil {
			return err
		}
		rs.finished(j, nil)
	case ctx.Err() != nil:
		_ = rs.tracker.Cancel(bg, j)
		r.logger.Info("file cancelled",
			slog.String("path", j.Path),
			slog.String("stage", stage),
		)
	default:
		fe := &FileError{Path: j.Path, Stage: stage, Err: err}
		_ = rs.tracker.Fail(bg, j, stage, err)
		if errors.Is(err, merge.ErrInvariantViolation) {
			r.logger.Error("segment invariant violated, aborting run",
				slog.String("path", j.Path),
				slog.String("error", err.Error()),
			)
			rs.finished(j, fe)
			return fe
		}
		rs.finished(j, fe)
	}
	return nil
}

func (r *Runner) summarize(ctx context.Context, rs *run, input string, started time.Time) (*Summary, error) {
	jobs, err := rs.tracker.Jobs(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := rs.tracker.Counts(ctx)
	if err != nil {
		return nil, err
	}
	s := &Summary{
		RunID:     rs.id,
		Input:     input,
		Files:     make([]FileReport, 0, len(jobs)),
		Counts:    counts,
		StartedAt: started,
		Duration:  time.Since(started),
	}
	for _, j := range jobs {
		switch j.Status {
		case job.StatusCompleted, job.StatusSkipped, job.StatusFailed:
			s.Files = append(s.Files, reportFor(j))
		}
	}
	return s, nil
}
