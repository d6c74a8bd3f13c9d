package job

import (
	"context"
	"fmt"
	"log/slog"
)

// Counts summarises the jobs of a run by terminal status.
type Counts struct {
	Total     int
	Pending   int
	Running   int
	Completed int
	Failed    int
	Skipped   int
	Cancelled int
}

// Tracker records the lifecycle of every file in a run. Each transition is
// persisted to the repository and logged.
type Tracker struct {
	repo   Repository
	runID  string
	logger *slog.Logger
}

// NewTracker creates a Tracker for runID.
func NewTracker(repo Repository, runID string, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		repo:   repo,
		runID:  runID,
		logger: logger.With(slog.String("run_id", runID)),
	}
}

// RunID returns the run the tracker records.
func (t *Tracker) RunID() string {
	return t.runID
}

// Add registers a pending job for path.
func (t *Tracker) Add(ctx context.Context, path string) (*Job, error) {
	j := New(t.runID, path)
	if err := t.repo.Save(ctx, j); err != nil {
		t.logger.Error("failed to save job",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return j, nil
}

// Start marks j running.
func (t *Tracker) Start(ctx context.Context, j *Job) error {
	return t.update(ctx, j, j.Start)
}

// Stage records that j entered stage.
func (t *Tracker) Stage(ctx context.Context, j *Job, stage string) error {
	j.EnterStage(stage)
	t.logger.Debug("stage started",
		slog.String("path", j.Path),
		slog.String("stage", stage),
	)
	return t.repo.Save(ctx, j)
}

// Complete marks j completed with its committed output.
func (t *Tracker) Complete(ctx context.Context, j *Job, segments int, outputDir string, urls []string) error {
	j.SetOutput(outputDir, urls)
	if err := t.update(ctx, j, func() error { return j.Complete(segments) }); err != nil {
		return err
	}
	t.logger.Info("file completed",
		slog.String("path", j.Path),
		slog.Int("segments", segments),
		slog.Duration("elapsed", j.Elapsed()),
	)
	return nil
}

// Fail marks j failed at stage.
func (t *Tracker) Fail(ctx context.Context, j *Job, stage string, cause error) error {
	if err := t.update(ctx, j, func() error { return j.Fail(stage, cause.Error()) }); err != nil {
		return err
	}
	t.logger.Error("file failed",
		slog.String("path", j.Path),
		slog.String("stage", stage),
		slog.String("error", cause.Error()),
	)
	return nil
}

// Skip marks j skipped because a complete output already exists.
func (t *Tracker) Skip(ctx context.Context, j *Job, segments int) error {
	if err := t.update(ctx, j, func() error { return j.Skip(segments) }); err != nil {
		return err
	}
	t.logger.Info("file skipped, output already complete", slog.String("path", j.Path))
	return nil
}

// Cancel marks j cancelled.
func (t *Tracker) Cancel(ctx context.Context, j *Job) error {
	return t.update(ctx, j, j.Cancel)
}

func (t *Tracker) update(ctx context.Context, j *Job, transition func() error) error {
	from := j.GetStatus()
	if err := transition(); err != nil {
		return fmt.Errorf("job %s: %w", j.ID, err)
	}
	t.logger.Debug("job transition",
		slog.String("path", j.Path),
		slog.String("from", string(from)),
		slog.String("to", string(j.GetStatus())),
	)
	return t.repo.Save(ctx, j)
}

// Jobs returns the run's jobs ordered by path.
func (t *Tracker) Jobs(ctx context.Context) ([]*Job, error) {
	return t.repo.ListRun(ctx, t.runID)
}

// Counts tallies the run's jobs by status.
func (t *Tracker) Counts(ctx context.Context) (Counts, error) {
	jobs, err := t.Jobs(ctx)
	if err != nil {
		return Counts{}, err
	}
	var c Counts
	for _, j := range jobs {
		c.Total++
		switch j.Status {
		case StatusPending:
			c.Pending++
		case StatusRunning:
			c.Running++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		case StatusSkipped:
			c.Skipped++
		case StatusCancelled:
			c.Cancelled++
		}
	}
	return c, nil
}
