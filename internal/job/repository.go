package job

import (
	"context"
	"errors"
)

// ErrJobNotFound is returned when no job is recorded for a path in a run.
var ErrJobNotFound = errors.New("job not found")

// Repository stores the jobs of batch runs. Jobs are addressed by run and
// input path; saving a job for a path already recorded in the run replaces it.
type Repository interface {
	Save(ctx context.Context, job *Job) error

	// Get returns the job of path in runID, or ErrJobNotFound.
	Get(ctx context.Context, runID, path string) (*Job, error)

	// ListRun returns the jobs of runID ordered by input path.
	ListRun(ctx context.Context, runID string) ([]*Job, error)
}
