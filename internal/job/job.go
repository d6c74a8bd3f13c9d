// Package job provides the per-file Job aggregate tracked during a batch run.
// Each input file is one Job moving through a small state machine, and a
// Repository holds the jobs of every run.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/samplepacker/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusPending indicates the file is waiting for a worker.
	StatusPending Status = "PENDING"
	// StatusRunning indicates the file's pipeline is executing.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the output was committed.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates a pipeline stage failed for this file.
	StatusFailed Status = "FAILED"
	// StatusSkipped indicates a complete prior output was found.
	StatusSkipped Status = "SKIPPED"
	// StatusCancelled indicates the run was cancelled before the file finished.
	StatusCancelled Status = "CANCELLED"
)

// Pipeline stages, in execution order.
const (
	StageCache   = "cache"
	StageDecode  = "decode"
	StageDetect  = "detect"
	StageMerge   = "merge"
	StageOverlap = "overlap"
	StageExport  = "export"
)

// Stages lists the pipeline stages in execution order.
var Stages = []string{StageCache, StageDecode, StageDetect, StageMerge, StageOverlap, StageExport}

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusPending:   {StatusRunning, StatusSkipped, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusSkipped:   {},
	StatusCancelled: {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Job tracks one input file through the pipeline.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// RunID identifies the batch run the job belongs to.
	RunID string
	// Path is the input file.
	Path string
	// Status is the current job state.
	Status Status
	// Stage is the pipeline stage currently executing, or the one that failed.
	Stage string
	// Progress is the percentage of completed stages (0-100).
	Progress int
	// Error contains any error message if the job failed.
	Error string
	// Segments is the number of finalized segments.
	Segments int
	// OutputDir is where the file's artifacts were committed.
	OutputDir string
	// MirrorURLs lists artifacts mirrored to S3.
	MirrorURLs []string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// New creates a new pending Job for path with a generated ID.
func New(runID, path string) *Job {
	return NewWithID(id.File(runID, path), runID, path)
}

// NewWithID creates a new pending Job with the specified ID.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID, runID, path string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		RunID:     runID,
		Path:      path,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusSkipped, StatusCancelled:
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// Start transitions the job from PENDING to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete records the segment count and transitions to COMPLETED.
func (j *Job) Complete(segments int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	j.Segments = segments
	j.Progress = 100
	return nil
}

// Fail records the failing stage and message and transitions to FAILED.
func (j *Job) Fail(stage, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Stage = stage
	j.Error = errMsg
	return nil
}

// Skip transitions a pending job to SKIPPED with the segment count of the
// prior output.
func (j *Job) Skip(segments int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusSkipped); err != nil {
		return err
	}
	j.Segments = segments
	return nil
}

// Cancel transitions the job to CANCELLED state.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// EnterStage records the stage now executing and updates Progress to the
// share of stages already finished.
func (j *Job) EnterStage(stage string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Stage = stage
	for i, s := range Stages {
		if s == stage {
			j.Progress = i * 100 / len(Stages)
			break
		}
	}
	j.UpdatedAt = time.Now()
}

// UpdateProgress sets the progress percentage (0-100).
func (j *Job) UpdateProgress(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress = max(0, min(progress, 100))
	j.UpdatedAt = time.Now()
}

// SetOutput sets the committed output directory and any mirror URLs.
func (j *Job) SetOutput(dir string, urls []string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputDir = dir
	j.MirrorURLs = append([]string(nil), urls...)
	j.UpdatedAt = time.Now()
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(validTransitions[j.Status]) == 0
}

// Elapsed returns the processing time, or zero if the job never started.
func (j *Job) Elapsed() time.Duration {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.StartedAt.IsZero() {
		return 0
	}
	if j.CompletedAt.IsZero() {
		return time.Since(j.StartedAt)
	}
	return j.CompletedAt.Sub(j.StartedAt)
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:          j.ID,
		RunID:       j.RunID,
		Path:        j.Path,
		Status:      j.Status,
		Stage:       j.Stage,
		Progress:    j.Progress,
		Error:       j.Error,
		Segments:    j.Segments,
		OutputDir:   j.OutputDir,
		MirrorURLs:  append([]string(nil), j.MirrorURLs...),
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
