package job

import (
	"context"
	"slices"
	"strings"
	"sync"
)

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository keeps jobs in memory, grouped by run. Callers always get
// clones, so a worker mutating its own Job never races a reader.
type MemoryRepository struct {
	mu   sync.RWMutex
	runs map[string]map[string]*Job
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{runs: make(map[string]map[string]*Job)}
}

// Save stores a snapshot of job.
func (r *MemoryRepository) Save(_ context.Context, job *Job) error {
	snap := job.Clone()
	r.mu.Lock()
	defer r.mu.Unlock()
	byPath, ok := r.runs[snap.RunID]
	if !ok {
		byPath = make(map[string]*Job)
		r.runs[snap.RunID] = byPath
	}
	byPath[snap.Path] = snap
	return nil
}

// Get returns a snapshot of the job of path in runID.
func (r *MemoryRepository) Get(_ context.Context, runID, path string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.runs[runID][path]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.Clone(), nil
}

// ListRun returns snapshots of the run's jobs ordered by path.
func (r *MemoryRepository) ListRun(_ context.Context, runID string) ([]*Job, error) {
	r.mu.RLock()
	jobs := make([]*Job, 0, len(r.runs[runID]))
	for _, j := range r.runs[runID] {
		jobs = append(jobs, j.Clone())
	}
	r.mu.RUnlock()

	slices.SortFunc(jobs, func(a, b *Job) int { return strings.Compare(a.Path, b.Path) })
	return jobs, nil
}
