package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/maauso/samplepacker/internal/job"
)

// FileReport is the outcome of one file.
type FileReport struct {
	Path      string        `json:"path"`
	Status    job.Status    `json:"status"`
	Stage     string        `json:"stage,omitempty"`
	Error     string        `json:"error,omitempty"`
	Segments  int           `json:"segments"`
	OutputDir string        `json:"output_dir,omitempty"`
	URLs      []string      `json:"urls,omitempty"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

func reportFor(j *job.Job) FileReport {
	r := FileReport{
		Path:      j.Path,
		Status:    j.Status,
		Segments:  j.Segments,
		OutputDir: j.OutputDir,
		URLs:      j.MirrorURLs,
		Elapsed:   j.Elapsed(),
	}
	if j.Status == job.StatusFailed {
		r.Stage = j.Stage
		r.Error = j.Error
	}
	return r
}

// Summary aggregates a run. Files are ordered by path regardless of the
// order in which workers finished them.
type Summary struct {
	RunID     string        `json:"run_id"`
	Input     string        `json:"input"`
	Files     []FileReport  `json:"files"`
	Counts    job.Counts    `json:"counts"`
	Cancelled bool          `json:"cancelled"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// Failures returns the failed files.
func (s *Summary) Failures() []FileReport {
	var out []FileReport
	for _, f := range s.Files {
		if f.Status == job.StatusFailed {
			out = append(out, f)
		}
	}
	return out
}

// TotalSegments sums the segments of completed and skipped files.
func (s *Summary) TotalSegments() int {
	n := 0
	for _, f := range s.Files {
		if f.Status != job.StatusFailed {
			n += f.Segments
		}
	}
	return n
}

// WriteJSON writes the summary to path.
func (s *Summary) WriteJSON(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run summary: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write run summary: %w", err)
	}
	return nil
}
