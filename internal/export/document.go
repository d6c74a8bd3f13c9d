package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/maauso/samplepacker/internal/audio"
	"github.com/maauso/samplepacker/internal/merge"
	"github.com/maauso/samplepacker/internal/overlap"
	"github.com/maauso/samplepacker/internal/segment"
	"github.com/maauso/samplepacker/internal/settings"
)

// Output layout below a file's output directory.
const (
	SamplesDir     = "samples"
	MarkersDir     = "markers"
	DataDir        = "data"
	AudacityFile   = "audacity_labels.txt"
	ReaperFile     = "reaper_regions.csv"
	TimestampsFile = "timestamps.csv"
	SummaryFile    = "summary.json"
)

// DocumentVersion is written to every summary document.
const DocumentVersion = 1

// ErrNoDocument is returned when an output directory has no summary document.
var ErrNoDocument = errors.New("no summary document")

// SegmentSummary aggregates the finalized segments.
type SegmentSummary struct {
	Total         int            `json:"total"`
	ByDetector    map[string]int `json:"by_detector"`
	TotalDuration float64        `json:"total_duration_sec"`
}

// Document is the persisted result for one source file. Its presence marks
// the file's output as complete.
type Document struct {
	Version    int                         `json:"version"`
	Source     string                      `json:"source"`
	Title      string                      `json:"title"`
	Audio      audio.Info                  `json:"audio"`
	Settings   settings.ProcessingSettings `json:"settings"`
	Preference overlap.Preference          `json:"overlap_preference"`
	Policy     overlap.Policy              `json:"overlap_policy"`
	Overlaps   overlap.Report              `json:"overlaps"`
	Stats      merge.Stats                 `json:"stats"`
	Summary    SegmentSummary              `json:"segments_summary"`
	Segments   []segment.Segment           `json:"segments"`
	Samples    []string                    `json:"samples,omitempty"`
	CreatedAt  time.Time                   `json:"created_at"`
}

// Summarize fills Summary from Segments.
func (d *Document) Summarize() {
	s := SegmentSummary{Total: len(d.Segments), ByDetector: map[string]int{}}
	for _, seg := range d.Segments {
		s.ByDetector[seg.Detector]++
		s.TotalDuration += seg.Duration()
	}
	d.Summary = s
}

// Detectors returns the detector labels present, sorted.
func (d *Document) Detectors() []string {
	out := make([]string, 0, len(d.Summary.ByDetector))
	for k := range d.Summary.ByDetector {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MarkerPath returns the summary document path inside an output directory.
func MarkerPath(dir string) string {
	return filepath.Join(dir, DataDir, SummaryFile)
}

// ReadDocument loads a summary document. A missing file yields ErrNoDocument.
func ReadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is inside the output tree or given by the user
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoDocument, path)
		}
		return nil, fmt.Errorf("read summary document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode summary document %s: %w", path, err)
	}
	return &doc, nil
}

// WriteDocument writes doc to path through a temporary file and a rename, so
// readers never observe a partial document.
func WriteDocument(path string, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary document: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create document directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), SummaryFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp document: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write summary document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close summary document: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("commit summary document: %w", err)
	}
	return nil
}
