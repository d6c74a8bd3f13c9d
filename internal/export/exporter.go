package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/maauso/samplepacker/internal/audio"
	"github.com/maauso/samplepacker/internal/media"
	"github.com/maauso/samplepacker/internal/merge"
	"github.com/maauso/samplepacker/internal/overlap"
	"github.com/maauso/samplepacker/internal/segment"
	"github.com/maauso/samplepacker/internal/settings"
	"github.com/maauso/samplepacker/internal/storage"
)

// Request carries everything exported for one source file.
type Request struct {
	// Name is the output directory name below the storage root.
	Name string
	// Source is the original audio file that clips are cut from.
	Source string
	// Title overrides the tag-derived {title} token.
	Title      string
	Info       audio.Info
	Settings   settings.ProcessingSettings
	Segments   []segment.Segment
	Stats      merge.Stats
	Preference overlap.Preference
	Policy     overlap.Policy
	Overlaps   overlap.Report
}

// Result describes a committed output directory.
type Result struct {
	Dir      string
	Document *Document
	URLs     []string
}

// Exporter writes and commits per-file outputs.
type Exporter struct {
	store    storage.Storage
	template *Template
	clipper  media.Clipper
	clipOpts media.ClipOpts
	mirror   bool
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithTemplate sets the sample file name template.
func WithTemplate(t *Template) Option {
	return func(e *Exporter) {
		if t != nil {
			e.template = t
		}
	}
}

// WithSamples enables clip export through c.
func WithSamples(c media.Clipper, opts media.ClipOpts) Option {
	return func(e *Exporter) {
		e.clipper = c
		e.clipOpts = opts
	}
}

// WithMirror uploads committed outputs through the storage mirror.
func WithMirror(enabled bool) Option {
	return func(e *Exporter) {
		e.mirror = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Exporter) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the document timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		e.now = now
	}
}

// NewExporter creates an Exporter writing below store's root.
func NewExporter(store storage.Storage, opts ...Option) *Exporter {
	tmpl, _ := ParseTemplate(DefaultTemplate)
	e := &Exporter{
		store:    store,
		template: tmpl,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Root returns the directory all outputs are committed below.
func (e *Exporter) Root() string {
	return e.store.Root()
}

// OutputDir returns the committed output directory for name.
func (e *Exporter) OutputDir(name string) string {
	return filepath.Join(e.store.Root(), Sanitize(name))
}

// Load reads the summary document of a previous export of name.
// Returns an error wrapping ErrNoDocument when none exists.
func (e *Exporter) Load(name string) (*Document, error) {
	return ReadDocument(MarkerPath(e.OutputDir(name)))
}

// Export writes every artifact of req into a staging directory and commits
// it over any previous output. The summary document is written last. On
// failure or cancellation the staging directory is discarded and the
// previous output is left untouched.
func (e *Exporter) Export(ctx context.Context, req Request) (*Result, error) {
	name := Sanitize(req.Name)
	stage, err := e.store.Stage(ctx, name)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			if err := e.store.Discard(context.WithoutCancel(ctx), stage); err != nil {
				e.logger.Warn("failed to discard staging directory",
					slog.String("dir", stage),
					slog.String("error", err.Error()),
				)
			}
		}
	}()

	segs := req.Segments
	if segs == nil {
		segs = []segment.Segment{}
	}

	if err := WriteMarkers(stage, segs); err != nil {
		return nil, err
	}

	title := req.Title
	if title == "" {
		title = ReadTitle(req.Source)
	}

	samples, err := e.exportSamples(ctx, stage, req.Source, title, segs)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Version:    DocumentVersion,
		Source:     req.Source,
		Title:      title,
		Audio:      req.Info,
		Settings:   req.Settings,
		Preference: req.Preference,
		Policy:     req.Policy,
		Overlaps:   req.Overlaps,
		Stats:      req.Stats,
		Segments:   segs,
		Samples:    samples,
		CreatedAt:  e.now().UTC(),
	}
	doc.Summarize()
	if err := WriteDocument(MarkerPath(stage), doc); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dest := e.OutputDir(name)
	if err := e.store.Commit(ctx, stage, dest); err != nil {
		return nil, err
	}
	committed = true

	res := &Result{Dir: dest, Document: doc}
	if e.mirror {
		urls, err := storage.MirrorDir(ctx, e.store, dest, name)
		if err != nil {
			e.logger.Warn("mirror upload incomplete",
				slog.String("dir", dest),
				slog.Int("uploaded", len(urls)),
				slog.String("error", err.Error()),
			)
		}
		res.URLs = urls
	}

	e.logger.Debug("export committed",
		slog.String("source", req.Source),
		slog.String("dir", dest),
		slog.Int("segments", len(segs)),
		slog.Int("samples", len(samples)),
	)
	return res, nil
}

// exportSamples cuts one clip per segment when sample export is enabled and
// returns their paths relative to the output directory.
func (e *Exporter) exportSamples(ctx context.Context, stage, source, title string, segs []segment.Segment) ([]string, error) {
	if e.clipper == nil || len(segs) == 0 {
		return nil, nil
	}
	base := Sanitize(Basename(source))
	ext := e.clipOpts.Extension()
	seen := make(map[string]int, len(segs))
	out := make([]string, 0, len(segs))
	for i, seg := range segs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.template.Render(TokensFor(base, title, i, seg))
		n := seen[name]
		seen[name]++
		if n > 0 {
			name = fmt.Sprintf("%s_%d", name, n)
		}

		rel := filepath.Join(SamplesDir, name+ext)
		if err := e.clipper.ExtractClip(ctx, source, filepath.Join(stage, rel), seg.Start, seg.End, e.clipOpts); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("sample %d [%.3f, %.3f]: %w", i, seg.Start, seg.End, err)
		}
		out = append(out, filepath.ToSlash(rel))
	}
	return out, nil
}

// WriteMarkers writes the Audacity labels, REAPER regions and timestamps
// table for segs below dir.
func WriteMarkers(dir string, segs []segment.Segment) error {
	writers := []struct {
		path  string
		write func(io.Writer, []segment.Segment) error
	}{
		{filepath.Join(dir, MarkersDir, AudacityFile), WriteAudacityLabels},
		{filepath.Join(dir, MarkersDir, ReaperFile), WriteReaperRegions},
		{filepath.Join(dir, DataDir, TimestampsFile), WriteTimestamps},
	}
	for _, w := range writers {
		if err := writeFile(w.path, segs, w.write); err != nil {
			return err
		}
	}
	return nil
}

// Rewrite replaces the segments of a committed output in place. Marker
// files are written first and the document last. Sample clips on disk are
// left alone and no longer listed, since their numbering no longer matches.
func Rewrite(dir string, doc *Document) error {
	if doc.Segments == nil {
		doc.Segments = []segment.Segment{}
	}
	if err := WriteMarkers(dir, doc.Segments); err != nil {
		return err
	}
	doc.Samples = nil
	doc.Summarize()
	return WriteDocument(MarkerPath(dir), doc)
}

// DirOf returns the output directory that holds the document at path.
func DirOf(documentPath string) string {
	return filepath.Dir(filepath.Dir(documentPath))
}

func writeFile(path string, segs []segment.Segment, write func(io.Writer, []segment.Segment) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(filepath.Dir(path)), err)
	}
	f, err := os.Create(path) // #nosec G304 - path is inside an output directory
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", filepath.Base(path), cerr)
		}
	}()
	return write(f, segs)
}

// IsMissing reports whether err means no previous output exists.
func IsMissing(err error) bool {
	return errors.Is(err, ErrNoDocument)
}
