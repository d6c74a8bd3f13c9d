// Package merge turns raw detector candidates into a finalized, sorted,
// non-overlapping segment set.
//
// Finalize applies a fixed sequence of steps: sort, merge, pad, duration
// filter, deduplicate, cap and invariant check. Merging works on the core
// (unpadded) bounds recorded in segment attributes, and padding is applied at
// most once per segment, so running Finalize on its own output returns the
// same set.
package merge

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/maauso/samplepacker/internal/segment"
	"github.com/maauso/samplepacker/internal/settings"
)

// ErrInvariantViolation is returned when a finalized set still breaks the
// ordering or overlap guarantees. It indicates a defect, not bad input.
var ErrInvariantViolation = errors.New("segment invariant violated")

// Stats counts what each step did to the candidate set.
type Stats struct {
	Candidates int `json:"candidates"`
	Invalid    int `json:"invalid"`
	Merged     int `json:"merged"`
	TooShort   int `json:"too_short"`
	Truncated  int `json:"truncated"`
	Duplicates int `json:"duplicates"`
	Capped     int `json:"capped"`
	Final      int `json:"final"`
}

// Result is a finalized set together with its step counters.
type Result struct {
	Segments []segment.Segment
	Stats    Stats
}

// Engine finalizes candidate sets. It holds no per-call state and is safe for
// concurrent use.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates a merge engine.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Finalize returns the finalized segments for an audio file of the given
// duration in seconds. The input slice is not modified.
func (e *Engine) Finalize(candidates []segment.Segment, s settings.ProcessingSettings, duration float64) ([]segment.Segment, error) {
	res, err := e.Run(candidates, s, duration)
	if err != nil {
		return nil, err
	}
	return res.Segments, nil
}

// Run is Finalize with per-step statistics.
func (e *Engine) Run(candidates []segment.Segment, s settings.ProcessingSettings, duration float64) (Result, error) {
	st := Stats{Candidates: len(candidates)}

	segs := e.sanitize(candidates, duration, &st)
	sortByCore(segs)

	segs = mergeClose(segs, s.MergeGapMs/1000)
	st.Merged = len(segs)

	pad(segs, s.PrePadMs/1000, s.PostPadMs/1000, duration)

	segs = filterDuration(segs, s.MinDurationMs/1000, s.MaxDurationMs/1000, &st)

	before := len(segs)
	segs = dedupe(segs, segment.DuplicateTolerance.Seconds())
	st.Duplicates = before - len(segs)

	if s.MaxSamples > 0 && len(segs) > s.MaxSamples {
		before = len(segs)
		switch s.SpreadMode {
		case settings.SpreadClosest:
			segs = capClosest(segs, s.MaxSamples)
		default:
			segs = capStrict(segs, s.MaxSamples)
		}
		st.Capped = before - len(segs)
	}

	segs, err := e.check(segs, duration, &st)
	if err != nil {
		return Result{}, err
	}
	st.Final = len(segs)

	e.logger.Debug("segments finalized",
		slog.Int("candidates", st.Candidates),
		slog.Int("merged", st.Merged),
		slog.Int("too_short", st.TooShort),
		slog.Int("truncated", st.Truncated),
		slog.Int("duplicates", st.Duplicates),
		slog.Int("capped", st.Capped),
		slog.Int("final", st.Final),
	)
	return Result{Segments: segs, Stats: st}, nil
}

// sanitize clones the candidates, drops those with non-finite or inverted
// bounds and clamps the rest to [0, duration].
func (e *Engine) sanitize(in []segment.Segment, duration float64, st *Stats) []segment.Segment {
	out := make([]segment.Segment, 0, len(in))
	for _, c := range in {
		if !c.Finite() || !(c.Start < c.End) {
			st.Invalid++
			e.logger.Warn("dropping invalid segment",
				slog.Float64("start", c.Start),
				slog.Float64("end", c.End),
				slog.String("detector", c.Detector),
			)
			continue
		}
		seg := c.Clone()
		clamp(&seg, duration)
		if !(seg.Start < seg.End) {
			st.Invalid++
			e.logger.Warn("dropping segment outside audio",
				slog.Float64("start", c.Start),
				slog.Float64("end", c.End),
				slog.Float64("duration", duration),
			)
			continue
		}
		cs, ce := seg.Core()
		cs, ce = math.Max(cs, seg.Start), math.Min(ce, seg.End)
		if !(cs < ce) {
			cs, ce = seg.Start, seg.End
		}
		setCore(&seg, cs, ce)
		if seg.StringAttr(segment.AttrDetectors) == "" {
			seg.SetAttr(segment.AttrDetectors, seg.PrimaryDetector())
		}
		out = append(out, seg)
	}
	return out
}

func clamp(seg *segment.Segment, duration float64) {
	seg.Start = math.Max(0, seg.Start)
	seg.End = math.Min(duration, seg.End)
}

func setCore(seg *segment.Segment, start, end float64) {
	seg.SetAttr(segment.AttrRawStart, start)
	seg.SetAttr(segment.AttrRawEnd, end)
}

// sortByCore orders by core start ascending, score descending, then detector.
// For unpadded candidates this is the plain start order.
func sortByCore(segs []segment.Segment) {
	sort.SliceStable(segs, func(i, j int) bool {
		ai, _ := segs[i].Core()
		aj, _ := segs[j].Core()
		if ai != aj {
			return ai < aj
		}
		return segment.Less(segs[i], segs[j])
	})
}

// mergeClose combines neighbours whose core gap is at most gap seconds.
// Overlapping cores have a negative gap and are always combined.
func mergeClose(segs []segment.Segment, gap float64) []segment.Segment {
	if len(segs) == 0 {
		return segs
	}
	out := []segment.Segment{segs[0]}
	for _, next := range segs[1:] {
		cur := &out[len(out)-1]
		_, curEnd := cur.Core()
		nextStart, _ := next.Core()
		if nextStart-curEnd <= gap {
			*cur = combine(*cur, next)
			continue
		}
		out = append(out, next)
	}
	return out
}

// combine returns the segment spanning a and b. Padding survives only when
// both sides were already padded; otherwise the result is re-padded later.
func combine(a, b segment.Segment) segment.Segment {
	as, ae := a.Core()
	bs, be := b.Core()
	cs, ce := math.Min(as, bs), math.Max(ae, be)

	out := a.Clone()
	for k, v := range b.Attrs {
		if _, ok := out.Attrs[k]; !ok {
			out.SetAttr(k, v)
		}
	}
	if a.BoolAttr(segment.AttrPadded) && b.BoolAttr(segment.AttrPadded) {
		out.Start, out.End = math.Min(a.Start, b.Start), math.Max(a.End, b.End)
	} else {
		out.Start, out.End = cs, ce
		out.SetAttr(segment.AttrPadded, false)
	}
	setCore(&out, cs, ce)

	out.Score = math.Max(a.Score, b.Score)
	if a.Detector != b.Detector {
		out.Detector = segment.DetectorMixed
	}
	primary := a
	if segment.Stronger(b, a) {
		primary = b
	}
	out.SetAttr(segment.AttrPrimaryDetector, primary.PrimaryDetector())
	out.SetAttr(segment.AttrDetectors, unionLabels(a.Detectors(), b.Detectors()))
	return out
}

func unionLabels(a, b []string) string {
	seen := make(map[string]bool, len(a)+len(b))
	var labels []string
	for _, l := range append(append([]string{}, a...), b...) {
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return strings.Join(labels, ",")
}

// pad extends every segment not yet padded by pre and post seconds within
// [0, duration]. Where padding of two neighbours would overlap, the boundary
// is placed at the midpoint of the gap between their cores.
func pad(segs []segment.Segment, pre, post, duration float64) {
	for i := range segs {
		if segs[i].BoolAttr(segment.AttrPadded) {
			continue
		}
		cs, ce := segs[i].Core()
		segs[i].Start = math.Max(0, cs-pre)
		segs[i].End = math.Min(duration, ce+post)
		segs[i].SetAttr(segment.AttrPadded, true)
	}
	for i := 0; i+1 < len(segs); i++ {
		a, b := &segs[i], &segs[i+1]
		if a.End <= b.Start {
			continue
		}
		_, ae := a.Core()
		bs, _ := b.Core()
		mid := (ae + bs) / 2
		a.End = math.Min(a.End, mid)
		b.Start = math.Max(b.Start, mid)
	}
}

// filterDuration drops segments shorter than minDur and truncates those
// longer than maxDur, discarding the remainder.
func filterDuration(segs []segment.Segment, minDur, maxDur float64, st *Stats) []segment.Segment {
	out := segs[:0]
	for _, seg := range segs {
		if seg.Duration() < minDur {
			st.TooShort++
			continue
		}
		if maxDur > 0 && seg.Duration() > maxDur {
			st.Truncated++
			seg.End = seg.Start + maxDur
			cs, ce := seg.Core()
			cs, ce = math.Min(cs, seg.End), math.Min(ce, seg.End)
			if !(cs < ce) {
				cs, ce = seg.Start, seg.End
			}
			setCore(&seg, cs, ce)
		}
		out = append(out, seg)
	}
	return out
}

// dedupe removes segments whose start and end both lie strictly within tol
// of an earlier kept segment. Input is ordered by start, so the earliest
// start wins and equal starts fall back to the higher score.
func dedupe(segs []segment.Segment, tol float64) []segment.Segment {
	sort.SliceStable(segs, func(i, j int) bool { return segment.Less(segs[i], segs[j]) })
	out := make([]segment.Segment, 0, len(segs))
	for _, seg := range segs {
		dup := false
		for k := len(out) - 1; k >= 0 && seg.Start-out[k].Start < tol; k-- {
			if math.Abs(seg.End-out[k].End) < tol {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, seg)
		}
	}
	return out
}

// check drops anything non-finite or inverted, clamps to [0, duration] and
// verifies ordering and non-overlap.
func (e *Engine) check(segs []segment.Segment, duration float64, st *Stats) ([]segment.Segment, error) {
	out := segs[:0]
	for _, seg := range segs {
		if seg.Finite() {
			clamp(&seg, duration)
		}
		if !seg.Finite() || !(seg.Start < seg.End) {
			st.Invalid++
			e.logger.Warn("dropping invalid segment after finalize",
				slog.Float64("start", seg.Start),
				slog.Float64("end", seg.End),
				slog.String("detector", seg.Detector),
			)
			continue
		}
		out = append(out, seg)
	}
	segment.SortByStart(out)
	for i := 1; i < len(out); i++ {
		if segment.Overlaps(out[i-1], out[i]) {
			return nil, fmt.Errorf("%w: [%.6f, %.6f] overlaps [%.6f, %.6f]",
				ErrInvariantViolation, out[i-1].Start, out[i-1].End, out[i].Start, out[i].End)
		}
	}
	return out, nil
}
