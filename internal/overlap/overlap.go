// Package overlap reconciles newly detected segments against an existing
// finalized set and provides the maintenance operations that remove or merge
// overlapping and duplicate segments.
package overlap

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/maauso/samplepacker/internal/segment"
	"github.com/maauso/samplepacker/internal/settings"
)

// ErrUnknownPolicy is returned by ParsePolicy for an unrecognized name.
var ErrUnknownPolicy = errors.New("unknown overlap policy")

// Policy decides what happens to new segments that collide with existing ones.
type Policy string

// Supported policies.
const (
	// DiscardOverlaps drops every new segment that intersects an existing one.
	DiscardOverlaps Policy = "discard_overlaps"
	// DiscardDuplicates drops only new segments within tolerance of an
	// existing one. Distinct overlaps are kept for manual resolution.
	DiscardDuplicates Policy = "discard_duplicates"
	// KeepAll appends every new segment unchanged.
	KeepAll Policy = "keep_all"
)

// DefaultPolicy is used when neither an explicit nor a remembered choice exists.
const DefaultPolicy = Policy(settings.DefaultOverlapPolicy)

// ParsePolicy converts a policy name to a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(name))); p {
	case DiscardOverlaps, DiscardDuplicates, KeepAll:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
}

// Preference is the overlap policy persisted by the project collaborator
// together with its "remember my choice" flag.
type Preference struct {
	Policy   Policy `json:"policy"`
	Remember bool   `json:"remember"`
}

// ResolvePolicy picks the policy to apply: an explicit choice first, then a
// remembered one, then DefaultPolicy.
func ResolvePolicy(pref Preference, explicit Policy) Policy {
	if explicit != "" {
		return explicit
	}
	if pref.Remember && pref.Policy != "" {
		return pref.Policy
	}
	return DefaultPolicy
}

// Report lists index pairs {existing, new} that collide. A pair reported as
// a duplicate is not also reported as an overlap.
type Report struct {
	Overlaps   [][2]int `json:"overlaps"`
	Duplicates [][2]int `json:"duplicates"`
}

// Empty reports whether nothing collides.
func (r Report) Empty() bool {
	return len(r.Overlaps) == 0 && len(r.Duplicates) == 0
}

// FindOverlaps compares every new segment with every existing one.
func FindOverlaps(existing, incoming []segment.Segment, tol time.Duration) Report {
	var r Report
	for j, n := range incoming {
		for i, e := range existing {
			switch {
			case segment.IsDuplicate(e, n, tol):
				r.Duplicates = append(r.Duplicates, [2]int{i, j})
			case segment.Overlaps(e, n):
				r.Overlaps = append(r.Overlaps, [2]int{i, j})
			}
		}
	}
	return r
}

// Reconcile returns existing plus the new segments the policy keeps, ordered
// by start. Neither input is modified.
func Reconcile(existing, incoming []segment.Segment, policy Policy) []segment.Segment {
	out := segment.CloneAll(existing)
	if out == nil {
		out = []segment.Segment{}
	}
	for _, n := range incoming {
		if keep(existing, n, policy) {
			out = append(out, n.Clone())
		}
	}
	segment.SortByStart(out)
	return out
}

func keep(existing []segment.Segment, n segment.Segment, policy Policy) bool {
	switch policy {
	case KeepAll:
		return true
	case DiscardOverlaps:
		for _, e := range existing {
			if segment.Overlaps(e, n) || segment.IsDuplicate(e, n, segment.DuplicateTolerance) {
				return false
			}
		}
		return true
	default:
		for _, e := range existing {
			if segment.IsDuplicate(e, n, segment.DuplicateTolerance) {
				return false
			}
		}
		return true
	}
}

// RemoveAllOverlaps keeps only the earliest-starting segment of each group of
// transitively overlapping segments. Ties on start keep the stronger segment.
func RemoveAllOverlaps(segs []segment.Segment) []segment.Segment {
	sorted := sortedCopy(segs)
	groups := overlapGroups(sorted)
	out := make([]segment.Segment, 0, len(groups))
	for _, g := range groups {
		out = append(out, sorted[g[0]])
	}
	return out
}

// RemoveAllDuplicates keeps exactly one segment per group of duplicates,
// the earliest start and then the stronger one.
func RemoveAllDuplicates(segs []segment.Segment) []segment.Segment {
	sorted := sortedCopy(segs)
	uf := newUnionFind(len(sorted))
	tol := segment.DuplicateTolerance.Seconds()
	for i := range sorted {
		for j := i + 1; j < len(sorted) && sorted[j].Start-sorted[i].Start <= tol; j++ {
			if segment.IsDuplicate(sorted[i], sorted[j], segment.DuplicateTolerance) {
				uf.union(i, j)
			}
		}
	}
	out := make([]segment.Segment, 0, len(sorted))
	for _, g := range uf.groups() {
		out = append(out, sorted[g[0]])
	}
	segment.SortByStart(out)
	return out
}

// MergeAllOverlaps collapses each group of transitively overlapping segments
// into one segment spanning the group. The merged segment takes the highest
// score; differing detectors become "mixed".
func MergeAllOverlaps(segs []segment.Segment) []segment.Segment {
	sorted := sortedCopy(segs)
	groups := overlapGroups(sorted)
	out := make([]segment.Segment, 0, len(groups))
	for _, g := range groups {
		if len(g) == 1 {
			out = append(out, sorted[g[0]])
			continue
		}
		out = append(out, span(sorted, g))
	}
	return out
}

func span(segs []segment.Segment, group []int) segment.Segment {
	first := segs[group[0]]
	merged := first.Clone()
	strongest := first
	labels := map[string]bool{}
	for _, i := range group {
		s := segs[i]
		merged.Start = math.Min(merged.Start, s.Start)
		merged.End = math.Max(merged.End, s.End)
		merged.Score = math.Max(merged.Score, s.Score)
		if s.Detector != merged.Detector {
			merged.Detector = segment.DetectorMixed
		}
		if segment.Stronger(s, strongest) {
			strongest = s
		}
		for _, l := range s.Detectors() {
			labels[l] = true
		}
	}
	names := make([]string, 0, len(labels))
	for l := range labels {
		names = append(names, l)
	}
	sort.Strings(names)
	merged.SetAttr(segment.AttrPrimaryDetector, strongest.PrimaryDetector())
	merged.SetAttr(segment.AttrDetectors, strings.Join(names, ","))
	delete(merged.Attrs, segment.AttrRawStart)
	delete(merged.Attrs, segment.AttrRawEnd)
	return merged
}

// overlapGroups returns index groups of transitively overlapping segments.
// segs must be ordered by start; groups and their members come out in that
// order.
func overlapGroups(segs []segment.Segment) [][]int {
	uf := newUnionFind(len(segs))
	for i := range segs {
		for j := i + 1; j < len(segs) && segs[j].Start < segs[i].End; j++ {
			uf.union(i, j)
		}
	}
	return uf.groups()
}

func sortedCopy(segs []segment.Segment) []segment.Segment {
	out := segment.CloneAll(segs)
	if out == nil {
		return []segment.Segment{}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return segment.Stronger(out[i], out[j])
	})
	return out
}
