// Package segment defines the Segment value type shared by detectors, the merge
// engine and overlap resolution.
package segment

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Detector labels identifying where a segment came from.
const (
	DetectorVoice      = "voice"
	DetectorTransient  = "transient"
	DetectorNonSilence = "nonsilence"
	DetectorSpectral   = "spectral"
	DetectorMixed      = "mixed"
	DetectorManual     = "manual"
)

// Attribute keys used across packages.
const (
	AttrPrimaryDetector = "primary_detector"
	AttrDetectors       = "detectors"
	AttrRawStart        = "raw_start"
	AttrRawEnd          = "raw_end"
	AttrPadded          = "padded"
)

// DuplicateTolerance is the start/end distance under which two segments are
// considered the same region.
const DuplicateTolerance = 5 * time.Millisecond

// priorities orders detectors for cross-detector tie-breaks. Higher wins.
var priorities = map[string]int{
	DetectorVoice:      4,
	DetectorTransient:  3,
	DetectorSpectral:   2,
	DetectorNonSilence: 1,
}

// Priority returns the tie-break rank of a detector label.
// Unknown labels, mixed and manual rank lowest.
func Priority(detector string) int {
	return priorities[detector]
}

// Segment is a detected or edited time range in seconds.
type Segment struct {
	Start    float64        `json:"start"`
	End      float64        `json:"end"`
	Detector string         `json:"detector"`
	Score    float64        `json:"score"`
	Attrs    map[string]any `json:"attrs,omitempty"`
}

// New creates a segment with an empty attribute map.
func New(start, end float64, detector string, score float64) Segment {
	return Segment{Start: start, End: end, Detector: detector, Score: score, Attrs: map[string]any{}}
}

// Duration returns End - Start in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Clone returns a copy that shares no attribute map with s.
func (s Segment) Clone() Segment {
	c := s
	if s.Attrs != nil {
		c.Attrs = make(map[string]any, len(s.Attrs))
		for k, v := range s.Attrs {
			c.Attrs[k] = v
		}
	}
	return c
}

// SetAttr sets an attribute, allocating the map when needed.
func (s *Segment) SetAttr(key string, value any) {
	if s.Attrs == nil {
		s.Attrs = map[string]any{}
	}
	s.Attrs[key] = value
}

// StringAttr returns a string attribute or the empty string.
func (s Segment) StringAttr(key string) string {
	v, _ := s.Attrs[key].(string)
	return v
}

// FloatAttr returns a numeric attribute. JSON decoding yields float64, so
// that is the only numeric type handled besides int.
func (s Segment) FloatAttr(key string) (float64, bool) {
	switch v := s.Attrs[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// BoolAttr returns a boolean attribute or false.
func (s Segment) BoolAttr(key string) bool {
	v, _ := s.Attrs[key].(bool)
	return v
}

// Core returns the unpadded bounds recorded by the merge engine, falling back
// to the segment bounds.
func (s Segment) Core() (float64, float64) {
	start, ok1 := s.FloatAttr(AttrRawStart)
	end, ok2 := s.FloatAttr(AttrRawEnd)
	if !ok1 || !ok2 || !(start < end) {
		return s.Start, s.End
	}
	return start, end
}

// PrimaryDetector returns attrs.primary_detector, or Detector when unset.
func (s Segment) PrimaryDetector() string {
	if p := s.StringAttr(AttrPrimaryDetector); p != "" {
		return p
	}
	return s.Detector
}

// Detectors returns the constituent detector labels recorded in attrs.
func (s Segment) Detectors() []string {
	if d := s.StringAttr(AttrDetectors); d != "" {
		return strings.Split(d, ",")
	}
	return []string{s.PrimaryDetector()}
}

// Finite reports whether both bounds are finite numbers.
func (s Segment) Finite() bool {
	return !math.IsNaN(s.Start) && !math.IsNaN(s.End) && !math.IsInf(s.Start, 0) && !math.IsInf(s.End, 0)
}

// Valid reports whether 0 <= start < end <= duration.
func (s Segment) Valid(duration float64) bool {
	return s.Finite() && s.Start >= 0 && s.Start < s.End && s.End <= duration
}

// Overlaps reports whether a and b share a range of positive length.
func Overlaps(a, b Segment) bool {
	return a.Start < b.End && b.Start < a.End
}

// IsDuplicate reports whether both bounds of a and b lie within tol of each other.
func IsDuplicate(a, b Segment, tol time.Duration) bool {
	t := tol.Seconds()
	return math.Abs(a.Start-b.Start) <= t && math.Abs(a.End-b.End) <= t
}

// Less is the deterministic candidate order: start ascending, score
// descending, then detector label.
func Less(a, b Segment) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Detector < b.Detector
}

// SortByStart sorts segs in place using Less.
func SortByStart(segs []Segment) {
	sort.SliceStable(segs, func(i, j int) bool { return Less(segs[i], segs[j]) })
}

// CloneAll deep-copies a slice of segments.
func CloneAll(segs []Segment) []Segment {
	if segs == nil {
		return nil
	}
	out := make([]Segment, len(segs))
	for i, s := range segs {
		out[i] = s.Clone()
	}
	return out
}

// Stronger reports whether a should win over b: higher score, then higher
// detector priority.
func Stronger(a, b Segment) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return Priority(a.PrimaryDetector()) > Priority(b.PrimaryDetector())
}
