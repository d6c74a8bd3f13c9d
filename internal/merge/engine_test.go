package merge

import (
	"math"
	"sort"
	"testing"

	"github.com/maauso/samplepacker/internal/segment"
	"github.com/maauso/samplepacker/internal/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lcg gives reproducible pseudo-random values in [0, 1).
type lcg uint32

func (g *lcg) next() float64 {
	*g = *g*1664525 + 1013904223
	return float64(*g) / (1 << 32)
}

func baseSettings() settings.ProcessingSettings {
	s := settings.Default()
	s.MinDurationMs = 0
	s.MergeGapMs = 0
	return s
}

func assertFinalized(t *testing.T, segs []segment.Segment, duration float64) {
	t.Helper()
	for i, s := range segs {
		require.True(t, s.Valid(duration), "segment %d invalid: %+v", i, s)
		if i > 0 {
			require.LessOrEqual(t, segs[i-1].Start, s.Start, "not sorted at %d", i)
			require.False(t, segment.Overlaps(segs[i-1], s), "overlap at %d: %+v %+v", i, segs[i-1], s)
		}
	}
}

func TestFinalize_MergesWithinGap(t *testing.T) {
	s := baseSettings()
	s.MergeGapMs = 100
	s.MinDurationMs = 100

	in := []segment.Segment{
		segment.New(2.05, 2.5, segment.DetectorTransient, 0.6),
		segment.New(1.0, 2.0, segment.DetectorVoice, 0.9),
	}
	out, err := NewEngine(nil).Finalize(in, s, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Equal(t, 1.0, out[0].Start)
	assert.Equal(t, 2.5, out[0].End)
	assert.Equal(t, 0.9, out[0].Score)
	assert.Equal(t, segment.DetectorMixed, out[0].Detector)
	assert.Equal(t, segment.DetectorVoice, out[0].PrimaryDetector())
	assert.Equal(t, []string{segment.DetectorTransient, segment.DetectorVoice}, out[0].Detectors())
}

func TestFinalize_GapTooWide(t *testing.T) {
	s := baseSettings()
	s.MergeGapMs = 40

	in := []segment.Segment{
		segment.New(1.0, 2.0, segment.DetectorVoice, 0.9),
		segment.New(2.05, 2.5, segment.DetectorVoice, 0.6),
	}
	out, err := NewEngine(nil).Finalize(in, s, 10)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestFinalize_SameDetectorKeepsLabel(t *testing.T) {
	in := []segment.Segment{
		segment.New(1.0, 2.0, segment.DetectorTransient, 0.3),
		segment.New(1.5, 3.0, segment.DetectorTransient, 0.8),
	}
	out, err := NewEngine(nil).Finalize(in, baseSettings(), 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, segment.DetectorTransient, out[0].Detector)
	assert.Equal(t, 0.8, out[0].Score)
}

func TestFinalize_PaddingSplitsAtMidpoint(t *testing.T) {
	s := baseSettings()
	s.PrePadMs = 200
	s.PostPadMs = 200

	in := []segment.Segment{
		segment.New(0.1, 2.0, segment.DetectorVoice, 1),
		segment.New(2.3, 3.0, segment.DetectorVoice, 1),
		segment.New(9.0, 9.9, segment.DetectorVoice, 1),
	}
	out, err := NewEngine(nil).Finalize(in, s, 10)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assertFinalized(t, out, 10)

	assert.Equal(t, 0.0, out[0].Start, "pre-padding clamps at zero")
	assert.InDelta(t, 2.15, out[0].End, 1e-9)
	assert.InDelta(t, 2.15, out[1].Start, 1e-9)
	assert.InDelta(t, 3.2, out[1].End, 1e-9)
	assert.InDelta(t, 8.8, out[2].Start, 1e-9)
	assert.Equal(t, 10.0, out[2].End, "post-padding clamps at duration")

	start, end := out[1].Core()
	assert.Equal(t, 2.3, start)
	assert.Equal(t, 3.0, end)
	assert.True(t, out[1].BoolAttr(segment.AttrPadded))
}

func TestFinalize_DurationFilter(t *testing.T) {
	s := baseSettings()
	s.MinDurationMs = 100
	s.MaxDurationMs = 1000

	in := []segment.Segment{
		segment.New(0.5, 0.55, segment.DetectorTransient, 1),
		segment.New(1.0, 4.0, segment.DetectorTransient, 1),
		segment.New(5.0, 5.5, segment.DetectorTransient, 1),
	}
	res, err := NewEngine(nil).Run(in, s, 10)
	require.NoError(t, err)
	require.Len(t, res.Segments, 2)

	assert.Equal(t, 1.0, res.Segments[0].Start)
	assert.Equal(t, 2.0, res.Segments[0].End, "long segment is truncated, not split")
	assert.Equal(t, 5.0, res.Segments[1].Start)
	assert.Equal(t, 1, res.Stats.TooShort)
	assert.Equal(t, 1, res.Stats.Truncated)
}

func TestFinalize_DropsInvalid(t *testing.T) {
	in := []segment.Segment{
		segment.New(math.NaN(), 1, segment.DetectorVoice, 1),
		segment.New(1, math.Inf(1), segment.DetectorVoice, 1),
		segment.New(3, 2, segment.DetectorVoice, 1),
		segment.New(12, 13, segment.DetectorVoice, 1),
		segment.New(-1, 0.5, segment.DetectorVoice, 1),
		segment.New(4, 5, segment.DetectorVoice, 1),
	}
	res, err := NewEngine(nil).Run(in, baseSettings(), 10)
	require.NoError(t, err)
	require.Len(t, res.Segments, 2)
	assert.Equal(t, 0.0, res.Segments[0].Start, "negative start is clamped")
	assert.Equal(t, 4.0, res.Segments[1].Start)
	assert.Equal(t, 4, res.Stats.Invalid)
}

func TestFinalize_Idempotent(t *testing.T) {
	g := lcg(42)
	var in []segment.Segment
	labels := []string{segment.DetectorVoice, segment.DetectorTransient, segment.DetectorSpectral, segment.DetectorNonSilence}
	for i := 0; i < 500; i++ {
		start := g.next() * 590
		in = append(in, segment.New(start, start+0.05+g.next()*3, labels[i%len(labels)], g.next()))
	}

	tests := []struct {
		name   string
		adjust func(*settings.ProcessingSettings)
	}{
		{"defaults", func(*settings.ProcessingSettings) {}},
		{"padded and merged", func(s *settings.ProcessingSettings) {
			s.MergeGapMs = 250
			s.PrePadMs = 120
			s.PostPadMs = 300
		}},
		{"truncated", func(s *settings.ProcessingSettings) {
			s.MaxDurationMs = 1500
			s.PrePadMs = 50
		}},
		{"capped strict", func(s *settings.ProcessingSettings) {
			s.MaxSamples = 40
			s.PostPadMs = 80
		}},
		{"capped closest", func(s *settings.ProcessingSettings) {
			s.MaxSamples = 40
			s.SpreadMode = settings.SpreadClosest
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := settings.Default()
			tt.adjust(&s)
			e := NewEngine(nil)

			first, err := e.Finalize(in, s, 600)
			require.NoError(t, err)
			assertFinalized(t, first, 600)

			second, err := e.Finalize(first, s, 600)
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}

func TestFinalize_DoesNotMutateInput(t *testing.T) {
	in := []segment.Segment{
		segment.New(1.0, 2.0, segment.DetectorVoice, 1),
		segment.New(1.5, 2.5, segment.DetectorTransient, 1),
	}
	s := baseSettings()
	s.PrePadMs = 100
	_, err := NewEngine(nil).Finalize(in, s, 10)
	require.NoError(t, err)

	assert.Equal(t, 1.0, in[0].Start)
	assert.Empty(t, in[0].Attrs)
	assert.Empty(t, in[1].Attrs)
}

func TestFinalize_ClosestCap(t *testing.T) {
	g := lcg(7)
	in := make([]segment.Segment, 12000)
	for i := range in {
		start := float64(i) * 0.3
		in[i] = segment.New(start, start+0.2, segment.DetectorTransient, g.next())
	}
	s := baseSettings()
	s.MaxSamples = 256
	s.SpreadMode = settings.SpreadClosest

	out, err := NewEngine(nil).Finalize(in, s, 3600)
	require.NoError(t, err)
	require.Len(t, out, 256)
	assertFinalized(t, out, 3600)

	scores := make([]float64, len(in))
	byStart := make(map[float64]segment.Segment, len(in))
	for i, c := range in {
		scores[i] = c.Score
		byStart[c.Start] = c
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))
	cutoff := scores[255]

	for _, seg := range out {
		orig, ok := byStart[seg.Start]
		require.True(t, ok, "segment %+v not drawn from the input", seg)
		assert.Equal(t, orig.End, seg.End)
		assert.GreaterOrEqual(t, seg.Score, cutoff)
	}
}

func TestFinalize_StrictCapSpreadsOut(t *testing.T) {
	var in []segment.Segment
	// A dense, high-scoring cluster at the start.
	for i := 0; i < 40; i++ {
		start := float64(i) * 0.1
		in = append(in, segment.New(start, start+0.05, segment.DetectorTransient, 0.9+float64(i)/1000))
	}
	// Sparse, low-scoring segments across the rest of the file.
	for i := 1; i <= 10; i++ {
		start := float64(i) * 10
		in = append(in, segment.New(start, start+0.5, segment.DetectorNonSilence, 0.1))
	}
	s := baseSettings()
	s.MaxSamples = 12

	strict, err := NewEngine(nil).Finalize(in, s, 120)
	require.NoError(t, err)
	require.Len(t, strict, 12)
	assertFinalized(t, strict, 120)

	s.SpreadMode = settings.SpreadClosest
	closest, err := NewEngine(nil).Finalize(in, s, 120)
	require.NoError(t, err)
	require.Len(t, closest, 12)

	sparse := 0
	for _, seg := range strict {
		if seg.Detector == segment.DetectorNonSilence {
			sparse++
		}
	}
	assert.Equal(t, 10, sparse, "strict mode keeps the isolated segments")
	assert.Greater(t, minMidpointGap(strict), minMidpointGap(closest))
}

func TestCapStrict_Properties(t *testing.T) {
	for seed := lcg(1); seed < 20; seed++ {
		g := seed
		var in []segment.Segment
		for i := 0; i < 200; i++ {
			start := float64(i) + g.next()*0.5
			in = append(in, segment.New(start, start+0.2, segment.DetectorSpectral, g.next()))
		}
		n := 1 + int(g.next()*150)

		out := capStrict(segment.CloneAll(in), n)
		require.Len(t, out, n)
		for i := 1; i < len(out); i++ {
			require.Less(t, out[i-1].Start, out[i].Start)
		}

		// The global best segment can only lose to a neighbour with a higher
		// score, so it always survives.
		best := in[0]
		for _, c := range in {
			if c.Score > best.Score {
				best = c
			}
		}
		found := false
		for _, c := range out {
			if c.Start == best.Start {
				found = true
			}
		}
		assert.True(t, found, "seed %d: highest scoring segment dropped", seed)
	}
}

func TestCapStrict_TieDropsLater(t *testing.T) {
	in := []segment.Segment{
		segment.New(0, 1, segment.DetectorVoice, 0.5),
		segment.New(1, 2, segment.DetectorVoice, 0.5),
		segment.New(10, 11, segment.DetectorVoice, 0.5),
	}
	out := capStrict(in, 2)
	require.Len(t, out, 2)
	assert.Equal(t, 0.0, out[0].Start)
	assert.Equal(t, 10.0, out[1].Start)
}

func TestDedupe(t *testing.T) {
	in := []segment.Segment{
		segment.New(0.003, 1.002, segment.DetectorTransient, 0.9),
		segment.New(0, 1, segment.DetectorVoice, 0.5),
		segment.New(0.004, 1.0, segment.DetectorSpectral, 0.7),
		segment.New(0.006, 1.0, segment.DetectorSpectral, 0.7),
	}
	out := dedupe(in, segment.DuplicateTolerance.Seconds())
	require.Len(t, out, 2)
	assert.Equal(t, 0.0, out[0].Start, "earliest start wins")
	assert.Equal(t, 0.006, out[1].Start, "6 ms apart is not a duplicate")
}

func TestCheck_Overlap(t *testing.T) {
	segs := []segment.Segment{
		segment.New(0, 2, segment.DetectorVoice, 1),
		segment.New(1, 3, segment.DetectorVoice, 1),
	}
	_, err := NewEngine(nil).check(segs, 10, &Stats{})
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestFinalize_MergesIntoPaddedSet(t *testing.T) {
	s := baseSettings()
	s.PrePadMs = 100
	s.PostPadMs = 100
	e := NewEngine(nil)

	existing, err := e.Finalize([]segment.Segment{
		segment.New(1, 2, segment.DetectorVoice, 1),
		segment.New(5, 6, segment.DetectorVoice, 1),
	}, s, 10)
	require.NoError(t, err)

	in := append(segment.CloneAll(existing), segment.New(2.15, 2.5, segment.DetectorTransient, 0.4))
	out, err := e.Finalize(in, s, 10)
	require.NoError(t, err)
	assertFinalized(t, out, 10)
	require.Len(t, out, 3)

	assert.Equal(t, existing[1], out[2], "untouched segments keep their padding")
	assert.InDelta(t, 2.075, out[0].End, 1e-9)
	assert.InDelta(t, 2.075, out[1].Start, 1e-9)
}

func minMidpointGap(segs []segment.Segment) float64 {
	gap := math.Inf(1)
	for i := 1; i < len(segs); i++ {
		m0 := (segs[i-1].Start + segs[i-1].End) / 2
		m1 := (segs[i].Start + segs[i].End) / 2
		gap = math.Min(gap, m1-m0)
	}
	return gap
}
