package segment

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Segment
		want bool
	}{
		{"disjoint", New(0, 1, DetectorVoice, 1), New(2, 3, DetectorVoice, 1), false},
		{"touching", New(0, 1, DetectorVoice, 1), New(1, 2, DetectorVoice, 1), false},
		{"partial", New(0, 1, DetectorVoice, 1), New(0.5, 1.5, DetectorVoice, 1), true},
		{"contained", New(0, 3, DetectorVoice, 1), New(1, 2, DetectorVoice, 1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Overlaps(tt.a, tt.b))
			assert.Equal(t, tt.want, Overlaps(tt.b, tt.a))
		})
	}
}

func TestIsDuplicate(t *testing.T) {
	a := New(1.000, 2.000, DetectorVoice, 1)

	assert.True(t, IsDuplicate(a, New(1.004, 2.003, DetectorTransient, 1), DuplicateTolerance))
	assert.True(t, IsDuplicate(a, New(1.005, 2.000, DetectorTransient, 1), DuplicateTolerance))
	assert.False(t, IsDuplicate(a, New(1.006, 2.000, DetectorTransient, 1), DuplicateTolerance))
	assert.False(t, IsDuplicate(a, New(1.000, 2.010, DetectorTransient, 1), DuplicateTolerance))
}

func TestSortByStart(t *testing.T) {
	segs := []Segment{
		New(2, 3, DetectorVoice, 0.5),
		New(1, 2, DetectorVoice, 0.2),
		New(1, 2, DetectorTransient, 0.9),
		New(1, 2, DetectorSpectral, 0.2),
	}

	SortByStart(segs)

	assert.Equal(t, DetectorTransient, segs[0].Detector)
	assert.Equal(t, DetectorSpectral, segs[1].Detector)
	assert.Equal(t, DetectorVoice, segs[2].Detector)
	assert.Equal(t, 2.0, segs[3].Start)
}

func TestStronger(t *testing.T) {
	voice := New(0, 1, DetectorVoice, 0.5)
	transient := New(0, 1, DetectorTransient, 0.5)
	nonsilence := New(0, 1, DetectorNonSilence, 0.9)

	assert.True(t, Stronger(voice, transient), "equal score falls back to priority")
	assert.False(t, Stronger(transient, voice))
	assert.True(t, Stronger(nonsilence, voice), "score wins over priority")
}

func TestSegment_Valid(t *testing.T) {
	assert.True(t, New(0, 1, DetectorVoice, 1).Valid(1))
	assert.False(t, New(0, 1.5, DetectorVoice, 1).Valid(1))
	assert.False(t, New(1, 1, DetectorVoice, 1).Valid(2))
	assert.False(t, New(-0.1, 1, DetectorVoice, 1).Valid(2))
	assert.False(t, New(math.NaN(), 1, DetectorVoice, 1).Valid(2))
	assert.False(t, New(0, math.Inf(1), DetectorVoice, 1).Valid(2))
}

func TestSegment_CloneIsDeep(t *testing.T) {
	s := New(0, 1, DetectorVoice, 1)
	s.SetAttr(AttrPrimaryDetector, DetectorVoice)

	c := s.Clone()
	c.SetAttr(AttrPrimaryDetector, DetectorTransient)

	assert.Equal(t, DetectorVoice, s.PrimaryDetector())
	assert.Equal(t, DetectorTransient, c.PrimaryDetector())
}

func TestSegment_CoreSurvivesJSON(t *testing.T) {
	s := New(0.9, 2.1, DetectorVoice, 1)
	s.SetAttr(AttrRawStart, 1.0)
	s.SetAttr(AttrRawEnd, 2.0)

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded Segment
	require.NoError(t, json.Unmarshal(data, &decoded))

	start, end := decoded.Core()
	assert.Equal(t, 1.0, start)
	assert.Equal(t, 2.0, end)
}

func TestSegment_Detectors(t *testing.T) {
	s := New(0, 1, DetectorMixed, 1)
	assert.Equal(t, []string{DetectorMixed}, s.Detectors())

	s.SetAttr(AttrDetectors, "transient,voice")
	assert.Equal(t, []string{"transient", "voice"}, s.Detectors())
}
