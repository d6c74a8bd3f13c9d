package detect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maauso/samplepacker/internal/segment"
	"github.com/maauso/samplepacker/internal/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func assertWithin(t *testing.T, segs []segment.Segment, duration float64) {
	t.Helper()
	for i, s := range segs {
		assert.True(t, s.Valid(duration), "segment %d out of bounds: %+v", i, s)
		if i > 0 {
			assert.LessOrEqual(t, segs[i-1].Start, s.Start, "segments must be ordered by start")
		}
	}
}

func TestVoiceVAD_FindsVoicedRegion(t *testing.T) {
	x := noiseBed(3, 0.005, 7)
	addTone(x, 1.0, 2.0, 200, 0.1, 4)

	s := settings.Default()
	segs, err := NewVoiceVAD(nil).Detect(context.Background(), x, testRate, s)
	require.NoError(t, err)
	require.Len(t, segs, 1)

	assert.InDelta(t, 1.0, segs[0].Start, 0.05)
	assert.InDelta(t, 2.0, segs[0].End, 0.05)
	assert.Equal(t, segment.DetectorVoice, segs[0].Detector)
	assert.Equal(t, 1.0, segs[0].Score)
}

func TestVoiceVAD_MinDuration(t *testing.T) {
	x := noiseBed(3, 0.005, 7)
	addTone(x, 1.0, 1.2, 200, 0.1, 4)

	s := settings.Default()
	segs, err := NewVoiceVAD(nil).Detect(context.Background(), x, testRate, s)
	require.NoError(t, err)
	assert.Empty(t, segs, "a 200 ms run is shorter than the 400 ms minimum")

	s.Voice.MinMs = 100
	segs, err = NewVoiceVAD(nil).Detect(context.Background(), x, testRate, s)
	require.NoError(t, err)
	assert.Len(t, segs, 1)
}

func TestVoiceVAD_UnsupportedRate(t *testing.T) {
	_, err := NewVoiceVAD(nil).Detect(context.Background(), make([]float64, 44100), 44100, settings.Default())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDetectorUnavailable)
}

func TestVoiceVAD_Aggressiveness(t *testing.T) {
	x := noiseBed(3, 0.005, 11)
	// A quiet voice only 8 dB above the bed passes lenient but not strict gating.
	addTone(x, 1.0, 2.0, 200, 0.0035, 4)

	s := settings.Default()
	s.Aggressiveness = 0
	lenient, err := NewVoiceVAD(nil).Detect(context.Background(), x, testRate, s)
	require.NoError(t, err)

	s.Aggressiveness = 3
	strict, err := NewVoiceVAD(nil).Detect(context.Background(), x, testRate, s)
	require.NoError(t, err)

	assert.NotEmpty(t, lenient)
	assert.Empty(t, strict)
}

func TestToPCM16Frames(t *testing.T) {
	frames := ToPCM16Frames([]float64{0, 1, -1, 2, -2, 0.5, 0.25}, 3)
	require.Len(t, frames, 2, "trailing partial frame is dropped")
	assert.Equal(t, []int16{0, 32767, -32767}, frames[0])
	assert.Equal(t, []int16{32767, -32767, 16384}, frames[1])
}

func TestTransientFlux_FindsTonalHits(t *testing.T) {
	x := noiseBed(4, 0.01, 3)
	hits := []float64{1.0, 2.0, 3.0}
	for _, h := range hits {
		addTone(x, h, h+0.15, 3000, 0.5, 1)
	}

	s := settings.Default()
	s.Transient.MinMs = 0
	segs, err := TransientFlux{}.Detect(context.Background(), x, testRate, s)
	require.NoError(t, err)
	require.NotEmpty(t, segs)
	assertWithin(t, segs, 4)

	for _, seg := range segs {
		near := false
		for _, h := range hits {
			if seg.Start >= h-0.2 && seg.Start <= h+0.35 {
				near = true
			}
		}
		assert.True(t, near, "segment %+v is not near any hit", seg)
		assert.Equal(t, segment.DetectorTransient, seg.Detector)
		assert.Greater(t, seg.Score, 0.0)
	}
}

func TestTransientFlux_ShortInput(t *testing.T) {
	segs, err := TransientFlux{}.Detect(context.Background(), make([]float64, 100), testRate, settings.Default())
	require.NoError(t, err)
	assert.Empty(t, segs)
}

func TestNonSilenceEnergy_FindsBursts(t *testing.T) {
	x := noiseBed(6, 0.01, 5)
	addNoiseBurst(x, 1.0, 2.0, 0.5, 9)
	addNoiseBurst(x, 4.0, 4.8, 0.5, 13)

	segs, err := NonSilenceEnergy{}.Detect(context.Background(), x, testRate, settings.Default())
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assertWithin(t, segs, 6)

	assert.InDelta(t, 1.0, segs[0].Start, 0.3)
	assert.InDelta(t, 2.0, segs[0].End, 0.3)
	assert.InDelta(t, 4.0, segs[1].Start, 0.3)
	assert.InDelta(t, 4.8, segs[1].End, 0.3)
}

func TestNonSilenceEnergy_Silence(t *testing.T) {
	segs, err := NonSilenceEnergy{}.Detect(context.Background(), make([]float64, 3*testRate), testRate, settings.Default())
	require.NoError(t, err)
	assert.Empty(t, segs, "digital silence has no non-silent region")
}

func TestSpectralInterestingness(t *testing.T) {
	x := noiseBed(6, 0.01, 5)
	addNoiseBurst(x, 1.0, 2.0, 0.5, 9)
	addNoiseBurst(x, 4.0, 4.8, 0.5, 13)

	t.Run("rms weighted score picks loud regions", func(t *testing.T) {
		s := settings.Default()
		s.Spectral.Weights = settings.SpectralWeights{RMS: 1}
		s.Spectral.MinMs = 0

		segs, err := SpectralInterestingness{}.Detect(context.Background(), x, testRate, s)
		require.NoError(t, err)
		require.NotEmpty(t, segs)
		assertWithin(t, segs, 6)
		for _, seg := range segs {
			inBurst := segment.Overlaps(seg, segment.New(0.9, 2.1, "", 0)) ||
				segment.Overlaps(seg, segment.New(3.9, 4.9, "", 0))
			assert.True(t, inBurst, "segment %+v outside bursts", seg)
		}
	})

	t.Run("default weights", func(t *testing.T) {
		segs, err := SpectralInterestingness{}.Detect(context.Background(), x, testRate, settings.Default())
		require.NoError(t, err)
		assertWithin(t, segs, 6)
	})
}

func TestAuto(t *testing.T) {
	s := settings.Default()
	samples := make([]float64, 10)

	t.Run("pools and tags results", func(t *testing.T) {
		voice := &mockDetector{name: segment.DetectorVoice}
		voice.On("Detect", mock.Anything, samples, testRate, s).
			Return([]segment.Segment{segment.New(2, 3, segment.DetectorVoice, 1)}, nil)
		transient := &mockDetector{name: segment.DetectorTransient}
		transient.On("Detect", mock.Anything, samples, testRate, s).
			Return([]segment.Segment{segment.New(0.5, 1, segment.DetectorTransient, 2)}, nil)

		segs, err := NewAuto(nil, voice, transient).Detect(context.Background(), samples, testRate, s)
		require.NoError(t, err)
		require.Len(t, segs, 2)
		assert.Equal(t, segment.DetectorTransient, segs[0].PrimaryDetector())
		assert.Equal(t, segment.DetectorVoice, segs[1].PrimaryDetector())
		voice.AssertExpectations(t)
		transient.AssertExpectations(t)
	})

	t.Run("skips unavailable detector", func(t *testing.T) {
		voice := &mockDetector{name: segment.DetectorVoice}
		voice.On("Detect", mock.Anything, samples, testRate, s).Return(nil, ErrDetectorUnavailable)
		energy := &mockDetector{name: segment.DetectorNonSilence}
		energy.On("Detect", mock.Anything, samples, testRate, s).
			Return([]segment.Segment{segment.New(0, 1, segment.DetectorNonSilence, 1)}, nil)

		segs, err := NewAuto(nil, voice, energy).Detect(context.Background(), samples, testRate, s)
		require.NoError(t, err)
		assert.Len(t, segs, 1)
	})

	t.Run("fails when every detector fails", func(t *testing.T) {
		voice := &mockDetector{name: segment.DetectorVoice}
		voice.On("Detect", mock.Anything, samples, testRate, s).Return(nil, ErrDetectorUnavailable)

		_, err := NewAuto(nil, voice, panicDetector{}).Detect(context.Background(), samples, testRate, s)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDetectorFailure)
		assert.ErrorIs(t, err, ErrDetectorUnavailable)
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		voice := &mockDetector{name: segment.DetectorVoice}

		_, err := NewAuto(nil, voice).Detect(ctx, samples, testRate, s)
		assert.ErrorIs(t, err, context.Canceled)
		voice.AssertNotCalled(t, "Detect", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestRun(t *testing.T) {
	s := settings.Default()

	t.Run("wraps plain errors as failures", func(t *testing.T) {
		d := &mockDetector{name: segment.DetectorSpectral}
		d.On("Detect", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

		_, err := Run(context.Background(), d, nil, testRate, s)
		var de *DetectorError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, segment.DetectorSpectral, de.Detector)
		assert.ErrorIs(t, err, ErrDetectorFailure)
	})

	t.Run("recovers panics", func(t *testing.T) {
		_, err := Run(context.Background(), panicDetector{}, nil, testRate, s)
		assert.ErrorIs(t, err, ErrDetectorFailure)
		assert.Contains(t, err.Error(), "index out of range")
	})

	t.Run("keeps unavailable distinct", func(t *testing.T) {
		_, err := Run(context.Background(), NewVoiceVAD(nil), make([]float64, 100), 22050, s)
		assert.ErrorIs(t, err, ErrDetectorUnavailable)
		assert.NotErrorIs(t, err, ErrDetectorFailure)
	})
}

func TestForMode(t *testing.T) {
	tests := []struct {
		mode string
		name string
	}{
		{settings.ModeVoice, segment.DetectorVoice},
		{settings.ModeTransient, segment.DetectorTransient},
		{settings.ModeNonSilence, segment.DetectorNonSilence},
		{settings.ModeSpectral, segment.DetectorSpectral},
		{settings.ModeAuto, settings.ModeAuto},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			d, err := ForMode(tt.mode)
			require.NoError(t, err)
			assert.Equal(t, tt.name, d.Name())
		})
	}

	_, err := ForMode("music")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestTask(t *testing.T) {
	t.Run("completes", func(t *testing.T) {
		x := noiseBed(6, 0.01, 5)
		addNoiseBurst(x, 1.0, 2.0, 0.5, 9)

		task := StartTask(context.Background(), NonSilenceEnergy{}, x, testRate, settings.Default())
		out := task.Wait()
		require.NoError(t, out.Err)
		assert.False(t, out.Cancelled)
		assert.NotEmpty(t, out.Segments)
	})

	t.Run("cancel discards partial output", func(t *testing.T) {
		d := &blockingDetector{started: make(chan struct{})}
		task := StartTask(context.Background(), d, nil, testRate, settings.Default())

		<-d.started
		task.Cancel()

		select {
		case <-task.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("task did not stop after cancel")
		}
		out := task.Wait()
		assert.True(t, out.Cancelled)
		assert.Nil(t, out.Segments)
		assert.NoError(t, out.Err)
	})

	t.Run("reports failures", func(t *testing.T) {
		out := StartTask(context.Background(), panicDetector{}, nil, testRate, settings.Default()).Wait()
		assert.False(t, out.Cancelled)
		assert.ErrorIs(t, out.Err, ErrDetectorFailure)
	})
}
