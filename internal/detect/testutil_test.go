package detect

import (
	"context"
	"math"

	"github.com/maauso/samplepacker/internal/segment"
	"github.com/maauso/samplepacker/internal/settings"
	"github.com/stretchr/testify/mock"
)

const testRate = 16000

// lcg is a deterministic noise source so test signals are reproducible.
type lcg struct {
	state uint32
}

func (g *lcg) next() float64 {
	g.state = g.state*1664525 + 1013904223
	return float64(g.state)/float64(math.MaxUint32)*2 - 1
}

// noiseBed returns seconds of uniform noise at the given amplitude.
func noiseBed(seconds, amplitude float64, seed uint32) []float64 {
	g := &lcg{state: seed}
	x := make([]float64, int(seconds*testRate))
	for i := range x {
		x[i] = amplitude * g.next()
	}
	return x
}

// addNoiseBurst overwrites [start, end) seconds with louder noise.
func addNoiseBurst(x []float64, start, end, amplitude float64, seed uint32) {
	g := &lcg{state: seed}
	for i := int(start * testRate); i < int(end*testRate) && i < len(x); i++ {
		x[i] = amplitude * g.next()
	}
}

// addTone adds a sum of harmonics of f0 within [start, end) seconds.
func addTone(x []float64, start, end, f0, amplitude float64, harmonics int) {
	for i := int(start * testRate); i < int(end*testRate) && i < len(x); i++ {
		t := float64(i) / testRate
		for h := 1; h <= harmonics; h++ {
			x[i] += amplitude * math.Sin(2*math.Pi*f0*float64(h)*t)
		}
	}
}

// mockDetector implements Detector for testing.
type mockDetector struct {
	mock.Mock
	name string
}

func (m *mockDetector) Name() string {
	return m.name
}

func (m *mockDetector) Detect(ctx context.Context, samples []float64, sampleRate int, s settings.ProcessingSettings) ([]segment.Segment, error) {
	args := m.Called(ctx, samples, sampleRate, s)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]segment.Segment), args.Error(1)
}

// blockingDetector waits for cancellation, emulating a long analysis.
type blockingDetector struct {
	started chan struct{}
}

func (b *blockingDetector) Name() string { return "blocking" }

func (b *blockingDetector) Detect(ctx context.Context, _ []float64, _ int, _ settings.ProcessingSettings) ([]segment.Segment, error) {
	close(b.started)
	<-ctx.Done()
	return []segment.Segment{segment.New(0, 1, "blocking", 1)}, ctx.Err()
}

// panicDetector fails in the worst possible way.
type panicDetector struct{}

func (panicDetector) Name() string { return "panic" }

func (panicDetector) Detect(context.Context, []float64, int, settings.ProcessingSettings) ([]segment.Segment, error) {
	panic("index out of range")
}
