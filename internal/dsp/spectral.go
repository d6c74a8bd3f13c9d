package dsp

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	fluxEpsilon     = 1e-9
	flatnessEpsilon = 1e-10
	// RolloffFraction is the share of spectral energy below the rolloff point.
	RolloffFraction = 0.85
)

// Spectrogram is a sequence of magnitude frames, each n/2+1 bins wide.
type Spectrogram struct {
	Frames  [][]float64
	FFTSize int
	Hop     int
}

// Bins returns the number of frequency bins per frame.
func (s Spectrogram) Bins() int {
	return s.FFTSize/2 + 1
}

// STFT computes a Hann-windowed short-time magnitude spectrum. Input shorter
// than one FFT frame yields no frames.
func STFT(x []float64, n, hop int) Spectrogram {
	spec := Spectrogram{FFTSize: n, Hop: hop}
	if n <= 0 || hop <= 0 || len(x) < n {
		return spec
	}
	win := window.Hann(n)
	fft := fourier.NewFFT(n)
	frames := 1 + (len(x)-n)/hop
	spec.Frames = make([][]float64, frames)

	buf := make([]float64, n)
	coeffs := make([]complex128, n/2+1)
	for i := 0; i < frames; i++ {
		start := i * hop
		for k := 0; k < n; k++ {
			buf[k] = x[start+k] * win[k]
		}
		coeffs = fft.Coefficients(coeffs, buf)
		mag := make([]float64, len(coeffs))
		for k, c := range coeffs {
			mag[k] = cmplx.Abs(c)
		}
		spec.Frames[i] = mag
	}
	return spec
}

// BinFrequencies returns the centre frequency in Hz of each STFT bin.
func BinFrequencies(n, sampleRate int) []float64 {
	freqs := make([]float64, n/2+1)
	for k := range freqs {
		freqs[k] = float64(k) * float64(sampleRate) / float64(n)
	}
	return freqs
}

// SpectralFlux sums the positive frame-to-frame change of the sum-normalized
// magnitude spectrum. The first frame has no predecessor and scores 0.
func SpectralFlux(spec Spectrogram) []float64 {
	flux := make([]float64, len(spec.Frames))
	var prev []float64
	for i, frame := range spec.Frames {
		cur := normalizeColumn(frame)
		if prev != nil {
			var sum float64
			for k := range cur {
				if d := cur[k] - prev[k]; d > 0 {
					sum += d
				}
			}
			flux[i] = sum
		}
		prev = cur
	}
	return flux
}

func normalizeColumn(frame []float64) []float64 {
	var total float64
	for _, v := range frame {
		total += v
	}
	total += fluxEpsilon
	out := make([]float64, len(frame))
	for k, v := range frame {
		out[k] = v / total
	}
	return out
}

// Centroid returns the magnitude-weighted mean frequency of one frame, or 0
// for a silent frame.
func Centroid(freqs, mag []float64) float64 {
	var num, den float64
	for k, m := range mag {
		num += freqs[k] * m
		den += m
	}
	if den <= 0 {
		return 0
	}
	return num / den
}

// Rolloff returns the frequency below which RolloffFraction of the frame's
// magnitude lies.
func Rolloff(freqs, mag []float64) float64 {
	var total float64
	for _, m := range mag {
		total += m
	}
	if total <= 0 || len(freqs) == 0 {
		return 0
	}
	target := RolloffFraction * total
	var cum float64
	for k, m := range mag {
		cum += m
		if cum >= target {
			return freqs[k]
		}
	}
	return freqs[len(freqs)-1]
}

// Flatness returns the ratio of geometric to arithmetic mean magnitude: near 1
// for noise, near 0 for tonal frames.
func Flatness(mag []float64) float64 {
	if len(mag) == 0 {
		return 0
	}
	var logSum, sum float64
	for _, m := range mag {
		v := m + flatnessEpsilon
		logSum += math.Log(v)
		sum += v
	}
	n := float64(len(mag))
	return math.Exp(logSum/n) / (sum / n)
}

// FrameRMS returns the root-mean-square magnitude of each frame.
func FrameRMS(spec Spectrogram) []float64 {
	out := make([]float64, len(spec.Frames))
	for i, frame := range spec.Frames {
		var sum float64
		for _, m := range frame {
			sum += m * m
		}
		out[i] = math.Sqrt(sum/float64(len(frame)) + rmsEpsilon)
	}
	return out
}
