package dsp

import "math"

// butterworthQ are the section Qs of a 4th-order Butterworth response split
// into two biquads.
var butterworthQ = [2]float64{0.54119610, 1.30656296}

type biquad struct {
	b0, b1, b2, a1, a2 float64
}

func lowpassBiquad(fc, sr, q float64) biquad {
	w0 := 2 * math.Pi * fc / sr
	alpha := math.Sin(w0) / (2 * q)
	cos := math.Cos(w0)
	a0 := 1 + alpha
	return biquad{
		b0: (1 - cos) / 2 / a0,
		b1: (1 - cos) / a0,
		b2: (1 - cos) / 2 / a0,
		a1: -2 * cos / a0,
		a2: (1 - alpha) / a0,
	}
}

func highpassBiquad(fc, sr, q float64) biquad {
	w0 := 2 * math.Pi * fc / sr
	alpha := math.Sin(w0) / (2 * q)
	cos := math.Cos(w0)
	a0 := 1 + alpha
	return biquad{
		b0: (1 + cos) / 2 / a0,
		b1: -(1 + cos) / a0,
		b2: (1 + cos) / 2 / a0,
		a1: -2 * cos / a0,
		a2: (1 - alpha) / a0,
	}
}

// apply runs the section over x in place (direct form II transposed).
func (f biquad) apply(x []float64) {
	var z1, z2 float64
	for i, in := range x {
		out := f.b0*in + z1
		z1 = f.b1*in - f.a1*out + z2
		z2 = f.b2*in - f.a2*out
		x[i] = out
	}
}

// Bandpass restricts x to [low, high] Hz with 4th-order Butterworth sections,
// run forward and backward so the output has no phase delay. A bound outside
// (0, nyquist) is skipped, so the filter degrades to a highpass or lowpass and
// to a plain copy when neither bound applies. x is not modified.
func Bandpass(x []float64, sampleRate int, low, high float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	if len(x) == 0 || sampleRate <= 0 {
		return out
	}
	sr := float64(sampleRate)
	nyquist := sr / 2

	var sections []biquad
	if low > 0 && low < nyquist {
		for _, q := range butterworthQ {
			sections = append(sections, highpassBiquad(low, sr, q))
		}
	}
	if high > 0 && high < nyquist && high > low {
		for _, q := range butterworthQ {
			sections = append(sections, lowpassBiquad(high, sr, q))
		}
	}
	if len(sections) == 0 {
		return out
	}

	for _, s := range sections {
		s.apply(out)
	}
	reverse(out)
	for _, s := range sections {
		s.apply(out)
	}
	reverse(out)
	return out
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
