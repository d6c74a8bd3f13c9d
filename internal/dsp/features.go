// Package dsp holds the pure feature-extraction functions the detectors are
// built from. Nothing here keeps state; every function is safe to call
// concurrently on independent buffers.
package dsp

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	rmsEpsilon    = 1e-12
	zscoreEpsilon = 1e-12
)

// Run is a half-open [Onset, Offset) range of frame or sample indices.
type Run struct {
	Onset  int
	Offset int
}

// Len returns the number of indices covered by the run.
func (r Run) Len() int {
	return r.Offset - r.Onset
}

// RMSEnvelope returns the windowed root-mean-square of x. It returns nil when x
// is shorter than one window.
func RMSEnvelope(x []float64, window, hop int) []float64 {
	if window <= 0 || hop <= 0 || len(x) < window {
		return nil
	}
	frames := 1 + (len(x)-window)/hop
	env := make([]float64, frames)
	for i := range env {
		start := i * hop
		var sum float64
		for _, v := range x[start : start+window] {
			sum += v * v
		}
		env[i] = math.Sqrt(sum/float64(window) + rmsEpsilon)
	}
	return env
}

// ZScore returns (x - mean) / std using the population standard deviation.
// Zero-variance input yields all zeros.
func ZScore(x []float64) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	mean, std := stat.PopMeanStdDev(x, nil)
	if !(std > zscoreEpsilon) {
		return out
	}
	for i, v := range x {
		out[i] = (v - mean) / std
	}
	return out
}

// Percentile returns the p-th percentile (0..100) of x, interpolating linearly
// between the closest ranks. An empty input yields 0.
func Percentile(x []float64, p float64) float64 {
	if len(x) == 0 {
		return 0
	}
	sorted := make([]float64, len(x))
	copy(sorted, x)
	sort.Float64s(sorted)

	p = math.Max(0, math.Min(100, p))
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// Hysteresis gates values with two thresholds: a run opens when a value
// reaches high and stays open until a value drops below low. Runs still open
// at the end of the input are closed at len(values).
func Hysteresis(values []float64, high, low float64) []Run {
	var runs []Run
	active := false
	onset := 0
	for i, v := range values {
		switch {
		case !active && v >= high:
			active = true
			onset = i
		case active && v < low:
			active = false
			runs = append(runs, Run{Onset: onset, Offset: i})
		}
	}
	if active {
		runs = append(runs, Run{Onset: onset, Offset: len(values)})
	}
	return runs
}

// MaskRuns groups consecutive true entries of mask into runs.
func MaskRuns(mask []bool) []Run {
	var runs []Run
	onset := -1
	for i, on := range mask {
		if on && onset < 0 {
			onset = i
		} else if !on && onset >= 0 {
			runs = append(runs, Run{Onset: onset, Offset: i})
			onset = -1
		}
	}
	if onset >= 0 {
		runs = append(runs, Run{Onset: onset, Offset: len(mask)})
	}
	return runs
}

// PeakIn returns the maximum of values within the run, clamped to the slice.
func PeakIn(values []float64, r Run) float64 {
	lo := max(0, r.Onset)
	hi := min(len(values), r.Offset)
	if lo >= hi {
		return 0
	}
	return floats.Max(values[lo:hi])
}
