package tiles

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/maauso/samplepacker/internal/audio"
	"github.com/maauso/samplepacker/internal/dsp"
)

const (
	baseFFTSize  = 256
	maxZoomShift = 3
	dbFloor      = 1e-10
	normLow      = 5
	normHigh     = 95
)

// ErrEmptyRange is returned when a key's range holds no samples.
var ErrEmptyRange = errors.New("tile range holds no audio")

// viridis anchor colours, evenly spaced from 0 to 1.
var viridis = []color.RGBA{
	{68, 1, 84, 255},
	{59, 82, 139, 255},
	{33, 145, 140, 255},
	{94, 201, 98, 255},
	{253, 231, 37, 255},
}

// SpectrogramRenderer renders tiles from decoded audio.
type SpectrogramRenderer struct {
	pcm    audio.PCM
	width  int
	height int
}

var _ Renderer = (*SpectrogramRenderer)(nil)

// NewSpectrogramRenderer returns a renderer producing width x height tiles.
func NewSpectrogramRenderer(pcm audio.PCM, width, height int) *SpectrogramRenderer {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	return &SpectrogramRenderer{pcm: pcm, width: width, height: height}
}

// FFTSize returns the transform length used at a zoom level. Each zoom step
// doubles the frequency resolution up to 2048 points.
func FFTSize(zoom int) int {
	return baseFFTSize << max(0, min(zoom, maxZoomShift))
}

// Render draws the log-magnitude spectrogram of key's range. Magnitudes are
// normalised between their 5th and 95th percentiles.
func (r *SpectrogramRenderer) Render(ctx context.Context, key Key) (image.Image, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	samples := r.pcm.Slice(key.Start, key.End)
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: [%g, %g)", ErrEmptyRange, key.Start, key.End)
	}

	n := FFTSize(key.Zoom)
	if len(samples) < n {
		padded := make([]float64, n)
		copy(padded, samples)
		samples = padded
	}
	hop := max(1, (len(samples)-n)/max(1, r.width-1))
	spec := dsp.STFT(samples, n, hop)
	if len(spec.Frames) == 0 {
		return nil, fmt.Errorf("%w: [%g, %g)", ErrEmptyRange, key.Start, key.End)
	}

	db := make([][]float64, len(spec.Frames))
	flat := make([]float64, 0, len(spec.Frames)*spec.Bins())
	for i, frame := range spec.Frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		col := make([]float64, len(frame))
		for k, m := range frame {
			col[k] = 20 * math.Log10(m+dbFloor)
		}
		db[i] = col
		flat = append(flat, col...)
	}
	lo := dsp.Percentile(flat, normLow)
	hi := dsp.Percentile(flat, normHigh)

	rows := r.binRows(key.Scale, n, spec.Bins())
	img := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	for x := 0; x < r.width; x++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		col := db[x*len(db)/r.width]
		for y, bin := range rows {
			v := 0.0
			if hi > lo {
				v = (col[bin] - lo) / (hi - lo)
			}
			img.SetRGBA(x, y, colorAt(key.ColorMap, v))
		}
	}
	return img, nil
}

// binRows maps each image row, top to bottom, to an STFT bin.
func (r *SpectrogramRenderer) binRows(scale string, n, bins int) []int {
	rows := make([]int, r.height)
	sr := float64(r.pcm.SampleRate)
	fMin := sr / float64(n)
	fMax := sr / 2
	for y := range rows {
		f := 1 - (float64(y)+0.5)/float64(r.height)
		var bin float64
		if scale == ScaleLog && fMin > 0 {
			freq := fMin * math.Pow(fMax/fMin, f)
			bin = freq * float64(n) / sr
		} else {
			bin = f * float64(bins-1)
		}
		rows[y] = max(0, min(bins-1, int(math.Round(bin))))
	}
	return rows
}

// colorAt maps a normalised value to a colour, clamping to [0, 1].
func colorAt(cmap string, v float64) color.RGBA {
	if math.IsNaN(v) {
		v = 0
	}
	v = math.Max(0, math.Min(1, v))
	if cmap != ColorMapViridis {
		g := uint8(math.Round(v * 255))
		return color.RGBA{g, g, g, 255}
	}

	pos := v * float64(len(viridis)-1)
	i := int(pos)
	if i >= len(viridis)-1 {
		return viridis[len(viridis)-1]
	}
	frac := pos - float64(i)
	a, b := viridis[i], viridis[i+1]
	lerp := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + (float64(y)-float64(x))*frac))
	}
	return color.RGBA{lerp(a.R, b.R), lerp(a.G, b.G), lerp(a.B, b.B), 255}
}
