// Package settings defines the immutable ProcessingSettings snapshot passed into
// every pipeline call, together with its defaults and validation rules.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/OneOfOne/xxhash"
	"github.com/go-playground/validator/v10"
)

// ErrInvalidSettings is returned when any option is out of range.
var ErrInvalidSettings = errors.New("invalid settings")

// Detector selection modes.
const (
	ModeAuto       = "auto"
	ModeVoice      = "voice"
	ModeTransient  = "transient"
	ModeNonSilence = "nonsilence"
	ModeSpectral   = "spectral"
)

// Spread modes applied when capping to MaxSamples.
const (
	SpreadStrict  = "strict"
	SpreadClosest = "closest"
)

// Denoise methods understood by the decode collaborator.
const (
	DenoiseOff    = "off"
	DenoiseAFFTDN = "afftdn"
	DenoiseANLMDN = "anlmdn"
)

// DefaultOverlapPolicy keeps distinct overlaps and drops only near-identical
// re-detections.
const DefaultOverlapPolicy = "discard_duplicates"

// TransientSettings tunes the spectral-flux transient detector.
type TransientSettings struct {
	Percentile float64 `json:"percentile" validate:"gte=0,lte=100"`
	RiseFactor float64 `json:"rise_factor" validate:"gt=0"`
	FallFactor float64 `json:"fall_factor" validate:"gt=0"`
	MinMs      float64 `json:"min_ms" validate:"gte=0"`
	MaxMs      float64 `json:"max_ms" validate:"gt=0,gtefield=MinMs"`
	FFTSize    int     `json:"fft_size" validate:"min=64,max=65536"`
	HopSize    int     `json:"hop_size" validate:"min=1,ltefield=FFTSize"`
}

// EnergySettings tunes the RMS non-silence detector.
type EnergySettings struct {
	Percentile float64 `json:"percentile" validate:"gte=0,lte=100"`
	RiseFactor float64 `json:"rise_factor" validate:"gt=0"`
	FallFactor float64 `json:"fall_factor" validate:"gt=0"`
	WindowMs   float64 `json:"window_ms" validate:"gt=0"`
	HopMs      float64 `json:"hop_ms" validate:"gt=0"`
	MinMs      float64 `json:"min_ms" validate:"gte=0"`
	MaxMs      float64 `json:"max_ms" validate:"gt=0,gtefield=MinMs"`
}

// SpectralWeights weighs the per-frame features of the spectral detector.
type SpectralWeights struct {
	Flux     float64 `json:"flux"`
	Centroid float64 `json:"centroid"`
	Rolloff  float64 `json:"rolloff"`
	Flatness float64 `json:"flatness"`
	RMS      float64 `json:"rms"`
}

// SpectralSettings tunes the spectral-interestingness detector.
type SpectralSettings struct {
	Percentile float64         `json:"percentile" validate:"gte=0,lte=100"`
	MinMs      float64         `json:"min_ms" validate:"gte=0"`
	FFTSize    int             `json:"fft_size" validate:"min=64,max=65536"`
	HopSize    int             `json:"hop_size" validate:"min=1,ltefield=FFTSize"`
	Weights    SpectralWeights `json:"weights"`
}

// VoiceSettings tunes the voice activity detector beyond the top-level
// aggressiveness, band and frame options.
type VoiceSettings struct {
	MinMs float64 `json:"min_ms" validate:"gte=0"`
}

// ProcessingSettings is a configuration snapshot. It is passed by value and
// never mutated once validated.
type ProcessingSettings struct {
	Mode            string  `json:"mode" validate:"oneof=auto voice transient nonsilence spectral"`
	Aggressiveness  int     `json:"aggressiveness" validate:"min=0,max=3"`
	LowFreq         float64 `json:"low_freq" validate:"gte=0"`
	HighFreq        float64 `json:"high_freq" validate:"gte=0"`
	FrameDurationMs int     `json:"frame_duration_ms" validate:"oneof=10 20 30"`

	MergeGapMs    float64 `json:"merge_gap_ms" validate:"gte=0"`
	MinDurationMs float64 `json:"min_duration_ms" validate:"gte=0"`
	MaxDurationMs float64 `json:"max_duration_ms" validate:"gt=0,gtefield=MinDurationMs"`
	PrePadMs      float64 `json:"pre_pad_ms" validate:"gte=0"`
	PostPadMs     float64 `json:"post_pad_ms" validate:"gte=0"`
	MaxSamples    int     `json:"max_samples" validate:"min=1,max=10000"`
	SpreadMode    string  `json:"spread_mode" validate:"oneof=strict closest"`

	OverlapPolicy         string `json:"overlap_policy" validate:"oneof=discard_overlaps discard_duplicates keep_all"`
	RememberOverlapChoice bool   `json:"remember_overlap_choice"`

	Jobs     int    `json:"jobs" validate:"min=1,max=256"`
	CacheDir string `json:"cache_dir"`

	DenoiseMethod      string  `json:"denoise_method" validate:"oneof=off afftdn anlmdn"`
	HighpassHz         float64 `json:"highpass_hz" validate:"gte=0"`
	LowpassHz          float64 `json:"lowpass_hz" validate:"gte=0"`
	NoiseReductionDB   float64 `json:"noise_reduction_db" validate:"gte=0,lte=30"`
	AnalysisSampleRate int     `json:"analysis_sample_rate" validate:"oneof=8000 16000 32000 48000"`

	Transient TransientSettings `json:"transient"`
	Energy    EnergySettings    `json:"energy"`
	Spectral  SpectralSettings  `json:"spectral"`
	Voice     VoiceSettings     `json:"voice"`
}

// Default returns the settings used when nothing is overridden.
func Default() ProcessingSettings {
	jobs := runtime.NumCPU()
	if jobs < 1 {
		jobs = 1
	}
	return ProcessingSettings{
		Mode:               ModeAuto,
		Aggressiveness:     2,
		LowFreq:            200,
		HighFreq:           4500,
		FrameDurationMs:    30,
		MergeGapMs:         0,
		MinDurationMs:      100,
		MaxDurationMs:      60000,
		MaxSamples:         256,
		SpreadMode:         SpreadStrict,
		OverlapPolicy:      DefaultOverlapPolicy,
		Jobs:               jobs,
		DenoiseMethod:      DenoiseAFFTDN,
		HighpassHz:         20,
		LowpassHz:          20000,
		NoiseReductionDB:   12,
		AnalysisSampleRate: 16000,
		Transient: TransientSettings{
			Percentile: 85,
			RiseFactor: 1.0,
			FallFactor: 0.7,
			MinMs:      50,
			MaxMs:      60000,
			FFTSize:    2048,
			HopSize:    512,
		},
		Energy: EnergySettings{
			Percentile: 75,
			RiseFactor: 1.0,
			FallFactor: 0.8,
			WindowMs:   100,
			HopMs:      50,
			MinMs:      400,
			MaxMs:      60000,
		},
		Spectral: SpectralSettings{
			Percentile: 85,
			MinMs:      400,
			FFTSize:    2048,
			HopSize:    512,
			Weights: SpectralWeights{
				Flux:     0.25,
				Centroid: 0.2,
				Rolloff:  0.2,
				Flatness: 0.15,
				RMS:      0.2,
			},
		},
		Voice: VoiceSettings{MinMs: 400},
	}
}

var validate = validator.New()

// Validate checks every range before any processing begins. All offending
// fields are reported in one error wrapping ErrInvalidSettings.
func (s ProcessingSettings) Validate() error {
	var problems []string

	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fieldRule(fe), fe.Value()))
		}
	}

	if s.LowFreq > 0 && s.HighFreq > 0 && s.HighFreq <= s.LowFreq {
		problems = append(problems, fmt.Sprintf("high_freq %.1f must exceed low_freq %.1f", s.HighFreq, s.LowFreq))
	}
	if s.HighpassHz > 0 && s.LowpassHz > 0 && s.LowpassHz <= s.HighpassHz {
		problems = append(problems, fmt.Sprintf("lowpass_hz %.1f must exceed highpass_hz %.1f", s.LowpassHz, s.HighpassHz))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(problems, "; "))
	}
	return nil
}

func fieldRule(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// decodeParams is the subset of settings that changes derived audio.
type decodeParams struct {
	Denoise struct {
		Method string  `json:"method"`
		HP     float64 `json:"hp"`
		LP     float64 `json:"lp"`
		NR     float64 `json:"nr"`
	} `json:"denoise"`
	Analysis struct {
		SR int `json:"sr"`
		CH int `json:"ch"`
	} `json:"analysis"`
}

// DecodeHash digests only the options that affect decoding and denoising, so
// that changing detector options never invalidates cached audio.
func (s ProcessingSettings) DecodeHash() uint64 {
	var p decodeParams
	p.Denoise.Method = s.DenoiseMethod
	p.Denoise.HP = s.HighpassHz
	p.Denoise.LP = s.LowpassHz
	p.Denoise.NR = s.NoiseReductionDB
	p.Analysis.SR = s.AnalysisSampleRate
	p.Analysis.CH = 1

	data, err := json.Marshal(p)
	if err != nil {
		// Non-finite values cannot be marshalled; hash their textual form.
		data = []byte(fmt.Sprintf("%+v", p))
	}
	return xxhash.Checksum64(data)
}
