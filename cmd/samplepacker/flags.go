package main

import (
	"strconv"

	"github.com/alecthomas/kong"

	"github.com/maauso/samplepacker/internal/export"
	"github.com/maauso/samplepacker/internal/settings"
)

// SettingsFlags override settings.Default. Their defaults are interpolated
// from it so help output shows the real values.
type SettingsFlags struct {
	Mode           string  `help:"Detector selection." enum:"auto,voice,transient,nonsilence,spectral" default:"${mode}"`
	Aggressiveness int     `help:"Voice detector strictness, 0 to 3." default:"${aggressiveness}"`
	LowFreq        float64 `help:"Voice bandpass low bound in Hz." default:"${low_freq}"`
	HighFreq       float64 `help:"Voice bandpass high bound in Hz." default:"${high_freq}"`
	FrameMs        int     `help:"Voice frame length: 10, 20 or 30 ms." default:"${frame_ms}"`

	MergeGapMs    float64 `help:"Merge segments closer than this." default:"${merge_gap_ms}"`
	MinDurationMs float64 `help:"Drop segments shorter than this." default:"${min_duration_ms}"`
	MaxDurationMs float64 `help:"Truncate segments longer than this." default:"${max_duration_ms}"`
	PrePadMs      float64 `help:"Padding added before each segment." default:"${pre_pad_ms}"`
	PostPadMs     float64 `help:"Padding added after each segment." default:"${post_pad_ms}"`
	MaxSamples    int     `help:"Maximum segments kept per file." default:"${max_samples}"`
	SpreadMode    string  `help:"How segments are chosen when capped." enum:"strict,closest" default:"${spread_mode}"`

	OverlapPolicy         string `help:"Default handling of overlaps with a previous output." enum:"discard_overlaps,discard_duplicates,keep_all" default:"${overlap_policy}"`
	RememberOverlapChoice bool   `help:"Store the overlap policy with the output for later runs."`

	Denoise          string  `help:"Denoise filter." enum:"off,afftdn,anlmdn" default:"${denoise}"`
	HighpassHz       float64 `help:"Highpass before denoising, 0 disables." default:"${highpass_hz}"`
	LowpassHz        float64 `help:"Lowpass before denoising, 0 disables." default:"${lowpass_hz}"`
	NoiseReductionDB float64 `name:"noise-reduction-db" help:"afftdn reduction strength in dB." default:"${noise_reduction_db}"`
	AnalysisRate     int     `help:"Analysis sample rate in Hz." enum:"8000,16000,32000,48000" default:"${analysis_rate}"`
}

// Settings applies the flags over settings.Default.
func (f SettingsFlags) Settings() settings.ProcessingSettings {
	s := settings.Default()
	s.Mode = f.Mode
	s.Aggressiveness = f.Aggressiveness
	s.LowFreq = f.LowFreq
	s.HighFreq = f.HighFreq
	s.FrameDurationMs = f.FrameMs
	s.MergeGapMs = f.MergeGapMs
	s.MinDurationMs = f.MinDurationMs
	s.MaxDurationMs = f.MaxDurationMs
	s.PrePadMs = f.PrePadMs
	s.PostPadMs = f.PostPadMs
	s.MaxSamples = f.MaxSamples
	s.SpreadMode = f.SpreadMode
	s.OverlapPolicy = f.OverlapPolicy
	s.RememberOverlapChoice = f.RememberOverlapChoice
	s.DenoiseMethod = f.Denoise
	s.HighpassHz = f.HighpassHz
	s.LowpassHz = f.LowpassHz
	s.NoiseReductionDB = f.NoiseReductionDB
	s.AnalysisSampleRate = f.AnalysisRate
	return s
}

func settingsVars() kong.Vars {
	d := settings.Default()
	ff := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return kong.Vars{
		"mode":               d.Mode,
		"aggressiveness":     strconv.Itoa(d.Aggressiveness),
		"low_freq":           ff(d.LowFreq),
		"high_freq":          ff(d.HighFreq),
		"frame_ms":           strconv.Itoa(d.FrameDurationMs),
		"merge_gap_ms":       ff(d.MergeGapMs),
		"min_duration_ms":    ff(d.MinDurationMs),
		"max_duration_ms":    ff(d.MaxDurationMs),
		"pre_pad_ms":         ff(d.PrePadMs),
		"post_pad_ms":        ff(d.PostPadMs),
		"max_samples":        strconv.Itoa(d.MaxSamples),
		"spread_mode":        d.SpreadMode,
		"overlap_policy":     d.OverlapPolicy,
		"denoise":            d.DenoiseMethod,
		"highpass_hz":        ff(d.HighpassHz),
		"lowpass_hz":         ff(d.LowpassHz),
		"noise_reduction_db": ff(d.NoiseReductionDB),
		"analysis_rate":      strconv.Itoa(d.AnalysisSampleRate),
		"template":           export.DefaultTemplate,
	}
}
