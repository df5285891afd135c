package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Streaming settings
const (
	StreamChannels      = 2
	StreamSampleRate    = 44100
	StreamNumBuffers    = 4     // Hardware buffers in rotation
	StreamBufferSamples = 16384 // Interleaved samples per hardware buffer
	PollIntervalMs      = 10    // Streaming goroutine poll period
	MaxReadRetries      = 4     // Consecutive transient decoder failures before giving up
	EventQueueSize      = 8
)

// Analyzer settings
const (
	AnalyzerRingSize    = 16384 // Mono samples, must be a power of two
	FFTSize             = 2048
	FFTHop              = FFTSize / 2 // 50% overlap
	AnalyzerIntervalMs  = 16
	NumBands            = 23
	BandMinFreq         = 20.0
	BandMaxFreq         = 20000.0
	BassWeightCutoff    = 100.0
	BassWeight          = 1.1
	TrebleWeightCutoff  = 10000.0
	TrebleWeight        = 1.05
	MinDB               = -60.0
	MaxDB               = -6.0
	CompressionExponent = 1.2
	RiseFactor          = 0.7
	FallFactor          = 0.15
	PeakDecay           = 0.08
	MagnitudeFloor      = 1e-6
)

// Tone settings
const (
	BassShelfFreq   = 80.0
	TrebleShelfFreq = 12000.0
	ShelfQ          = 0.5
	MaxShelfGain    = 4.0  // Linear, roughly +12 dB
	MaxShelfRatio   = 0.45 // Shelf corners are held below this fraction of the sample rate
	MaxPitchShift   = 12   // Semitones either way
)

// Output device settings
const (
	DeviceSampleRate = 48000
	DeviceChannels   = 2
	DevicePeriodMs   = 10
)

// Spatial settings
const (
	MaxDistance     = 2.0 // Listener-to-source distance where attenuation reaches RolloffFloor
	RolloffFloor    = 0.2
	DefaultVolume   = 1.0
	PositionStep    = 0.1
	SeekStepSeconds = 5.0
	ToneStep        = 0.1
)

// Appearance - Visual styling configuration
const (
	// Bar colors (RGB values for spectrum bars)
	BarColorR = 164
	BarColorG = 0
	BarColorB = 0

	// Peak marker colors
	PeakColorR = 255
	PeakColorG = 140
	PeakColorB = 0

	// Text colors
	// Brand yellow #F8B31D - used for the snapshot title
	TextColorR = 248
	TextColorG = 179
	TextColorB = 29

	// Snapshot layout
	SnapshotWidth   = 1280
	SnapshotHeight  = 720
	SnapshotMargin  = 40
	SnapshotBarGap  = 6
	TitleFontSize   = 32
	SnapshotWindows = 8 // Overlapping analyses run before the snapshot frame
)

// RuntimeConfig holds user overrides supplied on the command line.
// Nil colour channels fall back to the compiled-in defaults.
type RuntimeConfig struct {
	BarColorR  *uint8
	BarColorG  *uint8
	BarColorB  *uint8
	PeakColorR *uint8
	PeakColorG *uint8
	PeakColorB *uint8
	TextColorR *uint8
	TextColorG *uint8
	TextColorB *uint8
}

// SetBarColor stores a bar colour override.
func (c *RuntimeConfig) SetBarColor(r, g, b uint8) {
	c.BarColorR, c.BarColorG, c.BarColorB = &r, &g, &b
}

// SetPeakColor stores a peak marker colour override.
func (c *RuntimeConfig) SetPeakColor(r, g, b uint8) {
	c.PeakColorR, c.PeakColorG, c.PeakColorB = &r, &g, &b
}

// SetTextColor stores a text colour override.
func (c *RuntimeConfig) SetTextColor(r, g, b uint8) {
	c.TextColorR, c.TextColorG, c.TextColorB = &r, &g, &b
}

// GetBarColor returns the bar colour, using the override only when all
// three channels are set.
func (c *RuntimeConfig) GetBarColor() (r, g, b uint8) {
	if c != nil && c.BarColorR != nil && c.BarColorG != nil && c.BarColorB != nil {
		return *c.BarColorR, *c.BarColorG, *c.BarColorB
	}
	return BarColorR, BarColorG, BarColorB
}

// GetPeakColor returns the peak marker colour.
func (c *RuntimeConfig) GetPeakColor() (r, g, b uint8) {
	if c != nil && c.PeakColorR != nil && c.PeakColorG != nil && c.PeakColorB != nil {
		return *c.PeakColorR, *c.PeakColorG, *c.PeakColorB
	}
	return PeakColorR, PeakColorG, PeakColorB
}

// GetTextColor returns the text colour.
func (c *RuntimeConfig) GetTextColor() (r, g, b uint8) {
	if c != nil && c.TextColorR != nil && c.TextColorG != nil && c.TextColorB != nil {
		return *c.TextColorR, *c.TextColorG, *c.TextColorB
	}
	return TextColorR, TextColorG, TextColorB
}

// ParseHexColor parses "#RRGGBB" or "RRGGBB" into its components.
func ParseHexColor(s string) (r, g, b uint8, err error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 {
		return 0, 0, 0, fmt.Errorf("invalid hex color %q: expected 6 hex digits", s)
	}

	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid hex color %q: %w", s, err)
	}

	return uint8(v >> 16), uint8(v >> 8), uint8(v), nil
}
