package effects

import (
	"math"
	"sync"

	"github.com/linuxmatters/jiveplayer/internal/config"
)

// RateSetter is a playback voice whose rate can be changed natively.
type RateSetter interface {
	SetPitch(ratio float64)
}

// PitchRatio converts semitones to a playback-rate multiplier.
func PitchRatio(semitones float64) float64 {
	return math.Pow(2, semitones/12)
}

// PitchShifter keeps a semitone setting and mirrors it onto a voice. The
// shift happens in the voice's resampler, not in block DSP.
type PitchShifter struct {
	mu        sync.Mutex
	semitones float64
	target    RateSetter
}

// Set stores the shift, clamped to one octave either way, and applies it.
func (p *PitchShifter) Set(semitones float64) float64 {
	if math.IsNaN(semitones) {
		semitones = 0
	}
	semitones = math.Max(-config.MaxPitchShift, math.Min(config.MaxPitchShift, semitones))

	p.mu.Lock()
	defer p.mu.Unlock()

	p.semitones = semitones
	if p.target != nil {
		p.target.SetPitch(PitchRatio(semitones))
	}
	return semitones
}

// Semitones returns the current shift.
func (p *PitchShifter) Semitones() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.semitones
}

// Ratio returns the current playback-rate multiplier.
func (p *PitchShifter) Ratio() float64 {
	return PitchRatio(p.Semitones())
}

// Bind attaches a voice and applies the current shift to it. A nil target
// detaches.
func (p *PitchShifter) Bind(target RateSetter) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.target = target
	if target != nil {
		target.SetPitch(PitchRatio(p.semitones))
	}
}
