// Package effects holds the player's sound shaping: a software bass/treble
// shelving chain, the pitch control applied on the playback voice, and the
// room reverb send.
package effects

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/linuxmatters/jiveplayer/internal/config"
)

// Coefficients of a normalised biquad (a0 == 1)
type Coefficients struct {
	B0, B1, B2 float64
	A1, A2     float64
}

type biquadState struct {
	x1, x2, y1, y2 float64
}

func (s *biquadState) process(c Coefficients, x float64) float64 {
	y := c.B0*x + c.B1*s.x1 + c.B2*s.x2 - c.A1*s.y1 - c.A2*s.y2
	s.x2, s.x1 = s.x1, x
	s.y2, s.y1 = s.y1, y
	return y
}

// ShelfGain maps a tone level in [-1, 1] to a linear shelf gain. The curve
// is exponential so -1 and +1 cut and boost by the same number of dB.
func ShelfGain(level float64) float64 {
	level = math.Max(-1, math.Min(1, level))
	gain := math.Pow(config.MaxShelfGain, level)
	return math.Max(0, math.Min(config.MaxShelfGain, gain))
}

// LowShelf returns Audio EQ Cookbook low-shelf coefficients. gain is the
// linear amplitude applied below freq.
func LowShelf(freq, q, gain float64, sampleRate int) Coefficients {
	a := math.Sqrt(gain)
	w0 := 2 * math.Pi * freq / float64(sampleRate)
	cosw := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * q)
	sq := 2 * math.Sqrt(a) * alpha

	a0 := (a + 1) + (a-1)*cosw + sq
	return Coefficients{
		B0: a * ((a + 1) - (a-1)*cosw + sq) / a0,
		B1: 2 * a * ((a - 1) - (a+1)*cosw) / a0,
		B2: a * ((a + 1) - (a-1)*cosw - sq) / a0,
		A1: -2 * ((a - 1) + (a+1)*cosw) / a0,
		A2: ((a + 1) + (a-1)*cosw - sq) / a0,
	}
}

// HighShelf returns Audio EQ Cookbook high-shelf coefficients. gain is the
// linear amplitude applied above freq.
func HighShelf(freq, q, gain float64, sampleRate int) Coefficients {
	a := math.Sqrt(gain)
	w0 := 2 * math.Pi * freq / float64(sampleRate)
	cosw := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * q)
	sq := 2 * math.Sqrt(a) * alpha

	a0 := (a + 1) - (a-1)*cosw + sq
	return Coefficients{
		B0: a * ((a + 1) + (a-1)*cosw + sq) / a0,
		B1: -2 * a * ((a - 1) + (a+1)*cosw) / a0,
		B2: a * ((a + 1) + (a-1)*cosw - sq) / a0,
		A1: 2 * ((a - 1) - (a+1)*cosw) / a0,
		A2: ((a + 1) - (a-1)*cosw - sq) / a0,
	}
}

// Response returns the filter's magnitude response at freq.
func (c Coefficients) Response(freq float64, sampleRate int) float64 {
	w := 2 * math.Pi * freq / float64(sampleRate)
	// H(e^jw) = (b0 + b1 z^-1 + b2 z^-2) / (1 + a1 z^-1 + a2 z^-2)
	z1 := complex(math.Cos(-w), math.Sin(-w))
	z2 := z1 * z1
	num := complex(c.B0, 0) + complex(c.B1, 0)*z1 + complex(c.B2, 0)*z2
	den := 1 + complex(c.A1, 0)*z1 + complex(c.A2, 0)*z2
	r := num / den
	return math.Hypot(real(r), imag(r))
}

// ToneControl is the bass/treble shelving chain plus the pitch control.
// Levels are stored atomically so the UI never waits on the audio path;
// filter history belongs to whichever goroutine calls Process.
type ToneControl struct {
	bass   atomic.Uint64 // float64 bits
	treble atomic.Uint64

	pitch PitchShifter

	mu         sync.Mutex
	channels   int
	sampleRate int
	bassSt   []biquadState
	trebleSt []biquadState
}

// NewToneControl returns a neutral tone control.
func NewToneControl() *ToneControl {
	return &ToneControl{}
}

// SetBass sets the low-shelf level in [-1, 1], 0 = neutral.
func (t *ToneControl) SetBass(level float64) {
	t.bass.Store(math.Float64bits(clampLevel(level)))
}

// Bass returns the low-shelf level.
func (t *ToneControl) Bass() float64 {
	return math.Float64frombits(t.bass.Load())
}

// SetTreble sets the high-shelf level in [-1, 1], 0 = neutral.
func (t *ToneControl) SetTreble(level float64) {
	t.treble.Store(math.Float64bits(clampLevel(level)))
}

// Treble returns the high-shelf level.
func (t *ToneControl) Treble() float64 {
	return math.Float64frombits(t.treble.Load())
}

// SetPitch sets the pitch shift in semitones and pushes the rate to the
// bound voice, if any. It returns the clamped value.
func (t *ToneControl) SetPitch(semitones float64) float64 {
	return t.pitch.Set(semitones)
}

// Pitch returns the pitch shift in semitones.
func (t *ToneControl) Pitch() float64 {
	return t.pitch.Semitones()
}

// BindPitch routes pitch changes to a playback voice.
func (t *ToneControl) BindPitch(target RateSetter) {
	t.pitch.Bind(target)
}

// ApplyPreset sets bass, treble and pitch together.
func (t *ToneControl) ApplyPreset(p TonePreset) {
	t.SetBass(p.Bass)
	t.SetTreble(p.Treble)
	t.SetPitch(p.Pitch)
}

// Process filters interleaved samples in place: low shelf, then high shelf,
// per channel. Filter history carries over between calls and is cleared
// when the channel count or sample rate changes.
func (t *ToneControl) Process(buf []float32, channels, sampleRate int) {
	if channels <= 0 || sampleRate <= 0 {
		return
	}

	bass := LowShelf(shelfFreq(config.BassShelfFreq, sampleRate), config.ShelfQ, ShelfGain(t.Bass()), sampleRate)
	treble := HighShelf(shelfFreq(config.TrebleShelfFreq, sampleRate), config.ShelfQ, ShelfGain(t.Treble()), sampleRate)

	t.mu.Lock()
	defer t.mu.Unlock()

	if channels != t.channels || sampleRate != t.sampleRate {
		t.channels = channels
		t.sampleRate = sampleRate
		t.bassSt = make([]biquadState, channels)
		t.trebleSt = make([]biquadState, channels)
	}

	frames := len(buf) / channels
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			idx := i*channels + ch
			y := t.bassSt[ch].process(bass, float64(buf[idx]))
			y = t.trebleSt[ch].process(treble, y)
			buf[idx] = float32(y)
		}
	}
}

// Reset clears filter history, for example before an unrelated signal.
func (t *ToneControl) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.bassSt {
		t.bassSt[i] = biquadState{}
		t.trebleSt[i] = biquadState{}
	}
}

// shelfFreq keeps a shelf corner below Nyquist. A corner at or past it
// turns the cookbook biquad unstable, so low-rate tracks such as 16 kHz
// speech get their treble shelf pulled down instead.
func shelfFreq(freq float64, sampleRate int) float64 {
	return math.Min(freq, config.MaxShelfRatio*float64(sampleRate))
}

func clampLevel(level float64) float64 {
	if math.IsNaN(level) {
		return 0
	}
	return math.Max(-1, math.Min(1, level))
}
