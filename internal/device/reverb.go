package device

import (
	"fmt"
	"math"
)

// Schroeder network tunings at 44.1 kHz. The right channel is offset so
// the tail decorrelates between the ears.
var (
	combTunings    = []int{1687, 1601, 2053, 2251}
	allpassTunings = []int{389, 307}
)

const (
	stereoSpread    = 23
	allpassFeedback = 0.5
	wetScale        = 0.3
	maxPreDelay     = 0.4 // seconds
)

type reverbExtension struct {
	m *Mixer
}

func (e reverbExtension) NewSlot() (ReverbSlot, error) {
	e.m.mu.Lock()
	defer e.m.mu.Unlock()

	if e.m.closed {
		return nil, ErrClosed
	}
	slot := newReverbSlot(e.m)
	e.m.slots[slot] = struct{}{}
	return slot, nil
}

type comb struct {
	buf      []float32
	idx      int
	feedback float32
	damp     float32
	store    float32
}

func (c *comb) process(in float32) float32 {
	out := c.buf[c.idx]
	c.store = out*(1-c.damp) + c.store*c.damp
	c.buf[c.idx] = in + c.store*c.feedback
	c.idx++
	if c.idx == len(c.buf) {
		c.idx = 0
	}
	return out
}

type allpass struct {
	buf []float32
	idx int
}

func (a *allpass) process(in float32) float32 {
	delayed := a.buf[a.idx]
	out := delayed - in
	a.buf[a.idx] = in + delayed*allpassFeedback
	a.idx++
	if a.idx == len(a.buf) {
		a.idx = 0
	}
	return out
}

// reverbSlot is a send effect: sources accumulate into input during a
// render pass, then the slot adds its wet output to the mix.
type reverbSlot struct {
	m      *Mixer
	params ReverbParams

	input []float32

	// Pre-delay line, stereo interleaved
	delay    []float32
	delayIdx int

	combs     [2][]*comb
	allpasses [2][]*allpass

	reflDelay int // frames
	lateDelay int // frames
	reflGain  float32
	lateGain  float32
}

func newReverbSlot(m *Mixer) *reverbSlot {
	scale := float64(m.sampleRate) / 44100
	r := &reverbSlot{
		m:     m,
		delay: make([]float32, 2*int(maxPreDelay*float64(m.sampleRate))),
	}
	for ch := 0; ch < 2; ch++ {
		spread := ch * stereoSpread
		for _, n := range combTunings {
			r.combs[ch] = append(r.combs[ch], &comb{buf: make([]float32, int(float64(n+spread)*scale))})
		}
		for _, n := range allpassTunings {
			r.allpasses[ch] = append(r.allpasses[ch], &allpass{buf: make([]float32, int(float64(n+spread)*scale))})
		}
	}
	r.applyLocked(ReverbParams{
		DecayTime:        1.0,
		ReflectionsDelay: 0.02,
		LateDelay:        0.03,
		DecayHFRatio:     1.0,
		ReflectionsGain:  0.05,
		LateGain:         0.05,
		AirAbsorption:    0.994,
	})
	return r
}

func (r *reverbSlot) SetParams(p ReverbParams) error {
	if p.DecayTime <= 0 || math.IsNaN(p.DecayTime) {
		return fmt.Errorf("%w: decay time %v", ErrInvalidOperation, p.DecayTime)
	}

	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if _, live := r.m.slots[r]; !live {
		return ErrClosed
	}
	r.applyLocked(p)
	return nil
}

// Params returns the parameters currently applied.
func (r *reverbSlot) Params() ReverbParams {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.params
}

func (r *reverbSlot) applyLocked(p ReverbParams) {
	r.params = p
	rate := float64(r.m.sampleRate)

	// Higher HF ratio keeps highs longer; air absorption eats them
	damp := 0.2 + 0.3*(1-math.Min(p.DecayHFRatio, 2)/2) + 5*(1-p.AirAbsorption)
	damp = math.Max(0, math.Min(0.9, damp))

	for ch := range r.combs {
		for _, c := range r.combs[ch] {
			// Feedback for a 60 dB decay over DecayTime
			c.feedback = float32(math.Pow(10, -3*float64(len(c.buf))/(p.DecayTime*rate)))
			c.damp = float32(damp)
		}
	}

	maxFrames := len(r.delay)/2 - 1
	r.reflDelay = min(int(p.ReflectionsDelay*rate), maxFrames)
	r.lateDelay = min(int((p.ReflectionsDelay+p.LateDelay)*rate), maxFrames)

	rolloff := float32(1 / (1 + p.RoomRolloff))
	r.reflGain = float32(p.ReflectionsGain) * rolloff * wetScale
	r.lateGain = float32(p.LateGain) * rolloff * wetScale
}

func (r *reverbSlot) prepare(frames int) {
	if cap(r.input) < frames*2 {
		r.input = make([]float32, frames*2)
	}
	r.input = r.input[:frames*2]
	for i := range r.input {
		r.input[i] = 0
	}
}

func (r *reverbSlot) renderLocked(mix []float32, frames int) {
	delayFrames := len(r.delay) / 2
	for f := 0; f < frames; f++ {
		// Write the dry send into the pre-delay line
		r.delay[r.delayIdx*2] = r.input[f*2]
		r.delay[r.delayIdx*2+1] = r.input[f*2+1]

		reflIdx := (r.delayIdx - r.reflDelay + delayFrames) % delayFrames
		lateIdx := (r.delayIdx - r.lateDelay + delayFrames) % delayFrames

		for ch := 0; ch < 2; ch++ {
			early := r.delay[reflIdx*2+ch] * r.reflGain

			in := r.delay[lateIdx*2+ch]
			var late float32
			for _, c := range r.combs[ch] {
				late += c.process(in)
			}
			for _, a := range r.allpasses[ch] {
				late = a.process(late)
			}

			mix[f*2+ch] += early + late*r.lateGain
		}

		r.delayIdx++
		if r.delayIdx == delayFrames {
			r.delayIdx = 0
		}
	}
}

func (r *reverbSlot) Close() error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	delete(r.m.slots, r)
	for s := range r.m.sources {
		if s.aux == r {
			s.aux = nil
		}
	}
	return nil
}
