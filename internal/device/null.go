package device

import (
	"context"
	"time"
)

// Null is a device with no audio output. Time only advances when Advance
// is called or a clock goroutine is running, which makes playback fully
// deterministic in tests.
type Null struct {
	*Mixer
	scratch []int16
}

// NullOption configures a Null device.
type NullOption func(*nullOptions)

type nullOptions struct {
	reverb bool
}

// WithoutReverb negotiates a device lacking the reverb extension.
func WithoutReverb() NullOption {
	return func(o *nullOptions) { o.reverb = false }
}

// NewNull creates a silent stereo device running at sampleRate.
func NewNull(sampleRate int, opts ...NullOption) *Null {
	o := nullOptions{reverb: true}
	for _, opt := range opts {
		opt(&o)
	}
	return &Null{Mixer: NewMixer(sampleRate, o.reverb)}
}

// Advance renders and discards the given number of output frames.
func (n *Null) Advance(frames int) {
	if cap(n.scratch) < frames*2 {
		n.scratch = make([]int16, frames*2)
	}
	n.Render(n.scratch[:frames*2])
}

// RunClock advances the device in real time until ctx is cancelled.
func (n *Null) RunClock(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	frames := int(period.Seconds() * float64(n.SampleRate()))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.Advance(frames)
		}
	}
}
