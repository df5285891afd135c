package device

import (
	"fmt"
	"math"
	"sync"

	"github.com/linuxmatters/jiveplayer/internal/config"
)

type pcmBuffer struct {
	data       []int16
	channels   int
	sampleRate int
	frames     int
}

// Mixer is the software implementation shared by every backend. Render
// pulls audio from all playing sources; backends decide when to call it.
type Mixer struct {
	mu sync.Mutex

	sampleRate int
	closed     bool

	nextID  BufferID
	buffers map[BufferID]*pcmBuffer
	sources map[*softSource]struct{}
	slots   map[*reverbSlot]struct{}

	listener [3]float64
	reverb   bool

	// Scratch, owned by Render
	mix []float32
}

// NewMixer creates a stereo mixer running at sampleRate.
func NewMixer(sampleRate int, withReverb bool) *Mixer {
	return &Mixer{
		sampleRate: sampleRate,
		buffers:    make(map[BufferID]*pcmBuffer),
		sources:    make(map[*softSource]struct{}),
		slots:      make(map[*reverbSlot]struct{}),
		reverb:     withReverb,
	}
}

// SampleRate returns the output rate.
func (m *Mixer) SampleRate() int {
	return m.sampleRate
}

// GenBuffers allocates n empty buffers.
func (m *Mixer) GenBuffers(n int) ([]BufferID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: cannot generate %d buffers", ErrInvalidOperation, n)
	}

	ids := make([]BufferID, n)
	for i := range ids {
		m.nextID++
		ids[i] = m.nextID
		m.buffers[m.nextID] = &pcmBuffer{}
	}
	return ids, nil
}

// DeleteBuffers frees buffers. Buffers still queued on a source cannot be
// deleted.
func (m *Mixer) DeleteBuffers(ids []BufferID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if _, ok := m.buffers[id]; !ok {
			return fmt.Errorf("%w: %d", ErrInvalidName, id)
		}
		for s := range m.sources {
			for _, q := range s.queue {
				if q == id {
					return fmt.Errorf("%w: buffer %d is queued", ErrInvalidOperation, id)
				}
			}
		}
	}
	for _, id := range ids {
		delete(m.buffers, id)
	}
	return nil
}

// BufferData copies PCM into a buffer.
func (m *Mixer) BufferData(id BufferID, format Format, sampleRate int, data []int16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	buf, ok := m.buffers[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidName, id)
	}
	if sampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidOperation, sampleRate)
	}
	channels := format.Channels()
	if len(data)%channels != 0 {
		return fmt.Errorf("%w: %d samples is not a whole number of frames", ErrInvalidOperation, len(data))
	}

	buf.data = append(buf.data[:0], data...)
	buf.channels = channels
	buf.sampleRate = sampleRate
	buf.frames = len(data) / channels
	return nil
}

// NewSource creates a playback voice.
func (m *Mixer) NewSource() (Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	s := &softSource{m: m, gain: 1, pitch: 1, state: StateInitial}
	m.sources[s] = struct{}{}
	return s, nil
}

// SetListenerPosition moves the listener.
func (m *Mixer) SetListenerPosition(x, y, z float64) {
	m.mu.Lock()
	m.listener = [3]float64{x, y, z}
	m.mu.Unlock()
}

// Extensions reports the mixer's optional capabilities.
func (m *Mixer) Extensions() Extensions {
	ext := Extensions{}
	if m.reverb {
		ext.Reverb = reverbExtension{m}
	}
	return ext
}

// Close releases every buffer, source and slot.
func (m *Mixer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for s := range m.sources {
		s.closed = true
	}
	m.sources = map[*softSource]struct{}{}
	m.buffers = map[BufferID]*pcmBuffer{}
	m.slots = map[*reverbSlot]struct{}{}
	return nil
}

// Render mixes the next len(out)/2 stereo frames into out.
func (m *Mixer) Render(out []int16) {
	frames := len(out) / 2

	m.mu.Lock()
	defer m.mu.Unlock()

	if cap(m.mix) < frames*2 {
		m.mix = make([]float32, frames*2)
	}
	mix := m.mix[:frames*2]
	for i := range mix {
		mix[i] = 0
	}

	for slot := range m.slots {
		slot.prepare(frames)
	}

	if !m.closed {
		for s := range m.sources {
			if s.state == StatePlaying {
				s.renderLocked(mix, frames)
			}
		}
		for slot := range m.slots {
			slot.renderLocked(mix, frames)
		}
	}

	for i, v := range mix {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		out[i] = int16(math.Round(float64(v) * 32767))
	}
}

// spatialGains returns left and right gains for a source: linear distance
// attenuation down to a floor, plus a balance pan from the x offset.
func (m *Mixer) spatialGains(pos [3]float64) (float32, float32) {
	dx := pos[0] - m.listener[0]
	dy := pos[1] - m.listener[1]
	dz := pos[2] - m.listener[2]
	dist := math.Sqrt(dx*dx + dy*dy + dz*dz)

	att := 1 - (1-config.RolloffFloor)*math.Min(dist/config.MaxDistance, 1)
	pan := math.Max(-1, math.Min(1, dx))

	left := att * math.Min(1, 1-pan)
	right := att * math.Min(1, 1+pan)
	return float32(left), float32(right)
}

type softSource struct {
	m *Mixer

	queue     []BufferID
	current   int     // Index of the buffer under the play cursor
	pos       float64 // Frame position within the current buffer
	processed int
	state     SourceState
	closed    bool

	gain  float64
	pitch float64
	pos3  [3]float64
	aux   *reverbSlot
}

func (s *softSource) QueueBuffers(ids ...BufferID) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	for _, id := range ids {
		buf, ok := s.m.buffers[id]
		if !ok {
			return fmt.Errorf("%w: %d", ErrInvalidName, id)
		}
		if buf.frames == 0 {
			return fmt.Errorf("%w: buffer %d is empty", ErrInvalidOperation, id)
		}
	}
	s.queue = append(s.queue, ids...)
	return nil
}

func (s *softSource) UnqueueBuffers(n int) ([]BufferID, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if n < 0 || n > s.processed {
		return nil, fmt.Errorf("%w: unqueue %d with %d processed", ErrInvalidOperation, n, s.processed)
	}

	ids := append([]BufferID(nil), s.queue[:n]...)
	s.queue = append(s.queue[:0], s.queue[n:]...)
	s.processed -= n
	s.current -= n
	if s.current < 0 {
		s.current = 0
	}
	return ids, nil
}

func (s *softSource) BuffersProcessed() int {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.processed
}

func (s *softSource) BuffersQueued() int {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return len(s.queue)
}

func (s *softSource) Play() error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	switch s.state {
	case StatePlaying:
		return nil
	case StatePaused:
		s.state = StatePlaying
		return nil
	}

	// From initial or stopped, replay the whole queue
	s.current = 0
	s.pos = 0
	s.processed = 0
	if len(s.queue) == 0 {
		s.state = StateStopped
		return nil
	}
	s.state = StatePlaying
	return nil
}

func (s *softSource) Pause() error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.state == StatePlaying {
		s.state = StatePaused
	}
	return nil
}

func (s *softSource) Stop() error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.stopLocked()
	return nil
}

func (s *softSource) stopLocked() {
	s.state = StateStopped
	s.processed = len(s.queue)
	s.current = len(s.queue)
	s.pos = 0
}

func (s *softSource) State() SourceState {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.state
}

func (s *softSource) SampleOffset() int64 {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if s.state == StateStopped || s.state == StateInitial {
		return 0
	}
	var offset int64
	for i := 0; i < s.current && i < len(s.queue); i++ {
		offset += int64(s.m.buffers[s.queue[i]].frames)
	}
	return offset + int64(s.pos)
}

func (s *softSource) SetGain(gain float64) {
	s.m.mu.Lock()
	s.gain = math.Max(0, gain)
	s.m.mu.Unlock()
}

func (s *softSource) Gain() float64 {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.gain
}

func (s *softSource) SetPitch(ratio float64) {
	if ratio <= 0 || math.IsNaN(ratio) {
		return
	}
	s.m.mu.Lock()
	s.pitch = ratio
	s.m.mu.Unlock()
}

func (s *softSource) Pitch() float64 {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.pitch
}

func (s *softSource) SetPosition(x, y, z float64) {
	s.m.mu.Lock()
	s.pos3 = [3]float64{x, y, z}
	s.m.mu.Unlock()
}

func (s *softSource) Position() (x, y, z float64) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.pos3[0], s.pos3[1], s.pos3[2]
}

func (s *softSource) SetAuxSend(slot ReverbSlot) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if slot == nil {
		s.aux = nil
		return nil
	}
	rs, ok := slot.(*reverbSlot)
	if !ok || rs.m != s.m {
		return fmt.Errorf("%w: slot belongs to another device", ErrInvalidOperation)
	}
	if _, live := s.m.slots[rs]; !live {
		return fmt.Errorf("%w: slot is closed", ErrInvalidOperation)
	}
	s.aux = rs
	return nil
}

func (s *softSource) Close() error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.queue = nil
	s.aux = nil
	delete(s.m.sources, s)
	return nil
}

// frameAt returns the stereo frame at index i of the queue position q,
// spilling into the following queued buffer when i runs past the end.
func (s *softSource) frameAt(q, i int) (float32, float32, bool) {
	for q < len(s.queue) {
		buf := s.m.buffers[s.queue[q]]
		if i < buf.frames {
			if buf.channels == 1 {
				v := float32(buf.data[i]) / 32768
				return v, v, true
			}
			return float32(buf.data[i*2]) / 32768, float32(buf.data[i*2+1]) / 32768, true
		}
		i -= buf.frames
		q++
	}
	return 0, 0, false
}

// renderLocked resamples the queue into mix with linear interpolation.
func (s *softSource) renderLocked(mix []float32, frames int) {
	left, right := s.m.spatialGains(s.pos3)
	gain := float32(s.gain)
	left *= gain
	right *= gain

	var send []float32
	if s.aux != nil {
		send = s.aux.input
	}

	for f := 0; f < frames; f++ {
		// Advance past finished buffers
		for s.current < len(s.queue) {
			buf := s.m.buffers[s.queue[s.current]]
			if s.pos < float64(buf.frames) {
				break
			}
			s.pos -= float64(buf.frames)
			s.current++
			s.processed++
		}
		if s.current >= len(s.queue) {
			// Ran dry
			s.stopLocked()
			return
		}

		buf := s.m.buffers[s.queue[s.current]]
		i := int(s.pos)
		frac := float32(s.pos - float64(i))

		l0, r0, _ := s.frameAt(s.current, i)
		l1, r1, ok := s.frameAt(s.current, i+1)
		if !ok {
			l1, r1 = l0, r0
		}
		l := l0 + (l1-l0)*frac
		r := r0 + (r1-r0)*frac

		mix[f*2] += l * left
		mix[f*2+1] += r * right
		if send != nil {
			send[f*2] += l * gain
			send[f*2+1] += r * gain
		}

		s.pos += float64(buf.sampleRate) * s.pitch / float64(s.m.sampleRate)
	}
}
