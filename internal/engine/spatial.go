package engine

import (
	"math"
	"sync"

	"github.com/linuxmatters/jiveplayer/internal/device"
)

// Spatial places the source and listener on a 2D floor plan. Coordinates
// are clamped to [-1, 1] and map to the device's x and z axes with y = 0.
type Spatial struct {
	mu       sync.Mutex
	dev      device.Device
	src      device.Source
	source   [2]float64
	listener [2]float64
}

func newSpatial(dev device.Device, src device.Source) *Spatial {
	s := &Spatial{dev: dev, src: src}
	s.src.SetPosition(0, 0, 0)
	s.dev.SetListenerPosition(0, 0, 0)
	return s
}

// SetSourcePosition moves the source.
func (s *Spatial) SetSourcePosition(x, z float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.source = [2]float64{clampUnit(x), clampUnit(z)}
	s.src.SetPosition(s.source[0], 0, s.source[1])
}

// SourcePosition returns the source's floor-plan position.
func (s *Spatial) SourcePosition() (x, z float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source[0], s.source[1]
}

// MoveSource shifts the source by a delta, staying inside the plan.
func (s *Spatial) MoveSource(dx, dz float64) {
	x, z := s.SourcePosition()
	s.SetSourcePosition(x+dx, z+dz)
}

// SetListenerPosition moves the listener.
func (s *Spatial) SetListenerPosition(x, z float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listener = [2]float64{clampUnit(x), clampUnit(z)}
	s.dev.SetListenerPosition(s.listener[0], 0, s.listener[1])
}

// ListenerPosition returns the listener's floor-plan position.
func (s *Spatial) ListenerPosition() (x, z float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener[0], s.listener[1]
}

// Reset centres both source and listener.
func (s *Spatial) Reset() {
	s.SetSourcePosition(0, 0)
	s.SetListenerPosition(0, 0)
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}
