package effects

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/linuxmatters/jiveplayer/internal/device"
)

// ErrReverbUnsupported is returned when the device lacks a reverb extension
var ErrReverbUnsupported = errors.New("reverb extension not available")

// Parameter ranges accepted by the reverb model
var (
	decayTimeRange        = [2]float64{0.1, 20}
	reflectionsDelayRange = [2]float64{0, 0.3}
	lateDelayRange        = [2]float64{0, 0.1}
	roomRolloffRange      = [2]float64{0, 10}
	decayHFRatioRange     = [2]float64{0.1, 2}
	reflectionsGainRange  = [2]float64{0, 3.16}
	lateGainRange         = [2]float64{0, 10}
	airAbsorptionRange    = [2]float64{0.892, 1}
)

// DefaultReverbParams is a subtle, short room.
var DefaultReverbParams = device.ReverbParams{
	DecayTime:        1.0,
	ReflectionsDelay: 0.02,
	LateDelay:        0.03,
	RoomRolloff:      0,
	DecayHFRatio:     1.0,
	ReflectionsGain:  0.05,
	LateGain:         0.05,
	AirAbsorption:    0.994,
}

// ReverbPreset is a named reverb parameter set.
type ReverbPreset struct {
	Name   string
	Params device.ReverbParams
}

// ReverbPresets lists the built-in rooms from smallest to largest.
var ReverbPresets = []ReverbPreset{
	{Name: "default", Params: DefaultReverbParams},
	{Name: "small room", Params: device.ReverbParams{DecayTime: 0.5, ReflectionsDelay: 0.02, LateDelay: 0.03, RoomRolloff: 0.6, DecayHFRatio: 0.85, ReflectionsGain: 1.2, LateGain: 0.8, AirAbsorption: 0.994}},
	{Name: "medium room", Params: device.ReverbParams{DecayTime: 1.8, ReflectionsDelay: 0.03, LateDelay: 0.04, RoomRolloff: 0.4, DecayHFRatio: 0.9, ReflectionsGain: 0.9, LateGain: 1.0, AirAbsorption: 0.994}},
	{Name: "large room", Params: device.ReverbParams{DecayTime: 2.8, ReflectionsDelay: 0.05, LateDelay: 0.06, RoomRolloff: 0.3, DecayHFRatio: 0.95, ReflectionsGain: 0.7, LateGain: 1.2, AirAbsorption: 0.992}},
	{Name: "hall", Params: device.ReverbParams{DecayTime: 3.5, ReflectionsDelay: 0.06, LateDelay: 0.08, RoomRolloff: 0.2, DecayHFRatio: 1.0, ReflectionsGain: 0.6, LateGain: 1.5, AirAbsorption: 0.990}},
	{Name: "cave", Params: device.ReverbParams{DecayTime: 5.0, ReflectionsDelay: 0.15, LateDelay: 0.09, RoomRolloff: 0.1, DecayHFRatio: 1.2, ReflectionsGain: 0.4, LateGain: 2.0, AirAbsorption: 0.985}},
}

// ClampReverbParams forces every parameter into its valid range.
func ClampReverbParams(p device.ReverbParams) device.ReverbParams {
	return device.ReverbParams{
		DecayTime:        clampRange(p.DecayTime, decayTimeRange),
		ReflectionsDelay: clampRange(p.ReflectionsDelay, reflectionsDelayRange),
		LateDelay:        clampRange(p.LateDelay, lateDelayRange),
		RoomRolloff:      clampRange(p.RoomRolloff, roomRolloffRange),
		DecayHFRatio:     clampRange(p.DecayHFRatio, decayHFRatioRange),
		ReflectionsGain:  clampRange(p.ReflectionsGain, reflectionsGainRange),
		LateGain:         clampRange(p.LateGain, lateGainRange),
		AirAbsorption:    clampRange(p.AirAbsorption, airAbsorptionRange),
	}
}

func clampRange(v float64, r [2]float64) float64 {
	if math.IsNaN(v) {
		return r[0]
	}
	return math.Max(r[0], math.Min(r[1], v))
}

// RoomReverb holds reverb parameters and the device slot they drive. It
// attaches to one source at a time as a send effect.
type RoomReverb struct {
	mu       sync.Mutex
	slot     device.ReverbSlot
	params   device.ReverbParams
	preset   string
	attached device.Source
}

// NewRoomReverb allocates a slot from the device's reverb extension.
func NewRoomReverb(ext device.Extensions) (*RoomReverb, error) {
	if ext.Reverb == nil {
		return nil, ErrReverbUnsupported
	}
	slot, err := ext.Reverb.NewSlot()
	if err != nil {
		return nil, fmt.Errorf("failed to create reverb slot: %w", err)
	}

	r := &RoomReverb{slot: slot, params: DefaultReverbParams, preset: "default"}
	if err := slot.SetParams(r.params); err != nil {
		slot.Close()
		return nil, fmt.Errorf("failed to configure reverb slot: %w", err)
	}
	return r, nil
}

// Params returns the current parameters.
func (r *RoomReverb) Params() device.ReverbParams {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.params
}

// Preset returns the name of the last applied preset, or "custom" once a
// parameter has been changed by hand.
func (r *RoomReverb) Preset() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.preset
}

// SetParams clamps and applies a full parameter set.
func (r *RoomReverb) SetParams(p device.ReverbParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preset = "custom"
	return r.applyLocked(ClampReverbParams(p))
}

// Update changes individual parameters through a callback, then clamps and
// applies the result.
func (r *RoomReverb) Update(fn func(*device.ReverbParams)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.params
	fn(&p)
	r.preset = "custom"
	return r.applyLocked(ClampReverbParams(p))
}

// ApplyPreset applies a built-in preset by name.
func (r *RoomReverb) ApplyPreset(name string) error {
	for _, p := range ReverbPresets {
		if strings.EqualFold(p.Name, name) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.preset = p.Name
			return r.applyLocked(p.Params)
		}
	}
	return fmt.Errorf("unknown reverb preset %q", name)
}

// NextPreset cycles to the following built-in preset and returns its name.
func (r *RoomReverb) NextPreset() (string, error) {
	current := r.Preset()
	next := ReverbPresets[0]
	for i, p := range ReverbPresets {
		if p.Name == current {
			next = ReverbPresets[(i+1)%len(ReverbPresets)]
			break
		}
	}
	return next.Name, r.ApplyPreset(next.Name)
}

func (r *RoomReverb) applyLocked(p device.ReverbParams) error {
	if err := r.slot.SetParams(p); err != nil {
		return fmt.Errorf("failed to update reverb: %w", err)
	}
	r.params = p
	return nil
}

// Attach routes a source into the reverb, detaching any previous source.
func (r *RoomReverb) Attach(src device.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.attached != nil && r.attached != src {
		if err := r.attached.SetAuxSend(nil); err != nil && !errors.Is(err, device.ErrClosed) {
			return fmt.Errorf("failed to detach reverb: %w", err)
		}
	}
	if err := src.SetAuxSend(r.slot); err != nil {
		return fmt.Errorf("failed to attach reverb: %w", err)
	}
	r.attached = src
	return nil
}

// Detach removes the reverb send from the attached source.
func (r *RoomReverb) Detach() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.attached == nil {
		return nil
	}
	err := r.attached.SetAuxSend(nil)
	r.attached = nil
	if err != nil && !errors.Is(err, device.ErrClosed) {
		return fmt.Errorf("failed to detach reverb: %w", err)
	}
	return nil
}

// Attached reports whether a source is currently sending into the reverb.
func (r *RoomReverb) Attached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attached != nil
}

// Close detaches and releases the slot.
func (r *RoomReverb) Close() error {
	if err := r.Detach(); err != nil {
		return err
	}
	return r.slot.Close()
}
