package effects

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// TonePreset is a named bass/treble/pitch bundle.
type TonePreset struct {
	Name   string
	Bass   float64
	Treble float64
	Pitch  float64 // Semitones
}

// TonePresets lists the built-in presets in display order.
var TonePresets = []TonePreset{
	{Name: "default"},
	{Name: "slowed", Bass: 0.6, Treble: -0.2, Pitch: -4},
	{Name: "chipmunk", Bass: -0.4, Treble: 0.5, Pitch: 8},
	{Name: "deep", Bass: 0.8, Treble: -0.4, Pitch: -6},
	{Name: "radio", Bass: -0.6, Treble: 0.3, Pitch: 2},
}

// TonePresetByName finds a built-in preset, ignoring case.
func TonePresetByName(name string) (TonePreset, error) {
	for _, p := range TonePresets {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	return TonePreset{}, fmt.Errorf("unknown tone preset %q", name)
}

// RandomTonePreset draws a preset kept away from the extremes.
func RandomTonePreset(r *rand.Rand) TonePreset {
	return TonePreset{
		Name:   "random",
		Bass:   (r.Float64()*2 - 1) * 0.8,
		Treble: (r.Float64()*2 - 1) * 0.8,
		Pitch:  (r.Float64()*24 - 12) * 0.6,
	}
}
