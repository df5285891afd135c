package audio

import (
	"fmt"
	"math"

	"github.com/argusdusty/gofft"
)

// HannWindow returns the symmetric Hann window of length n
func HannWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

// FFT computes magnitude spectra of fixed-size real windows. It owns its
// scratch buffers, so one FFT must not be used from two goroutines at once.
type FFT struct {
	size   int
	window []float64
	norm   float64 // 2 / sum(window): a full-scale sine reads 1.0
	work   []complex128
}

// NewFFT prepares an FFT of the given power-of-two size
func NewFFT(size int) (*FFT, error) {
	if err := gofft.Prepare(size); err != nil {
		return nil, fmt.Errorf("failed to prepare FFT of size %d: %w", size, err)
	}

	window := HannWindow(size)
	var sum float64
	for _, w := range window {
		sum += w
	}

	return &FFT{
		size:   size,
		window: window,
		norm:   2 / sum,
		work:   make([]complex128, size),
	}, nil
}

// Size returns the window length
func (f *FFT) Size() int {
	return f.size
}

// Magnitudes windows the input, transforms it, and writes size/2 normalised
// bin magnitudes to dst. Short input is zero padded.
func (f *FFT) Magnitudes(samples []float32, dst []float64) error {
	for i := range f.work {
		var s float64
		if i < len(samples) {
			s = float64(samples[i])
		}
		f.work[i] = complex(s*f.window[i], 0)
	}

	if err := gofft.FFT(f.work); err != nil {
		return fmt.Errorf("FFT computation failed: %w", err)
	}

	half := f.size / 2
	for i := 0; i < half && i < len(dst); i++ {
		c := f.work[i]
		dst[i] = math.Hypot(real(c), imag(c)) * f.norm
	}
	return nil
}
