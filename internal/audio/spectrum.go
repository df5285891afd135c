package audio

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linuxmatters/jiveplayer/internal/config"
)

// AnalyzerConfig controls spectrum analysis and its visual dynamics
type AnalyzerConfig struct {
	RingSize   int // Mono samples held for analysis, power of two
	FFTSize    int // Window length, power of two
	NumBands   int
	MinFreq    float64
	MaxFreq    float64
	Interval   time.Duration // Minimum time between analyses
	MinDB      float64
	MaxDB      float64
	Exponent   float64 // Compression applied to the normalised level
	RiseFactor float64
	FallFactor float64
	PeakDecay  float64 // Fraction a held peak loses per analysis
}

// DefaultAnalyzerConfig returns the player's standard analyzer settings
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		RingSize:   config.AnalyzerRingSize,
		FFTSize:    config.FFTSize,
		NumBands:   config.NumBands,
		MinFreq:    config.BandMinFreq,
		MaxFreq:    config.BandMaxFreq,
		Interval:   config.AnalyzerIntervalMs * time.Millisecond,
		MinDB:      config.MinDB,
		MaxDB:      config.MaxDB,
		Exponent:   config.CompressionExponent,
		RiseFactor: config.RiseFactor,
		FallFactor: config.FallFactor,
		PeakDecay:  config.PeakDecay,
	}
}

// BandFrame is one published analysis result. Frames are never modified
// after publication, so readers may hold on to them without locking.
type BandFrame struct {
	Values []float64 // Smoothed band levels in [0, 1]
	Peaks  []float64 // Peak-hold levels, always >= Values
}

// SpectralAnalyzer turns pushed PCM into perceptual band levels.
//
// The producer side (PushAudioData) only touches the ring buffer, which has
// its own lock. The consumer side (Update) runs the FFT on the caller's
// goroutine and publishes a fresh BandFrame through an atomic pointer.
type SpectralAnalyzer struct {
	cfg  AnalyzerConfig
	ring *RingBuffer

	pushMu sync.Mutex
	mono   []float32

	sampleRate atomic.Int64

	// Analysis state, owned by whoever holds analysisMu
	analysisMu sync.Mutex
	fft        *FFT
	window     []float32
	mags       []float64
	smoothed   []float64
	peaks      []float64
	lastUpdate time.Time
	now        func() time.Time

	frame atomic.Pointer[BandFrame]
}

// NewSpectralAnalyzer allocates the ring buffer and FFT once
func NewSpectralAnalyzer(cfg AnalyzerConfig) (*SpectralAnalyzer, error) {
	if cfg.NumBands <= 0 {
		return nil, fmt.Errorf("analyzer needs at least one band, got %d", cfg.NumBands)
	}
	if cfg.MinFreq <= 0 || cfg.MaxFreq <= cfg.MinFreq {
		return nil, fmt.Errorf("invalid analyzer frequency range %.1f-%.1f Hz", cfg.MinFreq, cfg.MaxFreq)
	}
	if cfg.FFTSize > cfg.RingSize {
		return nil, fmt.Errorf("FFT size %d exceeds ring size %d", cfg.FFTSize, cfg.RingSize)
	}

	ring, err := NewRingBuffer(cfg.RingSize)
	if err != nil {
		return nil, err
	}
	fft, err := NewFFT(cfg.FFTSize)
	if err != nil {
		return nil, err
	}

	a := &SpectralAnalyzer{
		cfg:      cfg,
		ring:     ring,
		fft:      fft,
		window:   make([]float32, cfg.FFTSize),
		mags:     make([]float64, cfg.FFTSize/2),
		smoothed: make([]float64, cfg.NumBands),
		peaks:    make([]float64, cfg.NumBands),
		now:      time.Now,
	}
	a.sampleRate.Store(config.StreamSampleRate)
	a.frame.Store(&BandFrame{
		Values: make([]float64, cfg.NumBands),
		Peaks:  make([]float64, cfg.NumBands),
	})
	return a, nil
}

// PushAudioData downmixes interleaved PCM to mono, soft-limits it with tanh
// and appends it to the ring buffer. It never blocks on analysis.
func (a *SpectralAnalyzer) PushAudioData(buf []float32, channels, sampleRate int) {
	if channels <= 0 || len(buf) < channels {
		return
	}
	if sampleRate > 0 {
		a.sampleRate.Store(int64(sampleRate))
	}

	frames := len(buf) / channels

	a.pushMu.Lock()
	defer a.pushMu.Unlock()

	if cap(a.mono) < frames {
		a.mono = make([]float32, frames)
	}
	mono := a.mono[:frames]

	downmix(mono, buf, channels)
	a.ring.Write(mono)
}

// downmix averages interleaved frames to mono and soft-limits with tanh.
func downmix(dst, buf []float32, channels int) {
	inv := 1 / float64(channels)
	for i := range dst {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += float64(buf[i*channels+ch])
		}
		dst[i] = float32(math.Tanh(sum * inv))
	}
}

// Update runs one analysis if the interval has elapsed and a full window is
// buffered. It returns false without blocking otherwise, including when
// another goroutine is already analysing.
func (a *SpectralAnalyzer) Update() bool {
	if !a.analysisMu.TryLock() {
		return false
	}
	defer a.analysisMu.Unlock()

	now := a.now()
	if !a.lastUpdate.IsZero() && now.Sub(a.lastUpdate) < a.cfg.Interval {
		return false
	}

	if !a.ring.ReadWindow(a.window, a.cfg.FFTSize/2) {
		return false
	}
	a.lastUpdate = now

	if err := a.analyzeLocked(a.window, int(a.sampleRate.Load())); err != nil {
		return false
	}
	return true
}

// AnalyzeWindow runs one analysis step on the given samples immediately,
// bypassing the ring buffer and the rate limit. Used for offline rendering.
func (a *SpectralAnalyzer) AnalyzeWindow(samples []float32, sampleRate int) (*BandFrame, error) {
	a.analysisMu.Lock()
	defer a.analysisMu.Unlock()

	if err := a.analyzeLocked(samples, sampleRate); err != nil {
		return nil, err
	}
	return a.frame.Load(), nil
}

func (a *SpectralAnalyzer) analyzeLocked(samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if err := a.fft.Magnitudes(samples, a.mags); err != nil {
		return err
	}

	values := make([]float64, a.cfg.NumBands)
	peaks := make([]float64, a.cfg.NumBands)

	for band := 0; band < a.cfg.NumBands; band++ {
		level := a.bandLevel(band, sampleRate)

		prev := a.smoothed[band]
		if level > prev {
			prev += (level - prev) * a.cfg.RiseFactor
		} else {
			prev += (level - prev) * a.cfg.FallFactor
		}
		a.smoothed[band] = prev

		a.peaks[band] = math.Max(prev, a.peaks[band]*(1-a.cfg.PeakDecay))

		values[band] = prev
		peaks[band] = a.peaks[band]
	}

	a.frame.Store(&BandFrame{Values: values, Peaks: peaks})
	return nil
}

// bandLevel maps a band's weighted magnitude through the dB window to
// [0, 1].
func (a *SpectralAnalyzer) bandLevel(band, sampleRate int) float64 {
	mag := a.bandMagnitude(band, sampleRate)
	db := 20 * math.Log10(mag+config.MagnitudeFloor)
	db = math.Max(a.cfg.MinDB, math.Min(a.cfg.MaxDB, db))
	norm := (db - a.cfg.MinDB) / (a.cfg.MaxDB - a.cfg.MinDB)
	return math.Pow(norm, a.cfg.Exponent)
}

// bandMagnitude is the weighted mean of the bins inside a log-spaced band.
// Each bin carries its own weight, so a band straddling a weighting cutoff
// leans towards the favoured side.
func (a *SpectralAnalyzer) bandMagnitude(band, sampleRate int) float64 {
	lo, hi := a.BandEdges(band)
	n := float64(a.cfg.FFTSize)
	binHz := float64(sampleRate) / n
	lastBin := len(a.mags) - 1

	start := clampInt(int(lo/binHz), 0, lastBin)
	end := clampInt(int(hi/binHz), start, lastBin)

	var sum, weights float64
	for i := start; i <= end; i++ {
		w := binWeight(float64(i) * binHz)
		sum += a.mags[i] * w
		weights += w
	}
	return sum / weights
}

// binWeight lifts the bass and treble extremes slightly.
func binWeight(freq float64) float64 {
	switch {
	case freq < config.BassWeightCutoff:
		return config.BassWeight
	case freq > config.TrebleWeightCutoff:
		return config.TrebleWeight
	}
	return 1
}

// BandEdges returns the lower and upper frequency of a band
func (a *SpectralAnalyzer) BandEdges(band int) (lo, hi float64) {
	ratio := a.cfg.MaxFreq / a.cfg.MinFreq
	n := float64(a.cfg.NumBands)
	lo = a.cfg.MinFreq * math.Pow(ratio, float64(band)/n)
	hi = a.cfg.MinFreq * math.Pow(ratio, float64(band+1)/n)
	return lo, hi
}

// Frame returns the latest published analysis
func (a *SpectralAnalyzer) Frame() *BandFrame {
	return a.frame.Load()
}

// VisualizerData returns the current smoothed band levels
func (a *SpectralAnalyzer) VisualizerData() []float64 {
	return a.frame.Load().Values
}

// BandPeaks returns the current peak-hold levels
func (a *SpectralAnalyzer) BandPeaks() []float64 {
	return a.frame.Load().Peaks
}

// NumBands returns the configured band count
func (a *SpectralAnalyzer) NumBands() int {
	return a.cfg.NumBands
}

// Buffered returns the number of samples waiting for analysis
func (a *SpectralAnalyzer) Buffered() int {
	return a.ring.Available()
}

// Reset drops buffered samples so stale audio is not analysed after a seek.
// Smoothed levels are kept so the display decays naturally.
func (a *SpectralAnalyzer) Reset() {
	a.ring.Reset()
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
