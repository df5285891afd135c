// Package engine streams a decoded track into a queued-buffer playback
// device. A dedicated goroutine keeps the device's source fed, runs each
// buffer through the tone chain and feeds the spectrum analyzer on the way.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/linuxmatters/jiveplayer/internal/audio"
	"github.com/linuxmatters/jiveplayer/internal/config"
	"github.com/linuxmatters/jiveplayer/internal/device"
	"github.com/linuxmatters/jiveplayer/internal/effects"
)

// queuedBuffer records which stretch of the track a queued buffer holds.
type queuedBuffer struct {
	id     device.BufferID
	start  int64 // Track frame of the first sample
	frames int64
}

// Engine owns one playback source and its buffer pool.
//
// Two locks guard it, always taken in the order decMu then mu. decMu owns
// the decoder: its position, read state and scratch buffers change only
// while it is held. mu owns playback state and the queue. The streaming
// goroutine holds decMu for a whole poll but takes mu only around queue
// changes, so a decoder read never holds up Status, CurrentTime or the
// other queries.
type Engine struct {
	log  *zap.Logger
	opts Options
	dev  device.Device
	src  device.Source

	tone     *effects.ToneControl
	analyzer *audio.SpectralAnalyzer
	spatial  *Spatial
	reverb   *effects.RoomReverb

	decMu sync.Mutex
	// Written under both locks, read under either
	dec  audio.StreamDecoder
	cfg  StreamingConfig
	path string
	// Decoder read state, guarded by decMu alone
	readPos int64 // Decoder frame of the next read
	eos     bool
	retries int
	scratch []float32
	pcm     []int16

	mu       sync.Mutex
	closed   bool
	info     TrackInfo
	status   Status
	buffers  []device.BufferID // Every buffer the engine owns
	free     []device.BufferID
	timeline []queuedBuffer // Queued buffers, oldest first
	cursor   int64          // Playback frame when nothing is queued

	looping   atomic.Bool
	volume    atomic.Uint64 // float64 bits
	delivered atomic.Int64

	events chan Event

	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup
	once    sync.Once
}

// New creates an engine on dev and starts its streaming goroutine. Failing
// to create the source or buffers is fatal: the engine cannot be used.
func New(dev device.Device, opts Options) (*Engine, error) {
	return newEngine(dev, opts, true)
}

func newEngine(dev device.Device, opts Options, start bool) (*Engine, error) {
	opts = opts.withDefaults()

	analyzer, err := audio.NewSpectralAnalyzer(opts.Analyzer)
	if err != nil {
		return nil, fmt.Errorf("failed to create analyzer: %w", err)
	}

	src, err := dev.NewSource()
	if err != nil {
		return nil, fmt.Errorf("failed to create source: %w", err)
	}
	buffers, err := dev.GenBuffers(opts.NumBuffers)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to generate %d buffers: %w", opts.NumBuffers, err)
	}

	e := &Engine{
		log:      opts.Logger,
		opts:     opts,
		dev:      dev,
		src:      src,
		tone:     effects.NewToneControl(),
		analyzer: analyzer,
		spatial:  newSpatial(dev, src),
		buffers:  buffers,
		free:     append([]device.BufferID(nil), buffers...),
		events:   make(chan Event, config.EventQueueSize),
	}
	e.tone.BindPitch(src)
	e.SetVolume(config.DefaultVolume)

	e.reverb, err = effects.NewRoomReverb(dev.Extensions())
	switch {
	case errors.Is(err, effects.ErrReverbUnsupported):
		e.log.Info("reverb not available on this device")
	case err != nil:
		e.log.Warn("reverb disabled", zap.Error(err))
		e.reverb = nil
	}

	if start {
		ctx, cancel := context.WithCancel(context.Background())
		e.cancel = cancel
		e.running.Store(true)
		e.wg.Add(1)
		go e.run(ctx)
	}
	return e, nil
}

// OpenFromFile loads a track, primes the queue and starts playing. If the
// file cannot be opened the current track keeps playing untouched.
func (e *Engine) OpenFromFile(path string) error {
	dec, err := e.opts.Opener(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	cfg := StreamingConfig{
		Channels:      dec.NumChannels(),
		SampleRate:    dec.SampleRate(),
		NumBuffers:    e.opts.NumBuffers,
		BufferSamples: e.opts.BufferSamples,
	}
	if err := cfg.Validate(); err != nil {
		dec.Close()
		return fmt.Errorf("cannot stream %s: %w", path, err)
	}
	if _, err := device.FormatForChannels(cfg.Channels); err != nil {
		dec.Close()
		return fmt.Errorf("cannot stream %s: %w", path, err)
	}
	if dec.NumFrames() <= 0 {
		dec.Close()
		return fmt.Errorf("%w: %s is empty", ErrNothingQueued, path)
	}

	md := dec.Metadata()
	info := TrackInfo{
		Title:    md.Title,
		Artist:   md.Artist,
		Album:    md.Album,
		Genre:    md.Genre,
		Year:     md.Year,
		Duration: audio.Duration(dec),
	}

	e.decMu.Lock()
	defer e.decMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		dec.Close()
		return ErrClosed
	}

	if err := e.flushLocked(); err != nil {
		e.log.Warn("failed to flush previous track", zap.Error(err))
	}
	if e.dec != nil {
		if err := e.dec.Close(); err != nil {
			e.log.Warn("failed to close previous track", zap.String("path", e.path), zap.Error(err))
		}
	}

	e.dec = dec
	e.cfg = cfg
	e.info = info
	e.path = path
	e.status = StatusStopped
	e.readPos = 0
	e.cursor = 0
	e.eos = false
	e.retries = 0
	e.delivered.Store(0)
	e.scratch = make([]float32, cfg.FramesPerBuffer()*cfg.Channels)
	e.pcm = make([]int16, len(e.scratch))
	e.analyzer.Reset()

	e.log.Info("track loaded",
		zap.String("path", path),
		zap.Int("channels", cfg.Channels),
		zap.Int("sample_rate", cfg.SampleRate),
		zap.Int64("frames", dec.NumFrames()))

	return e.startLocked()
}

// LoadTrack is an alias for OpenFromFile.
func (e *Engine) LoadTrack(path string) error {
	return e.OpenFromFile(path)
}

// Play starts or resumes playback. From Stopped the queue is primed from
// the current decoder position; from Paused the queued audio resumes as is.
func (e *Engine) Play() error {
	e.decMu.Lock()
	defer e.decMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.dec == nil {
		return ErrNoTrack
	}

	switch e.status {
	case StatusPlaying:
		return nil
	case StatusPaused:
		if err := e.reclaimLocked(); err != nil {
			e.failLocked(err)
			return err
		}
		if len(e.timeline) == 0 {
			return e.startLocked()
		}
		if err := e.src.Play(); err != nil {
			e.failLocked(err)
			return fmt.Errorf("failed to resume: %w", err)
		}
		e.status = StatusPlaying
		return nil
	}
	return e.startLocked()
}

// Pause holds playback. It is a no-op unless playing.
func (e *Engine) Pause() error {
	e.decMu.Lock()
	defer e.decMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.status != StatusPlaying {
		return nil
	}
	if err := e.src.Pause(); err != nil {
		e.failLocked(err)
		return fmt.Errorf("failed to pause: %w", err)
	}
	e.status = StatusPaused
	return nil
}

// Stop halts playback, clears the queue and rewinds to the start.
func (e *Engine) Stop() error {
	e.decMu.Lock()
	defer e.decMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.dec == nil {
		return nil
	}
	return e.rewindLocked()
}

// SetPlayingOffset seeks to a time in seconds, clamped to the track. The
// playback state is kept.
func (e *Engine) SetPlayingOffset(seconds float64) error {
	e.decMu.Lock()
	defer e.decMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.dec == nil {
		return ErrNoTrack
	}
	if math.IsNaN(seconds) {
		seconds = 0
	}
	seconds = math.Max(0, math.Min(seconds, e.info.Duration))

	target := int64(seconds * float64(e.cfg.SampleRate))
	target = max(0, min(target, e.dec.NumFrames()))

	status := e.status
	if err := e.flushLocked(); err != nil {
		e.failLocked(err)
		return fmt.Errorf("failed to flush for seek: %w", err)
	}
	if err := e.dec.Seek(target); err != nil {
		e.failLocked(err)
		return fmt.Errorf("failed to seek to frame %d: %w", target, err)
	}

	e.readPos = target
	e.cursor = target
	e.eos = false
	e.retries = 0
	e.delivered.Store(0)
	e.analyzer.Reset()

	e.log.Debug("seek", zap.Int64("frame", target), zap.Stringer("status", status))

	if status == StatusStopped {
		return nil
	}
	if _, err := e.primeLocked(); err != nil {
		e.failLocked(err)
		return fmt.Errorf("failed to refill after seek: %w", err)
	}
	if status == StatusPlaying && len(e.timeline) > 0 {
		if err := e.src.Play(); err != nil {
			e.failLocked(err)
			return fmt.Errorf("failed to resume after seek: %w", err)
		}
	}
	return nil
}

// SetCurrentTime seeks to a percentage of the track, clamped to [0, 100].
func (e *Engine) SetCurrentTime(percent float64) error {
	percent = math.Max(0, math.Min(100, percent))
	return e.SetPlayingOffset(e.Duration() * percent / 100)
}

// CurrentTime returns the playback position in seconds.
func (e *Engine) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dec == nil || e.cfg.SampleRate == 0 {
		return 0
	}
	return float64(e.positionLocked()) / float64(e.cfg.SampleRate)
}

// PlayingOffset is CurrentTime as a duration.
func (e *Engine) PlayingOffset() time.Duration {
	return time.Duration(e.CurrentTime() * float64(time.Second))
}

// Duration returns the loaded track's length in seconds.
func (e *Engine) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info.Duration
}

// Status returns the playback state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// TrackInfo returns the loaded track's tags and duration.
func (e *Engine) TrackInfo() TrackInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info
}

// Path returns the loaded track's path.
func (e *Engine) Path() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.path
}

// Config returns the loaded track's streaming configuration.
func (e *Engine) Config() StreamingConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Volume returns the source gain in [0, 1].
func (e *Engine) Volume() float64 {
	return math.Float64frombits(e.volume.Load())
}

// SetVolume sets the source gain, clamped to [0, 1].
func (e *Engine) SetVolume(v float64) {
	if math.IsNaN(v) {
		v = 0
	}
	v = math.Max(0, math.Min(1, v))
	e.volume.Store(math.Float64bits(v))
	e.src.SetGain(v)
}

// Bass returns the bass shelf level.
func (e *Engine) Bass() float64 { return e.tone.Bass() }

// SetBass sets the bass shelf level in [-1, 1].
func (e *Engine) SetBass(level float64) { e.tone.SetBass(level) }

// Treble returns the treble shelf level.
func (e *Engine) Treble() float64 { return e.tone.Treble() }

// SetTreble sets the treble shelf level in [-1, 1].
func (e *Engine) SetTreble(level float64) { e.tone.SetTreble(level) }

// Pitch returns the pitch shift in semitones.
func (e *Engine) Pitch() float64 { return e.tone.Pitch() }

// SetPitch sets the pitch shift in semitones, clamped to an octave.
func (e *Engine) SetPitch(semitones float64) { e.tone.SetPitch(semitones) }

// ApplyTonePreset sets bass, treble and pitch together.
func (e *Engine) ApplyTonePreset(p effects.TonePreset) { e.tone.ApplyPreset(p) }

// Looping reports whether the track replays when it ends.
func (e *Engine) Looping() bool {
	return e.looping.Load()
}

// SetLooping turns track looping on or off. Enabling it while the last
// buffers drain picks the track up again from the start.
func (e *Engine) SetLooping(on bool) {
	e.looping.Store(on)
	if on {
		e.decMu.Lock()
		e.eos = false
		e.decMu.Unlock()
	}
}

// UpdateVisualizer runs one analyzer step if one is due. It never blocks on
// the streaming goroutine.
func (e *Engine) UpdateVisualizer() bool {
	return e.analyzer.Update()
}

// VisualizerData returns the smoothed band levels.
func (e *Engine) VisualizerData() []float64 {
	return e.analyzer.VisualizerData()
}

// BandPeaks returns the peak-hold band levels.
func (e *Engine) BandPeaks() []float64 {
	return e.analyzer.BandPeaks()
}

// Spatial returns the source and listener positioning.
func (e *Engine) Spatial() *Spatial {
	return e.spatial
}

// Reverb returns the room reverb, or nil when the device has none.
func (e *Engine) Reverb() *effects.RoomReverb {
	return e.reverb
}

// SetReverbEnabled routes the source into the room reverb or removes it.
func (e *Engine) SetReverbEnabled(on bool) error {
	if e.reverb == nil {
		return effects.ErrReverbUnsupported
	}
	if on {
		return e.reverb.Attach(e.src)
	}
	return e.reverb.Detach()
}

// ReverbEnabled reports whether the reverb send is active.
func (e *Engine) ReverbEnabled() bool {
	return e.reverb != nil && e.reverb.Attached()
}

// Events delivers track notifications. The channel is closed by Close.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// QueuedBuffers returns the number of buffers queued on the source.
func (e *Engine) QueuedBuffers() int {
	return e.src.BuffersQueued()
}

// DeliveredFrames returns the frames handed to the device since the last
// load or seek.
func (e *Engine) DeliveredFrames() int64 {
	return e.delivered.Load()
}

// Close stops the streaming goroutine, waits for it, then releases the
// source, buffers and reverb slot. The device stays with the caller.
func (e *Engine) Close() error {
	var err error
	e.once.Do(func() {
		e.running.Store(false)
		if e.cancel != nil {
			e.cancel()
		}
		e.wg.Wait()

		e.decMu.Lock()
		defer e.decMu.Unlock()
		e.mu.Lock()
		defer e.mu.Unlock()

		e.closed = true
		err = multierr.Append(err, e.flushLocked())
		if e.dec != nil {
			err = multierr.Append(err, e.dec.Close())
			e.dec = nil
		}
		e.status = StatusStopped
		e.tone.BindPitch(nil)
		if e.reverb != nil {
			err = multierr.Append(err, e.reverb.Close())
		}
		err = multierr.Append(err, e.src.Close())
		err = multierr.Append(err, e.dev.DeleteBuffers(e.buffers))
		close(e.events)
	})
	return err
}
