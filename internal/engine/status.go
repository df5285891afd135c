package engine

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/linuxmatters/jiveplayer/internal/audio"
	"github.com/linuxmatters/jiveplayer/internal/config"
)

var (
	// ErrNoTrack is returned by transport calls before a track is loaded.
	ErrNoTrack = errors.New("no track loaded")

	// ErrNothingQueued is returned when a track yields no audio to queue.
	ErrNothingQueued = errors.New("no audio to queue")

	// ErrClosed is returned by any call after Close.
	ErrClosed = errors.New("engine closed")
)

// Status is the engine's playback state.
type Status int

const (
	StatusStopped Status = iota
	StatusPlaying
	StatusPaused
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "Stopped"
	case StatusPlaying:
		return "Playing"
	case StatusPaused:
		return "Paused"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// StreamingConfig describes how one track is streamed. It is derived from
// the decoder on every load and never changed while the track plays.
type StreamingConfig struct {
	Channels      int
	SampleRate    int
	NumBuffers    int // Hardware buffers kept queued
	BufferSamples int // Interleaved samples per hardware buffer
}

// Validate checks the configuration can drive a stream.
func (c StreamingConfig) Validate() error {
	switch {
	case c.Channels <= 0:
		return fmt.Errorf("invalid channel count %d", c.Channels)
	case c.SampleRate <= 0:
		return fmt.Errorf("invalid sample rate %d", c.SampleRate)
	case c.NumBuffers <= 0:
		return fmt.Errorf("invalid buffer count %d", c.NumBuffers)
	case c.BufferSamples < c.Channels:
		return fmt.Errorf("buffer of %d samples cannot hold a %d-channel frame", c.BufferSamples, c.Channels)
	}
	return nil
}

// FramesPerBuffer returns how many whole frames fit in one buffer.
func (c StreamingConfig) FramesPerBuffer() int {
	return c.BufferSamples / c.Channels
}

// TrackInfo describes the loaded track. It is replaced on every load.
type TrackInfo struct {
	Title    string
	Artist   string
	Album    string
	Genre    string
	Year     string
	Duration float64 // Seconds
}

// EventKind identifies an engine notification.
type EventKind int

const (
	// EventTrackFinished fires when a track plays to its end without loop.
	EventTrackFinished EventKind = iota + 1

	// EventTrackFailed fires when an unrecoverable error stops a track.
	EventTrackFailed
)

// Event is delivered on Engine.Events.
type Event struct {
	Kind EventKind
	Path string
	Err  error
}

// Options configure an Engine. Zero fields take the defaults.
type Options struct {
	Logger        *zap.Logger
	NumBuffers    int
	BufferSamples int
	PollInterval  time.Duration
	Analyzer      audio.AnalyzerConfig
	Opener        audio.Opener
}

// DefaultOptions returns the player's standard streaming settings.
func DefaultOptions() Options {
	return Options{
		Logger:        zap.NewNop(),
		NumBuffers:    config.StreamNumBuffers,
		BufferSamples: config.StreamBufferSamples,
		PollInterval:  config.PollIntervalMs * time.Millisecond,
		Analyzer:      audio.DefaultAnalyzerConfig(),
		Opener:        audio.Open,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Logger == nil {
		o.Logger = def.Logger
	}
	if o.NumBuffers <= 0 {
		o.NumBuffers = def.NumBuffers
	}
	if o.BufferSamples <= 0 {
		o.BufferSamples = def.BufferSamples
	}
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	if o.Analyzer.NumBands == 0 {
		o.Analyzer = def.Analyzer
	}
	if o.Opener == nil {
		o.Opener = def.Opener
	}
	return o
}
