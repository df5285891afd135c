// Package device models a queued-buffer playback API: buffers are filled
// with PCM, queued on a source, played, and handed back once processed.
// A software mixer implements it on top of malgo, or on a manual clock for
// headless use.
package device

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOperation is returned for calls the current state forbids,
	// such as unqueueing a buffer that has not been played yet.
	ErrInvalidOperation = errors.New("invalid device operation")

	// ErrInvalidName is returned for unknown buffer IDs.
	ErrInvalidName = errors.New("invalid buffer name")

	// ErrClosed is returned by any call on a closed device or source.
	ErrClosed = errors.New("device closed")
)

// BufferID names a PCM buffer owned by a device.
type BufferID uint32

// Format describes the layout of uploaded PCM.
type Format int

const (
	FormatMono16 Format = iota + 1
	FormatStereo16
)

// FormatForChannels returns the 16-bit format for a channel count.
func FormatForChannels(channels int) (Format, error) {
	switch channels {
	case 1:
		return FormatMono16, nil
	case 2:
		return FormatStereo16, nil
	default:
		return 0, fmt.Errorf("unsupported channel count %d", channels)
	}
}

// Channels returns the channel count of the format.
func (f Format) Channels() int {
	if f == FormatMono16 {
		return 1
	}
	return 2
}

// SourceState is the playback state of a source.
type SourceState int

const (
	StateInitial SourceState = iota
	StatePlaying
	StatePaused
	StateStopped
)

func (s SourceState) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("SourceState(%d)", int(s))
	}
}

// ReverbParams drives a reverb send effect. Units follow the classic
// environmental reverb model: seconds for times, linear for gains.
type ReverbParams struct {
	DecayTime        float64
	ReflectionsDelay float64
	LateDelay        float64
	RoomRolloff      float64
	DecayHFRatio     float64
	ReflectionsGain  float64
	LateGain         float64
	AirAbsorption    float64
}

// ReverbSlot is an effect slot that sources can send into.
type ReverbSlot interface {
	SetParams(p ReverbParams) error
	Close() error
}

// ReverbExtension creates reverb slots.
type ReverbExtension interface {
	NewSlot() (ReverbSlot, error)
}

// Extensions lists the optional capabilities negotiated when the device is
// opened. Absent capabilities are nil or false.
type Extensions struct {
	Reverb ReverbExtension
	HRTF   bool
}

// Device owns buffers, sources and the listener.
type Device interface {
	SampleRate() int
	GenBuffers(n int) ([]BufferID, error)
	DeleteBuffers(ids []BufferID) error
	BufferData(id BufferID, format Format, sampleRate int, data []int16) error
	NewSource() (Source, error)
	SetListenerPosition(x, y, z float64)
	Extensions() Extensions
	Close() error
}

// Source is one playback voice fed from a queue of buffers.
type Source interface {
	QueueBuffers(ids ...BufferID) error
	// UnqueueBuffers removes n processed buffers from the head of the queue.
	UnqueueBuffers(n int) ([]BufferID, error)
	BuffersProcessed() int
	BuffersQueued() int

	Play() error
	Pause() error
	// Stop halts playback and marks every queued buffer processed.
	Stop() error
	State() SourceState

	// SampleOffset is the playback position in frames, measured from the
	// start of the first buffer still in the queue.
	SampleOffset() int64

	SetGain(gain float64)
	Gain() float64
	SetPitch(ratio float64)
	Pitch() float64
	SetPosition(x, y, z float64)
	Position() (x, y, z float64)
	SetAuxSend(slot ReverbSlot) error

	Close() error
}
