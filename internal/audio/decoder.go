package audio

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned by Open for files no decoder handles.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// StreamDecoder delivers a track as interleaved float32 frames in [-1, 1].
// Implementations are not safe for concurrent use; the engine serialises
// access under its own lock.
type StreamDecoder interface {
	// ReadFrames fills dst with up to len(dst)/NumChannels() whole frames
	// and returns the number of frames written. At end of stream it returns
	// 0 and io.EOF.
	ReadFrames(dst []float32) (int, error)

	// Seek moves the read position to the given frame, clamped to
	// [0, NumFrames()].
	Seek(frame int64) error

	// SampleRate returns the audio sample rate in Hz
	SampleRate() int

	// NumFrames returns the total number of frames in the track
	NumFrames() int64

	// NumChannels returns the number of audio channels (1=mono, 2=stereo)
	NumChannels() int

	// Metadata returns the tags read when the file was opened
	Metadata() Metadata

	// Close closes the decoder and releases resources
	Close() error
}

// Opener opens a decoder for a path. The engine accepts one so tests can
// substitute synthetic sources.
type Opener func(path string) (StreamDecoder, error)

// Open picks a decoder by file extension.
func Open(path string) (StreamDecoder, error) {
	var (
		dec StreamDecoder
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		dec, err = NewWAVDecoder(path)
	case ".mp3":
		dec, err = NewMP3Decoder(path)
	case ".flac":
		dec, err = NewFLACDecoder(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	return dec, nil
}

// IsSupported reports whether Open recognises the file extension.
func IsSupported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave", ".mp3", ".flac":
		return true
	}
	return false
}

// Duration returns the track length in seconds.
func Duration(d StreamDecoder) float64 {
	if d.SampleRate() <= 0 {
		return 0
	}
	return float64(d.NumFrames()) / float64(d.SampleRate())
}

func clampFrame(frame, total int64) int64 {
	if frame < 0 {
		return 0
	}
	if frame > total {
		return total
	}
	return frame
}
