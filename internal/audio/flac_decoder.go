package audio

import (
	"fmt"
	"io"
	"os"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
)

// FLACDecoder implements StreamDecoder for FLAC files
type FLACDecoder struct {
	stream      *flac.Stream
	file        *os.File
	sampleRate  int
	numFrames   int64
	numChannels int
	position    int64
	metadata    Metadata

	// Partially consumed FLAC frame
	pending    *frame.Frame
	pendingPos int
}

// NewFLACDecoder creates a new FLAC decoder
func NewFLACDecoder(filename string) (*FLACDecoder, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	// Parse FLAC stream with seek table support
	stream, err := flac.NewSeek(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create FLAC decoder: %w", err)
	}

	return &FLACDecoder{
		stream:      stream,
		file:        f,
		sampleRate:  int(stream.Info.SampleRate),
		numFrames:   int64(stream.Info.NSamples),
		numChannels: int(stream.Info.NChannels),
		metadata:    readMetadata(filename),
	}, nil
}

// ReadFrames reads the next block of interleaved frames
func (d *FLACDecoder) ReadFrames(dst []float32) (int, error) {
	want := len(dst) / d.numChannels
	if want == 0 {
		return 0, nil
	}

	written := 0
	for written < want {
		if d.pending == nil {
			if d.numFrames > 0 && d.position >= d.numFrames {
				break
			}
			fr, err := d.stream.ParseNext()
			if err == io.EOF {
				break
			}
			if err != nil {
				if written > 0 {
					break
				}
				return 0, fmt.Errorf("failed to parse FLAC frame: %w", err)
			}
			d.pending = fr
			d.pendingPos = 0
		}

		fr := d.pending
		frameLen := len(fr.Subframes[0].Samples)
		scale := float32(int64(1) << (fr.BitsPerSample - 1))

		for d.pendingPos < frameLen && written < want {
			base := written * d.numChannels
			for ch := 0; ch < d.numChannels; ch++ {
				dst[base+ch] = float32(fr.Subframes[ch].Samples[d.pendingPos]) / scale
			}
			d.pendingPos++
			written++
			d.position++
		}
		if d.pendingPos >= frameLen {
			d.pending = nil
		}
	}

	if written == 0 {
		return 0, io.EOF
	}
	return written, nil
}

// Seek positions the stream at the FLAC frame containing the target and
// skips forward to the exact sample.
func (d *FLACDecoder) Seek(target int64) error {
	target = clampFrame(target, d.numFrames)
	d.pending = nil
	d.pendingPos = 0

	if target >= d.numFrames {
		d.position = d.numFrames
		return nil
	}

	start, err := d.stream.Seek(uint64(target))
	if err != nil {
		return fmt.Errorf("failed to seek FLAC stream: %w", err)
	}
	d.position = int64(start)

	if skip := target - int64(start); skip > 0 {
		fr, err := d.stream.ParseNext()
		if err != nil {
			return fmt.Errorf("failed to parse FLAC frame after seek: %w", err)
		}
		d.pending = fr
		d.pendingPos = int(skip)
		d.position = target
	}
	return nil
}

// SampleRate returns the sample rate
func (d *FLACDecoder) SampleRate() int {
	return d.sampleRate
}

// NumFrames returns the total number of frames
func (d *FLACDecoder) NumFrames() int64 {
	return d.numFrames
}

// NumChannels returns the number of audio channels
func (d *FLACDecoder) NumChannels() int {
	return d.numChannels
}

// Metadata returns the file tags
func (d *FLACDecoder) Metadata() Metadata {
	return d.metadata
}

// Close closes the decoder and releases resources
func (d *FLACDecoder) Close() error {
	if d.stream != nil {
		d.stream.Close()
	}
	if d.file != nil {
		return d.file.Close()
	}
	return nil
}
