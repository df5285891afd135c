package audio

import (
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"
)

// go-mp3 always outputs interleaved 16-bit stereo: L0 R0 L1 R1 ...
const mp3BytesPerFrame = 4

// MP3Decoder implements StreamDecoder for MP3 files
type MP3Decoder struct {
	decoder    *mp3.Decoder
	file       *os.File
	sampleRate int
	numFrames  int64
	position   int64
	atEnd      bool // Parked at NumFrames by Seek
	buf        []byte
	metadata   Metadata
}

// NewMP3Decoder creates a new MP3 decoder
func NewMP3Decoder(filename string) (*MP3Decoder, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create MP3 decoder: %w", err)
	}

	return &MP3Decoder{
		decoder:    decoder,
		file:       f,
		sampleRate: decoder.SampleRate(),
		numFrames:  decoder.Length() / mp3BytesPerFrame,
		metadata:   readMetadata(filename),
	}, nil
}

// ReadFrames reads the next block of stereo frames
func (d *MP3Decoder) ReadFrames(dst []float32) (int, error) {
	frames := len(dst) / 2
	if frames == 0 {
		return 0, nil
	}
	if d.atEnd {
		return 0, io.EOF
	}

	need := frames * mp3BytesPerFrame
	if cap(d.buf) < need {
		d.buf = make([]byte, need)
	}
	buf := d.buf[:need]

	n, err := io.ReadFull(d.decoder, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return 0, fmt.Errorf("failed to read MP3 data: %w", err)
	}

	got := n / mp3BytesPerFrame
	if got == 0 {
		return 0, io.EOF
	}

	for i := 0; i < got*2; i++ {
		s := int16(buf[i*2]) | int16(buf[i*2+1])<<8
		dst[i] = float32(s) / 32768
	}

	d.position += int64(got)
	return got, nil
}

// Seek moves to a frame using go-mp3's byte-addressed seeking. go-mp3
// decodes the MPEG frame holding the target, and there is none at the very
// end of the track, so that case is handled here.
func (d *MP3Decoder) Seek(frame int64) error {
	frame = clampFrame(frame, d.numFrames)
	if frame >= d.numFrames {
		d.position = d.numFrames
		d.atEnd = true
		return nil
	}
	d.atEnd = false
	if _, err := d.decoder.Seek(frame*mp3BytesPerFrame, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek MP3 stream: %w", err)
	}
	d.position = frame
	return nil
}

// SampleRate returns the sample rate
func (d *MP3Decoder) SampleRate() int {
	return d.sampleRate
}

// NumFrames returns the total number of frames
func (d *MP3Decoder) NumFrames() int64 {
	return d.numFrames
}

// NumChannels returns the number of audio channels
func (d *MP3Decoder) NumChannels() int {
	return 2
}

// Metadata returns the file tags
func (d *MP3Decoder) Metadata() Metadata {
	return d.metadata
}

// Close closes the decoder and releases resources
func (d *MP3Decoder) Close() error {
	if d.file != nil {
		return d.file.Close()
	}
	return nil
}
