package audio

import (
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// WAVDecoder implements StreamDecoder for integer PCM WAV files
type WAVDecoder struct {
	decoder    *wav.Decoder
	file       *os.File
	sampleRate int
	bitDepth   int
	numChans   int
	pcmStart   int64
	pcmLen     int64
	numFrames  int64
	position   int64
	intBuf     *audio.IntBuffer
	metadata   Metadata
}

// NewWAVDecoder creates a new WAV decoder
func NewWAVDecoder(filename string) (*WAVDecoder, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("invalid WAV file")
	}

	if decoder.WavAudioFormat != wavFormatPCM && decoder.WavAudioFormat != wavFormatExtensible {
		f.Close()
		return nil, fmt.Errorf("%w: WAV encoding %d", ErrUnsupportedFormat, decoder.WavAudioFormat)
	}

	// Get format info without reading all samples
	if err := decoder.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to seek to PCM data: %w", err)
	}

	pcmStart, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to locate PCM data: %w", err)
	}

	numChans := int(decoder.NumChans)
	bitDepth := int(decoder.BitDepth)
	bytesPerFrame := int64(numChans * ((bitDepth + 7) / 8))
	if numChans <= 0 || bytesPerFrame <= 0 {
		f.Close()
		return nil, fmt.Errorf("invalid WAV format: %d channels, %d bits", numChans, bitDepth)
	}
	pcmLen := int64(decoder.PCMSize)

	return &WAVDecoder{
		decoder:    decoder,
		file:       f,
		sampleRate: int(decoder.SampleRate),
		bitDepth:   bitDepth,
		numChans:   numChans,
		pcmStart:   pcmStart,
		pcmLen:     pcmLen,
		numFrames:  pcmLen / bytesPerFrame,
		intBuf:     &audio.IntBuffer{},
		metadata:   readMetadata(filename),
	}, nil
}

// ReadFrames reads the next block of interleaved frames
func (d *WAVDecoder) ReadFrames(dst []float32) (int, error) {
	want := (len(dst) / d.numChans) * d.numChans
	if want == 0 {
		return 0, nil
	}
	if d.position >= d.numFrames {
		return 0, io.EOF
	}

	if cap(d.intBuf.Data) < want {
		d.intBuf.Data = make([]int, want)
	}
	data := d.intBuf.Data[:want]

	// PCMBuffer issues a single read, so keep going until full or drained
	total := 0
	for total < want {
		d.intBuf.Data = data[total:]
		n, err := d.decoder.PCMBuffer(d.intBuf)
		if err != nil && err != io.EOF {
			d.intBuf.Data = data
			return 0, fmt.Errorf("failed to read PCM buffer: %w", err)
		}
		if n == 0 {
			break
		}
		total += n
	}
	d.intBuf.Data = data

	frames := total / d.numChans
	if frames == 0 {
		return 0, io.EOF
	}

	if d.bitDepth == 8 {
		// 8-bit WAV is unsigned
		for i := 0; i < frames*d.numChans; i++ {
			dst[i] = float32(data[i]-128) / 128
		}
	} else {
		scale := float32(audio.IntMaxSignedValue(d.bitDepth)) + 1
		for i := 0; i < frames*d.numChans; i++ {
			dst[i] = float32(data[i]) / scale
		}
	}

	d.position += int64(frames)
	return frames, nil
}

// Seek repositions the decoder by pointing the PCM chunk reader at the
// requested byte offset.
func (d *WAVDecoder) Seek(frame int64) error {
	frame = clampFrame(frame, d.numFrames)
	bytesPerFrame := int64(d.numChans * ((d.bitDepth + 7) / 8))
	offset := frame * bytesPerFrame

	if _, err := d.file.Seek(d.pcmStart+offset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek WAV data: %w", err)
	}
	d.decoder.PCMChunk.R = io.LimitReader(d.file, d.pcmLen-offset)
	d.position = frame
	return nil
}

// SampleRate returns the sample rate
func (d *WAVDecoder) SampleRate() int {
	return d.sampleRate
}

// NumFrames returns the total number of frames
func (d *WAVDecoder) NumFrames() int64 {
	return d.numFrames
}

// NumChannels returns the number of audio channels
func (d *WAVDecoder) NumChannels() int {
	return d.numChans
}

// Metadata returns the file tags
func (d *WAVDecoder) Metadata() Metadata {
	return d.metadata
}

// Close closes the decoder and releases resources
func (d *WAVDecoder) Close() error {
	if d.file != nil {
		return d.file.Close()
	}
	return nil
}
