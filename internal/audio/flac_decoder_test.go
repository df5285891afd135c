package audio

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

const (
	flacBlockSize = 4096
	flacBlocks    = 12
	flacFrames    = flacBlockSize * flacBlocks
)

// flacSample is the left channel value at a frame; the right channel is
// its negation. Values repeat every 2000 frames so every position differs
// from its neighbours.
func flacSample(i int) int32 {
	return int32(i%2000-1000) * 16
}

// writeFLAC encodes a 16-bit stereo fixture at 44.1 kHz with fixed-size
// verbatim frames
func writeFLAC(t *testing.T, name string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create fixture: %v", err)
	}

	info := &meta.StreamInfo{
		BlockSizeMin:  flacBlockSize,
		BlockSizeMax:  flacBlockSize,
		SampleRate:    44100,
		NChannels:     2,
		BitsPerSample: 16,
		NSamples:      flacFrames,
	}
	enc, err := flac.NewEncoder(f, info)
	if err != nil {
		t.Fatalf("failed to create FLAC encoder: %v", err)
	}

	for b := 0; b < flacBlocks; b++ {
		left := make([]int32, flacBlockSize)
		right := make([]int32, flacBlockSize)
		for i := range left {
			left[i] = flacSample(b*flacBlockSize + i)
			right[i] = -left[i]
		}

		fr := &frame.Frame{
			Header: frame.Header{
				HasFixedBlockSize: true,
				BlockSize:         flacBlockSize,
				SampleRate:        44100,
				Channels:          frame.ChannelsLR,
				BitsPerSample:     16,
			},
			Subframes: []*frame.Subframe{
				{SubHeader: frame.SubHeader{Pred: frame.PredVerbatim}, Samples: left, NSamples: flacBlockSize},
				{SubHeader: frame.SubHeader{Pred: frame.PredVerbatim}, Samples: right, NSamples: flacBlockSize},
			},
		}
		if err := enc.WriteFrame(fr); err != nil {
			t.Fatalf("failed to encode frame %d: %v", b, err)
		}
	}

	// Close finalises the stream info and closes the file
	if err := enc.Close(); err != nil {
		t.Fatalf("failed to finalise fixture: %v", err)
	}
	return path
}

func openFLAC(t *testing.T) *FLACDecoder {
	t.Helper()

	dec, err := NewFLACDecoder(writeFLAC(t, "ramp.flac"))
	if err != nil {
		t.Fatalf("NewFLACDecoder failed: %v", err)
	}
	t.Cleanup(func() { dec.Close() })
	return dec
}

// checkFLACRun verifies that buf holds n frames starting at track frame
// first
func checkFLACRun(t *testing.T, buf []float32, first, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		want := float32(flacSample(first+i)) / 32768
		if buf[2*i] != want || buf[2*i+1] != -want {
			t.Fatalf("frame %d = (%f, %f), want (%f, %f)", first+i, buf[2*i], buf[2*i+1], want, -want)
		}
	}
}

func TestFLACDecoder_FormatAndDuration(t *testing.T) {
	dec := openFLAC(t)

	if dec.SampleRate() != 44100 {
		t.Errorf("SampleRate = %d, want 44100", dec.SampleRate())
	}
	if dec.NumChannels() != 2 {
		t.Errorf("NumChannels = %d, want 2", dec.NumChannels())
	}
	if dec.NumFrames() != flacFrames {
		t.Errorf("NumFrames = %d, want %d", dec.NumFrames(), flacFrames)
	}
	if got := dec.Metadata().Title; got != "ramp" {
		t.Errorf("Metadata().Title = %q, want %q", got, "ramp")
	}
}

// TestFLACDecoder_ReadFramesAcrossFrames reads in chunks that do not line
// up with FLAC frames, so most reads finish one frame and start the next.
func TestFLACDecoder_ReadFramesAcrossFrames(t *testing.T) {
	dec := openFLAC(t)

	buf := make([]float32, 2*3000+1)
	buf[len(buf)-1] = 7
	pos := 0
	for {
		n, err := dec.ReadFrames(buf)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrames failed at frame %d: %v", pos, err)
		}
		checkFLACRun(t, buf, pos, n)
		pos += n
	}

	if pos != flacFrames {
		t.Errorf("read %d frames, want %d", pos, flacFrames)
	}
	if buf[len(buf)-1] != 7 {
		t.Error("ReadFrames wrote past the last whole frame")
	}
	if n, err := dec.ReadFrames(buf[:1]); n != 0 || err != nil {
		t.Errorf("ReadFrames on a sub-frame buffer = %d, %v; want 0, nil", n, err)
	}
}

func TestFLACDecoder_Seek(t *testing.T) {
	dec := openFLAC(t)
	buf := make([]float32, 2*500)

	// Frame boundaries and targets inside a FLAC frame both land exactly
	for _, target := range []int{0, flacBlockSize, 3*flacBlockSize + 123, flacFrames - 10, 77} {
		if err := dec.Seek(int64(target)); err != nil {
			t.Fatalf("Seek(%d) failed: %v", target, err)
		}
		n, err := dec.ReadFrames(buf)
		if err != nil {
			t.Fatalf("ReadFrames after Seek(%d) failed: %v", target, err)
		}
		if want := min(500, flacFrames-target); n != want {
			t.Errorf("after Seek(%d) read %d frames, want %d", target, n, want)
		}
		checkFLACRun(t, buf, target, n)
	}

	// Out-of-range targets clamp instead of failing
	if err := dec.Seek(flacFrames + 100); err != nil {
		t.Fatalf("Seek past end failed: %v", err)
	}
	if n, err := dec.ReadFrames(buf); n != 0 || !errors.Is(err, io.EOF) {
		t.Errorf("read after Seek past end = %d, %v; want 0, io.EOF", n, err)
	}

	if err := dec.Seek(-5); err != nil {
		t.Fatalf("Seek(-5) failed: %v", err)
	}
	n, err := dec.ReadFrames(buf)
	if err != nil || n != 500 {
		t.Fatalf("read after Seek(-5) = %d, %v; want 500, nil", n, err)
	}
	checkFLACRun(t, buf, 0, n)
}
