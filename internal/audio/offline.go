package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
)

// AnalyzeAt renders the spectrum a listener would see at the given time
// without playing the track. It runs `windows` overlapping analyses ending
// on a window centred at seconds so the smoothing settles as it would live.
// The decoder's read position is left wherever the read stopped.
func AnalyzeAt(dec StreamDecoder, a *SpectralAnalyzer, seconds float64, windows int) (*BandFrame, error) {
	if windows < 1 {
		windows = 1
	}
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}

	channels := dec.NumChannels()
	rate := dec.SampleRate()
	if channels <= 0 || rate <= 0 {
		return nil, fmt.Errorf("invalid stream format: %d channels at %d Hz", channels, rate)
	}

	size := a.cfg.FFTSize
	hop := size / 2
	span := size + (windows-1)*hop

	centre := clampFrame(int64(seconds*float64(rate)), dec.NumFrames())
	start := max(0, centre-int64(size/2)-int64((windows-1)*hop))
	if err := dec.Seek(start); err != nil {
		return nil, fmt.Errorf("failed to seek to %.2fs: %w", seconds, err)
	}

	pcm := make([]float32, span*channels)
	got := 0
	for got < span {
		n, err := dec.ReadFrames(pcm[got*channels:])
		got += n
		if errors.Is(err, io.EOF) || (err == nil && n == 0) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read audio: %w", err)
		}
	}
	if got == 0 {
		return nil, io.ErrUnexpectedEOF
	}

	// Frames past the end stay silent
	mono := make([]float32, span)
	downmix(mono, pcm, channels)

	var frame *BandFrame
	for w := 0; w < windows; w++ {
		var err error
		frame, err = a.AnalyzeWindow(mono[w*hop:w*hop+size], rate)
		if err != nil {
			return nil, err
		}
	}
	return frame, nil
}
