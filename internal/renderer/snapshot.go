package renderer

import (
	"fmt"
	"image"
	"image/png"
	"os"

	"golang.org/x/image/font"

	"github.com/linuxmatters/jiveplayer/internal/audio"
	"github.com/linuxmatters/jiveplayer/internal/config"
)

// Snapshot draws one spectrum frame as a still image: bars growing up from
// a baseline with a fade towards the tip, a peak marker above each bar and
// the track title along the top.
type Snapshot struct {
	img      *image.RGBA
	fontFace font.Face

	barColor  [3]uint8
	peakColor [3]uint8
	textColor [3]uint8

	baseline     int
	maxBarHeight int
	alphaTable   []uint8 // Gradient alpha by distance from the baseline
}

// NewSnapshot prepares a canvas using the colours from runtimeConfig,
// which may be nil for the defaults.
func NewSnapshot(runtimeConfig *config.RuntimeConfig) (*Snapshot, error) {
	face, err := LoadFont(config.TitleFontSize)
	if err != nil {
		return nil, err
	}

	s := &Snapshot{
		img:      image.NewRGBA(image.Rect(0, 0, config.SnapshotWidth, config.SnapshotHeight)),
		fontFace: face,
		baseline: config.SnapshotHeight - config.SnapshotMargin,
	}
	s.barColor[0], s.barColor[1], s.barColor[2] = runtimeConfig.GetBarColor()
	s.peakColor[0], s.peakColor[1], s.peakColor[2] = runtimeConfig.GetPeakColor()
	s.textColor[0], s.textColor[1], s.textColor[2] = runtimeConfig.GetTextColor()

	// Leave room for the title above the tallest bar
	s.maxBarHeight = s.baseline - 2*config.SnapshotMargin - config.TitleFontSize

	// Fade from full strength at the baseline to half at the tip
	s.alphaTable = make([]uint8, s.maxBarHeight)
	for i := range s.alphaTable {
		distance := float64(i) / float64(s.maxBarHeight)
		s.alphaTable[i] = uint8((1.0 - distance*0.5) * 255)
	}
	return s, nil
}

// Draw renders the frame and title, replacing anything drawn before.
func (s *Snapshot) Draw(frame *audio.BandFrame, title string) {
	for i := 0; i < len(s.img.Pix); i += 4 {
		s.img.Pix[i] = 0
		s.img.Pix[i+1] = 0
		s.img.Pix[i+2] = 0
		s.img.Pix[i+3] = 255
	}

	if frame != nil && len(frame.Values) > 0 {
		s.drawBars(frame)
	}
	if title != "" {
		DrawCenterText(s.img, s.fontFace, title, s.textColor, config.SnapshotMargin+config.TitleFontSize)
	}
}

// barGeometry spreads n bars across the canvas inside the margins.
func (s *Snapshot) barGeometry(n int) (startX, barWidth int) {
	usable := config.SnapshotWidth - 2*config.SnapshotMargin
	barWidth = (usable - (n-1)*config.SnapshotBarGap) / n
	if barWidth < 1 {
		barWidth = 1
	}
	totalWidth := n*barWidth + (n-1)*config.SnapshotBarGap
	return (config.SnapshotWidth - totalWidth) / 2, barWidth
}

func (s *Snapshot) drawBars(frame *audio.BandFrame) {
	n := len(frame.Values)
	startX, barWidth := s.barGeometry(n)

	// Pre-allocate pixel pattern buffer (reused for every scanline)
	pixelPattern := make([]byte, barWidth*4)

	for i, v := range frame.Values {
		x := startX + i*(barWidth+config.SnapshotBarGap)
		if x+barWidth > config.SnapshotWidth {
			break
		}

		barHeight := s.scale(v)
		for y := s.baseline - barHeight; y < s.baseline; y++ {
			alpha := uint16(s.alphaTable[s.baseline-1-y])
			for px := 0; px < barWidth; px++ {
				offset := px * 4
				pixelPattern[offset] = uint8(uint16(s.barColor[0]) * alpha / 255)
				pixelPattern[offset+1] = uint8(uint16(s.barColor[1]) * alpha / 255)
				pixelPattern[offset+2] = uint8(uint16(s.barColor[2]) * alpha / 255)
				pixelPattern[offset+3] = 255
			}
			offset := y*s.img.Stride + x*4
			copy(s.img.Pix[offset:offset+barWidth*4], pixelPattern)
		}

		if i < len(frame.Peaks) {
			s.drawPeak(x, barWidth, s.scale(frame.Peaks[i]))
		}
	}
}

// drawPeak draws a short horizontal marker resting on top of the peak height.
func (s *Snapshot) drawPeak(x, barWidth, peakHeight int) {
	const thickness = 4
	if peakHeight <= 0 {
		return
	}
	top := max(s.baseline-peakHeight-thickness, 0)
	for y := top; y < top+thickness; y++ {
		offset := y*s.img.Stride + x*4
		for px := 0; px < barWidth; px++ {
			pix := s.img.Pix[offset+px*4:]
			pix[0], pix[1], pix[2], pix[3] = s.peakColor[0], s.peakColor[1], s.peakColor[2], 255
		}
	}
}

// scale maps a level in [0, 1] to a bar height in pixels.
func (s *Snapshot) scale(level float64) int {
	h := int(level * float64(s.maxBarHeight))
	return max(0, min(h, s.maxBarHeight))
}

// Image returns the canvas
func (s *Snapshot) Image() *image.RGBA {
	return s.img
}

// Save writes the canvas as a PNG
func (s *Snapshot) Save(outputPath string) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, s.img); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return f.Close()
}

// Close releases the font face
func (s *Snapshot) Close() error {
	return s.fontFace.Close()
}

// RenderSnapshot analyses the track around `at` seconds and writes the
// resulting spectrum to outputPath.
func RenderSnapshot(dec audio.StreamDecoder, at float64, title, outputPath string, runtimeConfig *config.RuntimeConfig) error {
	analyzer, err := audio.NewSpectralAnalyzer(audio.DefaultAnalyzerConfig())
	if err != nil {
		return err
	}
	frame, err := audio.AnalyzeAt(dec, analyzer, at, config.SnapshotWindows)
	if err != nil {
		return fmt.Errorf("failed to analyse audio: %w", err)
	}

	s, err := NewSnapshot(runtimeConfig)
	if err != nil {
		return err
	}
	defer s.Close()

	s.Draw(frame, title)
	return s.Save(outputPath)
}
