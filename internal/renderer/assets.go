package renderer

import (
	"image"
	"image/color"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/linuxmatters/jiveplayer/internal/config"
)

// LoadFont returns the bundled Go Regular face at the given point size
func LoadFont(size float64) (font.Face, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, err
	}

	face := truetype.NewFace(f, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})

	return face, nil
}

// DrawCenterText draws text centred horizontally with its baseline at y.
// Text wider than the canvas is truncated with an ellipsis.
func DrawCenterText(img *image.RGBA, face font.Face, text string, rgb [3]uint8, y int) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 255}),
		Face: face,
	}

	maxWidth := img.Bounds().Dx() - 2*config.SnapshotMargin
	text = fitText(d, text, maxWidth)

	// Measure text width
	bounds, _ := d.BoundString(text)
	textWidth := (bounds.Max.X - bounds.Min.X).Ceil()

	x := (img.Bounds().Dx() - textWidth) / 2
	d.Dot = freetype.Pt(x, y)
	d.DrawString(text)
}

// fitText shortens text rune by rune until it fits within maxWidth pixels.
func fitText(d *font.Drawer, text string, maxWidth int) string {
	if d.MeasureString(text).Ceil() <= maxWidth {
		return text
	}
	runes := []rune(text)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		candidate := string(runes) + "…"
		if d.MeasureString(candidate).Ceil() <= maxWidth {
			return candidate
		}
	}
	return ""
}
