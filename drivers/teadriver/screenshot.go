package teadriver

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/teranos/dolly/trip"
)

var (
	background = color.RGBA{R: 0x0d, G: 0x11, B: 0x17, A: 0xff}
	foreground = color.RGBA{R: 0xc9, G: 0xd1, B: 0xd9, A: 0xff}
)

// Screenshot renders the latest view as a PNG, one basicfont cell per
// character, clipped to Columns x Rows.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !d.started.Load() {
		return nil, ErrNotStarted
	}
	img := Render(d.snapshot().lines(), d.cfg.Columns, d.cfg.Rows)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: encode screenshot: %v", trip.ErrDriver, err)
	}
	return buf.Bytes(), nil
}

// Render draws lines of plain text into an image of cols x rows cells.
func Render(lines []string, cols, rows int) *image.RGBA {
	face := basicfont.Face7x13
	cellW, cellH := face.Advance, face.Height
	img := image.NewRGBA(image.Rect(0, 0, cols*cellW, rows*cellH))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	drawer := &font.Drawer{Dst: img, Src: image.NewUniform(foreground), Face: face}
	for row, line := range lines {
		if row >= rows {
			break
		}
		runes := []rune(line)
		if len(runes) > cols {
			runes = runes[:cols]
		}
		drawer.Dot = fixed.P(0, row*cellH+face.Ascent)
		drawer.DrawString(string(runes))
	}
	return img
}
