package report

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
)

// ErrVisualRegression is returned by Baselines.Check when a frame differs
// from its baseline by more than the tolerance.
var ErrVisualRegression = errors.New("visual regression")

// DefaultTolerance is the share of pixels allowed to differ.
const DefaultTolerance = 0.05

// Baselines compares frames against reference PNGs kept in Dir.
type Baselines struct {
	Dir       string
	Tolerance float64
}

// NewBaselines uses DefaultTolerance.
func NewBaselines(dir string) Baselines {
	return Baselines{Dir: dir, Tolerance: DefaultTolerance}
}

// Path is where the baseline for name lives.
func (b Baselines) Path(name string) string {
	return filepath.Join(b.Dir, SafeName(name)+".png")
}

// Check compares frame with the baseline for name. Without a baseline the
// frame becomes one and Check reports recorded. On a mismatch the frame and
// a diff image are written next to the baseline as <name>_current.png and
// <name>_diff.png.
func (b Baselines) Check(name string, frame []byte) (recorded bool, err error) {
	path := b.Path(name)
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return true, b.Record(name, frame)
	}
	if err != nil {
		return false, fmt.Errorf("failed to read baseline: %w", err)
	}

	baseline, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return false, fmt.Errorf("failed to decode baseline %s: %w", path, err)
	}
	current, err := png.Decode(bytes.NewReader(frame))
	if err != nil {
		return false, fmt.Errorf("failed to decode frame: %w", err)
	}

	diff := Difference(baseline, current)
	if diff <= b.Tolerance {
		return false, nil
	}

	stem := filepath.Join(b.Dir, SafeName(name))
	if err := os.WriteFile(stem+"_current.png", frame, 0o644); err != nil {
		return false, fmt.Errorf("failed to write current frame: %w", err)
	}
	if err := writePNG(stem+"_diff.png", DiffImage(baseline, current)); err != nil {
		return false, fmt.Errorf("failed to write diff: %w", err)
	}
	return false, fmt.Errorf("%w: %s differs by %.2f%% (tolerance %.2f%%)",
		ErrVisualRegression, name, diff*100, b.Tolerance*100)
}

// Record stores frame as the baseline for name.
func (b Baselines) Record(name string, frame []byte) error {
	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create baseline directory: %w", err)
	}
	if err := os.WriteFile(b.Path(name), frame, 0o644); err != nil {
		return fmt.Errorf("failed to write baseline: %w", err)
	}
	return nil
}

// Difference is the share of pixels that differ. Images of different size
// differ completely.
func Difference(a, b image.Image) float64 {
	bounds := a.Bounds()
	if bounds != b.Bounds() || bounds.Empty() {
		return 1
	}
	different := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if !sameColor(a.At(x, y), b.At(x, y)) {
				different++
			}
		}
	}
	return float64(different) / float64(bounds.Dx()*bounds.Dy())
}

// DiffImage marks differing pixels red over a dimmed copy of a.
func DiffImage(a, b image.Image) *image.RGBA {
	bounds := a.Bounds()
	out := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if !sameColor(a.At(x, y), b.At(x, y)) {
				out.Set(x, y, color.RGBA{R: 255, A: 255})
				continue
			}
			r, g, bl, al := a.At(x, y).RGBA()
			out.Set(x, y, color.RGBA{R: uint8(r >> 9), G: uint8(g >> 9), B: uint8(bl >> 9), A: uint8(al >> 8)})
		}
	}
	return out
}

func sameColor(a, b color.Color) bool {
	r1, g1, b1, a1 := a.RGBA()
	r2, g2, b2, a2 := b.RGBA()
	return r1 == r2 && g1 == g2 && b1 == b2 && a1 == a2
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
