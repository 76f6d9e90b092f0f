package osctl

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/kbinani/screenshot"
)

// displayScreen captures the bounding box of every active display into one
// PNG.
type displayScreen struct {
	bounds func() []image.Rectangle
	grab   func(image.Rectangle) (*image.RGBA, error)
}

func newDisplayScreen() displayScreen {
	return displayScreen{bounds: activeDisplays, grab: screenshot.CaptureRect}
}

func activeDisplays() []image.Rectangle {
	n := screenshot.NumActiveDisplays()
	out := make([]image.Rectangle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, screenshot.GetDisplayBounds(i))
	}
	return out
}

func (s displayScreen) Capture(ctx context.Context, path string) error {
	var area image.Rectangle
	for _, b := range s.bounds() {
		area = area.Union(b)
	}
	if area.Empty() {
		return fmt.Errorf("no active display: %w", ErrUnsupported)
	}

	img, err := s.grab(area)
	if err != nil {
		return fmt.Errorf("capture screen: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
