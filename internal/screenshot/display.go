package screenshot

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/kbinani/screenshot"
)

// DisplayGrabber captures the union of all active displays with kbinani/screenshot
type DisplayGrabber struct {
	// Display limits capture to one display index when >= 0
	Display int
}

// NewDisplayGrabber captures every active display as one image
func NewDisplayGrabber() *DisplayGrabber {
	return &DisplayGrabber{Display: -1}
}

func (g *DisplayGrabber) Name() string {
	return "kbinani/screenshot"
}

func (g *DisplayGrabber) Available() bool {
	return screenshot.NumActiveDisplays() > 0
}

func (g *DisplayGrabber) Bounds() (image.Rectangle, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return image.Rectangle{}, ErrNoBackend
	}
	if g.Display >= 0 {
		if g.Display >= n {
			return image.Rectangle{}, fmt.Errorf("display %d out of range (%d active)", g.Display, n)
		}
		return screenshot.GetDisplayBounds(g.Display), nil
	}

	var bounds image.Rectangle
	for i := 0; i < n; i++ {
		bounds = bounds.Union(screenshot.GetDisplayBounds(i))
	}
	return bounds, nil
}

func (g *DisplayGrabber) Grab(ctx context.Context) ([]byte, error) {
	bounds, err := g.Bounds()
	if err != nil {
		return nil, err
	}
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return encodePNG(img)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := &png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
