//go:build !windows

package screenshot

import (
	"bytes"
	"context"
	"image/png"
	"testing"
)

func TestSyntheticGrabberEncodesPNG(t *testing.T) {
	g := &SyntheticGrabber{Width: 32, Height: 16}
	data, err := g.Grab(context.Background())
	if err != nil {
		t.Fatalf("grab: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 16 {
		t.Fatalf("unexpected bounds %v", b)
	}
}

func TestSyntheticGrabberHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (&SyntheticGrabber{}).Grab(ctx); err == nil {
		t.Fatalf("expected cancellation error")
	}
}
