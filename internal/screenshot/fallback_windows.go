//go:build windows

package screenshot

import (
	"context"
	"errors"
	"fmt"
	"image"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32                 = windows.NewLazySystemDLL("user32.dll")
	procGetDC              = user32.NewProc("GetDC")
	procReleaseDC          = user32.NewProc("ReleaseDC")
	procGetSystemMetrics   = user32.NewProc("GetSystemMetrics")
	gdi32                  = windows.NewLazySystemDLL("gdi32.dll")
	procCreateCompatibleDC = gdi32.NewProc("CreateCompatibleDC")
	procCreateCompatibleBm = gdi32.NewProc("CreateCompatibleBitmap")
	procSelectObject       = gdi32.NewProc("SelectObject")
	procBitBlt             = gdi32.NewProc("BitBlt")
	procGetDIBits          = gdi32.NewProc("GetDIBits")
	procDeleteObject       = gdi32.NewProc("DeleteObject")
	procDeleteDC           = gdi32.NewProc("DeleteDC")
)

const (
	SM_XVIRTUALSCREEN  = 76
	SM_YVIRTUALSCREEN  = 77
	SM_CXVIRTUALSCREEN = 78
	SM_CYVIRTUALSCREEN = 79

	SRCCOPY        = 0x00CC0020
	CAPTUREBLT     = 0x40000000
	BI_RGB         = 0
	DIB_RGB_COLORS = 0
)

type BITMAPINFOHEADER struct {
	BiSize          uint32
	BiWidth         int32
	BiHeight        int32
	BiPlanes        uint16
	BiBitCount      uint16
	BiCompression   uint32
	BiSizeImage     uint32
	BiXPelsPerMeter int32
	BiYPelsPerMeter int32
	BiClrUsed       uint32
	BiClrImportant  uint32
}

type BITMAPINFO struct {
	BmiHeader BITMAPINFOHEADER
	BmiColors [1]uint32
}

// GDIGrabber copies the virtual screen with BitBlt
type GDIGrabber struct{}

func defaultFallback() Grabber {
	return &GDIGrabber{}
}

func (g *GDIGrabber) Name() string {
	return "gdi"
}

func (g *GDIGrabber) Available() bool {
	return procBitBlt.Find() == nil
}

func (g *GDIGrabber) Grab(ctx context.Context) ([]byte, error) {
	x := systemMetric(SM_XVIRTUALSCREEN)
	y := systemMetric(SM_YVIRTUALSCREEN)
	width := systemMetric(SM_CXVIRTUALSCREEN)
	height := systemMetric(SM_CYVIRTUALSCREEN)
	if width <= 0 || height <= 0 {
		return nil, errors.New("virtual screen has no area")
	}

	screenDC, _, _ := procGetDC.Call(0)
	if screenDC == 0 {
		return nil, errors.New("GetDC failed")
	}
	defer procReleaseDC.Call(0, screenDC)

	memDC, _, _ := procCreateCompatibleDC.Call(screenDC)
	if memDC == 0 {
		return nil, errors.New("CreateCompatibleDC failed")
	}
	defer procDeleteDC.Call(memDC)

	bitmap, _, _ := procCreateCompatibleBm.Call(screenDC, uintptr(width), uintptr(height))
	if bitmap == 0 {
		return nil, errors.New("CreateCompatibleBitmap failed")
	}
	defer procDeleteObject.Call(bitmap)

	old, _, _ := procSelectObject.Call(memDC, bitmap)
	ok, _, err := procBitBlt.Call(memDC, 0, 0, uintptr(width), uintptr(height),
		screenDC, uintptr(int32(x)), uintptr(int32(y)), SRCCOPY|CAPTUREBLT)
	// The bitmap must be deselected before GetDIBits
	procSelectObject.Call(memDC, old)
	if ok == 0 {
		return nil, fmt.Errorf("BitBlt: %v", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info := BITMAPINFO{BmiHeader: BITMAPINFOHEADER{
		BiWidth:       int32(width),
		BiHeight:      -int32(height), // top-down rows
		BiPlanes:      1,
		BiBitCount:    32,
		BiCompression: BI_RGB,
	}}
	info.BmiHeader.BiSize = uint32(unsafe.Sizeof(info.BmiHeader))

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	lines, _, err := procGetDIBits.Call(memDC, bitmap, 0, uintptr(height),
		uintptr(unsafe.Pointer(&img.Pix[0])), uintptr(unsafe.Pointer(&info)), DIB_RGB_COLORS)
	if lines == 0 {
		return nil, fmt.Errorf("GetDIBits: %v", err)
	}

	// BGRA to RGBA, opaque
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+2] = img.Pix[i+2], img.Pix[i]
		img.Pix[i+3] = 0xFF
	}
	return encodePNG(img)
}

func systemMetric(index int) int {
	r, _, _ := procGetSystemMetrics.Call(uintptr(index))
	return int(int32(r))
}
