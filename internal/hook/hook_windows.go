//go:build windows

package hook

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"macrorec/internal/input"
	"macrorec/internal/osutils"
)

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	procSetWindowsHookEx    = user32.NewProc("SetWindowsHookExW")
	procCallNextHookEx      = user32.NewProc("CallNextHookEx")
	procUnhookWindowsHookEx = user32.NewProc("UnhookWindowsHookEx")
	procGetMessage          = user32.NewProc("GetMessageW")
	procPeekMessage         = user32.NewProc("PeekMessageW")
	procPostThreadMessage   = user32.NewProc("PostThreadMessageW")
	procTranslateMessage    = user32.NewProc("TranslateMessage")
	procDispatchMessage     = user32.NewProc("DispatchMessageW")
	kernel32                = windows.NewLazySystemDLL("kernel32.dll")
	procGetModuleHandle     = kernel32.NewProc("GetModuleHandleW")
	procGetTickCount        = kernel32.NewProc("GetTickCount")
)

const (
	WH_KEYBOARD_LL = 13
	WH_MOUSE_LL    = 14

	WM_QUIT       = 0x0012
	WM_USER       = 0x0400
	PM_NOREMOVE   = 0x0000
	WM_KEYDOWN    = 0x0100
	WM_KEYUP      = 0x0101
	WM_SYSKEYDOWN = 0x0104
	WM_SYSKEYUP   = 0x0105

	WM_MOUSEMOVE   = 0x0200
	WM_LBUTTONDOWN = 0x0201
	WM_LBUTTONUP   = 0x0202
	WM_RBUTTONDOWN = 0x0204
	WM_RBUTTONUP   = 0x0205
	WM_MBUTTONDOWN = 0x0207
	WM_MBUTTONUP   = 0x0208
	WM_XBUTTONDOWN = 0x020B
	WM_XBUTTONUP   = 0x020C

	XBUTTON1 = 0x0001
	XBUTTON2 = 0x0002
)

type KBDLLHOOKSTRUCT struct {
	VkCode      uint32
	ScanCode    uint32
	Flags       uint32
	Time        uint32
	DwExtraInfo uintptr
}

type MSLLHOOKSTRUCT struct {
	Point       struct{ X, Y int32 }
	MouseData   uint32
	Flags       uint32
	Time        uint32
	DwExtraInfo uintptr
}

type MSG struct {
	Hwnd    uintptr
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	Pt      struct{ X, Y int32 }
}

// Hook procedures are process-wide callbacks. syscall.NewCallback slots are a
// finite resource, so they are created once and forward to the active driver.
var (
	active           atomic.Pointer[winDriver]
	callbacksOnce    sync.Once
	mouseCallback    uintptr
	keyboardCallback uintptr
)

type winDriver struct {
	cb           Callback
	threadID     atomic.Uint32
	mouseHook    uintptr
	keyboardHook uintptr
	baseTick     atomic.Uint32
}

func newPlatformDriver() Driver {
	return &winDriver{}
}

func (d *winDriver) Install(cb Callback) error {
	callbacksOnce.Do(func() {
		mouseCallback = syscall.NewCallback(mouseProc)
		keyboardCallback = syscall.NewCallback(keyboardProc)
	})
	if !active.CompareAndSwap(nil, d) {
		return errors.New("another hook session owns the global hooks")
	}

	d.cb = cb
	d.threadID.Store(windows.GetCurrentThreadId())
	d.baseTick.Store(tickCount())

	// Create the thread message queue before anyone can post WM_QUIT to it
	var msg MSG
	procPeekMessage.Call(uintptr(unsafe.Pointer(&msg)), 0, WM_USER, WM_USER, PM_NOREMOVE)

	hMod, _, _ := procGetModuleHandle.Call(0)

	h, _, err := procSetWindowsHookEx.Call(WH_MOUSE_LL, mouseCallback, hMod, 0)
	if h == 0 {
		return installError("mouse", err)
	}
	d.mouseHook = h

	h, _, err = procSetWindowsHookEx.Call(WH_KEYBOARD_LL, keyboardCallback, hMod, 0)
	if h == 0 {
		return installError("keyboard", err)
	}
	d.keyboardHook = h

	log.Printf("Hook: low-level hooks installed on thread %d", d.threadID.Load())
	return nil
}

func installError(kind string, err error) error {
	if !osutils.IsAdmin() {
		return fmt.Errorf("SetWindowsHookEx(%s): %v (process is not elevated)", kind, err)
	}
	return fmt.Errorf("SetWindowsHookEx(%s): %v", kind, err)
}

func (d *winDriver) Loop() {
	var msg MSG
	for {
		ret, _, _ := procGetMessage.Call(uintptr(unsafe.Pointer(&msg)), 0, 0, 0)
		// 0 is WM_QUIT, -1 is an error
		if int32(ret) <= 0 {
			return
		}
		procTranslateMessage.Call(uintptr(unsafe.Pointer(&msg)))
		procDispatchMessage.Call(uintptr(unsafe.Pointer(&msg)))
	}
}

func (d *winDriver) Quit() error {
	tid := d.threadID.Load()
	if tid == 0 {
		return errors.New("hook thread is not running")
	}
	r, _, err := procPostThreadMessage.Call(uintptr(tid), WM_QUIT, 0, 0)
	if r == 0 {
		return fmt.Errorf("PostThreadMessage: %v", err)
	}
	return nil
}

func (d *winDriver) Uninstall() {
	if d.keyboardHook != 0 {
		procUnhookWindowsHookEx.Call(d.keyboardHook)
		d.keyboardHook = 0
	}
	if d.mouseHook != 0 {
		procUnhookWindowsHookEx.Call(d.mouseHook)
		d.mouseHook = 0
	}
	d.threadID.Store(0)
	active.CompareAndSwap(d, nil)
	d.cb = nil
}

// Now is GetTickCount relative to install. uint32 subtraction absorbs the
// 49.7 day tick wrap.
func (d *winDriver) Now() int64 {
	return d.stamp(tickCount())
}

func (d *winDriver) stamp(tick uint32) int64 {
	return int64(int32(tick - d.baseTick.Load()))
}

func tickCount() uint32 {
	r, _, _ := procGetTickCount.Call()
	return uint32(r)
}

func mouseProc(nCode int, wParam uintptr, lParam uintptr) uintptr {
	d := active.Load()
	var next uintptr
	if d != nil {
		next = d.mouseHook
		if nCode >= 0 && d.cb != nil {
			ms := (*MSLLHOOKSTRUCT)(unsafe.Pointer(lParam))
			if t, ok := decodeMouse(uint32(wParam), ms); ok {
				t.Time = d.stamp(ms.Time)
				d.cb(t)
			}
		}
	}
	ret, _, _ := procCallNextHookEx.Call(next, uintptr(nCode), wParam, lParam)
	return ret
}

func keyboardProc(nCode int, wParam uintptr, lParam uintptr) uintptr {
	d := active.Load()
	var next uintptr
	if d != nil {
		next = d.keyboardHook
		if nCode >= 0 && d.cb != nil {
			kb := (*KBDLLHOOKSTRUCT)(unsafe.Pointer(lParam))
			if t, ok := decodeKey(uint32(wParam), kb); ok {
				t.Time = d.stamp(kb.Time)
				d.cb(t)
			}
		}
	}
	ret, _, _ := procCallNextHookEx.Call(next, uintptr(nCode), wParam, lParam)
	return ret
}

func decodeMouse(msg uint32, ms *MSLLHOOKSTRUCT) (Transition, bool) {
	t := Transition{
		Kind: input.KindMouse,
		X:    int(ms.Point.X),
		Y:    int(ms.Point.Y),
	}
	switch msg {
	case WM_MOUSEMOVE:
		t.Button, t.MouseAction = input.ButtonNone, input.MouseMove
	case WM_LBUTTONDOWN:
		t.Button, t.MouseAction = input.ButtonLeft, input.MouseDown
	case WM_LBUTTONUP:
		t.Button, t.MouseAction = input.ButtonLeft, input.MouseUp
	case WM_RBUTTONDOWN:
		t.Button, t.MouseAction = input.ButtonRight, input.MouseDown
	case WM_RBUTTONUP:
		t.Button, t.MouseAction = input.ButtonRight, input.MouseUp
	case WM_MBUTTONDOWN:
		t.Button, t.MouseAction = input.ButtonMiddle, input.MouseDown
	case WM_MBUTTONUP:
		t.Button, t.MouseAction = input.ButtonMiddle, input.MouseUp
	case WM_XBUTTONDOWN, WM_XBUTTONUP:
		switch ms.MouseData >> 16 {
		case XBUTTON1:
			t.Button = input.ButtonX1
		case XBUTTON2:
			t.Button = input.ButtonX2
		default:
			return t, false
		}
		t.MouseAction = input.MouseUp
		if msg == WM_XBUTTONDOWN {
			t.MouseAction = input.MouseDown
		}
	default:
		return t, false
	}
	return t, true
}

func decodeKey(msg uint32, kb *KBDLLHOOKSTRUCT) (Transition, bool) {
	t := Transition{
		Kind:       input.KindKeyboard,
		VirtualKey: int(kb.VkCode),
		ScanCode:   int(kb.ScanCode),
	}
	switch msg {
	case WM_KEYDOWN, WM_SYSKEYDOWN:
		t.KeyAction = input.KeyDown
	case WM_KEYUP, WM_SYSKEYUP:
		t.KeyAction = input.KeyUp
	default:
		return t, false
	}
	return t, true
}
