//go:build darwin

package hook

/*
#cgo LDFLAGS: -framework CoreGraphics -framework CoreFoundation -framework ApplicationServices
#include <CoreGraphics/CoreGraphics.h>
#include <CoreFoundation/CoreFoundation.h>
#include <stdint.h>

CGEventRef macrorecTapCallback(CGEventTapProxy proxy, CGEventType type, CGEventRef event, void *refcon);

typedef struct {
    CFMachPortRef tap;
    CFRunLoopSourceRef source;
    CFRunLoopSourceRef quit;
    CFRunLoopRef loop;
} tapState;

static void quitPerform(void *info) {
    CFRunLoopStop(CFRunLoopGetCurrent());
}

static int installTap(uintptr_t refcon, tapState *st) {
    CGEventMask mask =
        CGEventMaskBit(kCGEventLeftMouseDown) | CGEventMaskBit(kCGEventLeftMouseUp) |
        CGEventMaskBit(kCGEventRightMouseDown) | CGEventMaskBit(kCGEventRightMouseUp) |
        CGEventMaskBit(kCGEventOtherMouseDown) | CGEventMaskBit(kCGEventOtherMouseUp) |
        CGEventMaskBit(kCGEventMouseMoved) |
        CGEventMaskBit(kCGEventKeyDown) | CGEventMaskBit(kCGEventKeyUp) |
        CGEventMaskBit(kCGEventFlagsChanged);

    st->tap = CGEventTapCreate(
        kCGSessionEventTap,
        kCGHeadInsertEventTap,
        kCGEventTapOptionListenOnly,
        mask,
        macrorecTapCallback,
        (void*)refcon
    );
    if (!st->tap) {
        return 0;
    }
    st->loop = (CFRunLoopRef)CFRetain(CFRunLoopGetCurrent());
    st->source = CFMachPortCreateRunLoopSource(kCFAllocatorDefault, st->tap, 0);
    CFRunLoopAddSource(st->loop, st->source, kCFRunLoopCommonModes);

    // A signalled source stays pending, so a quit posted before the loop runs is not lost
    CFRunLoopSourceContext ctx = {0};
    ctx.perform = quitPerform;
    st->quit = CFRunLoopSourceCreate(kCFAllocatorDefault, 0, &ctx);
    CFRunLoopAddSource(st->loop, st->quit, kCFRunLoopCommonModes);

    CGEventTapEnable(st->tap, true);
    return 1;
}

static void reenableTap(tapState *st) {
    if (st->tap) {
        CGEventTapEnable(st->tap, true);
    }
}

static void runTap(void) {
    CFRunLoopRun();
}

static void postQuit(tapState *st) {
    if (st->quit) {
        CFRunLoopSourceSignal(st->quit);
        CFRunLoopWakeUp(st->loop);
    }
}

static void removeTap(tapState *st) {
    if (st->quit) {
        CFRunLoopRemoveSource(st->loop, st->quit, kCFRunLoopCommonModes);
        CFRelease(st->quit);
        st->quit = NULL;
    }
    if (st->source) {
        CFRunLoopRemoveSource(st->loop, st->source, kCFRunLoopCommonModes);
        CFRelease(st->source);
        st->source = NULL;
    }
    if (st->tap) {
        CGEventTapEnable(st->tap, false);
        CFRelease(st->tap);
        st->tap = NULL;
    }
    if (st->loop) {
        CFRelease(st->loop);
        st->loop = NULL;
    }
}
*/
import "C"

import (
	"errors"
	"log"
	"runtime/cgo"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"macrorec/internal/input"
)

type darwinDriver struct {
	cb     Callback
	handle cgo.Handle
	mu     sync.Mutex // guards state against Quit from other goroutines
	state  C.tapState
	quit   atomic.Bool
	start  atomic.Int64 // unix nanos at install
	base   time.Time
}

func newPlatformDriver() Driver {
	return &darwinDriver{}
}

func (d *darwinDriver) Install(cb Callback) error {
	d.cb = cb
	d.quit.Store(false)
	d.base = time.Now()
	d.start.Store(d.base.UnixNano())
	d.handle = cgo.NewHandle(d)

	d.mu.Lock()
	ok := C.installTap(C.uintptr_t(d.handle), &d.state) != 0
	d.mu.Unlock()
	if !ok {
		return errors.New("CGEventTapCreate failed, grant Accessibility permission to this program")
	}
	log.Println("Hook: macOS CGEventTap installed.")
	return nil
}

// Loop runs the run loop captured at install until Quit stops it
func (d *darwinDriver) Loop() {
	for !d.quit.Load() {
		C.runTap()
	}
}

func (d *darwinDriver) Quit() error {
	d.quit.Store(true)
	d.mu.Lock()
	C.postQuit(&d.state)
	d.mu.Unlock()
	return nil
}

func (d *darwinDriver) Uninstall() {
	d.mu.Lock()
	C.removeTap(&d.state)
	d.mu.Unlock()
	if d.handle != 0 {
		d.handle.Delete()
		d.handle = 0
	}
	d.cb = nil
}

func (d *darwinDriver) Now() int64 {
	start := d.start.Load()
	if start == 0 {
		return 0
	}
	return (time.Now().UnixNano() - start) / int64(time.Millisecond)
}

func (d *darwinDriver) emit(t Transition) {
	if d.cb == nil {
		return
	}
	t.Time = time.Since(d.base).Milliseconds()
	d.cb(t)
}

//export macrorecTapCallback
func macrorecTapCallback(proxy C.CGEventTapProxy, eventType C.CGEventType, event C.CGEventRef, refcon unsafe.Pointer) C.CGEventRef {
	d := cgo.Handle(uintptr(refcon)).Value().(*darwinDriver)

	switch eventType {
	case C.kCGEventTapDisabledByTimeout, C.kCGEventTapDisabledByUserInput:
		log.Println("Hook: event tap was disabled, re-enabling")
		C.reenableTap(&d.state)

	case C.kCGEventKeyDown, C.kCGEventKeyUp:
		code := uint16(C.CGEventGetIntegerValueField(event, C.kCGKeyboardEventKeycode))
		action := input.KeyUp
		if eventType == C.kCGEventKeyDown {
			action = input.KeyDown
		}
		d.emitKey(code, action)

	case C.kCGEventFlagsChanged:
		flags := C.CGEventGetFlags(event)
		code := uint16(C.CGEventGetIntegerValueField(event, C.kCGKeyboardEventKeycode))
		var held bool
		switch code {
		case 55, 54:
			held = flags&C.kCGEventFlagMaskCommand != 0
		case 56, 60:
			held = flags&C.kCGEventFlagMaskShift != 0
		case 58, 61:
			held = flags&C.kCGEventFlagMaskAlternate != 0
		case 59, 62:
			held = flags&C.kCGEventFlagMaskControl != 0
		default:
			return event
		}
		action := input.KeyUp
		if held {
			action = input.KeyDown
		}
		d.emitKey(code, action)

	case C.kCGEventMouseMoved:
		loc := C.CGEventGetLocation(event)
		d.emit(Transition{
			Kind:        input.KindMouse,
			X:           int(loc.x),
			Y:           int(loc.y),
			MouseAction: input.MouseMove,
		})

	case C.kCGEventLeftMouseDown, C.kCGEventLeftMouseUp,
		C.kCGEventRightMouseDown, C.kCGEventRightMouseUp,
		C.kCGEventOtherMouseDown, C.kCGEventOtherMouseUp:

		isDown := eventType == C.kCGEventLeftMouseDown ||
			eventType == C.kCGEventRightMouseDown ||
			eventType == C.kCGEventOtherMouseDown

		var button input.MouseButton
		switch int64(C.CGEventGetIntegerValueField(event, C.kCGMouseEventButtonNumber)) {
		case 0:
			button = input.ButtonLeft
		case 1:
			button = input.ButtonRight
		case 2:
			button = input.ButtonMiddle
		case 3:
			button = input.ButtonX1
		case 4:
			button = input.ButtonX2
		default:
			return event
		}
		action := input.MouseUp
		if isDown {
			action = input.MouseDown
		}
		loc := C.CGEventGetLocation(event)
		d.emit(Transition{
			Kind:        input.KindMouse,
			X:           int(loc.x),
			Y:           int(loc.y),
			Button:      button,
			MouseAction: action,
		})
	}

	return event
}

// emitKey translates a macOS key code into the virtual-key namespace shared
// with Windows so stop keys and recordings are portable.
func (d *darwinDriver) emitKey(code uint16, action input.KeyAction) {
	name := macKeyCodeToName(code)
	if name == "" {
		return
	}
	vk, err := input.ParseKey(name)
	if err != nil {
		return
	}
	d.emit(Transition{
		Kind:       input.KindKeyboard,
		VirtualKey: vk,
		ScanCode:   int(code),
		KeyAction:  action,
	})
}

var macKeyNames = map[uint16]string{
	55: "WIN", 54: "WIN",
	56: "SHIFT", 60: "SHIFT",
	58: "ALT", 61: "ALT",
	59: "CTRL", 62: "CTRL",
	49: "SPACE", 36: "ENTER", 53: "ESC", 48: "TAB", 51: "BACKSPACE",
	123: "LEFT", 124: "RIGHT", 125: "DOWN", 126: "UP",

	0: "A", 11: "B", 8: "C", 2: "D", 14: "E", 3: "F", 5: "G", 4: "H", 34: "I",
	38: "J", 40: "K", 37: "L", 46: "M", 45: "N", 31: "O", 35: "P", 12: "Q",
	15: "R", 1: "S", 17: "T", 32: "U", 9: "V", 13: "W", 7: "X", 16: "Y", 6: "Z",

	29: "0", 18: "1", 19: "2", 20: "3", 21: "4", 23: "5", 22: "6", 26: "7", 28: "8", 25: "9",

	122: "F1", 120: "F2", 99: "F3", 118: "F4", 96: "F5", 97: "F6",
	98: "F7", 100: "F8", 101: "F9", 109: "F10", 103: "F11", 111: "F12",
}

func macKeyCodeToName(code uint16) string {
	return macKeyNames[code]
}
