// Package input defines the recorded input event vocabulary shared by the hook,
// aggregator and recorder packages.
package input

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind discriminates mouse and keyboard events
type Kind int

const (
	KindMouse Kind = iota
	KindKeyboard
)

func (k Kind) String() string {
	switch k {
	case KindMouse:
		return "mouse"
	case KindKeyboard:
		return "keyboard"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// MouseButton identifies a physical mouse button
type MouseButton int

const (
	ButtonNone MouseButton = iota
	ButtonLeft
	ButtonRight
	ButtonMiddle
	ButtonX1
	ButtonX2
)

var buttonNames = [...]string{"None", "Left", "Right", "Middle", "X1", "X2"}

func (b MouseButton) String() string {
	if b >= 0 && int(b) < len(buttonNames) {
		return buttonNames[b]
	}
	return fmt.Sprintf("Button(%d)", int(b))
}

// MarshalText implements encoding.TextMarshaler.
func (b MouseButton) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

// MouseAction is what happened to a mouse button
type MouseAction int

const (
	MouseDown MouseAction = iota
	MouseUp
	MouseClick
	MouseMove
)

var mouseActionNames = [...]string{"Down", "Up", "Click", "Move"}

func (a MouseAction) String() string {
	if a >= 0 && int(a) < len(mouseActionNames) {
		return mouseActionNames[a]
	}
	return fmt.Sprintf("MouseAction(%d)", int(a))
}

// MarshalText implements encoding.TextMarshaler.
func (a MouseAction) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// KeyAction is what happened to a key
type KeyAction int

const (
	KeyDown KeyAction = iota
	KeyUp
	KeyPress
)

var keyActionNames = [...]string{"Down", "Up", "Press"}

func (a KeyAction) String() string {
	if a >= 0 && int(a) < len(keyActionNames) {
		return keyActionNames[a]
	}
	return fmt.Sprintf("KeyAction(%d)", int(a))
}

// MarshalText implements encoding.TextMarshaler.
func (a KeyAction) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// Modifiers is a bit-set of held modifier keys
type Modifiers uint8

const (
	ModCtrl Modifiers = 1 << iota
	ModAlt
	ModShift
	ModWin

	ModNone Modifiers = 0
)

func (m Modifiers) String() string {
	if m == ModNone {
		return "None"
	}
	var parts []string
	if m&ModCtrl != 0 {
		parts = append(parts, "Ctrl")
	}
	if m&ModAlt != 0 {
		parts = append(parts, "Alt")
	}
	if m&ModShift != 0 {
		parts = append(parts, "Shift")
	}
	if m&ModWin != 0 {
		parts = append(parts, "Win")
	}
	return strings.Join(parts, "+")
}

// Header carries the fields every event has
type Header struct {
	ID          uuid.UUID `json:"id"`
	TimestampMs int64     `json:"timestamp_ms"` // relative to recording start, OS event clock
}

// Meta returns the event header.
func (h Header) Meta() Header { return h }

// Event is a resolved input event. It is implemented by MouseEvent and
// KeyboardEvent only.
type Event interface {
	Kind() Kind
	Meta() Header
	String() string
}

// MouseEvent is a mouse observation at absolute screen coordinates
type MouseEvent struct {
	Header
	X               int         `json:"x"`
	Y               int         `json:"y"`
	Button          MouseButton `json:"button"`
	Action          MouseAction `json:"action"`
	PressDurationMs *int64      `json:"press_duration_ms,omitempty"`
}

// Kind implements Event.
func (MouseEvent) Kind() Kind { return KindMouse }

func (e MouseEvent) String() string {
	return fmt.Sprintf("Mouse[%dms] %s %s at (%d,%d)%s",
		e.TimestampMs, e.Button, e.Action, e.X, e.Y, durationSuffix(e.PressDurationMs))
}

// KeyboardEvent is a key transition identified by its virtual key code.
// PressDurationMs is set on KeyUp when the matching KeyDown was seen, and is
// nil on KeyDown.
type KeyboardEvent struct {
	Header
	VirtualKey      int       `json:"vk"`
	ScanCode        int       `json:"scan_code,omitempty"`
	Action          KeyAction `json:"action"`
	Modifiers       Modifiers `json:"modifiers"`
	PressDurationMs *int64    `json:"press_duration_ms,omitempty"`
}

// Kind implements Event.
func (KeyboardEvent) Kind() Kind { return KindKeyboard }

func (e KeyboardEvent) String() string {
	mods := ""
	if e.Modifiers != ModNone {
		mods = e.Modifiers.String() + "+"
	}
	return fmt.Sprintf("Keyboard[%dms] %sVK%d %s%s",
		e.TimestampMs, mods, e.VirtualKey, e.Action, durationSuffix(e.PressDurationMs))
}

// NewHeader stamps a fresh id onto a timestamp.
func NewHeader(timestampMs int64) Header {
	return Header{ID: uuid.New(), TimestampMs: timestampMs}
}

// Duration returns a pointer suitable for PressDurationMs.
func Duration(ms int64) *int64 {
	return &ms
}

func durationSuffix(d *int64) string {
	if d == nil {
		return ""
	}
	return fmt.Sprintf(", Duration=%dms", *d)
}
