// Package aggregate turns raw button and key transitions into resolved,
// de-duplicated events.
package aggregate

import (
	"macrorec/internal/input"
)

const (
	// ClickTimeoutMs is the longest Down→Up interval still treated as a click
	ClickTimeoutMs = 500

	// DuplicateWindowMs is how close two identical events must be for the second to be dropped
	DuplicateWindowMs = 50
)

type pendingClick struct {
	ts   int64
	x, y int
}

// Aggregator merges Down/Up pairs and filters duplicates. It is owned by the
// hook thread and must not be shared across goroutines.
type Aggregator struct {
	clickTimeout int64
	dupWindow    int64

	pending   map[input.MouseButton]pendingClick
	keysDown  map[int]int64
	modifiers input.Modifiers

	lastMouse *input.MouseEvent
	lastKey   *input.KeyboardEvent
}

// New creates an aggregator with the standard click timeout and duplicate window
func New() *Aggregator {
	return &Aggregator{
		clickTimeout: ClickTimeoutMs,
		dupWindow:    DuplicateWindowMs,
		pending:      make(map[input.MouseButton]pendingClick),
		keysDown:     make(map[int]int64),
	}
}

// Mouse feeds one mouse transition. It returns the resolved event and true when
// something should be emitted.
func (a *Aggregator) Mouse(ts int64, x, y int, button input.MouseButton, action input.MouseAction) (input.Event, bool) {
	a.expire(ts)

	switch action {
	case input.MouseMove:
		// Movement is not part of the recorded vocabulary
		return nil, false

	case input.MouseDown:
		a.pending[button] = pendingClick{ts: ts, x: x, y: y}
		return nil, false

	case input.MouseUp:
		down, ok := a.pending[button]
		if !ok {
			return nil, false
		}
		delete(a.pending, button)

		duration := ts - down.ts
		if duration <= 0 || duration > a.clickTimeout {
			return nil, false
		}
		ev := input.MouseEvent{
			Header:          input.NewHeader(down.ts),
			X:               down.x,
			Y:               down.y,
			Button:          button,
			Action:          input.MouseClick,
			PressDurationMs: input.Duration(duration),
		}
		if a.duplicateMouse(ev) {
			return nil, false
		}
		a.lastMouse = &ev
		return ev, true
	}
	return nil, false
}

// Key feeds one keyboard transition.
func (a *Aggregator) Key(ts int64, vk, scanCode int, action input.KeyAction) (input.Event, bool) {
	if vk < 1 || vk > 255 {
		return nil, false
	}

	if mod, ok := input.ModifierFor(vk); ok {
		if action == input.KeyDown {
			a.modifiers |= mod
		} else {
			a.modifiers &^= mod
		}
	}

	ev := input.KeyboardEvent{
		Header:     input.NewHeader(ts),
		VirtualKey: vk,
		ScanCode:   scanCode,
		Action:     action,
		Modifiers:  a.modifiers,
	}

	switch action {
	case input.KeyDown:
		if _, held := a.keysDown[vk]; !held {
			a.keysDown[vk] = ts
		}
	case input.KeyUp:
		if down, held := a.keysDown[vk]; held {
			delete(a.keysDown, vk)
			if d := ts - down; d >= 0 {
				ev.PressDurationMs = input.Duration(d)
			}
		}
	default:
		return nil, false
	}

	if a.duplicateKey(ev) {
		return nil, false
	}
	a.lastKey = &ev
	return ev, true
}

// Pending returns the number of unmatched Down entries
func (a *Aggregator) Pending() int {
	return len(a.pending)
}

// Reset drops all pending and remembered state
func (a *Aggregator) Reset() {
	clear(a.pending)
	clear(a.keysDown)
	a.modifiers = input.ModNone
	a.lastMouse = nil
	a.lastKey = nil
}

// expire removes pending clicks that can no longer resolve into a click
func (a *Aggregator) expire(now int64) {
	for button, p := range a.pending {
		if now-p.ts > a.clickTimeout {
			delete(a.pending, button)
		}
	}
}

func (a *Aggregator) duplicateMouse(ev input.MouseEvent) bool {
	last := a.lastMouse
	if last == nil {
		return false
	}
	return last.Button == ev.Button &&
		last.Action == ev.Action &&
		last.X == ev.X && last.Y == ev.Y &&
		within(last.TimestampMs, ev.TimestampMs, a.dupWindow)
}

func (a *Aggregator) duplicateKey(ev input.KeyboardEvent) bool {
	last := a.lastKey
	if last == nil {
		return false
	}
	return last.VirtualKey == ev.VirtualKey &&
		last.Action == ev.Action &&
		within(last.TimestampMs, ev.TimestampMs, a.dupWindow)
}

func within(a, b, window int64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < window
}
