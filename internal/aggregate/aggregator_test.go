package aggregate

import (
	"testing"

	"macrorec/internal/input"

	"pgregory.net/rapid"
)

func TestClickMergesDownUp(t *testing.T) {
	a := New()

	if _, ok := a.Mouse(0, 10, 10, input.ButtonLeft, input.MouseDown); ok {
		t.Fatalf("expected Down to be held back")
	}
	ev, ok := a.Mouse(80, 12, 14, input.ButtonLeft, input.MouseUp)
	if !ok {
		t.Fatalf("expected a click on Up")
	}

	click, isMouse := ev.(input.MouseEvent)
	if !isMouse {
		t.Fatalf("expected MouseEvent, got %T", ev)
	}
	if click.Action != input.MouseClick || click.Button != input.ButtonLeft {
		t.Errorf("unexpected click %s", click)
	}
	if click.X != 10 || click.Y != 10 {
		t.Errorf("expected Down coordinates (10,10), got (%d,%d)", click.X, click.Y)
	}
	if click.TimestampMs != 0 {
		t.Errorf("expected Down timestamp, got %d", click.TimestampMs)
	}
	if click.PressDurationMs == nil || *click.PressDurationMs != 80 {
		t.Errorf("expected duration 80, got %v", click.PressDurationMs)
	}
	if a.Pending() != 0 {
		t.Errorf("expected pending table to be empty, got %d", a.Pending())
	}
}

func TestLongPressIsDiscarded(t *testing.T) {
	a := New()
	a.Mouse(0, 10, 10, input.ButtonLeft, input.MouseDown)
	if _, ok := a.Mouse(900, 10, 10, input.ButtonLeft, input.MouseUp); ok {
		t.Fatalf("expected no event for a 900ms press")
	}
	if a.Pending() != 0 {
		t.Fatalf("expected pending entry to be removed")
	}
}

func TestZeroDurationIsDiscarded(t *testing.T) {
	a := New()
	a.Mouse(100, 0, 0, input.ButtonRight, input.MouseDown)
	if _, ok := a.Mouse(100, 0, 0, input.ButtonRight, input.MouseUp); ok {
		t.Fatalf("expected no event for zero duration")
	}
}

func TestClickTimeoutBoundaryIsInclusive(t *testing.T) {
	a := New()
	a.Mouse(0, 1, 1, input.ButtonMiddle, input.MouseDown)
	if _, ok := a.Mouse(ClickTimeoutMs, 1, 1, input.ButtonMiddle, input.MouseUp); !ok {
		t.Fatalf("expected click at exactly the timeout")
	}
}

func TestUpWithoutDownIsIgnored(t *testing.T) {
	a := New()
	if _, ok := a.Mouse(10, 0, 0, input.ButtonX1, input.MouseUp); ok {
		t.Fatalf("expected orphan Up to be ignored")
	}
}

func TestMoveIsDropped(t *testing.T) {
	a := New()
	if _, ok := a.Mouse(10, 5, 5, input.ButtonNone, input.MouseMove); ok {
		t.Fatalf("expected movement to be dropped")
	}
}

func TestStalePendingEntriesExpire(t *testing.T) {
	a := New()
	a.Mouse(0, 0, 0, input.ButtonLeft, input.MouseDown)
	a.Mouse(10, 0, 0, input.ButtonRight, input.MouseDown)
	if a.Pending() != 2 {
		t.Fatalf("expected two pending entries, got %d", a.Pending())
	}
	a.Mouse(2000, 0, 0, input.ButtonNone, input.MouseMove)
	if a.Pending() != 0 {
		t.Fatalf("expected stale entries to expire, got %d", a.Pending())
	}
}

func TestButtonsResolveIndependently(t *testing.T) {
	a := New()
	a.Mouse(0, 1, 1, input.ButtonLeft, input.MouseDown)
	a.Mouse(20, 2, 2, input.ButtonRight, input.MouseDown)

	ev, ok := a.Mouse(60, 2, 2, input.ButtonRight, input.MouseUp)
	if !ok || ev.(input.MouseEvent).Button != input.ButtonRight {
		t.Fatalf("expected right click, got %v", ev)
	}
	ev, ok = a.Mouse(100, 1, 1, input.ButtonLeft, input.MouseUp)
	if !ok || *ev.(input.MouseEvent).PressDurationMs != 100 {
		t.Fatalf("expected left click with 100ms, got %v", ev)
	}
}

func TestDuplicateClickIsDropped(t *testing.T) {
	a := New()
	a.Mouse(0, 5, 5, input.ButtonLeft, input.MouseDown)
	if _, ok := a.Mouse(10, 5, 5, input.ButtonLeft, input.MouseUp); !ok {
		t.Fatalf("expected first click")
	}
	a.Mouse(20, 5, 5, input.ButtonLeft, input.MouseDown)
	if _, ok := a.Mouse(30, 5, 5, input.ButtonLeft, input.MouseUp); ok {
		t.Fatalf("expected duplicate click within 50ms to be dropped")
	}

	// Different coordinates are not duplicates
	a.Mouse(40, 6, 5, input.ButtonLeft, input.MouseDown)
	if _, ok := a.Mouse(45, 6, 5, input.ButtonLeft, input.MouseUp); !ok {
		t.Fatalf("expected click at new coordinates")
	}
}

func TestKeyboardDownUpEmittedWithDuration(t *testing.T) {
	a := New()

	ev, ok := a.Key(100, 0x41, 30, input.KeyDown)
	if !ok {
		t.Fatalf("expected key down")
	}
	if ev.(input.KeyboardEvent).PressDurationMs != nil {
		t.Errorf("expected no duration on Down")
	}

	ev, ok = a.Key(160, 0x41, 30, input.KeyUp)
	if !ok {
		t.Fatalf("expected key up")
	}
	up := ev.(input.KeyboardEvent)
	if up.PressDurationMs == nil || *up.PressDurationMs != 60 {
		t.Errorf("expected 60ms press, got %v", up.PressDurationMs)
	}
	if up.ScanCode != 30 {
		t.Errorf("expected scan code to be carried, got %d", up.ScanCode)
	}
}

func TestKeyUpWithoutDownHasNoDuration(t *testing.T) {
	a := New()
	ev, ok := a.Key(100, 0x43, 0, input.KeyUp)
	if !ok {
		t.Fatalf("expected orphan key up to be emitted")
	}
	if d := ev.(input.KeyboardEvent).PressDurationMs; d != nil {
		t.Errorf("expected no duration without a Down, got %d", *d)
	}
}

func TestKeyboardDuplicateDown(t *testing.T) {
	a := New()
	a.Key(0, 0x42, 0, input.KeyDown)
	if _, ok := a.Key(30, 0x42, 0, input.KeyDown); ok {
		t.Fatalf("expected auto-repeat within 50ms to be dropped")
	}
	if _, ok := a.Key(80, 0x42, 0, input.KeyDown); !ok {
		t.Fatalf("expected repeat after 50ms to be emitted")
	}
	ev, _ := a.Key(200, 0x42, 0, input.KeyUp)
	if d := *ev.(input.KeyboardEvent).PressDurationMs; d != 200 {
		t.Errorf("expected duration from first Down, got %d", d)
	}
}

func TestModifiersTracked(t *testing.T) {
	a := New()
	a.Key(0, input.VKLControl, 0, input.KeyDown)
	ev, _ := a.Key(10, 0x43, 0, input.KeyDown)
	if got := ev.(input.KeyboardEvent).Modifiers; got != input.ModCtrl {
		t.Fatalf("expected Ctrl held, got %s", got)
	}
	a.Key(20, input.VKLControl, 0, input.KeyUp)
	ev, _ = a.Key(30, 0x43, 0, input.KeyUp)
	if got := ev.(input.KeyboardEvent).Modifiers; got != input.ModNone {
		t.Fatalf("expected no modifiers after release, got %s", got)
	}
}

func TestKeyOutOfRangeDropped(t *testing.T) {
	a := New()
	if _, ok := a.Key(0, 0, 0, input.KeyDown); ok {
		t.Errorf("expected vk 0 to be dropped")
	}
	if _, ok := a.Key(0, 256, 0, input.KeyDown); ok {
		t.Errorf("expected vk 256 to be dropped")
	}
}

func TestResetClearsState(t *testing.T) {
	a := New()
	a.Mouse(0, 0, 0, input.ButtonLeft, input.MouseDown)
	a.Key(0, input.VKShift, 0, input.KeyDown)
	a.Reset()
	if a.Pending() != 0 {
		t.Fatalf("expected pending table cleared")
	}
	if _, ok := a.Mouse(50, 0, 0, input.ButtonLeft, input.MouseUp); ok {
		t.Fatalf("expected Up after reset to have no match")
	}
	ev, _ := a.Key(60, 0x41, 0, input.KeyDown)
	if ev.(input.KeyboardEvent).Modifiers != input.ModNone {
		t.Fatalf("expected modifiers cleared")
	}
}

// A Down/Up pair yields exactly one click iff 0 < Δt <= 500, carrying Δt.
func TestClickDurationProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := New()
		down := rapid.Int64Range(0, 1_000_000).Draw(rt, "down")
		delta := rapid.Int64Range(-50, 2*ClickTimeoutMs).Draw(rt, "delta")
		x := rapid.IntRange(-5000, 5000).Draw(rt, "x")
		y := rapid.IntRange(-5000, 5000).Draw(rt, "y")
		button := input.MouseButton(rapid.IntRange(int(input.ButtonLeft), int(input.ButtonX2)).Draw(rt, "button"))

		a.Mouse(down, x, y, button, input.MouseDown)
		ev, ok := a.Mouse(down+delta, x, y, button, input.MouseUp)

		want := delta > 0 && delta <= ClickTimeoutMs
		if ok != want {
			rt.Fatalf("delta=%d emitted=%v want %v", delta, ok, want)
		}
		if ok {
			click := ev.(input.MouseEvent)
			if *click.PressDurationMs != delta {
				rt.Fatalf("duration %d, want %d", *click.PressDurationMs, delta)
			}
		}
		if a.Pending() != 0 {
			rt.Fatalf("pending entry left behind")
		}
	})
}

// Two identical consecutive key events closer than 50ms only emit the first.
func TestDuplicateKeyProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := New()
		vk := rapid.IntRange(0x41, 0x5A).Draw(rt, "vk")
		ts := rapid.Int64Range(0, 1_000_000).Draw(rt, "ts")
		gap := rapid.Int64Range(0, 2*DuplicateWindowMs).Draw(rt, "gap")

		if _, ok := a.Key(ts, vk, 0, input.KeyDown); !ok {
			rt.Fatalf("first event not emitted")
		}
		_, ok := a.Key(ts+gap, vk, 0, input.KeyDown)
		if want := gap >= DuplicateWindowMs; ok != want {
			rt.Fatalf("gap=%d emitted=%v want %v", gap, ok, want)
		}
	})
}
