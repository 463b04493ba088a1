package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"macrorec/internal/hook"
	"macrorec/internal/input"

	"pgregory.net/rapid"
)

type collector struct {
	mu     sync.Mutex
	events []input.Event
}

func (c *collector) add(ev input.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) snapshot() []input.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]input.Event(nil), c.events...)
}

func newSim(now int64) *hook.SimDriver {
	drv := hook.NewSimDriver()
	drv.SetClock(func() int64 { return now })
	return drv
}

func startRecorder(t *testing.T, drv hook.Driver) (*Recorder, *collector) {
	t.Helper()
	rec := New(Options{Driver: drv})
	got := &collector{}
	rec.Subscribe(got.add)
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { rec.Close() })
	return rec, got
}

func waitDone(t *testing.T, rec *Recorder) {
	t.Helper()
	select {
	case <-rec.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for session to end")
	}
}

func TestClickIsRecorded(t *testing.T) {
	drv := newSim(0)
	_, got := startRecorder(t, drv)

	drv.Mouse(0, 10, 10, input.ButtonLeft, input.MouseDown)
	drv.Mouse(80, 10, 10, input.ButtonLeft, input.MouseUp)

	events := got.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(events))
	}
	click, ok := events[0].(input.MouseEvent)
	if !ok {
		t.Fatalf("expected MouseEvent, got %T", events[0])
	}
	if click.X != 10 || click.Y != 10 || click.Action != input.MouseClick || *click.PressDurationMs != 80 {
		t.Errorf("unexpected click %s", click)
	}
}

func TestLongPressIsNotRecorded(t *testing.T) {
	drv := newSim(0)
	_, got := startRecorder(t, drv)

	drv.Mouse(0, 10, 10, input.ButtonLeft, input.MouseDown)
	drv.Mouse(900, 10, 10, input.ButtonLeft, input.MouseUp)

	if n := len(got.snapshot()); n != 0 {
		t.Fatalf("expected no events, got %d", n)
	}
}

func TestDoubleStart(t *testing.T) {
	rec, _ := startRecorder(t, newSim(0))
	if err := rec.Start(context.Background()); !errors.Is(err, input.ErrAlreadyRecording) {
		t.Fatalf("expected ErrAlreadyRecording, got %v", err)
	}
	if !rec.IsRecording() {
		t.Fatalf("expected first session to keep running")
	}
}

func TestStopKeyIsConsumedAndStops(t *testing.T) {
	drv := newSim(0)
	rec, got := startRecorder(t, drv)

	drv.Key(0, 0x41, input.KeyDown)
	drv.Key(100, 0x41, input.KeyUp)
	drv.Key(200, input.VKEscape, input.KeyDown)

	if rec.IsRecording() {
		t.Fatalf("expected recording to end synchronously on the stop key")
	}
	waitDone(t, rec)
	if drv.Installed() {
		t.Fatalf("expected hooks to be torn down")
	}

	events := got.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected the two A events only, got %v", events)
	}
	for _, ev := range events {
		if ev.(input.KeyboardEvent).VirtualKey == input.VKEscape {
			t.Fatalf("stop key leaked into the stream")
		}
	}
	if events[0].(input.KeyboardEvent).Action != input.KeyDown || events[1].(input.KeyboardEvent).Action != input.KeyUp {
		t.Errorf("expected emission order Down, Up")
	}

	if err := rec.Stop(context.Background()); err != nil {
		t.Fatalf("Stop after stop key: %v", err)
	}
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("expected restart after stop key, got %v", err)
	}
}

func TestSetStopKey(t *testing.T) {
	drv := newSim(0)
	rec, got := startRecorder(t, drv)

	if err := rec.SetStopKey(0); err == nil {
		t.Errorf("expected error for vk 0")
	}
	if err := rec.SetStopKey(256); err == nil {
		t.Errorf("expected error for vk 256")
	}
	if err := rec.SetStopKey(0x71); err != nil {
		t.Fatalf("SetStopKey failed: %v", err)
	}

	drv.Key(0, input.VKEscape, input.KeyDown)
	if !rec.IsRecording() {
		t.Fatalf("Esc must not stop once the stop key changed")
	}
	drv.Key(100, 0x71, input.KeyDown)
	waitDone(t, rec)

	if n := len(got.snapshot()); n != 1 {
		t.Fatalf("expected Esc to be recorded as a normal key, got %d events", n)
	}
}

func TestSuppressMutesCapture(t *testing.T) {
	drv := newSim(1000)
	rec, got := startRecorder(t, drv)

	rec.Suppress(500 * time.Millisecond)
	drv.Key(1200, 0x41, input.KeyDown)
	drv.Key(1600, 0x42, input.KeyDown)

	events := got.snapshot()
	if len(events) != 1 || events[0].(input.KeyboardEvent).VirtualKey != 0x42 {
		t.Fatalf("expected only the key after the mute window, got %v", events)
	}
}

func TestPrepareForStopDropsTrailingInput(t *testing.T) {
	drv := newSim(5000)
	rec, got := startRecorder(t, drv)

	rec.PrepareForStop()
	drv.Key(5100, 0x41, input.KeyDown) // hook and session windows
	drv.Key(5500, 0x42, input.KeyDown) // session window only
	drv.Key(6100, 0x43, input.KeyDown)

	events := got.snapshot()
	if len(events) != 1 || events[0].(input.KeyboardEvent).VirtualKey != 0x43 {
		t.Fatalf("expected only the key after both windows, got %v", events)
	}
	if !rec.IsRecording() {
		t.Fatalf("PrepareForStop must not end the session")
	}
}

func TestSubscriberPanicIsIsolated(t *testing.T) {
	drv := newSim(0)
	rec, got := startRecorder(t, drv)

	var second collector
	rec.Subscribe(func(input.Event) { panic("boom") })
	rec.Subscribe(second.add)

	drv.Key(0, 0x41, input.KeyDown)

	if len(got.snapshot()) != 1 || len(second.snapshot()) != 1 {
		t.Fatalf("expected other subscribers to receive the event")
	}
	if !rec.IsRecording() {
		t.Fatalf("expected panic not to affect the session")
	}
}

func TestUnsubscribe(t *testing.T) {
	drv := newSim(0)
	rec, got := startRecorder(t, drv)

	var extra collector
	unsubscribe := rec.Subscribe(extra.add)
	drv.Key(0, 0x41, input.KeyDown)
	unsubscribe()
	unsubscribe()
	drv.Key(100, 0x42, input.KeyDown)

	if n := len(extra.snapshot()); n != 1 {
		t.Fatalf("expected one event before unsubscribe, got %d", n)
	}
	if n := len(got.snapshot()); n != 2 {
		t.Fatalf("expected remaining subscriber to see both, got %d", n)
	}
}

func TestStartFailureLeavesIdle(t *testing.T) {
	drv := newSim(0)
	drv.FailInstall(errors.New("hook denied"))
	rec := New(Options{Driver: drv})
	defer rec.Close()

	err := rec.Start(context.Background())
	if !errors.Is(err, input.ErrHookInstall) {
		t.Fatalf("expected ErrHookInstall, got %v", err)
	}
	if rec.IsRecording() {
		t.Fatalf("expected not recording after failed start")
	}
	select {
	case <-rec.Done():
	default:
		t.Fatalf("expected failed session to be done")
	}

	drv.FailInstall(nil)
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
}

func TestStopIdleIsNoop(t *testing.T) {
	rec := New(Options{Driver: newSim(0)})
	if err := rec.Stop(context.Background()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	drv := newSim(0)
	rec := New(Options{Driver: drv})
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := rec.Close(); err != nil {
		t.Fatalf("Close returned %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("second Close returned %v", err)
	}
	if rec.IsRecording() || drv.Installed() {
		t.Fatalf("expected Close to stop the session")
	}
	if err := rec.Start(context.Background()); !errors.Is(err, input.ErrDisposed) {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}
}

type blockingDriver struct {
	*hook.SimDriver
	installing chan struct{}
	release    chan struct{}
}

func (d *blockingDriver) Install(cb hook.Callback) error {
	close(d.installing)
	<-d.release
	return d.SimDriver.Install(cb)
}

func TestStopWhileStarting(t *testing.T) {
	drv := &blockingDriver{
		SimDriver:  newSim(0),
		installing: make(chan struct{}),
		release:    make(chan struct{}),
	}
	rec := New(Options{Driver: drv})
	defer rec.Close()

	startErr := make(chan error, 1)
	go func() { startErr <- rec.Start(context.Background()) }()
	<-drv.installing

	stopErr := make(chan error, 1)
	go func() { stopErr <- rec.Stop(context.Background()) }()
	for rec.IsRecording() {
		time.Sleep(time.Millisecond)
	}
	close(drv.release)

	select {
	case err := <-startErr:
		if err != nil && !errors.Is(err, input.ErrStartAborted) {
			t.Fatalf("unexpected start error %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Start did not return")
	}
	select {
	case err := <-stopErr:
		if err != nil {
			t.Fatalf("Stop failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Stop did not return")
	}

	if rec.IsRecording() || drv.Installed() {
		t.Fatalf("expected idle recorder with no hooks installed")
	}
}

func TestSimulate(t *testing.T) {
	rec := New(Options{Driver: newSim(0)})
	defer rec.Close()
	var got collector
	rec.Subscribe(got.add)

	ev := input.KeyboardEvent{Header: input.NewHeader(10), VirtualKey: 0x41, Action: input.KeyPress}
	if err := rec.Simulate(ev); err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	if n := len(got.snapshot()); n != 0 {
		t.Fatalf("expected simulate to be ignored while idle")
	}

	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := rec.Simulate(ev); err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	if n := len(got.snapshot()); n != 1 {
		t.Fatalf("expected simulated event to be delivered, got %d", n)
	}
}

func TestSimulateAfterClose(t *testing.T) {
	rec := New(Options{Driver: newSim(0)})
	rec.Close()

	ev := input.KeyboardEvent{Header: input.NewHeader(10), VirtualKey: 0x41, Action: input.KeyPress}
	if err := rec.Simulate(ev); !errors.Is(err, input.ErrDisposed) {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}
}

func TestStopBeforeHookStart(t *testing.T) {
	drv := newSim(0)
	rec := New(Options{Driver: drv})
	defer rec.Close()

	stopped := make(chan error, 1)
	rec.beforeHookStart = func() {
		stopped <- rec.Stop(context.Background())
	}

	err := rec.Start(context.Background())
	if !errors.Is(err, input.ErrStartAborted) {
		t.Fatalf("expected ErrStartAborted, got %v", err)
	}
	if err := <-stopped; err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if rec.IsRecording() || drv.Installed() {
		t.Fatalf("expected idle recorder with no hooks installed")
	}
	waitDone(t, rec)

	rec.beforeHookStart = nil
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start after aborted start failed: %v", err)
	}
	if !rec.IsRecording() || !drv.Installed() {
		t.Fatalf("expected a live session")
	}
}

// Whatever precedes it, the stop key never reaches subscribers and always ends the session.
func TestStopKeyProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		drv := newSim(0)
		rec := New(Options{Driver: drv})
		defer rec.Close()
		var got collector
		rec.Subscribe(got.add)
		if err := rec.Start(context.Background()); err != nil {
			rt.Fatalf("Start failed: %v", err)
		}

		keys := rapid.SliceOfN(rapid.IntRange(0x41, 0x5A), 0, 20).Draw(rt, "keys")
		for i, vk := range keys {
			drv.Key(int64(i)*100, vk, input.KeyDown)
		}
		drv.Key(int64(len(keys))*100, input.VKEscape, input.KeyDown)

		if rec.IsRecording() {
			rt.Fatalf("stop key did not stop the session")
		}
		select {
		case <-rec.Done():
		case <-time.After(2 * time.Second):
			rt.Fatalf("session did not end")
		}
		events := got.snapshot()
		if len(events) != len(keys) {
			rt.Fatalf("expected %d events, got %d", len(keys), len(events))
		}
		for _, ev := range events {
			if ev.(input.KeyboardEvent).VirtualKey == input.VKEscape {
				rt.Fatalf("stop key leaked")
			}
		}
	})
}
