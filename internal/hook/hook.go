// Package hook owns OS-level global mouse and keyboard interception. Hooks are
// thread-affine, so every driver call that touches hook handles runs on one
// dedicated, locked OS thread.
package hook

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"macrorec/internal/aggregate"
	"macrorec/internal/input"
	"macrorec/internal/suppress"
)

// DefaultJoinTimeout bounds how long Stop waits for the hook thread to exit
const DefaultJoinTimeout = 3 * time.Second

var (
	// ErrBusy is returned by Start when the hook is not stopped
	ErrBusy = errors.New("hook is already active")

	// ErrDetached is returned by Start while a thread that missed its join
	// deadline is still alive. It owns the driver until it exits.
	ErrDetached = errors.New("previous hook thread has not exited")
)

// Transition is one raw observation decoded from a platform hook record
type Transition struct {
	Kind input.Kind
	Time int64 // event clock, ms since Install

	X, Y        int
	Button      input.MouseButton
	MouseAction input.MouseAction

	VirtualKey int
	ScanCode   int
	KeyAction  input.KeyAction
}

// Callback receives transitions on the hook thread. It must not block.
type Callback func(Transition)

// Driver is the platform half of the hook. Install, Loop and Uninstall are
// always called on the same locked OS thread; Quit and Now may be called from
// any goroutine.
type Driver interface {
	Install(cb Callback) error
	Loop()
	Quit() error
	Uninstall()
	Now() int64
}

// State is the hook lifecycle state
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Options configures a Hook
type Options struct {
	// Driver defaults to the platform driver
	Driver Driver

	// Sink receives resolved events on the hook thread
	Sink func(input.Event)

	// StopWindowMs defaults to suppress.DefaultStopWindowMs
	StopWindowMs int64

	// JoinTimeout defaults to DefaultJoinTimeout
	JoinTimeout time.Duration
}

// Hook runs the hook thread and its message loop
type Hook struct {
	driver      Driver
	gate        *suppress.Gate
	sink        atomic.Pointer[func(input.Event)]
	joinTimeout time.Duration

	mu    sync.Mutex
	state State
	done  chan struct{} // closed when the latest hook thread has exited
	abort chan struct{}
}

// New creates a stopped hook
func New(opts Options) *Hook {
	driver := opts.Driver
	if driver == nil {
		driver = newPlatformDriver()
	}
	joinTimeout := opts.JoinTimeout
	if joinTimeout <= 0 {
		joinTimeout = DefaultJoinTimeout
	}
	h := &Hook{
		driver:      driver,
		gate:        suppress.NewGate(opts.StopWindowMs),
		joinTimeout: joinTimeout,
	}
	h.SetSink(opts.Sink)
	return h
}

// SetSink replaces the event receiver. A nil sink discards events.
func (h *Hook) SetSink(sink func(input.Event)) {
	if sink == nil {
		h.sink.Store(nil)
		return
	}
	h.sink.Store(&sink)
}

// Start spawns the hook thread and returns once the hooks are installed or
// installation failed.
func (h *Hook) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.state != StateStopped {
		state := h.state
		h.mu.Unlock()
		return fmt.Errorf("%w (%s)", ErrBusy, state)
	}
	if h.done != nil {
		select {
		case <-h.done:
		default:
			h.mu.Unlock()
			return ErrDetached
		}
	}
	ready := make(chan error, 1)
	done := make(chan struct{})
	abort := make(chan struct{})
	h.state = StateStarting
	h.done = done
	h.abort = abort
	h.mu.Unlock()

	// A stop transition belongs to the previous session. A mute is caller
	// owned and runs out on its own.
	h.gate.ClearStopping()
	go h.run(ready, done, aggregate.New())

	select {
	case err := <-ready:
		if err != nil {
			<-done
			h.finish(done)
			return fmt.Errorf("%w: %w", input.ErrHookInstall, err)
		}
		h.mu.Lock()
		if h.state == StateStarting {
			h.state = StateRunning
			h.mu.Unlock()
			log.Println("Hook: Global hooks started.")
			return nil
		}
		h.mu.Unlock()
		// Stop arrived between install and here
		if err := h.driver.Quit(); err != nil {
			log.Printf("Hook: failed to post quit: %v", err)
		}
		h.join(done)
		h.finish(done)
		return input.ErrStartAborted

	case <-abort:
		return h.abortStart(ready, done, input.ErrStartAborted)

	case <-ctx.Done():
		h.beginAbort(done)
		return h.abortStart(ready, done, ctx.Err())
	}
}

// Stop posts the loop-termination message and joins the hook thread with a
// bounded wait. It is safe to call repeatedly and while Start is in flight.
func (h *Hook) Stop(ctx context.Context) error {
	h.mu.Lock()
	state, done := h.state, h.done
	switch state {
	case StateStopped:
		h.mu.Unlock()
		return nil
	case StateStarting:
		h.state = StateStopping
		close(h.abort)
		h.mu.Unlock()
		err := h.wait(ctx, done)
		h.finish(done)
		return err
	case StateStopping:
		h.mu.Unlock()
		return h.wait(ctx, done)
	}
	h.state = StateStopping
	h.mu.Unlock()

	if err := h.driver.Quit(); err != nil {
		log.Printf("Hook: failed to post quit: %v", err)
	}
	err := h.wait(ctx, done)
	h.finish(done)
	log.Println("Hook: Global hooks stopped.")
	return err
}

// Suppress mutes events stamped within d from now
func (h *Hook) Suppress(d time.Duration) {
	h.gate.Mute(h.driver.Now(), d.Milliseconds())
}

// BeginStopping opens the stop-transition window now
func (h *Hook) BeginStopping() {
	h.gate.BeginStopping(h.driver.Now())
}

// Now reads the event clock
func (h *Hook) Now() int64 {
	return h.driver.Now()
}

// State returns the lifecycle state
func (h *Hook) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Running reports whether hooks are installed and the loop is serving them
func (h *Hook) Running() bool {
	return h.State() == StateRunning
}

// run is the hook thread. agg belongs to this session only.
func (h *Hook) run(ready chan<- error, done chan struct{}, agg *aggregate.Aggregator) {
	defer close(done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer h.driver.Uninstall()

	if err := h.driver.Install(func(t Transition) { h.dispatch(agg, t) }); err != nil {
		ready <- err
		return
	}
	ready <- nil
	h.driver.Loop()
}

// dispatch is the callback path. It runs on the hook thread.
func (h *Hook) dispatch(agg *aggregate.Aggregator, t Transition) {
	if h.gate.Suppressed(t.Time) {
		return
	}

	var (
		ev input.Event
		ok bool
	)
	switch t.Kind {
	case input.KindMouse:
		ev, ok = agg.Mouse(t.Time, t.X, t.Y, t.Button, t.MouseAction)
	case input.KindKeyboard:
		ev, ok = agg.Key(t.Time, t.VirtualKey, t.ScanCode, t.KeyAction)
	}
	if !ok {
		return
	}
	if sink := h.sink.Load(); sink != nil {
		(*sink)(ev)
	}
}

func (h *Hook) beginAbort(done chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done == done && h.state == StateStarting {
		h.state = StateStopping
		close(h.abort)
	}
}

// abortStart waits for the install outcome so that a quit is only posted to a
// thread that owns a message loop.
func (h *Hook) abortStart(ready <-chan error, done chan struct{}, cause error) error {
	select {
	case err := <-ready:
		if err == nil {
			if qerr := h.driver.Quit(); qerr != nil {
				log.Printf("Hook: failed to post quit: %v", qerr)
			}
		}
	case <-done:
	case <-time.After(h.joinTimeout):
		log.Printf("Hook: install did not report within %s", h.joinTimeout)
	}
	h.join(done)
	h.finish(done)
	return cause
}

func (h *Hook) join(done <-chan struct{}) {
	select {
	case <-done:
	case <-time.After(h.joinTimeout):
		log.Printf("Hook: thread did not exit within %s, leaving it detached", h.joinTimeout)
	}
}

func (h *Hook) wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-time.After(h.joinTimeout):
		log.Printf("Hook: thread did not exit within %s, leaving it detached", h.joinTimeout)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish moves the session identified by done back to Stopped
func (h *Hook) finish(done chan struct{}) {
	h.mu.Lock()
	if h.done == done {
		h.state = StateStopped
	}
	h.mu.Unlock()
}
