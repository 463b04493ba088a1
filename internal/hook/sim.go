package hook

import (
	"errors"
	"sync"
	"time"

	"macrorec/internal/input"
)

// ErrNotInstalled is returned by SimDriver.Feed when no hook is installed
var ErrNotInstalled = errors.New("simulated hook is not installed")

type simItem struct {
	t    Transition
	done chan struct{}
}

// SimDriver is an in-process driver. Transitions fed to it are delivered on the
// hook thread exactly like platform hook records, which makes the full
// gate/aggregate/sink path testable without OS hooks.
type SimDriver struct {
	mu         sync.Mutex
	cb         Callback
	feed       chan simItem
	quit       chan struct{}
	quitOnce   *sync.Once
	installed  bool
	installErr error
	installs   int
	start      time.Time
	clock      func() int64
}

// NewSimDriver creates a driver whose clock counts milliseconds since Install
func NewSimDriver() *SimDriver {
	return &SimDriver{start: time.Now()}
}

// FailInstall makes subsequent Install calls return err. nil restores success.
func (d *SimDriver) FailInstall(err error) {
	d.mu.Lock()
	d.installErr = err
	d.mu.Unlock()
}

// SetClock replaces the event clock
func (d *SimDriver) SetClock(clock func() int64) {
	d.mu.Lock()
	d.clock = clock
	d.mu.Unlock()
}

func (d *SimDriver) Install(cb Callback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.installErr != nil {
		return d.installErr
	}
	d.cb = cb
	d.feed = make(chan simItem)
	d.quit = make(chan struct{})
	d.quitOnce = &sync.Once{}
	d.installed = true
	d.installs++
	d.start = time.Now()
	return nil
}

func (d *SimDriver) Loop() {
	d.mu.Lock()
	feed, quit, cb := d.feed, d.quit, d.cb
	d.mu.Unlock()
	if feed == nil {
		return
	}
	for {
		select {
		case it := <-feed:
			cb(it.t)
			close(it.done)
		case <-quit:
			return
		}
	}
}

func (d *SimDriver) Quit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.quit == nil {
		return ErrNotInstalled
	}
	quit := d.quit
	d.quitOnce.Do(func() { close(quit) })
	return nil
}

func (d *SimDriver) Uninstall() {
	d.mu.Lock()
	d.installed = false
	d.cb = nil
	d.mu.Unlock()
}

func (d *SimDriver) Now() int64 {
	d.mu.Lock()
	clock, start := d.clock, d.start
	d.mu.Unlock()
	if clock != nil {
		return clock()
	}
	return time.Since(start).Milliseconds()
}

// Installed reports whether a hook is currently installed
func (d *SimDriver) Installed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.installed
}

// Installs counts successful Install calls
func (d *SimDriver) Installs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.installs
}

// Feed delivers t on the hook thread and blocks until the callback returned.
func (d *SimDriver) Feed(t Transition) error {
	d.mu.Lock()
	feed, quit, installed := d.feed, d.quit, d.installed
	d.mu.Unlock()
	if !installed {
		return ErrNotInstalled
	}

	it := simItem{t: t, done: make(chan struct{})}
	select {
	case feed <- it:
	case <-quit:
		return ErrNotInstalled
	}
	<-it.done
	return nil
}

// Mouse feeds one mouse transition stamped ts
func (d *SimDriver) Mouse(ts int64, x, y int, button input.MouseButton, action input.MouseAction) error {
	return d.Feed(Transition{
		Kind:        input.KindMouse,
		Time:        ts,
		X:           x,
		Y:           y,
		Button:      button,
		MouseAction: action,
	})
}

// Key feeds one keyboard transition stamped ts
func (d *SimDriver) Key(ts int64, vk int, action input.KeyAction) error {
	return d.Feed(Transition{
		Kind:       input.KindKeyboard,
		Time:       ts,
		VirtualKey: vk,
		KeyAction:  action,
	})
}
