// Package recorder is the public face of input capture: it owns the hook,
// decides when events reach subscribers, and handles the stop key.
package recorder

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"macrorec/internal/hook"
	"macrorec/internal/input"
	"macrorec/internal/suppress"
)

// SessionStopWindowMs is the session-layer stop window, on top of the hook's own
const SessionStopWindowMs = 1000

// Options configures a Recorder
type Options struct {
	// Driver defaults to the platform hook driver
	Driver hook.Driver

	// StopKey is a virtual key code, VKEscape when zero
	StopKey int

	// JoinTimeout bounds hook thread joins, hook.DefaultJoinTimeout when zero
	JoinTimeout time.Duration
}

type subscriber struct {
	id int
	fn func(input.Event)
}

type session struct {
	done      chan struct{}
	once      sync.Once
	cancelled bool // guarded by Recorder.mu
}

func (s *session) end() {
	s.once.Do(func() { close(s.done) })
}

// Recorder records global input. Safe for concurrent use.
type Recorder struct {
	hook    *hook.Hook
	session *suppress.Gate

	recording atomic.Bool
	disposed  atomic.Bool
	stopKey   atomic.Int32
	closeOnce sync.Once

	subsMu sync.RWMutex
	subs   []subscriber
	nextID int

	mu        sync.Mutex
	current   *session
	asyncStop chan struct{}

	// beforeHookStart runs between claiming a session and starting the hook
	beforeHookStart func()
}

// New creates an idle recorder
func New(opts Options) *Recorder {
	r := &Recorder{
		hook:    hook.New(hook.Options{Driver: opts.Driver, JoinTimeout: opts.JoinTimeout}),
		session: suppress.NewGate(SessionStopWindowMs),
	}
	stopKey := opts.StopKey
	if stopKey < 1 || stopKey > 255 {
		stopKey = input.VKEscape
	}
	r.stopKey.Store(int32(stopKey))
	return r
}

// Start installs the global hooks. It returns once they are live.
func (r *Recorder) Start(ctx context.Context) error {
	if r.disposed.Load() {
		return input.ErrDisposed
	}
	if err := r.waitAsyncStop(ctx); err != nil {
		return err
	}
	s := &session{done: make(chan struct{})}
	r.mu.Lock()
	if !r.recording.CompareAndSwap(false, true) {
		r.mu.Unlock()
		return input.ErrAlreadyRecording
	}
	r.current = s
	r.mu.Unlock()

	r.session.Reset()
	r.hook.SetSink(r.handle)
	if r.beforeHookStart != nil {
		r.beforeHookStart()
	}

	err := r.hook.Start(ctx)
	r.mu.Lock()
	live := r.current == s && !s.cancelled
	r.mu.Unlock()
	if err != nil {
		if live {
			r.recording.Store(false)
			r.hook.SetSink(nil)
		}
		s.end()
		return fmt.Errorf("start recording: %w", err)
	}
	if !live {
		// A Stop ran before the hook was up and found nothing to tear down
		if err := r.hook.Stop(context.Background()); err != nil {
			log.Printf("Recorder: Teardown after cancelled start failed: %v", err)
		}
		s.end()
		return fmt.Errorf("start recording: %w", input.ErrStartAborted)
	}

	log.Printf("Recorder: Recording started (stop key %s)", r.stopKeyName())
	return nil
}

// Stop ends the session and returns after the hook thread has been torn down.
// Stopping an idle recorder is a no-op.
func (r *Recorder) Stop(ctx context.Context) error {
	if !r.recording.CompareAndSwap(true, false) {
		// A stop-key teardown may still be running
		return r.waitAsyncStop(ctx)
	}

	s := r.cancelSession()
	r.armStopWindows()
	r.hook.SetSink(nil)

	err := r.hook.Stop(ctx)
	if werr := r.waitAsyncStop(ctx); err == nil {
		err = werr
	}
	s.end()
	if err != nil {
		return fmt.Errorf("stop recording: %w", err)
	}
	log.Println("Recorder: Recording stopped")
	return nil
}

// PrepareForStop arms both stop windows ahead of an imminent Stop so that the
// input used to reach the stop control is not recorded.
func (r *Recorder) PrepareForStop() {
	r.armStopWindows()
}

// Suppress mutes capture for d, typically while a macro is being played back
func (r *Recorder) Suppress(d time.Duration) {
	r.hook.Suppress(d)
}

// Subscribe registers fn for resolved events. fn runs on the hook thread and
// must return quickly.
func (r *Recorder) Subscribe(fn func(input.Event)) (unsubscribe func()) {
	r.subsMu.Lock()
	r.nextID++
	id := r.nextID
	subs := make([]subscriber, len(r.subs), len(r.subs)+1)
	copy(subs, r.subs)
	r.subs = append(subs, subscriber{id: id, fn: fn})
	r.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.unsubscribe(id) })
	}
}

func (r *Recorder) unsubscribe(id int) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	subs := make([]subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		if s.id != id {
			subs = append(subs, s)
		}
	}
	r.subs = subs
}

// Simulate injects an already-resolved event as if the hook produced it.
// It is ignored unless recording.
func (r *Recorder) Simulate(ev input.Event) error {
	if r.disposed.Load() {
		return input.ErrDisposed
	}
	r.handle(ev)
	return nil
}

// IsRecording reports whether a session is active
func (r *Recorder) IsRecording() bool {
	return r.recording.Load()
}

// Done is closed when the current session ends, however it ends
func (r *Recorder) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return r.current.done
}

// StopKey returns the stop key's virtual key code
func (r *Recorder) StopKey() int {
	return int(r.stopKey.Load())
}

// SetStopKey changes the stop key. It takes effect immediately, also mid-session.
func (r *Recorder) SetStopKey(vk int) error {
	if vk < 1 || vk > 255 {
		return fmt.Errorf("stop key %d out of range 1-255", vk)
	}
	r.stopKey.Store(int32(vk))
	log.Printf("Recorder: Stop key set to %s", r.stopKeyName())
	return nil
}

// Close stops any session and disposes the recorder. It always returns nil.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		if err := r.Stop(context.Background()); err != nil {
			log.Printf("Recorder: Stop during close failed: %v", err)
		}
		r.disposed.Store(true)
	})
	return nil
}

// handle is the hook sink. It runs on the hook thread.
func (r *Recorder) handle(ev input.Event) {
	if !r.recording.Load() {
		return
	}
	if r.session.Suppressed(ev.Meta().TimestampMs) {
		return
	}

	if kb, ok := ev.(input.KeyboardEvent); ok && kb.VirtualKey == r.StopKey() {
		if kb.Action == input.KeyDown {
			r.stopFromKey()
		}
		return
	}

	r.publish(ev)
}

func (r *Recorder) publish(ev input.Event) {
	r.subsMu.RLock()
	subs := r.subs
	r.subsMu.RUnlock()

	for _, s := range subs {
		r.deliver(s, ev)
	}
}

func (r *Recorder) deliver(s subscriber, ev input.Event) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("Recorder: subscriber %d panicked on %s: %v", s.id, ev, p)
		}
	}()
	s.fn(ev)
}

// stopFromKey runs inside the hook callback. Recording is flipped here so no
// later event escapes; the teardown itself must happen off the hook thread.
func (r *Recorder) stopFromKey() {
	if !r.recording.CompareAndSwap(true, false) {
		return
	}
	s := r.cancelSession()
	r.armStopWindows()

	done := make(chan struct{})
	r.mu.Lock()
	r.asyncStop = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		r.hook.SetSink(nil)
		if err := r.hook.Stop(context.Background()); err != nil {
			log.Printf("Recorder: Stop-key teardown failed: %v", err)
		}
		s.end()
		log.Printf("Recorder: Recording stopped by %s", r.stopKeyName())
	}()
}

func (r *Recorder) waitAsyncStop(ctx context.Context) error {
	r.mu.Lock()
	done := r.asyncStop
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) armStopWindows() {
	r.hook.BeginStopping()
	r.session.BeginStopping(r.hook.Now())
}

// cancelSession marks the current session as ended by a stop. The caller
// must have won the recording flag.
func (r *Recorder) cancelSession() *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.current
	s.cancelled = true
	return s
}

func (r *Recorder) stopKeyName() string {
	vk := r.StopKey()
	if name := input.KeyName(vk); name != "" {
		return name
	}
	return fmt.Sprintf("VK%d", vk)
}
