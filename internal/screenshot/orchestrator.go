// Package screenshot captures the desktop with a fast primary backend and a
// slower fallback, retrying with a short backoff.
package screenshot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"
)

const (
	// ErrCodeCapture marks a capture that failed after all retries
	ErrCodeCapture = "Err-CAP"

	DefaultTimeout    = 50 * time.Millisecond
	DefaultMaxRetries = 2
	DefaultBackoff    = 10 * time.Millisecond
)

var (
	ErrDisposed   = errors.New("capture orchestrator is closed")
	ErrNoBackend  = errors.New("no capture backend available")
	ErrEmptyFrame = errors.New("capture backend returned an empty frame")
)

// Method selects a capture backend
type Method int32

const (
	PrimaryAPI Method = iota
	FallbackAPI
)

const noForcedMethod = -1

func (m Method) String() string {
	switch m {
	case PrimaryAPI:
		return "primary"
	case FallbackAPI:
		return "fallback"
	}
	return fmt.Sprintf("method(%d)", int32(m))
}

func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseMethod accepts "primary" or "fallback"
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary":
		return PrimaryAPI, nil
	case "fallback", "gdi":
		return FallbackAPI, nil
	}
	return 0, fmt.Errorf("unknown capture method %q", s)
}

// Grabber is one capture backend. Grab returns an encoded PNG.
type Grabber interface {
	Name() string
	Available() bool
	Grab(ctx context.Context) ([]byte, error)
}

// Result describes one Capture call. On failure Image is empty and ErrorCode is set.
type Result struct {
	Image        []byte        `json:"-"`
	Timestamp    time.Time     `json:"timestamp"`
	Method       Method        `json:"method"`
	RetryCount   int           `json:"retry_count"`
	Duration     time.Duration `json:"duration"`
	ErrorCode    string        `json:"error_code,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// HasError reports whether the capture failed
func (r Result) HasError() bool {
	return r.ErrorCode != ""
}

// Options configures an Orchestrator. Zero values select the defaults.
type Options struct {
	Primary    Grabber
	Fallback   Grabber
	MaxRetries *int // nil selects DefaultMaxRetries; zero disables retries
	Backoff    time.Duration
	Clock      func() time.Time
	Sleep      func(ctx context.Context, d time.Duration) error
}

// Orchestrator picks a backend per attempt and retries failed captures.
// Concurrent Capture calls are allowed.
type Orchestrator struct {
	primary    Grabber
	fallback   Grabber
	maxRetries int
	backoff    time.Duration
	clock      func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	forced   atomic.Int32
	current  atomic.Int32
	disposed atomic.Bool
}

// Retries returns n as an Options.MaxRetries value
func Retries(n int) *int {
	return &n
}

// New creates an orchestrator. When opts names no grabbers, the platform
// defaults are used.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		primary:    opts.Primary,
		fallback:   opts.Fallback,
		maxRetries: DefaultMaxRetries,
		backoff:    opts.Backoff,
		clock:      opts.Clock,
		sleep:      opts.Sleep,
	}
	if o.primary == nil && o.fallback == nil {
		o.primary = NewDisplayGrabber()
		o.fallback = defaultFallback()
	}
	if opts.MaxRetries != nil && *opts.MaxRetries >= 0 {
		o.maxRetries = *opts.MaxRetries
	}
	if o.backoff <= 0 {
		o.backoff = DefaultBackoff
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	if o.sleep == nil {
		o.sleep = sleepContext
	}
	o.forced.Store(noForcedMethod)
	o.current.Store(int32(PrimaryAPI))
	return o
}

// Capture takes one screenshot. Each attempt is bounded by timeout (DefaultTimeout
// when <= 0). A failure after all retries is reported in the Result, while
// cancellation of ctx is returned as an error.
func (o *Orchestrator) Capture(ctx context.Context, timeout time.Duration) (Result, error) {
	if o.disposed.Load() {
		return Result{}, ErrDisposed
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	start := o.clock()
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		img, method, err := o.attempt(ctx, timeout)
		if err == nil {
			o.current.Store(int32(method))
			return Result{
				Image:      img,
				Timestamp:  start,
				Method:     method,
				RetryCount: attempt,
				Duration:   o.clock().Sub(start),
			}, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}

		if attempt >= o.maxRetries {
			log.Printf("Capture: failed after %d retries: %v", attempt, err)
			return Result{
				Timestamp:    start,
				Method:       o.CurrentMethod(),
				RetryCount:   attempt,
				Duration:     o.clock().Sub(start),
				ErrorCode:    ErrCodeCapture,
				ErrorMessage: fmt.Sprintf("capture failed: %v", err),
			}, nil
		}
		if err := o.sleep(ctx, o.backoff); err != nil {
			return Result{}, err
		}
	}
}

// attempt tries the current method and, on failure, the fallback. Both share
// one deadline, so an attempt never outlives timeout.
func (o *Orchestrator) attempt(ctx context.Context, timeout time.Duration) ([]byte, Method, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if o.CurrentMethod() == PrimaryAPI && o.IsPrimaryAvailable() {
		img, err := o.grab(actx, o.primary)
		if err == nil {
			return img, PrimaryAPI, nil
		}
		if ctx.Err() != nil {
			return nil, PrimaryAPI, err
		}
		log.Printf("Capture: %s failed, using fallback: %v", o.primary.Name(), err)
	}

	// Degrade for subsequent captures until the primary succeeds again
	o.current.Store(int32(FallbackAPI))
	if err := actx.Err(); err != nil {
		return nil, FallbackAPI, fmt.Errorf("attempt deadline: %w", err)
	}
	if o.fallback == nil {
		return nil, FallbackAPI, ErrNoBackend
	}
	img, err := o.grab(actx, o.fallback)
	return img, FallbackAPI, err
}

// grab runs one backend call and abandons it when actx is done, even if the
// backend ignores it.
func (o *Orchestrator) grab(actx context.Context, g Grabber) ([]byte, error) {
	type outcome struct {
		img []byte
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		img, err := g.Grab(actx)
		ch <- outcome{img: img, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			return nil, fmt.Errorf("%s: %w", g.Name(), out.err)
		}
		if len(out.img) == 0 {
			return nil, fmt.Errorf("%s: %w", g.Name(), ErrEmptyFrame)
		}
		return out.img, nil
	case <-actx.Done():
		return nil, fmt.Errorf("%s: %w", g.Name(), actx.Err())
	}
}

// ForceMethod pins every subsequent attempt to m
func (o *Orchestrator) ForceMethod(m Method) {
	o.forced.Store(int32(m))
	log.Printf("Capture: method forced to %s", m)
}

// ClearForcedMethod returns to automatic selection
func (o *Orchestrator) ClearForcedMethod() {
	o.forced.Store(noForcedMethod)
}

// ForcedMethod returns the pinned method, if any
func (o *Orchestrator) ForcedMethod() (Method, bool) {
	m := o.forced.Load()
	if m == noForcedMethod {
		return 0, false
	}
	return Method(m), true
}

// CurrentMethod is the forced method when set, otherwise the last working one
func (o *Orchestrator) CurrentMethod() Method {
	if m, ok := o.ForcedMethod(); ok {
		return m
	}
	return Method(o.current.Load())
}

// IsPrimaryAvailable reports whether the primary backend can be used now
func (o *Orchestrator) IsPrimaryAvailable() bool {
	return o.primary != nil && o.primary.Available()
}

// Close disposes the orchestrator. Later captures fail with ErrDisposed.
func (o *Orchestrator) Close() error {
	o.disposed.Store(true)
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
