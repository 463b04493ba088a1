// Package suppress drops input events that fall inside time windows declared
// by the recording control flow itself.
package suppress

import "sync"

// DefaultStopWindowMs is how long events are dropped after a stop begins at the hook layer
const DefaultStopWindowMs = 200

type window struct {
	active bool
	from   int64
	until  int64
}

func (w window) contains(ts int64) bool {
	return w.active && ts >= w.from && ts <= w.until
}

// Gate holds the mute window and the stop-transition window. All timestamps are
// on the hook's event clock in milliseconds. Safe for concurrent use.
type Gate struct {
	mu         sync.Mutex
	mute       window
	stopping   window
	stopWindow int64
}

// NewGate creates a gate whose stop window lasts stopWindowMs (DefaultStopWindowMs when <= 0)
func NewGate(stopWindowMs int64) *Gate {
	if stopWindowMs <= 0 {
		stopWindowMs = DefaultStopWindowMs
	}
	return &Gate{stopWindow: stopWindowMs}
}

// Mute drops events stamped inside [now, now+durationMs]. A non-positive
// duration clears the mute window.
func (g *Gate) Mute(now, durationMs int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if durationMs <= 0 {
		g.mute = window{}
		return
	}
	g.mute = window{active: true, from: now, until: now + durationMs}
}

// BeginStopping opens the stop-transition window at now.
func (g *Gate) BeginStopping(now int64) {
	g.mu.Lock()
	g.stopping = window{active: true, from: now, until: now + g.stopWindow}
	g.mu.Unlock()
}

// Suppressed reports whether an event stamped ts must be dropped.
func (g *Gate) Suppressed(ts int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mute.contains(ts) || g.stopping.contains(ts)
}

// StopWindow returns the configured stop window length in ms.
func (g *Gate) StopWindow() int64 {
	return g.stopWindow
}

// ClearStopping closes the stop-transition window and leaves any mute in place
func (g *Gate) ClearStopping() {
	g.mu.Lock()
	g.stopping = window{}
	g.mu.Unlock()
}

// Reset clears both windows
func (g *Gate) Reset() {
	g.mu.Lock()
	g.mute = window{}
	g.stopping = window{}
	g.mu.Unlock()
}
