// Package watchdog declares a session abandoned when its browser tab stops
// sending heartbeats.
package watchdog

import (
	"sync"
	"time"
)

// DefaultGrace is the heartbeat gap after which an active session is abandoned.
const DefaultGrace = 60 * time.Second

// Watchdog is a single resettable timer. It stays disarmed until the first
// Beat, so a slow browser launch is never mistaken for abandonment.
type Watchdog struct {
	grace    time.Duration
	onExpire func()

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	stopped bool
	fired   bool
}

// New returns a disarmed watchdog. onExpire runs at most once, on its own goroutine.
func New(grace time.Duration, onExpire func()) *Watchdog {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Watchdog{grace: grace, onExpire: onExpire}
}

// Beat arms the watchdog on first use and pushes the deadline out by the
// grace window on every later call.
func (w *Watchdog) Beat() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped || w.fired {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.gen++
	gen := w.gen
	w.timer = time.AfterFunc(w.grace, func() { w.expire(gen) })
}

// expire ignores callbacks from timers that were superseded by a later Beat
// but had already started running.
func (w *Watchdog) expire(gen uint64) {
	w.mu.Lock()
	if w.stopped || w.fired || gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.fired = true
	w.mu.Unlock()

	if w.onExpire != nil {
		w.onExpire()
	}
}

// Stop disarms the watchdog permanently.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Armed reports whether a deadline is currently pending.
func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timer != nil && !w.stopped && !w.fired
}

// Fired reports whether the watchdog expired.
func (w *Watchdog) Fired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}
