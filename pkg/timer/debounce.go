// Package timer provides the cancellable debounce and throttle primitives
// the session uses for broadcasting, saving and preview rendering.
//
// Both types own their timer, so a document teardown can cancel every
// pending callback. A callback whose timer fired after Cancel or Stop is a
// no-op. Callbacks of one Debouncer or Throttler never run concurrently
// with each other.
package timer

import (
	"sync"
	"time"
)

// Debouncer runs fn once delay has passed without another Schedule.
type Debouncer struct {
	delay time.Duration
	fn    func()

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	pending bool
	stopped bool

	runMu sync.Mutex
}

func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Schedule (re)starts the delay. It is ignored after Stop.
func (d *Debouncer) Schedule() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.pending = true
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.timer = nil
	d.mu.Unlock()

	d.run()
}

func (d *Debouncer) run() {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	d.fn()
}

// Cancel drops the pending call, reporting whether there was one.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelLocked()
}

func (d *Debouncer) cancelLocked() bool {
	was := d.pending
	d.gen++
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	return was
}

// Flush runs the pending call now, on the caller's goroutine. It reports
// whether anything ran.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if !d.pending || d.stopped {
		d.mu.Unlock()
		return false
	}
	d.cancelLocked()
	d.mu.Unlock()

	d.run()
	return true
}

func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Stop cancels any pending call and disables the debouncer for good.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
	d.stopped = true
}
