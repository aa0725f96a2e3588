package timer

import (
	"sync"
	"time"
)

// Throttler runs fn at most once per interval. The first call in a quiet
// period runs immediately (leading edge); calls made inside the window
// collapse into one more run when the window closes (trailing edge).
type Throttler struct {
	interval time.Duration
	fn       func()

	mu       sync.Mutex
	timer    *time.Timer
	gen      uint64
	window   bool
	trailing bool
	stopped  bool

	runMu sync.Mutex
}

func NewThrottler(interval time.Duration, fn func()) *Throttler {
	return &Throttler{interval: interval, fn: fn}
}

func (t *Throttler) Call() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if t.window {
		t.trailing = true
		t.mu.Unlock()
		return
	}
	t.window = true
	t.armLocked()
	t.mu.Unlock()

	t.run()
}

func (t *Throttler) armLocked() {
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(t.interval, func() { t.tick(gen) })
}

func (t *Throttler) tick(gen uint64) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	if !t.trailing {
		t.window = false
		t.timer = nil
		t.mu.Unlock()
		return
	}
	t.trailing = false
	t.armLocked()
	t.mu.Unlock()

	t.run()
}

func (t *Throttler) run() {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	t.fn()
}

// Pending reports whether a trailing call is waiting for the window to close.
func (t *Throttler) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trailing
}

// Flush runs a waiting trailing call now. The window stays open.
func (t *Throttler) Flush() bool {
	t.mu.Lock()
	if !t.trailing || t.stopped {
		t.mu.Unlock()
		return false
	}
	t.trailing = false
	t.mu.Unlock()

	t.run()
	return true
}

// Cancel drops a waiting trailing call and closes the window.
func (t *Throttler) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

func (t *Throttler) cancelLocked() {
	t.gen++
	t.window = false
	t.trailing = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Throttler) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	t.stopped = true
}
