package flush

import (
	"sync"
	"time"

	"github.com/surrealdb/scenesync/pkg/constants"
)

// FrameScheduler requests a callback on the next render frame. The
// returned func cancels the request if it has not run yet.
type FrameScheduler interface {
	RequestFrame(fn func()) (cancel func())
}

// IntervalFrames approximates a display's frame clock with a fixed timer.
type IntervalFrames struct {
	Interval time.Duration
}

func NewIntervalFrames(interval time.Duration) *IntervalFrames {
	if interval <= 0 {
		interval = constants.DefaultFrameInterval
	}
	return &IntervalFrames{Interval: interval}
}

func (f *IntervalFrames) RequestFrame(fn func()) func() {
	t := time.AfterFunc(f.Interval, fn)
	return func() { t.Stop() }
}

// ManualFrames queues frame requests until RunPending is called. Tests use
// it to decide exactly when a frame boundary happens.
type ManualFrames struct {
	mu      sync.Mutex
	nextID  int
	pending map[int]func()
	order   []int
}

func NewManualFrames() *ManualFrames {
	return &ManualFrames{pending: make(map[int]func())}
}

func (f *ManualFrames) RequestFrame(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	f.pending[id] = fn
	f.order = append(f.order, id)

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.pending, id)
	}
}

// Pending is the number of frame callbacks waiting to run.
func (f *ManualFrames) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// RunPending runs the callbacks queued before the call, in request order,
// and returns how many ran. Callbacks requested while running wait for the
// next RunPending, like a real next frame.
func (f *ManualFrames) RunPending() int {
	f.mu.Lock()
	order := f.order
	f.order = nil
	var fns []func()
	for _, id := range order {
		if fn, ok := f.pending[id]; ok {
			fns = append(fns, fn)
			delete(f.pending, id)
		}
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}
