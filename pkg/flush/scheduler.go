// Package flush buffers remote changes between render frames and applies
// them to the render engine in one pass per frame.
package flush

import (
	"fmt"
	"sync"

	"github.com/surrealdb/scenesync/pkg/engine"
	"github.com/surrealdb/scenesync/pkg/ledger"
	"github.com/surrealdb/scenesync/pkg/logger"
	"github.com/surrealdb/scenesync/pkg/models"
	"github.com/surrealdb/scenesync/pkg/reconcile"
)

type State int

const (
	StateIdle State = iota
	StateFlushScheduled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateFlushScheduled:
		return "FlushScheduled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stats counts what the scheduler did. Renders is the number of merged
// scenes pushed to the engine.
type Stats struct {
	Frames       int
	Renders      int
	FileOnly     int
	AppliedTotal int
}

// AppliedFunc observes each flush that changed the scene: the merged
// elements pushed to the engine, the remote elements that won, and the
// files that came in.
type AppliedFunc func(merged, applied []models.Element, files models.Files)

type Scheduler struct {
	engine engine.Engine
	ledger *ledger.VersionLedger
	frames FrameScheduler
	logger logger.Logger

	// ApplyGuard wraps every read-merge-push against the engine. The session
	// uses it to hold its ApplyingRemote state so the engine's change
	// notification is not mistaken for a local edit. Engines implementing
	// engine.Updater merge atomically; others are read and written in two
	// steps.
	ApplyGuard func(apply func())

	// OnApplied, when set, runs after every flush that pushed something.
	OnApplied AppliedFunc

	mu          sync.Mutex
	state       State
	elements    map[string]models.Element
	elementIDs  []string
	files       models.Files
	order       []string
	hasOrder    bool
	cancelFrame func()
	flushing    bool
	lateArrival bool
	closed      bool
	stats       Stats
}

func New(eng engine.Engine, l *ledger.VersionLedger, frames FrameScheduler, log logger.Logger) *Scheduler {
	return &Scheduler{
		engine: eng,
		ledger: l,
		frames: frames,
		logger: logger.OrDiscard(log),
	}
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// QueueElements buffers remote elements. Within one frame the last copy of
// an id wins.
func (s *Scheduler) QueueElements(elements []models.Element) {
	if len(elements) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.elements == nil {
		s.elements = make(map[string]models.Element, len(elements))
	}
	for i := range elements {
		id := elements[i].ID
		if _, ok := s.elements[id]; !ok {
			s.elementIDs = append(s.elementIDs, id)
		}
		s.elements[id] = elements[i]
	}
	s.armLocked()
}

// QueueFiles buffers remote files, merged by id.
func (s *Scheduler) QueueFiles(files models.Files) {
	if len(files) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.files = s.files.Merge(files)
	s.armLocked()
}

// QueueOrder buffers a remote order. A later order replaces an earlier one.
func (s *Scheduler) QueueOrder(order []string) {
	if order == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.order = order
	s.hasOrder = true
	s.armLocked()
}

func (s *Scheduler) armLocked() {
	if s.flushing {
		s.lateArrival = true
		return
	}
	if s.state == StateFlushScheduled {
		return
	}
	s.state = StateFlushScheduled
	s.cancelFrame = s.frames.RequestFrame(s.onFrame)
}

func (s *Scheduler) hasBufferedLocked() bool {
	return len(s.elementIDs) > 0 || len(s.files) > 0 || s.hasOrder
}

// Flush applies whatever is buffered right away instead of waiting for the
// frame.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	if s.state != StateFlushScheduled || s.flushing {
		s.mu.Unlock()
		return
	}
	if s.cancelFrame != nil {
		s.cancelFrame()
		s.cancelFrame = nil
	}
	s.mu.Unlock()
	s.onFrame()
}

func (s *Scheduler) onFrame() {
	s.mu.Lock()
	if s.closed || s.state != StateFlushScheduled || s.flushing {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	s.cancelFrame = nil
	s.flushing = true
	s.stats.Frames++

	elements := make([]models.Element, 0, len(s.elementIDs))
	for _, id := range s.elementIDs {
		elements = append(elements, s.elements[id])
	}
	files := s.files
	order, hasOrder := s.order, s.hasOrder
	s.elements, s.elementIDs, s.files, s.order, s.hasOrder = nil, nil, nil, nil, false
	s.mu.Unlock()

	s.apply(elements, files, order, hasOrder)

	s.mu.Lock()
	s.flushing = false
	rearm := s.lateArrival && !s.closed && s.hasBufferedLocked()
	s.lateArrival = false
	if rearm {
		s.armLocked()
	}
	s.mu.Unlock()
}

func (s *Scheduler) apply(elements []models.Element, files models.Files, order []string, hasOrder bool) {
	if len(elements) == 0 && !hasOrder {
		if len(files) > 0 {
			s.guard(func() { s.engine.AddFiles(files.List()) })
			s.mu.Lock()
			s.stats.FileOnly++
			s.mu.Unlock()
			s.logger.Debug("flush applied remote files", "file_count", len(files))
			if s.OnApplied != nil {
				s.OnApplied(nil, nil, files)
			}
		}
		return
	}

	var merged, applied []models.Element
	build := func(current []models.Element, currentFiles models.Files) engine.SceneUpdate {
		merged, applied = reconcile.ReconcileElements(current, elements)
		if hasOrder {
			merged = reconcile.ApplyOrder(merged, order)
		}
		update := engine.SceneUpdate{Elements: merged}
		if len(files) > 0 {
			update.Files = currentFiles.Merge(files)
		}
		return update
	}
	s.guard(func() {
		if u, ok := s.engine.(engine.Updater); ok {
			u.UpdateSceneFunc(build)
			return
		}
		s.engine.UpdateScene(build(s.engine.ElementsIncludingDeleted(), s.engine.Files()))
	})

	if s.ledger != nil {
		s.ledger.RecordAll(applied)
	}

	s.mu.Lock()
	s.stats.Renders++
	s.stats.AppliedTotal += len(applied)
	s.mu.Unlock()

	s.logger.Debug("flush applied remote update",
		"buffered_count", len(elements),
		"applied_count", len(applied),
		"file_count", len(files),
		"order_changed", hasOrder,
	)
	if s.OnApplied != nil {
		s.OnApplied(merged, applied, files)
	}
}

func (s *Scheduler) guard(apply func()) {
	if s.ApplyGuard != nil {
		s.ApplyGuard(apply)
		return
	}
	apply()
}

// Close cancels the pending frame and drops all buffered data. Later
// queue calls and frames are no-ops.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.cancelFrame != nil {
		s.cancelFrame()
		s.cancelFrame = nil
	}
	s.state = StateIdle
	s.elements, s.elementIDs, s.files, s.order, s.hasOrder = nil, nil, nil, nil, false
}
