package flush

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/scenesync/pkg/engine"
	"github.com/surrealdb/scenesync/pkg/ledger"
	"github.com/surrealdb/scenesync/pkg/models"
)

func el(id string, version int64, x float64) models.Element {
	return models.Element{ID: id, Type: "rectangle", Version: version, VersionNonce: 1, Updated: version, X: x}
}

func newTestScheduler() (*Scheduler, *engine.Memory, *ManualFrames, *ledger.VersionLedger) {
	eng := engine.NewMemory()
	frames := NewManualFrames()
	l := ledger.NewVersionLedger()
	return New(eng, l, frames, nil), eng, frames, l
}

func TestBurstRendersOncePerFrame(t *testing.T) {
	s, eng, frames, _ := newTestScheduler()

	for i := 0; i < 50; i++ {
		s.QueueElements([]models.Element{el(fmt.Sprintf("e%d", i%10), int64(i), float64(i))})
	}
	assert.Equal(t, StateFlushScheduled, s.State())
	assert.Equal(t, 1, frames.Pending(), "one frame request per burst")
	assert.Equal(t, 0, eng.UpdateCount())

	require.Equal(t, 1, frames.RunPending())
	assert.Equal(t, 1, eng.UpdateCount())
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 0, frames.Pending())

	elements := eng.ElementsIncludingDeleted()
	require.Len(t, elements, 10)
	// last write per id wins inside the buffer
	assert.Equal(t, 40.0, elements[0].X)
	assert.Equal(t, 49.0, elements[9].X)

	stats := s.Stats()
	assert.Equal(t, 1, stats.Frames)
	assert.Equal(t, 1, stats.Renders)
}

func TestFlushRecordsAppliedElementsOnly(t *testing.T) {
	s, eng, frames, l := newTestScheduler()
	eng.UpdateScene(engine.SceneUpdate{Elements: []models.Element{el("a", 5, 0)}})

	s.QueueElements([]models.Element{el("a", 4, 1), el("b", 1, 0)})
	frames.RunPending()

	_, okA := l.Get("a")
	_, okB := l.Get("b")
	assert.False(t, okA, "losing remote element must not enter the ledger")
	assert.True(t, okB)
	assert.Equal(t, 0.0, eng.ElementsIncludingDeleted()[0].X)
}

func TestFileOnlyFlushUsesAddFiles(t *testing.T) {
	s, eng, frames, _ := newTestScheduler()
	var seen models.Files
	s.OnApplied = func(_, _ []models.Element, files models.Files) { seen = files }

	s.QueueFiles(models.Files{"f": {ID: "f", Data: []byte("x")}})
	s.QueueFiles(models.Files{"g": {ID: "g", Data: []byte("y")}})
	require.Equal(t, 1, frames.RunPending())

	assert.Len(t, eng.Files(), 2)
	assert.Equal(t, 0, eng.UpdateCount())
	assert.Equal(t, 1, s.Stats().FileOnly)
	assert.Len(t, seen, 2)
}

func TestOrderReplacedByLatest(t *testing.T) {
	s, eng, frames, _ := newTestScheduler()
	eng.UpdateScene(engine.SceneUpdate{Elements: []models.Element{el("a", 1, 0), el("b", 1, 0), el("c", 1, 0)}})

	s.QueueOrder([]string{"b", "a", "c"})
	s.QueueOrder([]string{"c", "b"})
	frames.RunPending()

	assert.Equal(t, []string{"c", "b", "a"}, models.OrderIDs(eng.ElementsIncludingDeleted()))
}

func TestArrivalDuringFlushRearmsOnce(t *testing.T) {
	s, eng, frames, _ := newTestScheduler()

	injected := false
	s.ApplyGuard = func(apply func()) {
		apply()
		if !injected {
			injected = true
			s.QueueElements([]models.Element{el("late", 1, 0)})
			s.QueueElements([]models.Element{el("later", 1, 0)})
		}
	}

	s.QueueElements([]models.Element{el("a", 1, 0)})
	require.Equal(t, 1, frames.RunPending())
	assert.Equal(t, 1, frames.Pending(), "exactly one re-armed frame")
	assert.Equal(t, StateFlushScheduled, s.State())

	require.Equal(t, 1, frames.RunPending())
	assert.Equal(t, []string{"a", "late", "later"}, models.OrderIDs(eng.ElementsIncludingDeleted()))
	assert.Equal(t, 0, frames.Pending())
}

func TestApplyGuardWrapsEngineUpdates(t *testing.T) {
	s, eng, frames, _ := newTestScheduler()

	applying := false
	var echoed []bool
	eng.OnChange(func([]models.Element, models.AppState, models.Files) { echoed = append(echoed, applying) })
	s.ApplyGuard = func(apply func()) {
		applying = true
		defer func() { applying = false }()
		apply()
	}

	s.QueueElements([]models.Element{el("a", 1, 0)})
	frames.RunPending()
	assert.Equal(t, []bool{true}, echoed)
}

// readOnlyMerge hides Memory's UpdateSceneFunc and notes whether each scene
// read happened inside the apply guard.
type readOnlyMerge struct {
	engine.Engine
	guarded *bool
	reads   []bool
}

func (r *readOnlyMerge) ElementsIncludingDeleted() []models.Element {
	r.reads = append(r.reads, *r.guarded)
	return r.Engine.ElementsIncludingDeleted()
}

func TestMergeReadsSceneInsideApplyGuard(t *testing.T) {
	mem := engine.NewMemory()
	mem.UpdateScene(engine.SceneUpdate{Elements: []models.Element{el("a", 1, 0)}})
	guarded := false
	eng := &readOnlyMerge{Engine: mem, guarded: &guarded}
	frames := NewManualFrames()
	s := New(eng, ledger.NewVersionLedger(), frames, nil)
	s.ApplyGuard = func(apply func()) {
		guarded = true
		defer func() { guarded = false }()
		apply()
	}

	s.QueueElements([]models.Element{el("b", 1, 0)})
	frames.RunPending()
	assert.Equal(t, []bool{true}, eng.reads)
	assert.Equal(t, []string{"a", "b"}, models.OrderIDs(mem.ElementsIncludingDeleted()))
}

func TestCloseCancelsPendingFrame(t *testing.T) {
	s, eng, frames, _ := newTestScheduler()

	s.QueueElements([]models.Element{el("a", 1, 0)})
	s.Close()
	assert.Equal(t, 0, frames.Pending())

	s.QueueElements([]models.Element{el("b", 1, 0)})
	assert.Equal(t, 0, frames.Pending())
	assert.Equal(t, 0, eng.UpdateCount())
}

func TestFlushNow(t *testing.T) {
	s, eng, frames, _ := newTestScheduler()
	s.QueueElements([]models.Element{el("a", 1, 0)})
	s.Flush()
	assert.Equal(t, 1, eng.UpdateCount())
	assert.Equal(t, 0, frames.RunPending())
}

func TestIntervalFrames(t *testing.T) {
	eng := engine.NewMemory()
	s := New(eng, ledger.NewVersionLedger(), NewIntervalFrames(time.Millisecond), nil)

	for i := 0; i < 20; i++ {
		s.QueueElements([]models.Element{el("a", int64(i), 0)})
	}
	require.Eventually(t, func() bool {
		elements := eng.ElementsIncludingDeleted()
		return len(elements) == 1 && elements[0].Version == 19
	}, time.Second, time.Millisecond)
	assert.LessOrEqual(t, s.Stats().Renders, 20)
}
