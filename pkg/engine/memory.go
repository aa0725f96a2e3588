package engine

import (
	"sync"

	"github.com/surrealdb/scenesync/pkg/models"
)

// Memory is an Engine that keeps the scene in memory. Like a real canvas it
// fires its change callback for every mutation, including the ones scenesync
// itself pushes in, so echo suppression can be exercised headless.
type Memory struct {
	mu       sync.Mutex
	elements []models.Element
	files    models.Files
	appState models.AppState
	onChange ChangeFunc
	updates  int
}

var (
	_ Engine     = (*Memory)(nil)
	_ Observable = (*Memory)(nil)
	_ Updater    = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{files: models.Files{}, appState: models.AppState{}}
}

// OnChange sets the change callback. Pass nil to remove it.
func (m *Memory) OnChange(fn ChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

func (m *Memory) ElementsIncludingDeleted() []models.Element {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.CloneElements(m.elements)
}

func (m *Memory) Files() models.Files {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.Files{}.Merge(m.files)
}

func (m *Memory) AppState() models.AppState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appState.Clone()
}

// UpdateCount is how many times UpdateScene ran.
func (m *Memory) UpdateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

func (m *Memory) UpdateScene(update SceneUpdate) {
	m.mu.Lock()
	m.applyLocked(update)
	m.mu.Unlock()

	m.notify()
}

// UpdateSceneFunc builds the update from the current scene and applies it
// without letting an Edit slip in between.
func (m *Memory) UpdateSceneFunc(fn func(current []models.Element, files models.Files) SceneUpdate) {
	m.mu.Lock()
	m.applyLocked(fn(models.CloneElements(m.elements), models.Files{}.Merge(m.files)))
	m.mu.Unlock()

	m.notify()
}

func (m *Memory) applyLocked(update SceneUpdate) {
	if update.Elements != nil {
		m.elements = models.CloneElements(update.Elements)
	}
	if update.AppState != nil {
		m.appState = update.AppState.Clone()
	}
	if update.Files != nil {
		m.files = models.Files{}.Merge(update.Files)
	}
	m.updates++
}

func (m *Memory) AddFiles(files []models.File) {
	m.mu.Lock()
	m.files = m.files.Merge(models.FilesFromList(files))
	m.mu.Unlock()

	m.notify()
}

// Edit applies a local user edit and fires the change callback, the way a
// gesture on a real canvas would.
func (m *Memory) Edit(fn func(elements []models.Element) []models.Element) {
	m.mu.Lock()
	m.elements = fn(models.CloneElements(m.elements))
	m.mu.Unlock()

	m.notify()
}

func (m *Memory) notify() {
	m.mu.Lock()
	cb := m.onChange
	elements := models.CloneElements(m.elements)
	appState := m.appState.Clone()
	files := models.Files{}.Merge(m.files)
	m.mu.Unlock()

	if cb != nil {
		cb(elements, appState, files)
	}
}
