package ledger

import (
	"sync"

	"github.com/surrealdb/scenesync/pkg/models"
)

// FileTracker remembers the signature of every file last handed to a
// consumer (a broadcast or a save), so each consumer only gets new or
// changed files.
type FileTracker struct {
	mu   sync.Mutex
	sigs map[string]uint64
}

func NewFileTracker() *FileTracker {
	return &FileTracker{}
}

// Changed returns the real files whose signature differs from the last
// marked one. Placeholders are never returned. It returns nil when nothing
// changed.
func (t *FileTracker) Changed(files models.Files) models.Files {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out models.Files
	for id, f := range files {
		if !f.IsReal() {
			continue
		}
		if sig, ok := t.sigs[id]; ok && sig == models.FileSignature(f) {
			continue
		}
		if out == nil {
			out = make(models.Files)
		}
		out[id] = f
	}
	return out
}

// Mark records files as handed off. Placeholders are ignored.
func (t *FileTracker) Mark(files models.Files) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, f := range files {
		if !f.IsReal() {
			continue
		}
		if t.sigs == nil {
			t.sigs = make(map[string]uint64)
		}
		t.sigs[id] = models.FileSignature(f)
	}
}

func (t *FileTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sigs)
}

func (t *FileTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sigs = nil
}
