// Package guard keeps transient empty or half-hydrated scenes from reaching
// peers and storage.
//
// While a render engine hydrates, it can briefly report an empty scene or
// one with nothing renderable. Letting that reach persistence destroys the
// document. Every candidate snapshot is checked against a renderable
// baseline before a save, a preview render or a broadcast.
package guard

import (
	"fmt"
	"sync"

	"github.com/surrealdb/scenesync/pkg/models"
)

type Reason int

const (
	ReasonNone Reason = iota
	ReasonStaleEmpty
	ReasonStaleNonRenderable
	ReasonSuspiciousBlankLoad
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonStaleEmpty:
		return "stale-empty"
	case ReasonStaleNonRenderable:
		return "stale-non-renderable"
	case ReasonSuspiciousBlankLoad:
		return "suspicious-blank-load"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Decision is the verdict on one candidate. When rejected, Elements holds
// the baseline that should stand in for the candidate.
type Decision struct {
	Accepted bool
	Elements []models.Element
	Reason   Reason
}

type Guard struct {
	mu sync.Mutex

	persisted  []models.Element
	hasPersist bool
	initial    []models.Element
	hasInitial bool
	lastGood   []models.Element

	suspiciousBlank bool
}

func New() *Guard {
	return &Guard{}
}

// SetInitialLoad records the scene as loaded at open. If the backend has a
// non-empty preview for the document but nothing in elements is
// renderable, the suspicious-blank-load flag is raised.
func (g *Guard) SetInitialLoad(elements []models.Element, previewNonEmpty bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.initial = models.CloneElements(elements)
	g.hasInitial = true
	g.suspiciousBlank = previewNonEmpty && !models.HasRenderable(elements)
}

// SetLastPersisted records what the backend now holds.
func (g *Guard) SetLastPersisted(elements []models.Element) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.persisted = models.CloneElements(elements)
	g.hasPersist = true
}

// Baseline is the reference snapshot: the last persisted scene, else the
// initial load, else the last accepted renderable candidate.
func (g *Guard) Baseline() ([]models.Element, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.baselineLocked()
}

func (g *Guard) baselineLocked() ([]models.Element, bool) {
	switch {
	case g.hasPersist:
		return g.persisted, true
	case g.hasInitial:
		return g.initial, true
	case g.lastGood != nil:
		return g.lastGood, true
	}
	return nil, false
}

func (g *Guard) SuspiciousBlankLoad() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.suspiciousBlank
}

// Check classifies candidate. A candidate with renderable content is
// always accepted and clears the suspicious-blank-load flag.
func (g *Guard) Check(candidate []models.Element) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	base, hasBase := g.baselineLocked()

	if models.HasRenderable(candidate) {
		g.suspiciousBlank = false
		// lastGood is only consulted when nothing was loaded or persisted.
		if !g.hasPersist && !g.hasInitial {
			g.lastGood = models.CloneElements(candidate)
		}
		return Decision{Accepted: true, Elements: candidate}
	}

	if g.suspiciousBlank {
		return Decision{Elements: base, Reason: ReasonSuspiciousBlankLoad}
	}

	if !hasBase || !models.HasRenderable(base) || sameScene(candidate, base) {
		return Decision{Accepted: true, Elements: candidate}
	}

	if len(candidate) == 0 {
		return Decision{Elements: base, Reason: ReasonStaleEmpty}
	}

	if IsIntentionalDeletion(base, candidate) {
		return Decision{Accepted: true, Elements: candidate}
	}
	return Decision{Elements: base, Reason: ReasonStaleNonRenderable}
}

// IsIntentionalDeletion reports whether candidate's tombstones are newer
// than the live baseline elements they hide. Each such tombstone needs a
// higher version, or the same version with an Updated no older than the
// baseline's. A candidate that tombstones no live baseline element is not
// an intentional deletion.
func IsIntentionalDeletion(baseline, candidate []models.Element) bool {
	live := make(map[string]models.Element, len(baseline))
	for _, e := range baseline {
		if e.IsRenderable() {
			live[e.ID] = e
		}
	}

	conflicts := 0
	for _, c := range candidate {
		if !c.IsDeleted {
			continue
		}
		b, ok := live[c.ID]
		if !ok {
			continue
		}
		conflicts++
		newer := c.Version > b.Version || (c.Version == b.Version && c.Updated >= b.Updated)
		if !newer {
			return false
		}
	}
	return conflicts > 0
}

// Reset forgets every baseline and clears the flag.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.persisted, g.hasPersist = nil, false
	g.initial, g.hasInitial = nil, false
	g.lastGood = nil
	g.suspiciousBlank = false
}

func sameScene(a, b []models.Element) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.ID != y.ID || x.Version != y.Version || x.VersionNonce != y.VersionNonce ||
			x.Updated != y.Updated || x.IsDeleted != y.IsDeleted {
			return false
		}
	}
	return true
}
