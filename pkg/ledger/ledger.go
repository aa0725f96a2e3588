// Package ledger tracks, per element and per file, what this client last
// sent or applied, so that broadcasts carry only real changes.
package ledger

import (
	"sync"

	"github.com/surrealdb/scenesync/pkg/models"
)

// ElementVersionInfo is the last-known state of one element.
type ElementVersionInfo struct {
	Version      int64
	VersionNonce int64
	Updated      int64
	ContentSig   uint64
}

func InfoOf(e models.Element) ElementVersionInfo {
	return ElementVersionInfo{
		Version:      e.Version,
		VersionNonce: e.VersionNonce,
		Updated:      e.Updated,
		ContentSig:   models.ContentSignature(e),
	}
}

// VersionLedger maps element id to the last version info this client
// broadcast or applied from a remote peer.
//
// An element the ledger has never seen is reported as changed. Recording
// remote elements when they are applied keeps them from being echoed back.
type VersionLedger struct {
	mu      sync.Mutex
	entries map[string]ElementVersionInfo
}

func NewVersionLedger() *VersionLedger {
	return &VersionLedger{}
}

// HasElementChanged is true when any of version, nonce, updated or content
// signature differs from the recorded entry, or when there is no entry.
func (l *VersionLedger) HasElementChanged(e models.Element) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, ok := l.entries[e.ID]
	if !ok {
		return true
	}
	if prev.Version != e.Version || prev.VersionNonce != e.VersionNonce || prev.Updated != e.Updated {
		return true
	}
	return prev.ContentSig != models.ContentSignature(e)
}

func (l *VersionLedger) Record(e models.Element) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record(e)
}

func (l *VersionLedger) RecordAll(elements []models.Element) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range elements {
		l.record(elements[i])
	}
}

func (l *VersionLedger) record(e models.Element) {
	if l.entries == nil {
		l.entries = make(map[string]ElementVersionInfo)
	}
	l.entries[e.ID] = InfoOf(e)
}

// Changed filters elements down to those HasElementChanged reports.
func (l *VersionLedger) Changed(elements []models.Element) []models.Element {
	var out []models.Element
	for i := range elements {
		if l.HasElementChanged(elements[i]) {
			out = append(out, elements[i])
		}
	}
	return out
}

func (l *VersionLedger) Get(id string) (ElementVersionInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, ok := l.entries[id]
	return info, ok
}

func (l *VersionLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *VersionLedger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}
