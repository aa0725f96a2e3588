// Package reconcile merges remote element batches into a local scene with
// last-writer-wins per element, and applies a remote stacking order without
// ever dropping an element.
//
// Everything here is pure: inputs are never mutated and no ledger is
// touched. Callers decide what to record.
package reconcile

import (
	"github.com/surrealdb/scenesync/pkg/models"
)

// ShouldAcceptRemote decides whether remote replaces local for the same id.
//
// Higher version wins. On equal version the later Updated wins. On equal
// version and Updated, a different nonce makes remote win. With all three
// equal, a different content signature makes remote win; this is how
// gesture frames that never bumped the version still propagate.
func ShouldAcceptRemote(local, remote models.Element) bool {
	if remote.Version != local.Version {
		return remote.Version > local.Version
	}
	if remote.Updated != local.Updated {
		return remote.Updated > local.Updated
	}
	if remote.VersionNonce != local.VersionNonce {
		return true
	}
	return models.ContentSignature(remote) != models.ContentSignature(local)
}

// Reconcile returns the union of local and remote with each id present once.
func Reconcile(local, remote []models.Element) []models.Element {
	merged, _ := ReconcileElements(local, remote)
	return merged
}

// ReconcileElements is Reconcile that also reports the remote elements that
// won, in batch order. Local order is kept and ids new to the scene are
// appended in the order they first appear in remote. Duplicate ids inside
// remote are resolved one after another, as if they had arrived separately.
func ReconcileElements(local, remote []models.Element) (merged, applied []models.Element) {
	merged = make([]models.Element, 0, len(local)+len(remote))
	index := make(map[string]int, len(local)+len(remote))
	for i := range local {
		if at, dup := index[local[i].ID]; dup {
			// keep the first position, the later copy wins if it is newer
			if ShouldAcceptRemote(merged[at], local[i]) {
				merged[at] = local[i]
			}
			continue
		}
		index[local[i].ID] = len(merged)
		merged = append(merged, local[i])
	}

	for i := range remote {
		r := remote[i]
		at, ok := index[r.ID]
		if !ok {
			index[r.ID] = len(merged)
			merged = append(merged, r)
			applied = append(applied, r)
			continue
		}
		if ShouldAcceptRemote(merged[at], r) {
			merged[at] = r
			applied = append(applied, r)
		}
	}
	return merged, applied
}
