package reconcile

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/scenesync/pkg/models"
)

func shape(id string, version, updated, nonce int64, x float64) models.Element {
	return models.Element{ID: id, Type: "rectangle", Version: version, Updated: updated, VersionNonce: nonce, X: x, Width: 10, Height: 10}
}

func ids(elements []models.Element) []string {
	return models.OrderIDs(elements)
}

func TestShouldAcceptRemote(t *testing.T) {
	local := shape("a", 2, 100, 7, 0)
	cases := []struct {
		name   string
		remote models.Element
		want   bool
	}{
		{"higher version", shape("a", 3, 50, 7, 0), true},
		{"lower version", shape("a", 1, 500, 9, 5), false},
		{"same version newer updated", shape("a", 2, 101, 7, 0), true},
		{"same version older updated", shape("a", 2, 99, 8, 5), false},
		{"nonce differs", shape("a", 2, 100, 8, 0), true},
		{"content differs", shape("a", 2, 100, 7, 42), true},
		{"identical", shape("a", 2, 100, 7, 0), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ShouldAcceptRemote(local, tc.remote))
		})
	}
}

func TestReconcileInsertsAndKeepsLocalOnly(t *testing.T) {
	local := []models.Element{shape("a", 1, 1, 1, 0), shape("b", 1, 1, 1, 0)}
	remote := []models.Element{shape("c", 1, 1, 1, 0), shape("a", 2, 1, 1, 9)}

	merged, applied := ReconcileElements(local, remote)
	assert.Equal(t, []string{"a", "b", "c"}, ids(merged))
	assert.Equal(t, []string{"c", "a"}, ids(applied))
	assert.Equal(t, 9.0, merged[0].X)
	assert.Equal(t, local[1], merged[1])

	// inputs untouched
	assert.Equal(t, 0.0, local[0].X)
}

func TestReconcileMonotonicVersionWins(t *testing.T) {
	local := []models.Element{shape("a", 4, 900, 3, 1)}
	remote := shape("a", 5, 10, 3, 2)
	merged := Reconcile(local, []models.Element{remote})
	require.Len(t, merged, 1)
	assert.Equal(t, remote, merged[0])
}

func TestReconcileLowerVersionDiscarded(t *testing.T) {
	local := []models.Element{shape("a", 5, 10, 3, 1)}
	merged, applied := ReconcileElements(local, []models.Element{shape("a", 4, 999, 1, 2)})
	assert.Equal(t, local, merged)
	assert.Empty(t, applied)
}

func TestReconcileGestureFrameTieBreak(t *testing.T) {
	local := []models.Element{shape("a", 3, 100, 55, 10)}
	remote := shape("a", 3, 100, 55, 42)
	merged := Reconcile(local, []models.Element{remote})
	assert.Equal(t, 42.0, merged[0].X)
}

func TestReconcileDuplicateRemoteIDs(t *testing.T) {
	merged := Reconcile(nil, []models.Element{
		shape("a", 1, 1, 1, 1),
		shape("a", 3, 1, 1, 3),
		shape("a", 2, 1, 1, 2),
	})
	require.Len(t, merged, 1)
	assert.Equal(t, int64(3), merged[0].Version)
}

func TestReconcileTombstonesMergeLikeEdits(t *testing.T) {
	local := []models.Element{shape("a", 1, 1, 1, 0)}
	dead := shape("a", 2, 2, 2, 0)
	dead.IsDeleted = true
	merged := Reconcile(local, []models.Element{dead})
	require.Len(t, merged, 1)
	assert.True(t, merged[0].IsDeleted)
}

func randomScene(r *rand.Rand, n int) []models.Element {
	out := make([]models.Element, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("e%d", r.Intn(n*2))
		out = append(out, shape(id, int64(r.Intn(4)), int64(r.Intn(3)), int64(r.Intn(2)), float64(r.Intn(3))))
	}
	return out
}

func TestReconcileProperties(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		local := Reconcile(nil, randomScene(r, 12))
		remote := randomScene(r, 12)

		merged := Reconcile(local, remote)

		want := map[string]bool{}
		for _, e := range local {
			want[e.ID] = true
		}
		for _, e := range remote {
			want[e.ID] = true
		}
		seen := map[string]int{}
		for _, e := range merged {
			seen[e.ID]++
		}
		require.Len(t, seen, len(want), "round %d", round)
		for id := range want {
			require.Equal(t, 1, seen[id], "round %d id %s", round, id)
		}

		require.Equal(t, merged, Reconcile(merged, remote), "idempotence, round %d", round)
	}
}
