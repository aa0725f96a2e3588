package scenesync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/scenesync"
	"github.com/surrealdb/scenesync/contrib/rews"
	"github.com/surrealdb/scenesync/internal/fakebackend"
	"github.com/surrealdb/scenesync/internal/fakerelay"
	"github.com/surrealdb/scenesync/pkg/api"
	"github.com/surrealdb/scenesync/pkg/channel"
	"github.com/surrealdb/scenesync/pkg/channel/gorillaws"
	"github.com/surrealdb/scenesync/pkg/engine"
	"github.com/surrealdb/scenesync/pkg/models"
	"github.com/surrealdb/scenesync/pkg/wire"
)

func openOverRelay(t *testing.T, backend *fakebackend.Backend, relay *fakerelay.Server) *engine.Memory {
	t.Helper()
	c := wire.NewCBOR()
	chCfg := &channel.Config{BaseURL: relay.URL(), Marshaler: c, Unmarshaler: c, Timeout: time.Second}
	dial := rews.Dialer(func(_ context.Context, documentID string) (*gorillaws.Connection, error) {
		return gorillaws.New(chCfg, documentID), nil
	}, 10*time.Millisecond, rews.NewFixedDelayRetryer(10*time.Millisecond, 5), nil)

	cfg := scenesync.NewConfig("doc-1")
	cfg.BroadcastInterval = 10 * time.Millisecond
	cfg.FrameInterval = time.Millisecond

	eng := engine.NewMemory()
	ctx := context.Background()
	s, err := scenesync.Open(ctx, cfg, scenesync.Deps{Engine: eng, API: backend, Dial: dial})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(ctx) })
	return eng
}

func hasElement(eng *engine.Memory, id string) bool {
	for _, e := range eng.ElementsIncludingDeleted() {
		if e.ID == id {
			return true
		}
	}
	return false
}

func addElement(eng *engine.Memory, id string, updated int64) {
	eng.Edit(func(els []models.Element) []models.Element {
		return append(els, models.Element{ID: id, Type: "rectangle", Version: 1, VersionNonce: updated, Updated: updated, Width: 5, Height: 5})
	})
}

func TestSessionsOverRelay(t *testing.T) {
	relay := fakerelay.NewServer("127.0.0.1:0")
	require.NoError(t, relay.Start())
	t.Cleanup(func() { _ = relay.Stop() })

	backend := fakebackend.New()
	backend.Put(api.Document{
		ID:       "doc-1",
		Version:  1,
		Elements: []models.Element{{ID: "seed", Type: "rectangle", Version: 1, VersionNonce: 3, Updated: 1}},
	})

	alice := openOverRelay(t, backend, relay)
	bob := openOverRelay(t, backend, relay)
	require.Eventually(t, func() bool { return relay.Members("doc-1") == 2 }, 2*time.Second, 5*time.Millisecond)

	addElement(alice, "from-alice", 2)
	require.Eventually(t, func() bool { return hasElement(bob, "from-alice") }, 2*time.Second, 5*time.Millisecond)

	accepted := relay.Accepts()
	relay.DropAll()
	require.Eventually(t, func() bool {
		return relay.Accepts() >= accepted+2 && relay.Members("doc-1") == 2
	}, 3*time.Second, 10*time.Millisecond)

	// Sends made before bob's channel finished reconnecting fail and are
	// retried by the next edit.
	require.Eventually(t, func() bool {
		touchElement(bob, "from-bob")
		return hasElement(alice, "from-bob")
	}, 3*time.Second, 50*time.Millisecond)
}

// touchElement adds id, or bumps its version when it is already there.
func touchElement(eng *engine.Memory, id string) {
	eng.Edit(func(els []models.Element) []models.Element {
		for i := range els {
			if els[i].ID == id {
				els[i].Version++
				els[i].Updated = time.Now().UnixMilli()
				return els
			}
		}
		return append(els, models.Element{ID: id, Type: "rectangle", Version: 1, VersionNonce: 5, Updated: time.Now().UnixMilli(), Width: 5, Height: 5})
	})
}
