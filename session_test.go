package scenesync

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/surrealdb/scenesync/internal/fakebackend"
	"github.com/surrealdb/scenesync/pkg/api"
	"github.com/surrealdb/scenesync/pkg/channel"
	"github.com/surrealdb/scenesync/pkg/channel/memchannel"
	"github.com/surrealdb/scenesync/pkg/constants"
	"github.com/surrealdb/scenesync/pkg/engine"
	"github.com/surrealdb/scenesync/pkg/flush"
	"github.com/surrealdb/scenesync/pkg/models"
	"github.com/surrealdb/scenesync/pkg/persist"
)

const testDoc = "doc-1"

type events struct {
	mu   sync.Mutex
	list []persist.Event
}

func (e *events) Notify(ev persist.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, ev)
}

func (e *events) kinds() []persist.EventKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []persist.EventKind
	for _, ev := range e.list {
		out = append(out, ev.Kind)
	}
	return out
}

type client struct {
	session *Session
	engine  *engine.Memory
	frames  *flush.ManualFrames
	events  *events
}

func (c *client) element(id string) (models.Element, bool) {
	for _, e := range c.engine.ElementsIncludingDeleted() {
		if e.ID == id {
			return e, true
		}
	}
	return models.Element{}, false
}

func shape(id string, version int64, x float64) models.Element {
	return models.Element{ID: id, Type: "rectangle", Version: version, VersionNonce: version * 31, Updated: version, X: x, Width: 10, Height: 10}
}

type SessionTestSuite struct {
	suite.Suite
	ctx     context.Context
	backend *fakebackend.Backend
	bus     *memchannel.Bus
	clients []*client
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}

func (s *SessionTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.backend = fakebackend.New()
	s.backend.Put(api.Document{
		ID:       testDoc,
		Version:  5,
		Elements: []models.Element{shape("a", 1, 0)},
		Preview:  []byte("png"),
	})
	s.bus = memchannel.NewBus(nil)
	s.clients = nil
}

func (s *SessionTestSuite) TearDownTest() {
	for _, c := range s.clients {
		s.NoError(c.session.Close(s.ctx))
	}
}

func (s *SessionTestSuite) open(senderID string, mutate ...func(*Config)) *client {
	mem := engine.NewMemory()
	return s.openEngine(senderID, mem, mem, mutate...)
}

func (s *SessionTestSuite) openEngine(senderID string, eng engine.Engine, mem *engine.Memory, mutate ...func(*Config)) *client {
	cfg := NewConfig(testDoc)
	cfg.SenderID = senderID
	cfg.BroadcastInterval = 10 * time.Millisecond
	cfg.SaveDelay = time.Hour
	cfg.PreviewDelay = time.Hour
	for _, m := range mutate {
		m(cfg)
	}

	c := &client{
		engine: mem,
		frames: flush.NewManualFrames(),
		events: &events{},
	}
	var err error
	c.session, err = Open(s.ctx, cfg, Deps{
		Engine: eng,
		API:    s.backend,
		Dial: func(_ context.Context, documentID string) (channel.Channel, error) {
			return s.bus.Join(documentID), nil
		},
		Frames:   c.frames,
		Notifier: c.events,
	})
	s.Require().NoError(err)
	s.clients = append(s.clients, c)
	return c
}

func (s *SessionTestSuite) peer() *memchannel.Conn {
	conn := s.bus.Join(testDoc)
	s.T().Cleanup(func() { _ = conn.Close(context.Background()) })
	return conn
}

func (s *SessionTestSuite) TestOpenHydratesEngine() {
	a := s.open("a")

	el, ok := a.element("a")
	s.Require().True(ok)
	s.Equal(int64(1), el.Version)
	s.Equal(1, a.engine.UpdateCount())
	s.Equal(StateIdle, a.session.State())
	s.False(a.session.HasUnsavedChanges())
	s.Equal(1, s.bus.Members(testDoc))

	v, ok := a.session.Version()
	s.True(ok)
	s.Equal(int64(5), v)
}

func (s *SessionTestSuite) TestGestureReachesPeer() {
	a := s.open("a")
	b := s.open("b")

	a.engine.Edit(func(els []models.Element) []models.Element {
		return append(els, shape("b", 1, 0))
	})
	s.Equal(1, s.bus.Sent())
	s.True(a.session.HasUnsavedChanges())

	s.Equal(1, b.frames.Pending())
	b.frames.RunPending()
	_, ok := b.element("b")
	s.True(ok)
	s.Equal([]string{"a", "b"}, models.OrderIDs(b.engine.ElementsIncludingDeleted()))

	// Applying the remote scene fires b's change callback; nothing goes back.
	s.Equal(1, s.bus.Sent())
	s.False(b.session.HasUnsavedChanges())

	// Let the throttle window close so the drag starts on a leading edge.
	time.Sleep(30 * time.Millisecond)
	for i := int64(2); i <= 4; i++ {
		i := i
		a.engine.Edit(func(els []models.Element) []models.Element {
			els[1] = shape("b", i, float64(i*10))
			return els
		})
	}
	s.Eventually(func() bool {
		b.frames.RunPending()
		el, _ := b.element("b")
		return el.Version == 4
	}, time.Second, time.Millisecond)

	el, _ := b.element("b")
	s.Equal(float64(40), el.X)
	// One leading send for the first move, one trailing send for the rest.
	s.Equal(3, s.bus.Sent())
}

func (s *SessionTestSuite) TestRemoteBurstRendersOnce() {
	b := s.open("b")
	peer := s.peer()

	before := b.engine.UpdateCount()
	for i := int64(2); i <= 51; i++ {
		s.Require().NoError(peer.Send(s.ctx, channel.EventElementUpdate, channel.ElementUpdate{
			SenderID: "peer",
			Elements: []models.Element{shape("a", i, float64(i))},
		}))
	}

	s.Equal(1, b.frames.Pending())
	s.Equal(1, b.frames.RunPending())
	s.Equal(before+1, b.engine.UpdateCount())

	el, _ := b.element("a")
	s.Equal(int64(51), el.Version)
	s.Equal(0, b.frames.Pending())
}

// pausingEngine stops inside its first merge, after the scene is written and
// before the flush returns, so a local edit can land while the session is
// still applying the remote update.
type pausingEngine struct {
	*engine.Memory
	entered chan struct{}
	resume  chan struct{}
	once    sync.Once
}

func newPausingEngine() *pausingEngine {
	return &pausingEngine{
		Memory:  engine.NewMemory(),
		entered: make(chan struct{}),
		resume:  make(chan struct{}),
	}
}

func (p *pausingEngine) UpdateSceneFunc(fn func([]models.Element, models.Files) engine.SceneUpdate) {
	p.Memory.UpdateSceneFunc(fn)
	p.once.Do(func() {
		close(p.entered)
		<-p.resume
	})
}

func (s *SessionTestSuite) TestLocalEditDuringRemoteApplyIsKeptAndSent() {
	a := s.open("a")
	eng := newPausingEngine()
	b := s.openEngine("b", eng, eng.Memory)
	peer := s.peer()

	s.Require().NoError(peer.Send(s.ctx, channel.EventElementUpdate, channel.ElementUpdate{
		SenderID: "peer",
		Elements: []models.Element{shape("r", 1, 0)},
	}))
	s.Require().Eventually(func() bool { return a.frames.Pending() == 1 }, time.Second, time.Millisecond)
	a.frames.RunPending()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.frames.RunPending()
	}()

	select {
	case <-eng.entered:
	case <-time.After(time.Second):
		s.Require().FailNow("flush never reached the engine")
	}
	s.Equal(StateApplyingRemote, b.session.State())
	eng.Edit(func(els []models.Element) []models.Element {
		return append(els, shape("local", 1, 0))
	})
	close(eng.resume)
	<-done

	s.Equal([]string{"a", "r", "local"}, models.OrderIDs(b.engine.ElementsIncludingDeleted()))
	s.True(b.session.HasUnsavedChanges())
	s.Eventually(func() bool {
		a.frames.RunPending()
		_, ok := a.element("local")
		return ok
	}, time.Second, time.Millisecond)
}

func (s *SessionTestSuite) TestOwnEchoIgnored() {
	b := s.open("b")
	peer := s.peer()

	s.Require().NoError(peer.Send(s.ctx, channel.EventElementUpdate, channel.ElementUpdate{
		SenderID: "b",
		Elements: []models.Element{shape("a", 9, 0)},
	}))
	s.Equal(0, b.frames.Pending())
}

func (s *SessionTestSuite) TestStaleRemoteIsDropped() {
	b := s.open("b")
	peer := s.peer()

	s.Require().NoError(peer.Send(s.ctx, channel.EventElementUpdate, channel.ElementUpdate{
		SenderID: "peer",
		Elements: []models.Element{{ID: "a", Type: "rectangle", Version: 0}},
	}))
	b.frames.RunPending()

	el, _ := b.element("a")
	s.Equal(int64(1), el.Version)
}

func (s *SessionTestSuite) TestRemoteFilesOnly() {
	b := s.open("b")
	peer := s.peer()
	before := b.engine.UpdateCount()

	s.Require().NoError(peer.Send(s.ctx, channel.EventElementUpdate, channel.ElementUpdate{
		SenderID: "peer",
		Files:    models.Files{"img": {ID: "img", MimeType: "image/png", Data: []byte{1, 2, 3}}},
	}))
	b.frames.RunPending()

	s.Contains(b.engine.Files(), "img")
	s.Equal(before, b.engine.UpdateCount())
	s.Equal(1, s.bus.Sent())
}

func (s *SessionTestSuite) TestAddFilesReachPeer() {
	a := s.open("a")
	b := s.open("b")

	a.session.HandleAddFiles([]models.File{{ID: "img", MimeType: "image/png", Data: []byte("png")}})
	s.Eventually(func() bool { return b.frames.Pending() == 1 }, time.Second, time.Millisecond)
	b.frames.RunPending()

	s.Contains(b.engine.Files(), "img")
}

func (s *SessionTestSuite) TestSaveNow() {
	a := s.open("a")
	a.engine.Edit(func(els []models.Element) []models.Element {
		return append(els, shape("b", 1, 0))
	})

	s.Require().NoError(a.session.SaveNow(s.ctx))
	v, _ := a.session.Version()
	s.Equal(int64(6), v)
	s.False(a.session.HasUnsavedChanges())

	doc, _ := s.backend.Document(testDoc)
	s.Len(doc.Elements, 2)
}

func (s *SessionTestSuite) TestConflictRetriedWithServerVersion() {
	a := s.open("a")

	doc, _ := s.backend.Document(testDoc)
	doc.Version = 7
	s.backend.Put(doc)

	a.engine.Edit(func(els []models.Element) []models.Element {
		return append(els, shape("b", 1, 0))
	})
	s.Require().NoError(a.session.SaveNow(s.ctx))

	saves := s.backend.Saves()
	s.Require().Len(saves, 2)
	s.Equal(int64(5), *saves[0].Version)
	s.Equal(int64(7), *saves[1].Version)

	v, _ := a.session.Version()
	s.Equal(int64(8), v)
}

func (s *SessionTestSuite) TestSecondConflictSurfaces() {
	a := s.open("a")
	s.backend.InjectConflict(api.Int64(7))
	s.backend.InjectConflict(api.Int64(9))

	a.engine.Edit(func(els []models.Element) []models.Element {
		return append(els, shape("b", 1, 0))
	})
	err := a.session.SaveNow(s.ctx)
	s.ErrorIs(err, constants.ErrVersionConflict)
	s.Len(s.backend.Saves(), 2)
	s.Equal([]persist.EventKind{persist.EventConflict}, a.events.kinds())
	s.True(a.session.HasUnsavedChanges())
}

func (s *SessionTestSuite) TestStaleEmptySceneIsNeitherSentNorSaved() {
	a := s.open("a")

	a.engine.UpdateScene(engine.SceneUpdate{Elements: []models.Element{}})
	s.Equal(0, s.bus.Sent())
	s.False(a.session.HasUnsavedChanges())

	s.ErrorIs(a.session.SaveNow(s.ctx), constants.ErrUnsafeSnapshot)
	s.Empty(s.backend.Saves())
}

func (s *SessionTestSuite) TestIntentionalDeletionIsSentAndSaved() {
	a := s.open("a")

	a.engine.Edit(func(els []models.Element) []models.Element {
		gone := shape("a", 2, 0)
		gone.IsDeleted = true
		return []models.Element{gone}
	})
	s.Equal(1, s.bus.Sent())

	s.Require().NoError(a.session.SaveNow(s.ctx))
	doc, _ := s.backend.Document(testDoc)
	s.Require().Len(doc.Elements, 1)
	s.True(doc.Elements[0].IsDeleted)
}

func (s *SessionTestSuite) TestAutosave() {
	a := s.open("a", func(c *Config) { c.SaveDelay = 10 * time.Millisecond })

	a.engine.Edit(func(els []models.Element) []models.Element {
		return append(els, shape("b", 1, 0))
	})
	s.Eventually(func() bool { return !a.session.HasUnsavedChanges() }, time.Second, 5*time.Millisecond)
	s.Len(s.backend.Saves(), 1)
	s.Equal([]persist.EventKind{persist.EventSaved}, a.events.kinds())
}

func (s *SessionTestSuite) TestCloseTearsDown() {
	a := s.open("a")
	b := s.open("b")
	peer := s.peer()

	s.Require().NoError(peer.Send(s.ctx, channel.EventElementUpdate, channel.ElementUpdate{
		SenderID: "peer",
		Elements: []models.Element{shape("z", 1, 0)},
	}))
	s.Equal(1, b.frames.Pending())

	s.Require().NoError(b.session.Close(s.ctx))
	s.Equal(StateClosed, b.session.State())
	s.Equal(0, b.frames.Pending())
	s.Equal(2, s.bus.Members(testDoc))

	a.engine.Edit(func(els []models.Element) []models.Element {
		return append(els, shape("b", 1, 0))
	})
	s.Equal(0, b.frames.Pending())
	_, ok := b.element("b")
	s.False(ok)

	s.ErrorIs(b.session.SaveNow(s.ctx), constants.ErrSessionClosed)
	s.NoError(b.session.Close(s.ctx))
}

func TestOpenValidates(t *testing.T) {
	ctx := context.Background()
	backend := fakebackend.New()
	dial := func(context.Context, string) (channel.Channel, error) {
		return memchannel.NewBus(nil).Join(testDoc), nil
	}

	_, err := Open(ctx, NewConfig(""), Deps{Engine: engine.NewMemory(), API: backend, Dial: dial})
	assert.ErrorIs(t, err, constants.ErrNoDocumentID)

	_, err = Open(ctx, NewConfig(testDoc), Deps{API: backend, Dial: dial})
	assert.ErrorIs(t, err, constants.ErrNoEngine)

	_, err = Open(ctx, NewConfig(testDoc), Deps{Engine: engine.NewMemory(), Dial: dial})
	assert.ErrorIs(t, err, constants.ErrNoAPI)

	_, err = Open(ctx, NewConfig(testDoc), Deps{Engine: engine.NewMemory(), API: backend})
	assert.ErrorIs(t, err, constants.ErrNoChannel)

	_, err = Open(ctx, NewConfig(testDoc), Deps{Engine: engine.NewMemory(), API: backend, Dial: dial})
	require.Error(t, err)
	assert.True(t, api.NotFound(err))

	var status *api.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusNotFound, status.StatusCode)
}

func TestSuspiciousBlankLoadBlocksManualSave(t *testing.T) {
	ctx := context.Background()
	backend := fakebackend.New()
	backend.Put(api.Document{ID: testDoc, Version: 2, Preview: []byte("png")})
	ev := &events{}

	s, err := Open(ctx, NewConfig(testDoc), Deps{
		Engine:   engine.NewMemory(),
		API:      backend,
		Dial:     func(context.Context, string) (channel.Channel, error) { return memchannel.NewBus(nil).Join(testDoc), nil },
		Frames:   flush.NewManualFrames(),
		Notifier: ev,
	})
	require.NoError(t, err)
	defer s.Close(ctx)

	assert.ErrorIs(t, s.SaveNow(ctx), constants.ErrSuspiciousBlankLoad)
	assert.Empty(t, backend.Saves())
	assert.Equal(t, []persist.EventKind{persist.EventSuspiciousBlank}, ev.kinds())
}
