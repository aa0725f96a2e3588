package scenesync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/surrealdb/scenesync/pkg/api"
	"github.com/surrealdb/scenesync/pkg/broadcast"
	"github.com/surrealdb/scenesync/pkg/channel"
	"github.com/surrealdb/scenesync/pkg/constants"
	"github.com/surrealdb/scenesync/pkg/engine"
	"github.com/surrealdb/scenesync/pkg/flush"
	"github.com/surrealdb/scenesync/pkg/guard"
	"github.com/surrealdb/scenesync/pkg/ledger"
	"github.com/surrealdb/scenesync/pkg/logger"
	"github.com/surrealdb/scenesync/pkg/models"
	"github.com/surrealdb/scenesync/pkg/persist"
)

type State int

const (
	StateIdle State = iota
	StateApplyingRemote
	StateBroadcasting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateApplyingRemote:
		return "ApplyingRemote"
	case StateBroadcasting:
		return "Broadcasting"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DialFunc opens the message channel for a document.
type DialFunc func(ctx context.Context, documentID string) (channel.Channel, error)

// Deps are the collaborators a Session drives. Engine, API and Dial are
// required.
type Deps struct {
	Engine engine.Engine
	API    api.API
	Dial   DialFunc

	// Frames defaults to an IntervalFrames at Config.FrameInterval.
	Frames   flush.FrameScheduler
	Notifier persist.Notifier
	Renderer persist.PreviewRenderer
	Logger   logger.Logger
}

// Session is the sync state of one open document.
type Session struct {
	cfg    Config
	engine engine.Engine
	logger logger.Logger

	ledger      *ledger.VersionLedger
	guard       *guard.Guard
	scheduler   *flush.Scheduler
	broadcaster *broadcast.Broadcaster
	pipeline    *persist.Pipeline
	channel     channel.Channel

	unsubscribe []func()

	mu    sync.Mutex
	state State
}

// Open loads the document, hydrates the engine with it and joins the
// document's channel. The channel is dialled only once the engine holds the
// loaded scene, so no remote update is merged into a half-loaded engine.
func Open(ctx context.Context, cfg *Config, deps Deps) (*Session, error) {
	if cfg == nil {
		return nil, constants.ErrNoDocumentID
	}
	c := *cfg
	if err := c.validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Engine == nil:
		return nil, constants.ErrNoEngine
	case deps.API == nil:
		return nil, constants.ErrNoAPI
	case deps.Dial == nil:
		return nil, constants.ErrNoChannel
	}

	s := &Session{
		cfg:    c,
		engine: deps.Engine,
		logger: logger.OrDiscard(deps.Logger),
		ledger: ledger.NewVersionLedger(),
		guard:  guard.New(),
	}

	doc, err := deps.API.GetDocument(ctx, c.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", c.DocumentID, err)
	}

	s.applyRemote(func() {
		deps.Engine.UpdateScene(engine.SceneUpdate{
			Elements: models.CloneElements(doc.Elements),
			AppState: doc.AppState.Clone(),
			Files:    models.Files{}.Merge(doc.Files),
		})
	})
	s.guard.SetInitialLoad(doc.Elements, len(doc.Preview) > 0)
	if s.guard.SuspiciousBlankLoad() {
		s.logger.Warn("document loaded blank but has a preview; saves are blocked until content appears",
			"document_id", c.DocumentID)
	}

	s.pipeline, err = persist.New(persist.Config{
		DocumentID:     c.DocumentID,
		API:            deps.API,
		Guard:          s.guard,
		Snapshot:       s.snapshot,
		Renderer:       deps.Renderer,
		Notifier:       deps.Notifier,
		Logger:         deps.Logger,
		SaveDelay:      c.SaveDelay,
		PreviewDelay:   c.PreviewDelay,
		RequestTimeout: c.RequestTimeout,
		Version:        api.Int64(doc.Version),
		PersistedFiles: doc.Files,
	})
	if err != nil {
		return nil, err
	}

	ch, err := deps.Dial(ctx, c.DocumentID)
	if err != nil {
		_ = s.pipeline.Close(ctx)
		return nil, fmt.Errorf("failed to join channel for document %s: %w", c.DocumentID, err)
	}
	s.channel = ch

	s.broadcaster = broadcast.New(c.SenderID, ch, s.ledger, c.BroadcastInterval, deps.Logger)
	s.broadcaster.SendTimeout = c.RequestTimeout
	s.broadcaster.OnLocalChange = s.pipeline.MarkChanged
	s.broadcaster.SendGuard = s.broadcasting
	s.broadcaster.Seed(doc.Elements, doc.Files)

	frames := deps.Frames
	if frames == nil {
		frames = flush.NewIntervalFrames(c.FrameInterval)
	}
	s.scheduler = flush.New(deps.Engine, s.ledger, frames, deps.Logger)
	s.scheduler.ApplyGuard = s.applyRemote
	s.scheduler.OnApplied = func(merged, _ []models.Element, files models.Files) {
		s.broadcaster.NoteRemote(merged, files)
		// Local edits made while the flush held ApplyingRemote were not
		// broadcast; diff the engine again so they go out now.
		s.HandleSceneChange(s.engine.ElementsIncludingDeleted(), nil, s.engine.Files())
	}

	s.unsubscribe = append(s.unsubscribe,
		ch.OnMessage(channel.EventElementUpdate, s.handleElementUpdate),
		ch.OnMessage(channel.EventError, s.handleErrorNotice),
	)
	if obs, ok := deps.Engine.(engine.Observable); ok {
		obs.OnChange(s.HandleSceneChange)
		s.unsubscribe = append(s.unsubscribe, func() { obs.OnChange(nil) })
	}

	s.logger.Info("session opened",
		"document_id", c.DocumentID,
		"version", doc.Version,
		"element_count", len(doc.Elements),
	)
	return s, nil
}

func (s *Session) SenderID() string {
	return s.cfg.SenderID
}

func (s *Session) DocumentID() string {
	return s.cfg.DocumentID
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) snapshot() models.Scene {
	return models.Scene{
		Elements: s.engine.ElementsIncludingDeleted(),
		AppState: s.engine.AppState(),
		Files:    s.engine.Files(),
	}
}

// applyRemote runs apply in StateApplyingRemote.
func (s *Session) applyRemote(apply func()) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateApplyingRemote
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.state == StateApplyingRemote {
			s.state = StateIdle
		}
		s.mu.Unlock()
	}()
	apply()
}

// broadcasting runs one diff pass, in StateBroadcasting when the session
// was idle.
func (s *Session) broadcasting(run func()) {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return
	case StateIdle:
		s.state = StateBroadcasting
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.state == StateBroadcasting {
			s.state = StateIdle
		}
		s.mu.Unlock()
	}()
	run()
}

// HandleSceneChange is the engine's change callback. Notifications raised
// while a remote scene is being applied, or after Close, are ignored.
func (s *Session) HandleSceneChange(elements []models.Element, _ models.AppState, files models.Files) {
	switch s.State() {
	case StateApplyingRemote, StateClosed:
		return
	}

	decision := s.guard.Check(elements)
	if !decision.Accepted {
		s.logger.Debug("ignoring transient scene",
			"document_id", s.cfg.DocumentID,
			"reason", decision.Reason.String(),
			"element_count", len(elements),
		)
		return
	}
	s.broadcaster.Broadcast(elements, files)
}

// HandleAddFiles adds files created locally, for instance a pasted image,
// and shares them with peers.
func (s *Session) HandleAddFiles(files []models.File) {
	if len(files) == 0 || s.State() == StateClosed {
		return
	}
	s.engine.AddFiles(files)
	if s.State() == StateClosed {
		return
	}
	s.broadcaster.Broadcast(s.engine.ElementsIncludingDeleted(), s.engine.Files())
}

func (s *Session) handleElementUpdate(msg channel.Message) {
	if s.State() == StateClosed {
		return
	}
	var upd channel.ElementUpdate
	if err := msg.Decode(&upd); err != nil {
		s.logger.Warn("failed to decode element update", "document_id", s.cfg.DocumentID, "error", err)
		return
	}
	if upd.SenderID == s.cfg.SenderID {
		return
	}
	s.scheduler.QueueFiles(upd.Files)
	s.scheduler.QueueElements(upd.Elements)
	s.scheduler.QueueOrder(upd.Order)
}

func (s *Session) handleErrorNotice(msg channel.Message) {
	var notice channel.ErrorNotice
	if err := msg.Decode(&notice); err != nil {
		s.logger.Warn("failed to decode channel error", "document_id", s.cfg.DocumentID, "error", err)
		return
	}
	s.logger.Warn("channel reported an error",
		"document_id", s.cfg.DocumentID, "code", notice.Code, "message", notice.Message)
}

// FlushRemote merges buffered remote updates now instead of on the next
// frame.
func (s *Session) FlushRemote() {
	s.scheduler.Flush()
}

// SaveNow persists the current scene and reports the outcome.
func (s *Session) SaveNow(ctx context.Context) error {
	if s.State() == StateClosed {
		return constants.ErrSessionClosed
	}
	return s.pipeline.SaveNow(ctx)
}

func (s *Session) HasUnsavedChanges() bool {
	return s.pipeline.HasUnsavedChanges()
}

// Version is the last document version known to the backend.
func (s *Session) Version() (int64, bool) {
	return s.pipeline.Version()
}

// Close tears the session down: pending broadcasts, frames, saves and
// previews are cancelled, handlers are removed and the channel is closed.
// Work still pending is dropped, so call SaveNow first to keep it.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.broadcaster.Stop()
	s.scheduler.Close()
	for _, unsub := range s.unsubscribe {
		unsub()
	}
	s.unsubscribe = nil

	var errs []error
	if err := s.pipeline.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop persistence: %w", err))
	}
	if err := s.channel.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
	}
	s.broadcaster.Reset()

	s.logger.Info("session closed", "document_id", s.cfg.DocumentID)
	return errors.Join(errs...)
}
