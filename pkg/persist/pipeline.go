// Package persist saves a document to the backend: debounced autosave, a
// debounced preview render, explicit saves, all run one at a time through
// a SaveQueue with optimistic concurrency.
package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/surrealdb/scenesync/pkg/api"
	"github.com/surrealdb/scenesync/pkg/constants"
	"github.com/surrealdb/scenesync/pkg/guard"
	"github.com/surrealdb/scenesync/pkg/ledger"
	"github.com/surrealdb/scenesync/pkg/logger"
	"github.com/surrealdb/scenesync/pkg/models"
	"github.com/surrealdb/scenesync/pkg/timer"
)

// SnapshotSource returns the current scene.
type SnapshotSource func() models.Scene

type PreviewRenderer interface {
	RenderPreview(ctx context.Context, scene models.Scene) ([]byte, error)
}

type PreviewRendererFunc func(ctx context.Context, scene models.Scene) ([]byte, error)

func (f PreviewRendererFunc) RenderPreview(ctx context.Context, scene models.Scene) ([]byte, error) {
	return f(ctx, scene)
}

type Config struct {
	DocumentID string
	API        api.API
	Guard      *guard.Guard
	Snapshot   SnapshotSource

	// Renderer is optional; without it no previews are produced.
	Renderer PreviewRenderer
	Notifier Notifier
	Logger   logger.Logger

	SaveDelay    time.Duration
	PreviewDelay time.Duration
	// RequestTimeout bounds each autosave and preview job from the moment
	// it starts running.
	RequestTimeout time.Duration

	// Version is the document version as loaded. Nil saves without one.
	Version *int64
	// PersistedFiles are already stored and are not sent again.
	PersistedFiles models.Files
}

type Pipeline struct {
	cfg    Config
	logger logger.Logger
	queue  *SaveQueue
	files  *ledger.FileTracker

	saveDebounce    *timer.Debouncer
	previewDebounce *timer.Debouncer

	mu           sync.Mutex
	version      *int64
	changeSeq    uint64
	savedSeq     uint64
	previewToken uint64
	closed       bool
}

func New(cfg Config) (*Pipeline, error) {
	if cfg.API == nil {
		return nil, constants.ErrNoAPI
	}
	if cfg.DocumentID == "" {
		return nil, constants.ErrNoDocumentID
	}
	if cfg.Guard == nil {
		cfg.Guard = guard.New()
	}
	if cfg.SaveDelay <= 0 {
		cfg.SaveDelay = constants.DefaultSaveDelay
	}
	if cfg.PreviewDelay <= 0 {
		cfg.PreviewDelay = constants.DefaultPreviewDelay
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = constants.DefaultHTTPTimeout
	}

	p := &Pipeline{
		cfg:    cfg,
		logger: logger.OrDiscard(cfg.Logger),
		queue:  NewSaveQueue(),
		files:  ledger.NewFileTracker(),
	}
	if cfg.Version != nil {
		p.version = api.Int64(*cfg.Version)
	}
	p.files.Mark(cfg.PersistedFiles)
	p.saveDebounce = timer.NewDebouncer(cfg.SaveDelay, p.autosave)
	p.previewDebounce = timer.NewDebouncer(cfg.PreviewDelay, p.schedulePreview)
	return p, nil
}

// MarkChanged records a local change and (re)starts the save and preview
// delays.
func (p *Pipeline) MarkChanged() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.changeSeq++
	p.previewToken = p.changeSeq
	p.mu.Unlock()

	p.saveDebounce.Schedule()
	if p.cfg.Renderer != nil {
		p.previewDebounce.Schedule()
	}
}

// HasUnsavedChanges is true while a local change has not been persisted.
func (p *Pipeline) HasUnsavedChanges() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.changeSeq > p.savedSeq
}

// Version is the last version the backend confirmed or reported.
func (p *Pipeline) Version() (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.version == nil {
		return 0, false
	}
	return *p.version, true
}

func (p *Pipeline) currentVersion() *int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.version == nil {
		return nil
	}
	return api.Int64(*p.version)
}

func (p *Pipeline) setVersion(v int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.version = api.Int64(v)
}

// SaveNow saves immediately on behalf of the user and reports the outcome.
// A pending autosave is folded into it. Unlike autosave, failures are
// returned and notified.
func (p *Pipeline) SaveNow(ctx context.Context) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return constants.ErrSessionClosed
	}

	p.saveDebounce.Cancel()
	return p.queue.Enqueue(ctx, func(ctx context.Context) error {
		return p.save(ctx, true)
	})
}

// autosave queues a background save. The request timeout starts when the
// job runs, not while it waits behind earlier jobs.
func (p *Pipeline) autosave() {
	p.queue.Submit(context.Background(), func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
		return p.save(ctx, false)
	})
}

func (p *Pipeline) save(ctx context.Context, manual bool) error {
	p.mu.Lock()
	if p.closed && !manual {
		p.mu.Unlock()
		return nil
	}
	seq := p.changeSeq
	p.mu.Unlock()

	scene := p.cfg.Snapshot()

	decision := p.cfg.Guard.Check(scene.Elements)
	if !decision.Accepted {
		if decision.Reason == guard.ReasonSuspiciousBlankLoad {
			p.logger.Warn("refusing to save a blank scene over a document that loaded blank with a non-empty preview",
				"document_id", p.cfg.DocumentID, "manual", manual)
			p.notify(Event{Kind: EventSuspiciousBlank, Manual: manual, Err: constants.ErrSuspiciousBlankLoad})
			if manual {
				return constants.ErrSuspiciousBlankLoad
			}
			return nil
		}
		p.logger.Debug("skipping save of stale snapshot",
			"document_id", p.cfg.DocumentID, "reason", decision.Reason.String(), "element_count", len(scene.Elements))
		if manual {
			return fmt.Errorf("%w: %s", constants.ErrUnsafeSnapshot, decision.Reason)
		}
		return nil
	}

	files := p.files.Changed(scene.Files)
	req := api.UpdateRequest{
		Elements: scene.Elements,
		AppState: scene.AppState,
		Files:    files,
		Version:  p.currentVersion(),
	}

	resp, err := p.cfg.API.UpdateDocument(ctx, p.cfg.DocumentID, req)

	var conflict *api.ConflictError
	if errors.As(err, &conflict) && conflict.CurrentVersion != nil {
		p.logger.Info("save conflicted, retrying with the server version",
			"document_id", p.cfg.DocumentID, "sent_version", versionAttr(req.Version), "current_version", *conflict.CurrentVersion)
		p.setVersion(*conflict.CurrentVersion)
		req.Version = api.Int64(*conflict.CurrentVersion)
		resp, err = p.cfg.API.UpdateDocument(ctx, p.cfg.DocumentID, req)
	}

	if errors.As(err, &conflict) {
		p.logger.Error("save conflicted and will not be retried",
			"document_id", p.cfg.DocumentID, "sent_version", versionAttr(req.Version))
		p.notify(Event{Kind: EventConflict, Manual: manual, Err: err})
		return fmt.Errorf("failed to save document %s: %w", p.cfg.DocumentID, err)
	}
	if err != nil {
		p.logger.Warn("failed to save document", "document_id", p.cfg.DocumentID, "manual", manual, "error", err)
		if manual {
			p.notify(Event{Kind: EventSaveFailed, Manual: true, Err: err})
		}
		return fmt.Errorf("failed to save document %s: %w", p.cfg.DocumentID, err)
	}

	p.setVersion(resp.Version)
	p.files.Mark(files)
	p.cfg.Guard.SetLastPersisted(scene.Elements)

	p.mu.Lock()
	if seq > p.savedSeq {
		p.savedSeq = seq
	}
	p.mu.Unlock()

	p.logger.Debug("saved document", "document_id", p.cfg.DocumentID, "version", resp.Version, "file_count", len(files))
	p.notify(Event{Kind: EventSaved, Version: resp.Version, Manual: manual})
	return nil
}

func versionAttr(v *int64) any {
	if v == nil {
		return "none"
	}
	return *v
}

func (p *Pipeline) schedulePreview() {
	p.mu.Lock()
	token := p.previewToken
	stale := token != p.changeSeq || p.closed
	p.mu.Unlock()
	if stale {
		return
	}

	p.queue.Submit(context.Background(), func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
		return p.renderPreview(ctx, token)
	})
}

func (p *Pipeline) isLatest(token uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && token == p.changeSeq
}

func (p *Pipeline) renderPreview(ctx context.Context, token uint64) error {
	if !p.isLatest(token) {
		p.logger.Debug("dropping superseded preview", "document_id", p.cfg.DocumentID)
		return nil
	}

	scene := p.cfg.Snapshot()
	decision := p.cfg.Guard.Check(scene.Elements)
	if !decision.Accepted {
		p.logger.Debug("skipping preview of stale snapshot", "document_id", p.cfg.DocumentID, "reason", decision.Reason.String())
		return nil
	}

	img, err := p.cfg.Renderer.RenderPreview(ctx, scene)
	if err != nil {
		p.logger.Warn("failed to render preview", "document_id", p.cfg.DocumentID, "error", err)
		p.notify(Event{Kind: EventPreviewFailed, Err: err})
		return err
	}

	if !p.isLatest(token) {
		p.logger.Debug("dropping superseded preview", "document_id", p.cfg.DocumentID)
		return nil
	}

	if err := p.cfg.API.UpdatePreview(ctx, p.cfg.DocumentID, img); err != nil {
		p.logger.Warn("failed to upload preview", "document_id", p.cfg.DocumentID, "error", err)
		p.notify(Event{Kind: EventPreviewFailed, Err: err})
		return err
	}
	return nil
}

func (p *Pipeline) notify(e Event) {
	if p.cfg.Notifier == nil {
		return
	}
	e.DocumentID = p.cfg.DocumentID
	p.cfg.Notifier.Notify(e)
}

// Close cancels pending saves and previews, then waits for a running job
// to finish or for ctx to end.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.saveDebounce.Stop()
	p.previewDebounce.Stop()
	return p.queue.Close(ctx)
}
