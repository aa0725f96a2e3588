// Package fakebackend is an in-memory drawing persistence backend for tests.
//
// It enforces optimistic concurrency the way the real backend does and can
// inject conflicts and failures. It serves the HTTP protocol spoken by
// pkg/api/httpapi through Handler, and also implements api.API directly for
// tests that do not need a socket.
package fakebackend

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/surrealdb/scenesync/pkg/api"
	"github.com/surrealdb/scenesync/pkg/models"
)

// SaveRecord is one UpdateDocument call as the backend saw it.
type SaveRecord struct {
	DocumentID string
	Version    *int64
	Elements   int
	Files      int
	Outcome    string
}

type Backend struct {
	mu        sync.Mutex
	docs      map[string]*api.Document
	saves     []SaveRecord
	previews  map[string][][]byte
	conflicts []conflict
	failures  []int
	gate      chan struct{}
}

type conflict struct {
	current *int64
}

var _ api.API = (*Backend)(nil)

func New() *Backend {
	return &Backend{
		docs:     make(map[string]*api.Document),
		previews: make(map[string][][]byte),
	}
}

// Put stores doc as is, replacing any existing document with its id.
func (b *Backend) Put(doc api.Document) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := doc
	cp.Elements = models.CloneElements(doc.Elements)
	b.docs[doc.ID] = &cp
}

// Document returns a copy of what is stored.
func (b *Backend) Document(id string) (api.Document, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.docs[id]
	if !ok {
		return api.Document{}, false
	}
	cp := *d
	cp.Elements = models.CloneElements(d.Elements)
	return cp, true
}

// Saves lists every UpdateDocument call in arrival order.
func (b *Backend) Saves() []SaveRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]SaveRecord(nil), b.saves...)
}

func (b *Backend) Previews(id string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.previews[id]...)
}

// InjectConflict makes the next save answer with a conflict regardless of
// the version it presents. current is reported back when non-nil. Calls
// queue up.
func (b *Backend) InjectConflict(current *int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conflicts = append(b.conflicts, conflict{current: current})
}

// InjectFailure makes the next save fail with status.
func (b *Backend) InjectFailure(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, status)
}

// Hold makes saves block until Release is called.
func (b *Backend) Hold() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gate == nil {
		b.gate = make(chan struct{})
	}
}

func (b *Backend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gate != nil {
		close(b.gate)
		b.gate = nil
	}
}

func (b *Backend) GetDocument(_ context.Context, id string) (*api.Document, error) {
	d, ok := b.Document(id)
	if !ok {
		return nil, &api.StatusError{StatusCode: http.StatusNotFound, Body: "drawing not found"}
	}
	return &d, nil
}

func (b *Backend) UpdateDocument(ctx context.Context, id string, req api.UpdateRequest) (*api.UpdateResponse, error) {
	b.mu.Lock()
	gate := b.gate
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	rec := SaveRecord{DocumentID: id, Version: req.Version, Elements: len(req.Elements), Files: len(req.Files)}

	if len(b.failures) > 0 {
		status := b.failures[0]
		b.failures = b.failures[1:]
		rec.Outcome = fmt.Sprintf("failed %d", status)
		b.saves = append(b.saves, rec)
		return nil, &api.StatusError{StatusCode: status, Body: "injected failure"}
	}

	if len(b.conflicts) > 0 {
		c := b.conflicts[0]
		b.conflicts = b.conflicts[1:]
		rec.Outcome = "conflict"
		b.saves = append(b.saves, rec)
		return nil, &api.ConflictError{CurrentVersion: c.current}
	}

	doc, ok := b.docs[id]
	if !ok {
		doc = &api.Document{ID: id}
		b.docs[id] = doc
	}
	if req.Version != nil && *req.Version != doc.Version {
		rec.Outcome = "conflict"
		b.saves = append(b.saves, rec)
		return nil, &api.ConflictError{CurrentVersion: api.Int64(doc.Version)}
	}

	doc.Elements = models.CloneElements(req.Elements)
	doc.AppState = req.AppState.Clone()
	if req.Files != nil {
		doc.Files = doc.Files.Merge(req.Files)
	}
	doc.Version++

	rec.Outcome = "ok"
	b.saves = append(b.saves, rec)
	return &api.UpdateResponse{Version: doc.Version}, nil
}

func (b *Backend) UpdatePreview(_ context.Context, id string, preview []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.previews[id] = append(b.previews[id], preview)
	if doc, ok := b.docs[id]; ok {
		doc.Preview = preview
	}
	return nil
}

// Handler serves the backend over HTTP.
func (b *Backend) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/drawings/{id}", b.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/api/drawings/{id}", b.handleUpdate).Methods(http.MethodPut)
	r.HandleFunc("/api/drawings/{id}/preview", b.handlePreview).Methods(http.MethodPut)
	return r
}

func (b *Backend) handleGet(w http.ResponseWriter, r *http.Request) {
	doc, err := b.GetDocument(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (b *Backend) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	resp, err := b.UpdateDocument(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		switch e := err.(type) {
		case *api.ConflictError:
			body := map[string]any{"error": "version conflict"}
			if e.CurrentVersion != nil {
				body["currentVersion"] = *e.CurrentVersion
			}
			respondJSON(w, http.StatusConflict, body)
		case *api.StatusError:
			respondError(w, e.StatusCode, e.Body)
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (b *Backend) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req api.PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if err := b.UpdatePreview(r.Context(), mux.Vars(r)["id"], req.Preview); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_, _ = w.Write(response)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
