// Package api describes the persistence backend a session loads from and
// saves to. The backend owns the document version and rejects saves that
// present a stale one.
package api

import (
	"context"

	"github.com/surrealdb/scenesync/pkg/models"
)

// Document is a stored drawing as returned by GetDocument.
type Document struct {
	ID       string           `json:"id"`
	Elements []models.Element `json:"elements"`
	AppState models.AppState  `json:"appState,omitempty"`
	Files    models.Files     `json:"files,omitempty"`
	Version  int64            `json:"version"`
	Preview  []byte           `json:"preview,omitempty"`
}

// UpdateRequest is a save. A nil Files leaves stored files untouched; a nil
// Version skips the optimistic concurrency check.
type UpdateRequest struct {
	Elements []models.Element `json:"elements"`
	AppState models.AppState  `json:"appState,omitempty"`
	Files    models.Files     `json:"files,omitempty"`
	Version  *int64           `json:"version,omitempty"`
}

type UpdateResponse struct {
	Version int64 `json:"version"`
}

type PreviewRequest struct {
	Preview []byte `json:"preview"`
}

type API interface {
	GetDocument(ctx context.Context, id string) (*Document, error)
	// UpdateDocument fails with *ConflictError when the submitted version is stale.
	UpdateDocument(ctx context.Context, id string, req UpdateRequest) (*UpdateResponse, error)
	UpdatePreview(ctx context.Context, id string, preview []byte) error
}

func Int64(v int64) *int64 {
	return &v
}
