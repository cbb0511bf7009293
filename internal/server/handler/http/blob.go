package http

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zainulabideen041/storink/internal/apperr"
	"github.com/zainulabideen041/storink/internal/blob"
	"github.com/zainulabideen041/storink/internal/middleware"
)

// BlobStore stores raw evidence bytes and remembers who uploaded them.
type BlobStore interface {
	Upload(ctx context.Context, ownerID string, r io.Reader) (blob.Object, error)
	Owner(ctx context.Context, id string) (string, error)
	Open(ctx context.Context, id string) (io.ReadCloser, error)
	Delete(ctx context.Context, id string) error
}

// BlobHandler uploads, serves and deletes stored evidence files.
type BlobHandler struct {
	Store BlobStore
	Log   *zap.Logger
}

// Upload stores the raw request body and returns its id and URL. The blob is
// held by the caller, or by the ?owner= identity when an admin uploads on
// someone's behalf.
func (h *BlobHandler) Upload(w http.ResponseWriter, r *http.Request) {
	c, ok := middleware.GetClaims(r.Context())
	if !ok {
		writeError(w, h.Log, apperr.ErrUnauthorized)
		return
	}
	ownerID := c.ID
	if q := r.URL.Query().Get("owner"); q != "" {
		ownerID = q
	}
	if err := authorize(r, ownerID); err != nil {
		writeError(w, h.Log, err)
		return
	}

	obj, err := h.Store.Upload(r.Context(), ownerID, r.Body)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeOK(w, http.StatusCreated, "File uploaded", envelope{"blob": obj})
}

// Get streams a stored file to its owner or an admin.
func (h *BlobHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ownerID, err := h.Store.Owner(r.Context(), id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if err := authorize(r, ownerID); err != nil {
		writeError(w, h.Log, err)
		return
	}

	rc, err := h.Store.Open(r.Context(), id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if _, err := io.Copy(w, rc); err != nil {
		h.Log.Warn("failed to stream blob", zap.Error(err))
	}
}

// Delete removes a stored file.
func (h *BlobHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeOK(w, http.StatusOK, "File deleted", nil)
}
