package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zainulabideen041/storink/internal/apperr"
	"github.com/zainulabideen041/storink/internal/middleware"
	"github.com/zainulabideen041/storink/internal/models"
	"github.com/zainulabideen041/storink/internal/service"
)

// EvidenceService defines the screenshot ledger operations.
type EvidenceService interface {
	Capture(ctx context.Context, c service.Capture) (*models.Screenshot, error)
	Get(ctx context.Context, id string) (*models.Screenshot, error)
	List(ctx context.Context, ownerID string, linked *bool) ([]models.Screenshot, error)
	Verify(ctx context.Context, id string, candidate io.Reader) (*models.IntegrityResult, error)
}

// LinkingService defines the case and link operations.
type LinkingService interface {
	OnCaseCreate(ctx context.Context, req service.NewCase) (*models.Case, error)
	OnCaseDelete(ctx context.Context, id string) error
	OnScreenshotDelete(ctx context.Context, id string) error
	Reconcile(ctx context.Context, id string, linked bool, caseID *string) (*models.Screenshot, error)
	GetCase(ctx context.Context, id string) (*models.CaseWithScreenshots, error)
	ListCases(ctx context.Context, ownerID string) ([]models.CaseWithScreenshots, error)
}

// authorize checks that the caller owns ownerID's resources or is an admin.
func authorize(r *http.Request, ownerID string) error {
	c, ok := middleware.GetClaims(r.Context())
	if !ok {
		return apperr.ErrUnauthorized
	}
	if !middleware.CanAccess(c, ownerID) {
		return fmt.Errorf("caller %s on owner %s: %w", c.ID, ownerID, apperr.ErrForbidden)
	}
	return nil
}

// ScreenshotHandler serves screenshot capture, reads, verification and deletion.
type ScreenshotHandler struct {
	Evidence EvidenceService
	Linking  LinkingService
	Log      *zap.Logger
	// MaxCandidateBytes caps the body of an integrity check.
	MaxCandidateBytes int64
}

// CaptureRequest is the JSON payload of a screenshot capture.
type CaptureRequest struct {
	URL    string `json:"url"`
	BlobID string `json:"blobId"`
	SHA256 string `json:"sha256Hash"`
	MD5    string `json:"md5Hash"`
	Notes  string `json:"notes"`
}

// Create records a captured screenshot for the owner in the path.
func (h *ScreenshotHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerId")
	if err := authorize(r, ownerID); err != nil {
		writeError(w, h.Log, err)
		return
	}
	var req CaptureRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	shot, err := h.Evidence.Capture(r.Context(), service.Capture{
		OwnerID: ownerID,
		BlobID:  req.BlobID,
		BlobURL: req.URL,
		SHA256:  req.SHA256,
		MD5:     req.MD5,
		Note:    req.Notes,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeOK(w, http.StatusCreated, "Screenshot saved", envelope{"screenshot": shot})
}

// List returns the owner's screenshots. ?linked=true|false filters by link state.
func (h *ScreenshotHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerId")
	if err := authorize(r, ownerID); err != nil {
		writeError(w, h.Log, err)
		return
	}
	var linked *bool
	if v := r.URL.Query().Get("linked"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, h.Log, apperr.Validation("linked must be true or false"))
			return
		}
		linked = &b
	}
	list, err := h.Evidence.List(r.Context(), ownerID, linked)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeOK(w, http.StatusOK, "Screenshots", envelope{"screenshots": list})
}

// load fetches the screenshot in the path and checks the caller may use it.
func (h *ScreenshotHandler) load(r *http.Request) (*models.Screenshot, error) {
	shot, err := h.Evidence.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if err := authorize(r, shot.OwnerID); err != nil {
		return nil, err
	}
	return shot, nil
}

// Get returns one screenshot.
func (h *ScreenshotHandler) Get(w http.ResponseWriter, r *http.Request) {
	shot, err := h.load(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeOK(w, http.StatusOK, "Screenshot", envelope{"screenshot": shot})
}

// Verify hashes the raw request body and compares it with the recorded digest.
func (h *ScreenshotHandler) Verify(w http.ResponseWriter, r *http.Request) {
	shot, err := h.load(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	body := http.MaxBytesReader(w, r.Body, h.MaxCandidateBytes)
	res, err := h.Evidence.Verify(r.Context(), shot.ID, body)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	msg := "File matches the recorded digest"
	if !res.Match {
		msg = "File does not match the recorded digest"
	}
	writeOK(w, http.StatusOK, msg, envelope{"result": res})
}

// UpdateRequest is the JSON payload of a link reconciliation.
type UpdateRequest struct {
	Linked *bool   `json:"linked"`
	CaseID *string `json:"caseId"`
}

// Update writes linked and caseId when they agree with case membership.
func (h *ScreenshotHandler) Update(w http.ResponseWriter, r *http.Request) {
	shot, err := h.load(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	var req UpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if req.Linked == nil {
		writeError(w, h.Log, apperr.Validation("linked is required"))
		return
	}
	updated, err := h.Linking.Reconcile(r.Context(), shot.ID, *req.Linked, req.CaseID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeOK(w, http.StatusOK, "Screenshot updated", envelope{"screenshot": updated})
}

// Delete removes the screenshot and its stored file.
func (h *ScreenshotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	shot, err := h.load(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if err := h.Linking.OnScreenshotDelete(r.Context(), shot.ID); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeOK(w, http.StatusOK, "Screenshot deleted", nil)
}
