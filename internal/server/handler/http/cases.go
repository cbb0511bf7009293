package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zainulabideen041/storink/internal/models"
	"github.com/zainulabideen041/storink/internal/service"
)

// CaseHandler serves case creation, reads and deletion.
type CaseHandler struct {
	Linking LinkingService
	Log     *zap.Logger
}

// CreateCaseRequest is the JSON payload of a case creation.
type CreateCaseRequest struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	ScreenshotIDs []string `json:"screenshotIds"`
}

// Create creates a case for the owner in the path and links its screenshots.
func (h *CaseHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerId")
	if err := authorize(r, ownerID); err != nil {
		writeError(w, h.Log, err)
		return
	}
	var req CreateCaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	c, err := h.Linking.OnCaseCreate(r.Context(), service.NewCase{
		OwnerID:       ownerID,
		Title:         req.Title,
		Description:   req.Description,
		ScreenshotIDs: req.ScreenshotIDs,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeOK(w, http.StatusCreated, "Case created", envelope{"case": c})
}

// List returns the owner's cases with their live screenshots.
func (h *CaseHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerId")
	if err := authorize(r, ownerID); err != nil {
		writeError(w, h.Log, err)
		return
	}
	list, err := h.Linking.ListCases(r.Context(), ownerID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeOK(w, http.StatusOK, "Cases", envelope{"cases": list})
}

func (h *CaseHandler) load(r *http.Request) (*models.CaseWithScreenshots, error) {
	c, err := h.Linking.GetCase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if err := authorize(r, c.OwnerID); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns one case.
func (h *CaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.load(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeOK(w, http.StatusOK, "Case", envelope{"case": c})
}

// Delete unlinks the case's screenshots and deletes the case.
func (h *CaseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	c, err := h.load(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if err := h.Linking.OnCaseDelete(r.Context(), c.ID); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeOK(w, http.StatusOK, "Case deleted", nil)
}
