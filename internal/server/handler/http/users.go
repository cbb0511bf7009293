package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// UserHandler serves the administrator views of onboarding.
type UserHandler struct {
	Onboarding OnboardingService
	Log        *zap.Logger
}

// Pendings lists pending registrations, optionally filtered by ?state=.
func (h *UserHandler) Pendings(w http.ResponseWriter, r *http.Request) {
	list, err := h.Onboarding.ListPending(r.Context(), r.URL.Query().Get("state"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeOK(w, http.StatusOK, "Pending users", envelope{"users": list})
}

// Approved lists identities created by approval.
func (h *UserHandler) Approved(w http.ResponseWriter, r *http.Request) {
	list, err := h.Onboarding.ListApproved(r.Context())
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeOK(w, http.StatusOK, "Approved users", envelope{"users": list})
}

// Details returns one trusted identity.
func (h *UserHandler) Details(w http.ResponseWriter, r *http.Request) {
	t, err := h.Onboarding.GetTrusted(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeOK(w, http.StatusOK, "User details", envelope{"user": t})
}

// DecideRequest is the JSON payload of an onboarding decision.
type DecideRequest struct {
	Email    string `json:"email"`
	Approved bool   `json:"approved"`
}

// Approve applies an administrator decision to a pending registration.
func (h *UserHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req DecideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	t, err := h.Onboarding.Decide(r.Context(), req.Email, req.Approved)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if !req.Approved {
		writeOK(w, http.StatusOK, "Registration rejected", nil)
		return
	}
	writeOK(w, http.StatusOK, "User approved", envelope{"user": t})
}

// DeleteAllPending removes every pending registration.
func (h *UserHandler) DeleteAllPending(w http.ResponseWriter, r *http.Request) {
	h.deleteWith(w, r, h.Onboarding.DeleteAllPending)
}

// DeleteUnverified removes pending registrations that never verified their email.
func (h *UserHandler) DeleteUnverified(w http.ResponseWriter, r *http.Request) {
	h.deleteWith(w, r, h.Onboarding.DeleteUnverifiedPending)
}

func (h *UserHandler) deleteWith(w http.ResponseWriter, r *http.Request, del func(context.Context) (int64, error)) {
	n, err := del(r.Context())
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeOK(w, http.StatusOK, "Pending users deleted", envelope{"deletedCount": n})
}
