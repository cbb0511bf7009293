package http

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// ResetService defines the password reset operations.
type ResetService interface {
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, password string) error
}

// ResetHandler handles forgotten-password requests.
type ResetHandler struct {
	Reset ResetService
	Log   *zap.Logger
}

// SendCode emails a reset code to a trusted identity.
func (h *ResetHandler) SendCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if err := h.Reset.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeOK(w, http.StatusOK, "Reset code sent to your email", nil)
}

// ResetPassword replaces the password using the emailed code.
func (h *ResetHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		Code        string `json:"code"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if err := h.Reset.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeOK(w, http.StatusOK, "Password reset successfully", nil)
}
