// Package http provides the HTTP handlers and routing of the evidence server.
package http

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/zainulabideen041/storink/internal/apperr"
	"github.com/zainulabideen041/storink/internal/middleware"
	"github.com/zainulabideen041/storink/internal/models"
	"github.com/zainulabideen041/storink/internal/service"
)

// OnboardingService defines the account lifecycle operations required by the
// auth and user handlers.
type OnboardingService interface {
	Register(ctx context.Context, r service.Registration) (*models.PendingIdentity, error)
	VerifyEmail(ctx context.Context, email, code string) error
	Authenticate(ctx context.Context, email, password string) (string, *models.TrustedIdentity, error)
	CreateTrustedDirectly(ctx context.Context, r service.Registration, role models.Role) (*models.TrustedIdentity, error)
	Decide(ctx context.Context, email string, approve bool) (*models.TrustedIdentity, error)
	ListPending(ctx context.Context, state string) ([]models.PendingIdentity, error)
	ListApproved(ctx context.Context) ([]models.TrustedIdentity, error)
	GetTrusted(ctx context.Context, id string) (*models.TrustedIdentity, error)
	DeleteAllPending(ctx context.Context) (int64, error)
	DeleteUnverifiedPending(ctx context.Context) (int64, error)
}

// AuthHandler handles registration, verification and login.
type AuthHandler struct {
	Onboarding OnboardingService
	Log        *zap.Logger
	// AllowAdminBootstrap enables POST /auth/create/admin.
	AllowAdminBootstrap bool
}

// RegisterRequest is the JSON payload of a registration.
type RegisterRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	Identity     string `json:"identity"`
	JobTitle     string `json:"jobTitle"`
	UsagePurpose string `json:"usagePurpose"`
}

func (r RegisterRequest) registration() service.Registration {
	return service.Registration{
		Profile: models.Profile{
			Name:         r.Name,
			Email:        r.Email,
			Identity:     r.Identity,
			JobTitle:     r.JobTitle,
			UsagePurpose: r.UsagePurpose,
		},
		Password: r.Password,
	}
}

// Register starts onboarding and sends the verification code.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if _, err := h.Onboarding.Register(r.Context(), req.registration()); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeOK(w, http.StatusOK,
		"Verification code sent to your email. Please verify to complete registration.", nil)
}

// VerifyEmail consumes the code sent at registration.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if err := h.Onboarding.VerifyEmail(r.Context(), req.Email, req.Code); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeOK(w, http.StatusOK, "Email verified. Please wait for administrator approval.", nil)
}

// Login authenticates a trusted identity and returns a session token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	signed, t, err := h.Onboarding.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeOK(w, http.StatusOK, "Login successful", envelope{
		"token": signed,
		"user":  models.Claims{ID: t.ID, Name: t.Name, Email: t.Email, Role: t.Role},
	})
}

// Logout acknowledges a logout. Tokens are stateless; the client drops its copy.
func (h *AuthHandler) Logout(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, http.StatusOK, "Logged out successfully", nil)
}

// CreateAdmin creates a trusted admin identity without onboarding.
func (h *AuthHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	if !h.AllowAdminBootstrap {
		writeError(w, h.Log, apperr.NotFound("admin bootstrap is disabled"))
		return
	}
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	t, err := h.Onboarding.CreateTrustedDirectly(r.Context(), req.registration(), models.RoleAdmin)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.Log.Info("admin identity bootstrapped", zap.String("user_id", t.ID))
	writeOK(w, http.StatusCreated, "Admin created", envelope{"user": t})
}

// CheckAuth returns the caller's token claims.
func (h *AuthHandler) CheckAuth(w http.ResponseWriter, r *http.Request) {
	c, ok := middleware.GetClaims(r.Context())
	if !ok {
		writeError(w, h.Log, apperr.ErrUnauthorized)
		return
	}
	writeOK(w, http.StatusOK, "Authenticated user!", envelope{"user": c})
}
