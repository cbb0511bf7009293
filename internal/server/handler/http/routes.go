package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zainulabideen041/storink/internal/metrics"
	"github.com/zainulabideen041/storink/internal/middleware"
)

// Handlers groups every handler mounted by NewRouter.
type Handlers struct {
	Auth        *AuthHandler
	Reset       *ResetHandler
	Users       *UserHandler
	Screenshots *ScreenshotHandler
	Cases       *CaseHandler
	Blobs       *BlobHandler
	Health      *HealthHandler

	// MaxBodyBytes, when positive, bounds every request body.
	MaxBodyBytes int64
}

// NewRouter constructs the HTTP handler of the server.
//
// Middleware chain (applied in order):
//  1. RequestID and Recoverer
//  2. WithRequestLogging(logger, m)
//  3. RequestSize(h.MaxBodyBytes)
//  4. BearerAuth on every route except onboarding, login, reset and health
//  5. RequireAdmin on /user
//
// JSON routes reject other content types; blob upload and integrity checks
// take raw bytes.
func NewRouter(h Handlers, verifier middleware.TokenVerifier, logger *zap.Logger, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.WithRequestLogging(logger, m))
	if h.MaxBodyBytes > 0 {
		r.Use(chiMiddleware.RequestSize(h.MaxBodyBytes))
	}

	jsonOnly := chiMiddleware.AllowContentType("application/json")
	auth := middleware.BearerAuth(verifier, logger)

	r.Get("/healthz", h.Health.Healthz)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Route("/auth", func(r chi.Router) {
		r.With(jsonOnly).Post("/register", h.Auth.Register)
		r.With(jsonOnly).Post("/verify-email", h.Auth.VerifyEmail)
		r.With(jsonOnly).Post("/login", h.Auth.Login)
		r.Post("/logout", h.Auth.Logout)
		r.With(jsonOnly).Post("/create/admin", h.Auth.CreateAdmin)
		r.With(auth).Get("/check-auth", h.Auth.CheckAuth)
	})

	r.Route("/reset-pass", func(r chi.Router) {
		r.Use(jsonOnly)
		r.Post("/send-code", h.Reset.SendCode)
		r.Post("/reset", h.Reset.ResetPassword)
	})

	r.Route("/user", func(r chi.Router) {
		r.Use(auth, middleware.RequireAdmin)
		r.Get("/pendings", h.Users.Pendings)
		r.Get("/approved", h.Users.Approved)
		r.Get("/details/{id}", h.Users.Details)
		r.With(jsonOnly).Put("/approve", h.Users.Approve)
		r.Delete("/del-pending-all", h.Users.DeleteAllPending)
		r.Delete("/del-all-unverified", h.Users.DeleteUnverified)
	})

	r.Route("/blob", func(r chi.Router) {
		r.Use(auth)
		r.Post("/upload", h.Blobs.Upload)
		r.Get("/{id}", h.Blobs.Get)
		r.With(middleware.RequireAdmin).Delete("/delete/{id}", h.Blobs.Delete)
	})

	r.Route("/screenshot", func(r chi.Router) {
		r.Use(auth)
		r.With(jsonOnly).Post("/create/{ownerId}", h.Screenshots.Create)
		r.Get("/get-all/{ownerId}", h.Screenshots.List)
		r.Get("/get/{id}", h.Screenshots.Get)
		r.Post("/verify/{id}", h.Screenshots.Verify)
		r.With(jsonOnly).Put("/update/{id}", h.Screenshots.Update)
		r.Delete("/delete/{id}", h.Screenshots.Delete)
	})

	r.Route("/case", func(r chi.Router) {
		r.Use(auth)
		r.With(jsonOnly).Post("/create/{ownerId}", h.Cases.Create)
		r.Get("/get-all/{ownerId}", h.Cases.List)
		r.Get("/get/{id}", h.Cases.Get)
		r.Delete("/delete/{id}", h.Cases.Delete)
	})

	return r
}
