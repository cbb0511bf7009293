package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/zainulabideen041/storink/internal/apperr"
	"github.com/zainulabideen041/storink/internal/models"
	"github.com/zainulabideen041/storink/internal/notify"
	"github.com/zainulabideen041/storink/internal/ratelimit"
)

// IdentityRepository is the persistence needed by OnboardingService.
type IdentityRepository interface {
	CreatePending(ctx context.Context, p models.PendingIdentity) error
	FindPendingByEmail(ctx context.Context, email string) (*models.PendingIdentity, error)
	MarkEmailVerified(ctx context.Context, id string) error
	ApprovePending(ctx context.Context, email, trustedID string, now time.Time) (*models.TrustedIdentity, error)
	RejectPending(ctx context.Context, email string) error
	CreateTrusted(ctx context.Context, t models.TrustedIdentity) error
	FindTrustedByEmail(ctx context.Context, email string) (*models.TrustedIdentity, error)
	GetTrusted(ctx context.Context, id string) (*models.TrustedIdentity, error)
	ListPending(ctx context.Context, state models.PendingState) ([]models.PendingIdentity, error)
	ListTrusted(ctx context.Context, role models.Role) ([]models.TrustedIdentity, error)
	DeleteAllPending(ctx context.Context) (int64, error)
	DeleteUnverifiedPending(ctx context.Context) (int64, error)
}

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(c models.Claims) (string, error)
}

// Dispatcher queues notifications without waiting for delivery.
type Dispatcher interface {
	Dispatch(m notify.Message)
}

// Registration is the self-registration request.
type Registration struct {
	models.Profile
	Password string
}

// OnboardingService runs the account lifecycle: register, verify the email
// code, wait for an administrator decision, then authenticate.
type OnboardingService struct {
	common
	repo     IdentityRepository
	tokens   TokenIssuer
	notifier Dispatcher
	limiter  ratelimit.Limiter
	hasher   PasswordHasher
}

// NewOnboardingService wires an OnboardingService.
func NewOnboardingService(
	repo IdentityRepository,
	tokens TokenIssuer,
	notifier Dispatcher,
	limiter ratelimit.Limiter,
	hasher PasswordHasher,
	opts ...Option,
) *OnboardingService {
	return &OnboardingService{
		common:   newCommon("onboarding", opts),
		repo:     repo,
		tokens:   tokens,
		notifier: notifier,
		limiter:  limiter,
		hasher:   hasher,
	}
}

func normalizeProfile(p models.Profile) models.Profile {
	return models.Profile{
		Name:         strings.TrimSpace(p.Name),
		Email:        NormalizeEmail(p.Email),
		Identity:     strings.TrimSpace(p.Identity),
		JobTitle:     strings.TrimSpace(p.JobTitle),
		UsagePurpose: strings.TrimSpace(p.UsagePurpose),
	}
}

func validateRegistration(p models.Profile, password string) error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"name", p.Name},
		{"email", p.Email},
		{"password", password},
		{"identity", p.Identity},
		{"jobTitle", p.JobTitle},
		{"usagePurpose", p.UsagePurpose},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return apperr.Validation("missing required fields: %s", strings.Join(missing, ", "))
	}
	if !validEmail(p.Email) {
		return apperr.Validation("email is not a valid address")
	}
	return validatePassword(password)
}

// Register stores a pending identity and sends its verification code. An
// earlier pending record for the same email is replaced.
func (s *OnboardingService) Register(ctx context.Context, r Registration) (_ *models.PendingIdentity, err error) {
	ctx, span := s.start(ctx, "onboarding.Register")
	defer func() { endSpan(span, err) }()

	profile := normalizeProfile(r.Profile)
	if err := validateRegistration(profile, r.Password); err != nil {
		return nil, err
	}

	_, err = s.repo.FindTrustedByEmail(ctx, profile.Email)
	switch {
	case err == nil:
		return nil, apperr.Conflict("email already registered")
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}

	hash, err := s.hasher.Hash(r.Password)
	if err != nil {
		return nil, err
	}
	code, err := s.newCode()
	if err != nil {
		return nil, err
	}

	now := s.now()
	p := models.PendingIdentity{
		ID:            uuid.NewString(),
		Profile:       profile,
		PasswordHash:  hash,
		Code:          code,
		CodeExpiresAt: now.Add(s.codeTTL),
		State:         models.PendingUnverified,
		CreatedAt:     now,
	}
	if err := s.repo.CreatePending(ctx, p); err != nil {
		return nil, err
	}
	if err := s.limiter.Reset(ctx, verifyKey(p.Email)); err != nil {
		s.log.Warn("failed to reset verification attempts", zap.Error(err))
	}

	s.metrics.IncRegistration()
	s.notifier.Dispatch(notify.Message{Recipient: p.Email, Purpose: notify.PurposeVerify, Code: code})
	s.log.Info("registration pending verification", zap.String("pending_id", p.ID))
	return &p, nil
}

func verifyKey(email string) string { return "verify:" + email }

// VerifyEmail consumes the one-time code of a pending registration.
// Every failure, including too many attempts, is apperr.ErrInvalidCode.
func (s *OnboardingService) VerifyEmail(ctx context.Context, email, code string) (err error) {
	ctx, span := s.start(ctx, "onboarding.VerifyEmail")
	defer func() { endSpan(span, err) }()

	email = NormalizeEmail(email)
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return apperr.Validation("email and code are required")
	}

	defer func() {
		if err == nil {
			s.metrics.IncVerification("ok")
		} else if errors.Is(err, apperr.ErrInvalidCode) {
			s.metrics.IncVerification("invalid")
		}
	}()

	allowed, err := s.limiter.Allow(ctx, verifyKey(email))
	if err != nil {
		return fmt.Errorf("count verification attempt: %w: %w", apperr.ErrStorageUnavailable, err)
	}
	if !allowed {
		return fmt.Errorf("too many attempts: %w", apperr.ErrInvalidCode)
	}

	p, err := s.repo.FindPendingByEmail(ctx, email)
	if errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("no pending registration: %w", apperr.ErrInvalidCode)
	}
	if err != nil {
		return err
	}

	switch {
	case p.State != models.PendingUnverified:
		return fmt.Errorf("already verified: %w", apperr.ErrInvalidCode)
	case s.now().After(p.CodeExpiresAt):
		return fmt.Errorf("code expired: %w", apperr.ErrInvalidCode)
	case subtle.ConstantTimeCompare([]byte(p.Code), []byte(code)) != 1:
		return fmt.Errorf("code mismatch: %w", apperr.ErrInvalidCode)
	}

	if err := s.repo.MarkEmailVerified(ctx, p.ID); err != nil {
		return err
	}
	if err := s.limiter.Reset(ctx, verifyKey(email)); err != nil {
		s.log.Warn("failed to reset verification attempts", zap.Error(err))
	}
	s.log.Info("email verified", zap.String("pending_id", p.ID))
	return nil
}

// Decide approves or rejects the pending registration for email. Approval
// requires a verified email and creates a trusted identity with role user.
func (s *OnboardingService) Decide(ctx context.Context, email string, approve bool) (_ *models.TrustedIdentity, err error) {
	ctx, span := s.start(ctx, "onboarding.Decide")
	span.SetAttributes(attribute.Bool("approve", approve))
	defer func() { endSpan(span, err) }()

	email = NormalizeEmail(email)
	if email == "" {
		return nil, apperr.Validation("email is required")
	}

	defer func() {
		switch {
		case err == nil && approve:
			s.metrics.IncDecision("approved")
		case err == nil:
			s.metrics.IncDecision("rejected")
		case errors.Is(err, apperr.ErrNotFound):
			s.metrics.IncDecision("not_found")
		case errors.Is(err, apperr.ErrConflict):
			s.metrics.IncDecision("conflict")
		}
	}()

	if !approve {
		if err := s.repo.RejectPending(ctx, email); err != nil {
			return nil, notFoundAs(err, "no pending registration for this email")
		}
		s.log.Info("registration rejected")
		return nil, nil
	}

	t, err := s.repo.ApprovePending(ctx, email, uuid.NewString(), s.now())
	if err != nil {
		return nil, notFoundAs(err, "no pending registration for this email")
	}
	s.log.Info("registration approved", zap.String("user_id", t.ID))
	return t, nil
}

// notFoundAs replaces a bare not-found error with one carrying msg.
func notFoundAs(err error, msg string) error {
	if errors.Is(err, apperr.ErrNotFound) && apperr.PublicMessage(err, "") == "" {
		return fmt.Errorf("%w: %w", apperr.NotFound("%s", msg), err)
	}
	return err
}

// Authenticate checks the credential and issues a session token.
func (s *OnboardingService) Authenticate(ctx context.Context, email, password string) (_ string, _ *models.TrustedIdentity, err error) {
	ctx, span := s.start(ctx, "onboarding.Authenticate")
	defer func() { endSpan(span, err) }()

	defer func() {
		switch {
		case err == nil:
			s.metrics.IncLogin("ok")
		case errors.Is(err, apperr.ErrPendingApproval):
			s.metrics.IncLogin("pending")
		case errors.Is(err, apperr.ErrInvalidCredential), errors.Is(err, apperr.ErrValidation):
			s.metrics.IncLogin("invalid")
		}
	}()

	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return "", nil, apperr.Validation("email and password are required")
	}

	t, err := s.repo.FindTrustedByEmail(ctx, email)
	if errors.Is(err, apperr.ErrNotFound) {
		if b, ok := s.hasher.(interface{ Burn(string) }); ok {
			b.Burn(password)
		}
		if _, perr := s.repo.FindPendingByEmail(ctx, email); perr == nil {
			return "", nil, apperr.ErrPendingApproval
		} else if !errors.Is(perr, apperr.ErrNotFound) {
			return "", nil, perr
		}
		return "", nil, apperr.ErrInvalidCredential
	}
	if err != nil {
		return "", nil, err
	}

	if err := s.hasher.Compare(t.PasswordHash, password); err != nil {
		return "", nil, err
	}

	signed, err := s.tokens.Issue(models.Claims{ID: t.ID, Name: t.Name, Email: t.Email, Role: t.Role})
	if err != nil {
		return "", nil, err
	}
	return signed, t, nil
}

// CreateTrustedDirectly inserts a trusted identity without onboarding,
// superseding any pending registration for the same email.
func (s *OnboardingService) CreateTrustedDirectly(ctx context.Context, r Registration, role models.Role) (_ *models.TrustedIdentity, err error) {
	ctx, span := s.start(ctx, "onboarding.CreateTrustedDirectly")
	defer func() { endSpan(span, err) }()

	profile := normalizeProfile(r.Profile)
	if err := validateRegistration(profile, r.Password); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, apperr.Validation("unknown role %q", role)
	}

	hash, err := s.hasher.Hash(r.Password)
	if err != nil {
		return nil, err
	}
	t := models.TrustedIdentity{
		ID:           uuid.NewString(),
		Profile:      profile,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    s.now(),
	}
	if err := s.repo.CreateTrusted(ctx, t); err != nil {
		return nil, err
	}
	s.log.Info("trusted identity created", zap.String("user_id", t.ID), zap.String("role", string(role)))
	return &t, nil
}

// ListPending lists pending registrations, optionally filtered by state.
func (s *OnboardingService) ListPending(ctx context.Context, state string) ([]models.PendingIdentity, error) {
	st := models.PendingState(strings.TrimSpace(state))
	if st != "" && !st.Valid() {
		return nil, apperr.Validation("unknown state %q", state)
	}
	return s.repo.ListPending(ctx, st)
}

// ListApproved lists identities created by onboarding approval.
func (s *OnboardingService) ListApproved(ctx context.Context) ([]models.TrustedIdentity, error) {
	return s.repo.ListTrusted(ctx, models.RoleUser)
}

// GetTrusted returns one trusted identity.
func (s *OnboardingService) GetTrusted(ctx context.Context, id string) (*models.TrustedIdentity, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.NotFound("user not found")
	}
	t, err := s.repo.GetTrusted(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, "user not found")
	}
	return t, nil
}

// DeleteAllPending removes every pending registration.
func (s *OnboardingService) DeleteAllPending(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteAllPending(ctx)
	if err != nil {
		return 0, err
	}
	s.log.Info("deleted pending registrations", zap.Int64("count", n))
	return n, nil
}

// DeleteUnverifiedPending removes pending registrations whose email was never verified.
func (s *OnboardingService) DeleteUnverifiedPending(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteUnverifiedPending(ctx)
	if err != nil {
		return 0, err
	}
	s.log.Info("deleted unverified registrations", zap.Int64("count", n))
	return n, nil
}
