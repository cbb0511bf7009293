package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/zainulabideen041/storink/internal/apperr"
	"github.com/zainulabideen041/storink/internal/models"
	"github.com/zainulabideen041/storink/internal/notify"
	"github.com/zainulabideen041/storink/internal/ratelimit"
)

// ResetRepository stores password-reset codes on trusted identities.
type ResetRepository interface {
	SetResetCode(ctx context.Context, email string, rc models.ResetCode) error
	FindResetCode(ctx context.Context, email string) (*models.ResetCode, error)
	ConsumeResetCode(ctx context.Context, email, code string, passwordHash []byte) error
}

// PasswordResetService lets a trusted identity replace a forgotten password
// using a one-time code sent to its email.
type PasswordResetService struct {
	common
	repo     ResetRepository
	notifier Dispatcher
	limiter  ratelimit.Limiter
	hasher   PasswordHasher
}

// NewPasswordResetService wires a PasswordResetService.
func NewPasswordResetService(
	repo ResetRepository,
	notifier Dispatcher,
	limiter ratelimit.Limiter,
	hasher PasswordHasher,
	opts ...Option,
) *PasswordResetService {
	return &PasswordResetService{
		common:   newCommon("reset", opts),
		repo:     repo,
		notifier: notifier,
		limiter:  limiter,
		hasher:   hasher,
	}
}

func resetKey(email string) string { return "reset:" + email }

// RequestPasswordReset stores a fresh code for email and sends it.
func (s *PasswordResetService) RequestPasswordReset(ctx context.Context, email string) (err error) {
	ctx, span := s.start(ctx, "reset.RequestPasswordReset")
	defer func() { endSpan(span, err) }()

	email = NormalizeEmail(email)
	if email == "" {
		return apperr.Validation("email is required")
	}

	code, err := s.newCode()
	if err != nil {
		return err
	}
	rc := models.ResetCode{Code: code, ExpiresAt: s.now().Add(s.codeTTL)}
	if err := s.repo.SetResetCode(ctx, email, rc); err != nil {
		return err
	}
	if err := s.limiter.Reset(ctx, resetKey(email)); err != nil {
		s.log.Warn("failed to reset password reset attempts", zap.Error(err))
	}

	s.metrics.IncPasswordReset("requested")
	s.notifier.Dispatch(notify.Message{Recipient: email, Purpose: notify.PurposeReset, Code: code})
	return nil
}

// ResetPassword replaces the password when code is the outstanding, unexpired
// reset code. The code is cleared on success.
func (s *PasswordResetService) ResetPassword(ctx context.Context, email, code, password string) (err error) {
	ctx, span := s.start(ctx, "reset.ResetPassword")
	defer func() { endSpan(span, err) }()

	email = NormalizeEmail(email)
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return apperr.Validation("email and code are required")
	}
	if err := validatePassword(password); err != nil {
		return err
	}

	defer func() {
		switch {
		case err == nil:
			s.metrics.IncPasswordReset("ok")
		case errors.Is(err, apperr.ErrInvalidCode):
			s.metrics.IncPasswordReset("invalid")
		}
	}()

	allowed, err := s.limiter.Allow(ctx, resetKey(email))
	if err != nil {
		return fmt.Errorf("count reset attempt: %w: %w", apperr.ErrStorageUnavailable, err)
	}
	if !allowed {
		return fmt.Errorf("too many attempts: %w", apperr.ErrInvalidCode)
	}

	rc, err := s.repo.FindResetCode(ctx, email)
	if err != nil {
		return err
	}
	if s.now().After(rc.ExpiresAt) {
		return fmt.Errorf("code expired: %w", apperr.ErrInvalidCode)
	}
	if subtle.ConstantTimeCompare([]byte(rc.Code), []byte(code)) != 1 {
		return fmt.Errorf("code mismatch: %w", apperr.ErrInvalidCode)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	if err := s.repo.ConsumeResetCode(ctx, email, code, hash); err != nil {
		return err
	}
	if err := s.limiter.Reset(ctx, resetKey(email)); err != nil {
		s.log.Warn("failed to reset password reset attempts", zap.Error(err))
	}
	s.log.Info("password reset")
	return nil
}
