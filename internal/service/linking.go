package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/zainulabideen041/storink/internal/apperr"
	"github.com/zainulabideen041/storink/internal/models"
)

// CaseRepository is the case persistence used by LinkingService. CreateCase and
// DeleteCase keep screenshot link state in step with membership.
type CaseRepository interface {
	CreateCase(ctx context.Context, c models.Case) error
	DeleteCase(ctx context.Context, id string) (int64, error)
	GetCase(ctx context.Context, id string) (*models.CaseWithScreenshots, error)
	ListCases(ctx context.Context, ownerID string) ([]models.CaseWithScreenshots, error)
}

// BlobDeleter removes stored evidence bytes.
type BlobDeleter interface {
	Delete(ctx context.Context, id string) error
}

// NewCase is a case creation request.
type NewCase struct {
	OwnerID       string
	Title         string
	Description   string
	ScreenshotIDs []string
}

// LinkingService creates and deletes cases and screenshots so that a
// screenshot is linked exactly when one case lists it.
type LinkingService struct {
	common
	cases    CaseRepository
	evidence EvidenceRepository
	blobs    BlobDeleter
}

// NewLinkingService wires a LinkingService.
func NewLinkingService(cases CaseRepository, evidence EvidenceRepository, blobs BlobDeleter, opts ...Option) *LinkingService {
	return &LinkingService{
		common:   newCommon("linking", opts),
		cases:    cases,
		evidence: evidence,
		blobs:    blobs,
	}
}

// OnCaseCreate creates an active case over the given screenshots and links
// them. Nothing is written unless every screenshot can be linked.
func (s *LinkingService) OnCaseCreate(ctx context.Context, req NewCase) (_ *models.Case, err error) {
	ctx, span := s.start(ctx, "linking.OnCaseCreate")
	span.SetAttributes(attribute.Int("screenshots", len(req.ScreenshotIDs)))
	defer func() { endSpan(span, err) }()

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, apperr.Validation("title is required")
	}
	if len(req.ScreenshotIDs) == 0 {
		return nil, apperr.Validation("at least one screenshot is required")
	}
	seen := make(map[string]struct{}, len(req.ScreenshotIDs))
	for _, id := range req.ScreenshotIDs {
		if !validID(id) {
			return nil, apperr.Validation("screenshot id %q is malformed", id)
		}
		if _, dup := seen[id]; dup {
			return nil, apperr.Validation("screenshot %s is listed twice", id)
		}
		seen[id] = struct{}{}
	}

	c := models.Case{
		ID:            uuid.NewString(),
		OwnerID:       req.OwnerID,
		Title:         title,
		Description:   strings.TrimSpace(req.Description),
		Status:        models.CaseActive,
		ScreenshotIDs: append([]string(nil), req.ScreenshotIDs...),
		CreatedAt:     s.now().UTC(),
	}
	if err := s.cases.CreateCase(ctx, c); err != nil {
		return nil, err
	}
	s.metrics.IncCaseCreated()
	s.log.Info("case created", zap.String("case_id", c.ID), zap.Int("screenshots", len(c.ScreenshotIDs)))
	return &c, nil
}

// OnCaseDelete unlinks the case's screenshots and deletes the case.
func (s *LinkingService) OnCaseDelete(ctx context.Context, id string) (err error) {
	ctx, span := s.start(ctx, "linking.OnCaseDelete")
	defer func() { endSpan(span, err) }()

	if !validID(id) {
		return apperr.NotFound("case not found")
	}
	n, err := s.cases.DeleteCase(ctx, id)
	if err != nil {
		return notFoundAs(err, "case not found")
	}
	s.metrics.IncCaseDeleted()
	s.log.Info("case deleted", zap.String("case_id", id), zap.Int64("unlinked", n))
	return nil
}

// OnScreenshotDelete removes the stored blob, then the record. A blob that
// cannot be removed is logged and left behind. A record that vanished after
// the lookup counts as deleted.
func (s *LinkingService) OnScreenshotDelete(ctx context.Context, id string) (err error) {
	ctx, span := s.start(ctx, "linking.OnScreenshotDelete")
	defer func() { endSpan(span, err) }()

	if !validID(id) {
		return apperr.NotFound("screenshot not found")
	}
	shot, err := s.evidence.GetScreenshot(ctx, id)
	if err != nil {
		return notFoundAs(err, "screenshot not found")
	}

	if err := s.blobs.Delete(ctx, shot.BlobID); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		s.log.Warn("failed to delete blob", zap.String("blob_id", shot.BlobID), zap.Error(err))
	}

	deleted, err := s.evidence.DeleteScreenshot(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		s.log.Debug("screenshot already gone", zap.String("screenshot_id", id))
	}
	return nil
}

// Reconcile writes linked and caseID on a screenshot when they agree with case
// membership. Any other combination is refused.
func (s *LinkingService) Reconcile(ctx context.Context, id string, linked bool, caseID *string) (_ *models.Screenshot, err error) {
	ctx, span := s.start(ctx, "linking.Reconcile")
	defer func() { endSpan(span, err) }()

	if !validID(id) {
		return nil, apperr.NotFound("screenshot not found")
	}
	if caseID != nil && !validID(*caseID) {
		return nil, apperr.Validation("caseId is malformed")
	}
	shot, err := s.evidence.ReconcileLink(ctx, id, linked, caseID)
	if err != nil {
		return nil, notFoundAs(err, "screenshot not found")
	}
	return shot, nil
}

// GetCase returns a case with its live membership.
func (s *LinkingService) GetCase(ctx context.Context, id string) (*models.CaseWithScreenshots, error) {
	if !validID(id) {
		return nil, apperr.NotFound("case not found")
	}
	c, err := s.cases.GetCase(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, "case not found")
	}
	return c, nil
}

// ListCases returns the owner's cases newest first.
func (s *LinkingService) ListCases(ctx context.Context, ownerID string) ([]models.CaseWithScreenshots, error) {
	return s.cases.ListCases(ctx, ownerID)
}
