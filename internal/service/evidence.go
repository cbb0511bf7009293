package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/zainulabideen041/storink/internal/apperr"
	"github.com/zainulabideen041/storink/internal/integrity"
	"github.com/zainulabideen041/storink/internal/models"
)

// EvidenceRepository is the screenshot persistence used by the evidence and
// linking services.
type EvidenceRepository interface {
	CreateScreenshot(ctx context.Context, s models.Screenshot) error
	GetScreenshot(ctx context.Context, id string) (*models.Screenshot, error)
	ListScreenshots(ctx context.Context, f models.ScreenshotFilter) ([]models.Screenshot, error)
	DeleteScreenshot(ctx context.Context, id string) (bool, error)
	ReconcileLink(ctx context.Context, id string, linked bool, caseID *string) (*models.Screenshot, error)
}

// BlobOwners reports who uploaded a stored blob.
type BlobOwners interface {
	Owner(ctx context.Context, id string) (string, error)
}

// Capture is a screenshot registration. Digests are computed by the client
// over the raw bytes before upload.
type Capture struct {
	OwnerID string
	BlobID  string
	BlobURL string
	SHA256  string
	MD5     string
	Note    string
}

// EvidenceService is the screenshot ledger. It records client-supplied
// digests and later checks candidate files against them.
type EvidenceService struct {
	common
	repo  EvidenceRepository
	blobs BlobOwners
}

// NewEvidenceService wires an EvidenceService.
func NewEvidenceService(repo EvidenceRepository, blobs BlobOwners, opts ...Option) *EvidenceService {
	return &EvidenceService{common: newCommon("evidence", opts), repo: repo, blobs: blobs}
}

// Capture stores a new unlinked screenshot. The blob must have been uploaded
// by the owner and not be recorded by another screenshot.
func (s *EvidenceService) Capture(ctx context.Context, c Capture) (_ *models.Screenshot, err error) {
	ctx, span := s.start(ctx, "evidence.Capture")
	defer func() { endSpan(span, err) }()

	shot := models.Screenshot{
		ID:         uuid.NewString(),
		OwnerID:    c.OwnerID,
		BlobID:     strings.TrimSpace(c.BlobID),
		URL:        strings.TrimSpace(c.BlobURL),
		SHA256:     integrity.Normalize(c.SHA256),
		MD5:        integrity.Normalize(c.MD5),
		CapturedAt: s.now().UTC(),
		Note:       c.Note,
	}
	switch {
	case shot.BlobID == "" || shot.URL == "":
		return nil, apperr.Validation("blob id and url are required")
	case shot.SHA256 == "" || shot.MD5 == "":
		return nil, apperr.Validation("sha256 and md5 digests are required")
	case !integrity.ValidSHA256(shot.SHA256):
		return nil, apperr.Validation("sha256 digest must be 64 hex characters")
	case !integrity.ValidMD5(shot.MD5):
		return nil, apperr.Validation("md5 digest must be 32 hex characters")
	}

	holder, err := s.blobs.Owner(ctx, shot.BlobID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return nil, apperr.Validation("blobId does not refer to a stored file")
	case err != nil:
		return nil, err
	case holder != shot.OwnerID:
		return nil, fmt.Errorf("blob %s held by %q, not %s: %w", shot.BlobID, holder, shot.OwnerID, apperr.ErrForbidden)
	}

	if err := s.repo.CreateScreenshot(ctx, shot); err != nil {
		return nil, err
	}
	s.metrics.IncCapture()
	s.log.Info("screenshot captured", zap.String("screenshot_id", shot.ID), zap.String("owner_id", shot.OwnerID))
	return &shot, nil
}

// Get returns one screenshot.
func (s *EvidenceService) Get(ctx context.Context, id string) (*models.Screenshot, error) {
	if !validID(id) {
		return nil, apperr.NotFound("screenshot not found")
	}
	shot, err := s.repo.GetScreenshot(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, "screenshot not found")
	}
	return shot, nil
}

// List returns the owner's screenshots newest first. linked, when non-nil,
// filters on link state.
func (s *EvidenceService) List(ctx context.Context, ownerID string, linked *bool) ([]models.Screenshot, error) {
	return s.repo.ListScreenshots(ctx, models.ScreenshotFilter{OwnerID: ownerID, Linked: linked})
}

// Verify hashes candidate and compares it with the digest recorded at capture.
func (s *EvidenceService) Verify(ctx context.Context, id string, candidate io.Reader) (_ *models.IntegrityResult, err error) {
	ctx, span := s.start(ctx, "evidence.Verify")
	defer func() { endSpan(span, err) }()

	shot, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	match, actual, err := integrity.Verify(shot.SHA256, candidate)
	if err != nil {
		return nil, apperr.Validation("could not read candidate file")
	}

	res := &models.IntegrityResult{
		ScreenshotID: shot.ID,
		Match:        match,
		Expected:     shot.SHA256,
		Actual:       actual,
	}
	span.SetAttributes(attribute.Bool("match", res.Match))
	s.metrics.IncIntegrityCheck(res.Match)
	if !res.Match {
		s.log.Warn("integrity mismatch", zap.String("screenshot_id", shot.ID))
	}
	return res, nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
