package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/zainulabideen041/storink/internal/apperr"
	"github.com/zainulabideen041/storink/internal/blob"
	"github.com/zainulabideen041/storink/internal/models"
	"github.com/zainulabideen041/storink/internal/service"
)

const (
	userID  = "6f1c2c1e-6a55-4d0e-9d7a-0b1f3d1c9a10"
	otherID = "1d2c3b4a-5e6f-4a7b-8c9d-0e1f2a3b4c5d"
	adminID = "aa11bb22-cc33-4d44-8e55-ff6677889900"
	shotID  = "0e4a7c2b-1f3d-4b55-8a6c-2d9e1f0a7b31"
	caseID  = "9b2d7e4f-3c1a-4e8b-a5d6-7f0c1e2b3a49"
)

// fakeOnboarding implements OnboardingService for testing.
type fakeOnboarding struct {
	registerErr error
	registered  service.Registration
	verifyErr   error
	token       string
	trusted     *models.TrustedIdentity
	authErr     error
	createErr   error
	decideErr   error
	decided     *DecideRequest
	pending     []models.PendingIdentity
	listErr     error
	state       string
	deleted     int64
}

func (f *fakeOnboarding) Register(_ context.Context, r service.Registration) (*models.PendingIdentity, error) {
	f.registered = r
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return &models.PendingIdentity{Profile: r.Profile, State: models.PendingUnverified}, nil
}

func (f *fakeOnboarding) VerifyEmail(context.Context, string, string) error { return f.verifyErr }

func (f *fakeOnboarding) Authenticate(context.Context, string, string) (string, *models.TrustedIdentity, error) {
	return f.token, f.trusted, f.authErr
}

func (f *fakeOnboarding) CreateTrustedDirectly(_ context.Context, r service.Registration, role models.Role) (*models.TrustedIdentity, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &models.TrustedIdentity{ID: adminID, Profile: r.Profile, Role: role}, nil
}

func (f *fakeOnboarding) Decide(_ context.Context, email string, approve bool) (*models.TrustedIdentity, error) {
	f.decided = &DecideRequest{Email: email, Approved: approve}
	if f.decideErr != nil {
		return nil, f.decideErr
	}
	if !approve {
		return nil, nil
	}
	return &models.TrustedIdentity{ID: userID, Profile: models.Profile{Email: email}, Role: models.RoleUser}, nil
}

func (f *fakeOnboarding) ListPending(_ context.Context, state string) ([]models.PendingIdentity, error) {
	f.state = state
	return f.pending, f.listErr
}

func (f *fakeOnboarding) ListApproved(context.Context) ([]models.TrustedIdentity, error) {
	return []models.TrustedIdentity{}, f.listErr
}

func (f *fakeOnboarding) GetTrusted(_ context.Context, id string) (*models.TrustedIdentity, error) {
	if id != userID {
		return nil, apperr.NotFound("user not found")
	}
	return &models.TrustedIdentity{ID: id}, nil
}

func (f *fakeOnboarding) DeleteAllPending(context.Context) (int64, error) { return f.deleted, f.listErr }

func (f *fakeOnboarding) DeleteUnverifiedPending(context.Context) (int64, error) {
	return f.deleted, f.listErr
}

// fakeReset implements ResetService for testing.
type fakeReset struct {
	requestErr error
	resetErr   error
}

func (f *fakeReset) RequestPasswordReset(context.Context, string) error { return f.requestErr }

func (f *fakeReset) ResetPassword(context.Context, string, string, string) error { return f.resetErr }

// fakeEvidence implements EvidenceService over a fixed set of screenshots.
type fakeEvidence struct {
	shots      map[string]*models.Screenshot
	captureErr error
	captured   service.Capture
	linked     *bool
	verified   []byte
}

func (f *fakeEvidence) Capture(_ context.Context, c service.Capture) (*models.Screenshot, error) {
	f.captured = c
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	return &models.Screenshot{ID: shotID, OwnerID: c.OwnerID, SHA256: c.SHA256}, nil
}

func (f *fakeEvidence) Get(_ context.Context, id string) (*models.Screenshot, error) {
	s, ok := f.shots[id]
	if !ok {
		return nil, apperr.NotFound("screenshot not found")
	}
	return s, nil
}

func (f *fakeEvidence) List(_ context.Context, _ string, linked *bool) ([]models.Screenshot, error) {
	f.linked = linked
	return []models.Screenshot{}, nil
}

func (f *fakeEvidence) Verify(_ context.Context, id string, candidate io.Reader) (*models.IntegrityResult, error) {
	b, err := io.ReadAll(candidate)
	if err != nil {
		return nil, apperr.Validation("could not read candidate file")
	}
	f.verified = b
	return &models.IntegrityResult{ScreenshotID: id, Match: string(b) == "original"}, nil
}

// fakeLinking implements LinkingService for testing.
type fakeLinking struct {
	cases        map[string]*models.CaseWithScreenshots
	createErr    error
	created      service.NewCase
	deletedCase  string
	deletedShot  string
	reconcileErr error
}

func (f *fakeLinking) OnCaseCreate(_ context.Context, req service.NewCase) (*models.Case, error) {
	f.created = req
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &models.Case{ID: caseID, OwnerID: req.OwnerID, Title: req.Title, ScreenshotIDs: req.ScreenshotIDs}, nil
}

func (f *fakeLinking) OnCaseDelete(_ context.Context, id string) error {
	f.deletedCase = id
	return nil
}

func (f *fakeLinking) OnScreenshotDelete(_ context.Context, id string) error {
	f.deletedShot = id
	return nil
}

func (f *fakeLinking) Reconcile(_ context.Context, id string, linked bool, c *string) (*models.Screenshot, error) {
	if f.reconcileErr != nil {
		return nil, f.reconcileErr
	}
	return &models.Screenshot{ID: id, Linked: linked, CaseID: c}, nil
}

func (f *fakeLinking) GetCase(_ context.Context, id string) (*models.CaseWithScreenshots, error) {
	c, ok := f.cases[id]
	if !ok {
		return nil, apperr.NotFound("case not found")
	}
	return c, nil
}

func (f *fakeLinking) ListCases(context.Context, string) ([]models.CaseWithScreenshots, error) {
	return []models.CaseWithScreenshots{}, nil
}

// fakeBlobs implements BlobStore in memory.
type fakeBlobs struct {
	data   map[string][]byte
	owners map[string]string
}

func (f *fakeBlobs) Upload(_ context.Context, ownerID string, r io.Reader) (blob.Object, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return blob.Object{}, fmt.Errorf("write blob: %w: %w", apperr.ErrUpstream, err)
	}
	if len(b) == 0 {
		return blob.Object{}, apperr.Validation("blob is empty")
	}
	f.data["b-1"] = b
	f.owners["b-1"] = ownerID
	return blob.Object{ID: "b-1", URL: "http://localhost/blob/b-1"}, nil
}

func (f *fakeBlobs) Owner(_ context.Context, id string) (string, error) {
	if _, ok := f.data[id]; !ok {
		return "", apperr.NotFound("blob %q not found", id)
	}
	return f.owners[id], nil
}

func (f *fakeBlobs) Open(_ context.Context, id string) (io.ReadCloser, error) {
	b, ok := f.data[id]
	if !ok {
		return nil, apperr.NotFound("blob %q not found", id)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeBlobs) Delete(_ context.Context, id string) error {
	if _, ok := f.data[id]; !ok {
		return apperr.NotFound("blob %q not found", id)
	}
	delete(f.data, id)
	delete(f.owners, id)
	return nil
}

type pingFunc func(context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

type verifierFunc func(string) (models.Claims, error)

func (f verifierFunc) Verify(tok string) (models.Claims, error) { return f(tok) }

// testTokens maps bearer tokens to callers.
var testTokens = map[string]models.Claims{
	"user-token":  {ID: userID, Name: "Ada", Email: "ada@x.com", Role: models.RoleUser},
	"other-token": {ID: otherID, Name: "Eve", Email: "eve@x.com", Role: models.RoleUser},
	"admin-token": {ID: adminID, Name: "Root", Email: "root@x.com", Role: models.RoleAdmin},
}

func testVerifier(tok string) (models.Claims, error) {
	c, ok := testTokens[tok]
	if !ok {
		return models.Claims{}, apperr.ErrUnauthorized
	}
	return c, nil
}

// testMaxBody is the router-wide body limit of the fixture.
const testMaxBody = 4096

type fixture struct {
	onboarding *fakeOnboarding
	reset      *fakeReset
	evidence   *fakeEvidence
	linking    *fakeLinking
	blobs      *fakeBlobs
	dbErr      error
	router     http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		onboarding: &fakeOnboarding{},
		reset:      &fakeReset{},
		evidence: &fakeEvidence{shots: map[string]*models.Screenshot{
			shotID: {ID: shotID, OwnerID: userID, SHA256: "abc"},
		}},
		linking: &fakeLinking{cases: map[string]*models.CaseWithScreenshots{
			caseID: {Case: models.Case{ID: caseID, OwnerID: userID}},
		}},
		blobs: &fakeBlobs{data: map[string][]byte{}, owners: map[string]string{}},
	}
	log := zap.NewNop()
	f.router = NewRouter(Handlers{
		Auth:        &AuthHandler{Onboarding: f.onboarding, Log: log, AllowAdminBootstrap: true},
		Reset:       &ResetHandler{Reset: f.reset, Log: log},
		Users:       &UserHandler{Onboarding: f.onboarding, Log: log},
		Screenshots: &ScreenshotHandler{Evidence: f.evidence, Linking: f.linking, Log: log, MaxCandidateBytes: 64},
		Cases:       &CaseHandler{Linking: f.linking, Log: log},
		Blobs:       &BlobHandler{Store: f.blobs, Log: log},
		Health:      &HealthHandler{DB: pingFunc(func(context.Context) error { return f.dbErr }), Log: log},

		MaxBodyBytes: testMaxBody,
	}, verifierFunc(testVerifier), log, nil)
	return f
}

// do sends a request through the router. body is sent as JSON unless it is a []byte.
func (f *fixture) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var (
		rd          io.Reader
		contentType string
	)
	switch b := body.(type) {
	case nil:
	case []byte:
		rd = bytes.NewReader(b)
		contentType = "application/octet-stream"
	case string:
		rd = bytes.NewBufferString(b)
		contentType = "application/json"
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(raw)
		contentType = "application/json"
	}
	req := httptest.NewRequest(method, path, rd)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var out map[string]any
	if ct := rec.Header().Get("Content-Type"); ct == "application/json" {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, out
}

func nopLog() *zap.Logger { return zap.NewNop() }

// serve calls h directly, bypassing the router.
func serve(h http.HandlerFunc, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	h(rec, req)
	return rec
}
