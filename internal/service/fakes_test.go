package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zainulabideen041/storink/internal/apperr"
	"github.com/zainulabideen041/storink/internal/models"
	"github.com/zainulabideen041/storink/internal/notify"
)

// memIdentityRepo keeps identities in maps and enforces the same rules as the
// Postgres repository: one record per email across pending and trusted.
type memIdentityRepo struct {
	mu      sync.Mutex
	pending map[string]models.PendingIdentity
	trusted map[string]models.TrustedIdentity
	resets  map[string]models.ResetCode
	// err, when set, is returned by every method.
	err error
}

func newMemIdentityRepo() *memIdentityRepo {
	return &memIdentityRepo{
		pending: map[string]models.PendingIdentity{},
		trusted: map[string]models.TrustedIdentity{},
		resets:  map[string]models.ResetCode{},
	}
}

func notFound(op string) error { return fmt.Errorf("%s: %w", op, apperr.ErrNotFound) }

func (m *memIdentityRepo) CreatePending(_ context.Context, p models.PendingIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.trusted[p.Email]; ok {
		return apperr.Conflict("email already registered")
	}
	m.pending[p.Email] = p
	return nil
}

func (m *memIdentityRepo) FindPendingByEmail(_ context.Context, email string) (*models.PendingIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.pending[email]
	if !ok {
		return nil, notFound("find pending")
	}
	return &p, nil
}

func (m *memIdentityRepo) MarkEmailVerified(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for email, p := range m.pending {
		if p.ID == id && p.State == models.PendingUnverified {
			p.State = models.PendingEmailVerified
			p.Code = ""
			m.pending[email] = p
			return nil
		}
	}
	return fmt.Errorf("code already consumed: %w", apperr.ErrInvalidCode)
}

func (m *memIdentityRepo) ApprovePending(_ context.Context, email, trustedID string, now time.Time) (*models.TrustedIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.pending[email]
	if !ok {
		return nil, notFound("approve pending")
	}
	if p.State != models.PendingEmailVerified {
		return nil, apperr.Conflict("email has not been verified")
	}
	t := models.TrustedIdentity{
		ID:           trustedID,
		Profile:      p.Profile,
		PasswordHash: p.PasswordHash,
		Role:         models.RoleUser,
		CreatedAt:    now,
	}
	delete(m.pending, email)
	m.trusted[email] = t
	return &t, nil
}

func (m *memIdentityRepo) RejectPending(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.pending[email]; !ok {
		return notFound("reject pending")
	}
	delete(m.pending, email)
	return nil
}

func (m *memIdentityRepo) CreateTrusted(_ context.Context, t models.TrustedIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.trusted[t.Email]; ok {
		return apperr.Conflict("email already registered")
	}
	delete(m.pending, t.Email)
	m.trusted[t.Email] = t
	return nil
}

func (m *memIdentityRepo) FindTrustedByEmail(_ context.Context, email string) (*models.TrustedIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	t, ok := m.trusted[email]
	if !ok {
		return nil, notFound("find trusted")
	}
	return &t, nil
}

func (m *memIdentityRepo) GetTrusted(_ context.Context, id string) (*models.TrustedIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, t := range m.trusted {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, notFound("get trusted")
}

func (m *memIdentityRepo) ListPending(_ context.Context, state models.PendingState) ([]models.PendingIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	list := []models.PendingIdentity{}
	for _, p := range m.pending {
		if state == "" || p.State == state {
			list = append(list, p)
		}
	}
	return list, nil
}

func (m *memIdentityRepo) ListTrusted(_ context.Context, role models.Role) ([]models.TrustedIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	list := []models.TrustedIdentity{}
	for _, t := range m.trusted {
		if t.Role == role {
			list = append(list, t)
		}
	}
	return list, nil
}

func (m *memIdentityRepo) DeleteAllPending(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	n := int64(len(m.pending))
	m.pending = map[string]models.PendingIdentity{}
	return n, nil
}

func (m *memIdentityRepo) DeleteUnverifiedPending(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	var n int64
	for email, p := range m.pending {
		if p.State == models.PendingUnverified {
			delete(m.pending, email)
			n++
		}
	}
	return n, nil
}

func (m *memIdentityRepo) SetResetCode(_ context.Context, email string, rc models.ResetCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.trusted[email]; !ok {
		return apperr.NotFound("no account with this email")
	}
	m.resets[email] = rc
	return nil
}

func (m *memIdentityRepo) FindResetCode(_ context.Context, email string) (*models.ResetCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	rc, ok := m.resets[email]
	if !ok {
		return nil, fmt.Errorf("find reset code: %w", apperr.ErrInvalidCode)
	}
	return &rc, nil
}

func (m *memIdentityRepo) ConsumeResetCode(_ context.Context, email, code string, passwordHash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	rc, ok := m.resets[email]
	if !ok || rc.Code != code {
		return fmt.Errorf("code already consumed: %w", apperr.ErrInvalidCode)
	}
	t := m.trusted[email]
	t.PasswordHash = passwordHash
	m.trusted[email] = t
	delete(m.resets, email)
	return nil
}

func (m *memIdentityRepo) pendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// recordingDispatcher keeps every message instead of sending it.
type recordingDispatcher struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (d *recordingDispatcher) Dispatch(m notify.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, m)
}

func (d *recordingDispatcher) last() notify.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sent) == 0 {
		return notify.Message{}
	}
	return d.sent[len(d.sent)-1]
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// mockEvidenceRepo implements EvidenceRepository with per-method funcs.
type mockEvidenceRepo struct {
	CreateScreenshotFunc func(ctx context.Context, s models.Screenshot) error
	GetScreenshotFunc    func(ctx context.Context, id string) (*models.Screenshot, error)
	ListScreenshotsFunc  func(ctx context.Context, f models.ScreenshotFilter) ([]models.Screenshot, error)
	DeleteScreenshotFunc func(ctx context.Context, id string) (bool, error)
	ReconcileLinkFunc    func(ctx context.Context, id string, linked bool, caseID *string) (*models.Screenshot, error)
}

func (m *mockEvidenceRepo) CreateScreenshot(ctx context.Context, s models.Screenshot) error {
	return m.CreateScreenshotFunc(ctx, s)
}
func (m *mockEvidenceRepo) GetScreenshot(ctx context.Context, id string) (*models.Screenshot, error) {
	return m.GetScreenshotFunc(ctx, id)
}
func (m *mockEvidenceRepo) ListScreenshots(ctx context.Context, f models.ScreenshotFilter) ([]models.Screenshot, error) {
	return m.ListScreenshotsFunc(ctx, f)
}
func (m *mockEvidenceRepo) DeleteScreenshot(ctx context.Context, id string) (bool, error) {
	return m.DeleteScreenshotFunc(ctx, id)
}
func (m *mockEvidenceRepo) ReconcileLink(ctx context.Context, id string, linked bool, caseID *string) (*models.Screenshot, error) {
	return m.ReconcileLinkFunc(ctx, id, linked, caseID)
}

// mockCaseRepo implements CaseRepository with per-method funcs.
type mockCaseRepo struct {
	CreateCaseFunc func(ctx context.Context, c models.Case) error
	DeleteCaseFunc func(ctx context.Context, id string) (int64, error)
	GetCaseFunc    func(ctx context.Context, id string) (*models.CaseWithScreenshots, error)
	ListCasesFunc  func(ctx context.Context, ownerID string) ([]models.CaseWithScreenshots, error)
}

func (m *mockCaseRepo) CreateCase(ctx context.Context, c models.Case) error {
	return m.CreateCaseFunc(ctx, c)
}
func (m *mockCaseRepo) DeleteCase(ctx context.Context, id string) (int64, error) {
	return m.DeleteCaseFunc(ctx, id)
}
func (m *mockCaseRepo) GetCase(ctx context.Context, id string) (*models.CaseWithScreenshots, error) {
	return m.GetCaseFunc(ctx, id)
}
func (m *mockCaseRepo) ListCases(ctx context.Context, ownerID string) ([]models.CaseWithScreenshots, error) {
	return m.ListCasesFunc(ctx, ownerID)
}

type blobDeleterFunc func(ctx context.Context, id string) error

func (f blobDeleterFunc) Delete(ctx context.Context, id string) error { return f(ctx, id) }

// blobOwnersFunc implements BlobOwners with a function.
type blobOwnersFunc func(ctx context.Context, id string) (string, error)

func (f blobOwnersFunc) Owner(ctx context.Context, id string) (string, error) { return f(ctx, id) }

// ownedBy reports every blob as uploaded by owner.
func ownedBy(owner string) blobOwnersFunc {
	return func(context.Context, string) (string, error) { return owner, nil }
}
