//go:build integration

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"golang.org/x/crypto/bcrypt"

	"github.com/zainulabideen041/storink/internal/apperr"
	"github.com/zainulabideen041/storink/internal/blob"
	"github.com/zainulabideen041/storink/internal/db"
	"github.com/zainulabideen041/storink/internal/integrity"
	"github.com/zainulabideen041/storink/internal/models"
	"github.com/zainulabideen041/storink/internal/ratelimit"
	"github.com/zainulabideen041/storink/internal/repository"
	"github.com/zainulabideen041/storink/internal/token"
)

var (
	pgOnce sync.Once
	pgDSN  string
	pgErr  error
)

// integrationDB starts one PostgreSQL container for the whole run and returns
// a migrated pool. Tests use distinct emails, so they can share the schema.
func integrationDB(t *testing.T) *sql.DB {
	t.Helper()
	pgOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		container, err := tcpostgres.Run(ctx, "postgres:17-alpine",
			tcpostgres.WithDatabase("storink"),
			tcpostgres.WithUsername("storink"),
			tcpostgres.WithPassword("storink"),
			tcpostgres.BasicWaitStrategies(),
		)
		if err != nil {
			pgErr = fmt.Errorf("start postgres: %w", err)
			return
		}
		pgDSN, pgErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	require.NoError(t, pgErr)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.InitPostgres(ctx, pgDSN, db.PoolOptions{MaxOpenConns: 20})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return sqlDB
}

type stack struct {
	db         *sql.DB
	sent       *recordingDispatcher
	onboarding *OnboardingService
	evidence   *EvidenceService
	linking    *LinkingService
	blobs      *blob.FSStore
}

func newStack(t *testing.T) *stack {
	t.Helper()
	sqlDB := integrationDB(t)
	blobs, err := blob.NewFSStore(t.TempDir(), "http://localhost/blob", 1<<20)
	require.NoError(t, err)

	identities := repository.NewPostgresIdentityRepository(sqlDB)
	shots := repository.NewPostgresEvidenceRepository(sqlDB)
	cases := repository.NewPostgresCaseRepository(sqlDB)
	sent := &recordingDispatcher{}

	return &stack{
		db:   sqlDB,
		sent: sent,
		onboarding: NewOnboardingService(identities, token.NewService(testSecret, "storink"), sent,
			ratelimit.NewMemoryLimiter(5, DefaultCodeTTL), NewBcryptHasher(bcrypt.MinCost)),
		evidence: NewEvidenceService(shots, blobs),
		linking:  NewLinkingService(cases, shots, blobs),
		blobs:    blobs,
	}
}

func uniqueEmail(prefix string) string {
	return fmt.Sprintf("%s-%s@example.com", prefix, uuid.NewString()[:8])
}

// owner creates a trusted user to own evidence.
func (s *stack) owner(t *testing.T) *models.TrustedIdentity {
	t.Helper()
	u, err := s.onboarding.CreateTrustedDirectly(context.Background(), registration(uniqueEmail("owner"), "secret12"), models.RoleUser)
	require.NoError(t, err)
	return u
}

// capture stores content as a blob and records it for ownerID.
func (s *stack) capture(t *testing.T, ownerID string, content string) *models.Screenshot {
	t.Helper()
	ctx := context.Background()
	digest, err := integrity.Compute(strings.NewReader(content))
	require.NoError(t, err)
	obj, err := s.blobs.Upload(ctx, ownerID, strings.NewReader(content))
	require.NoError(t, err)
	shot, err := s.evidence.Capture(ctx, Capture{
		OwnerID: ownerID,
		BlobID:  obj.ID,
		BlobURL: obj.URL,
		SHA256:  digest.SHA256,
		MD5:     digest.MD5,
	})
	require.NoError(t, err)
	return shot
}

// assertLinkConsistency checks that every screenshot of ownerID is linked to a
// case exactly when a live case lists it, and that linked screenshots point at
// that case.
func assertLinkConsistency(t *testing.T, sqlDB *sql.DB, ownerID string) {
	t.Helper()
	rows, err := sqlDB.Query(`
		SELECT s.id, s.linked, s.case_id, cs.case_id
		  FROM screenshots s
		  LEFT JOIN case_screenshots cs ON cs.screenshot_id = s.id
		 WHERE s.owner_id = $1`, ownerID)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var (
			id             string
			linked         bool
			caseID, member sql.NullString
		)
		require.NoError(t, rows.Scan(&id, &linked, &caseID, &member))
		assert.Equal(t, member.Valid, linked, "screenshot %s", id)
		if linked {
			assert.Equal(t, member.String, caseID.String, "screenshot %s", id)
		}
	}
	require.NoError(t, rows.Err())
}

func TestIntegration_OnboardingScenario(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	email := uniqueEmail("ada")

	_, err := s.onboarding.Register(ctx, registration(email, "secret12"))
	require.NoError(t, err)

	_, _, err = s.onboarding.Authenticate(ctx, email, "secret12")
	assert.ErrorIs(t, err, apperr.ErrPendingApproval)

	require.NoError(t, s.onboarding.VerifyEmail(ctx, email, s.sent.last().Code))

	trusted, err := s.onboarding.Decide(ctx, email, true)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, trusted.Role)

	tok, got, err := s.onboarding.Authenticate(ctx, email, "secret12")
	require.NoError(t, err)
	assert.NotEmpty(t, tok)
	assert.Equal(t, trusted.ID, got.ID)

	_, err = s.onboarding.Register(ctx, registration(email, "another1"))
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestIntegration_ConcurrentApproveCreatesOneIdentity(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	email := uniqueEmail("race")

	_, err := s.onboarding.Register(ctx, registration(email, "secret12"))
	require.NoError(t, err)
	require.NoError(t, s.onboarding.VerifyEmail(ctx, email, s.sent.last().Code))

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved int
		failures []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.onboarding.Decide(ctx, email, true)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				approved++
				return
			}
			failures = append(failures, err)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, approved)
	for _, err := range failures {
		assert.True(t, errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrConflict), "unexpected error: %v", err)
	}

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT count(*) FROM trusted_identities WHERE email = $1`, email).Scan(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, s.db.QueryRow(`SELECT count(*) FROM pending_identities WHERE email = $1`, email).Scan(&n))
	assert.Zero(t, n)
}

func TestIntegration_CaseLifecycleKeepsLinksConsistent(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	owner := s.owner(t)
	a := s.capture(t, owner.ID, "first screenshot")
	b := s.capture(t, owner.ID, "second screenshot")
	c := s.capture(t, owner.ID, "third screenshot")

	created, err := s.linking.OnCaseCreate(ctx, NewCase{OwnerID: owner.ID, Title: "Threats", ScreenshotIDs: []string{a.ID, b.ID}})
	require.NoError(t, err)
	assertLinkConsistency(t, s.db, owner.ID)

	_, err = s.linking.OnCaseCreate(ctx, NewCase{OwnerID: owner.ID, Title: "Again", ScreenshotIDs: []string{b.ID, c.ID}})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	got, err := s.evidence.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, got.Linked, "a refused case must not link anything")

	require.NoError(t, s.linking.OnScreenshotDelete(ctx, a.ID))
	live, err := s.linking.GetCase(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, live.Screenshots, 1)
	assert.Equal(t, b.ID, live.Screenshots[0].ID)

	_, err = s.linking.Reconcile(ctx, b.ID, false, nil)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	require.NoError(t, s.linking.OnCaseDelete(ctx, created.ID))
	assertLinkConsistency(t, s.db, owner.ID)
	got, err = s.evidence.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, got.Linked)
	assert.Nil(t, got.CaseID)

	again, err := s.linking.OnCaseCreate(ctx, NewCase{OwnerID: owner.ID, Title: "Reopened", ScreenshotIDs: []string{b.ID, c.ID}})
	require.NoError(t, err)
	assertLinkConsistency(t, s.db, owner.ID)

	_, err = s.linking.GetCase(ctx, created.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	cases, err := s.linking.ListCases(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, again.ID, cases[0].ID)
}

func TestIntegration_ConcurrentCaseCreateLinksOnce(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	owner := s.owner(t)
	shot := s.capture(t, owner.ID, "contested")

	const workers = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := s.linking.OnCaseCreate(ctx, NewCase{OwnerID: owner.ID, Title: fmt.Sprintf("case %d", i), ScreenshotIDs: []string{shot.ID}})
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, apperr.ErrConflict)
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, created)
	assertLinkConsistency(t, s.db, owner.ID)
}

func TestIntegration_VerifyDetectsMutation(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	owner := s.owner(t)
	shot := s.capture(t, owner.ID, "pixels")

	res, err := s.evidence.Verify(ctx, shot.ID, strings.NewReader("pixels"))
	require.NoError(t, err)
	assert.True(t, res.Match)

	res, err = s.evidence.Verify(ctx, shot.ID, strings.NewReader("pixelz"))
	require.NoError(t, err)
	assert.False(t, res.Match)

	require.NoError(t, s.linking.OnScreenshotDelete(ctx, shot.ID))
	_, err = s.blobs.Open(ctx, shot.BlobID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestIntegration_BlobBelongsToOneScreenshot(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	victim := s.owner(t)
	attacker := s.owner(t)
	shot := s.capture(t, victim.ID, "victim evidence")

	digest, err := integrity.Compute(strings.NewReader("victim evidence"))
	require.NoError(t, err)
	reuse := Capture{BlobID: shot.BlobID, BlobURL: shot.URL, SHA256: digest.SHA256, MD5: digest.MD5}

	reuse.OwnerID = attacker.ID
	_, err = s.evidence.Capture(ctx, reuse)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	reuse.OwnerID = victim.ID
	_, err = s.evidence.Capture(ctx, reuse)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	own := s.capture(t, attacker.ID, "attacker evidence")
	require.NoError(t, s.linking.OnScreenshotDelete(ctx, own.ID))

	rc, err := s.blobs.Open(ctx, shot.BlobID)
	require.NoError(t, err, "another owner's delete must not touch this blob")
	require.NoError(t, rc.Close())

	res, err := s.evidence.Verify(ctx, shot.ID, strings.NewReader("victim evidence"))
	require.NoError(t, err)
	assert.True(t, res.Match)
}

func TestIntegration_ExpiredSweepSparesReplacedRegistration(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	identities := repository.NewPostgresIdentityRepository(s.db)
	email := uniqueEmail("sweep")
	stale := time.Now().Add(-2 * time.Hour)

	pending := func(expires time.Time) models.PendingIdentity {
		return models.PendingIdentity{
			ID:            uuid.NewString(),
			Profile:       registration(email, "secret12").Profile,
			PasswordHash:  []byte("hash"),
			Code:          "123456",
			CodeExpiresAt: expires,
			State:         models.PendingUnverified,
			CreatedAt:     stale,
		}
	}
	require.NoError(t, identities.CreatePending(ctx, pending(stale)))

	// Replace the expired record the way a fresh registration does, holding
	// the claim lock while the sweep runs.
	fresh := pending(time.Now().Add(time.Hour))
	tx, err := s.db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()
	_, err = tx.ExecContext(ctx, `SELECT kind FROM identity_emails WHERE email = $1 FOR UPDATE`, email)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, `DELETE FROM pending_identities WHERE email = $1`, email)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO pending_identities (id, name, email, password_hash, identity, job_title,
		                                usage_purpose, code, code_expires_at, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, fresh.ID, fresh.Name, fresh.Email, fresh.PasswordHash, fresh.Identity, fresh.JobTitle,
		fresh.UsagePurpose, fresh.Code, fresh.CodeExpiresAt, fresh.State, fresh.CreatedAt)
	require.NoError(t, err)

	swept := make(chan error, 1)
	go func() {
		_, err := db.DeleteExpiredPending(ctx, s.db, time.Now().Add(-time.Hour))
		swept <- err
	}()

	require.Eventually(t, func() bool {
		var waiting int
		err := s.db.QueryRow(`
			SELECT count(*) FROM pg_stat_activity
			 WHERE wait_event_type = 'Lock' AND query LIKE '%doomed%'
		`).Scan(&waiting)
		return err == nil && waiting > 0
	}, 10*time.Second, 20*time.Millisecond, "sweep never waited on the claim lock")

	require.NoError(t, tx.Commit())
	require.NoError(t, <-swept)

	got, err := identities.FindPendingByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, got.ID)
	var kind string
	require.NoError(t, s.db.QueryRow(`SELECT kind FROM identity_emails WHERE email = $1`, email).Scan(&kind))
	assert.Equal(t, "pending", kind)
}
