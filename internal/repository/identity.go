package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/zainulabideen041/storink/internal/apperr"
	"github.com/zainulabideen041/storink/internal/models"
)

const (
	claimPending = "pending"
	claimTrusted = "trusted"
)

const pendingColumns = `id, name, email, password_hash, identity, job_title, usage_purpose, code, code_expires_at, state, created_at`

const trustedColumns = `id, name, email, password_hash, role, identity, job_title, usage_purpose, created_at`

// PostgresIdentityRepository stores pending and trusted identities.
//
// Every email is claimed in identity_emails exactly once; the claim's kind
// says which table currently owns the email.
type PostgresIdentityRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresIdentityRepository creates a PostgresIdentityRepository using db.
func NewPostgresIdentityRepository(db *sql.DB) *PostgresIdentityRepository {
	return &PostgresIdentityRepository{DB: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPending(row rowScanner) (*models.PendingIdentity, error) {
	var p models.PendingIdentity
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.PasswordHash, &p.Identity, &p.JobTitle,
		&p.UsagePurpose, &p.Code, &p.CodeExpiresAt, &p.State, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanTrusted(row rowScanner) (*models.TrustedIdentity, error) {
	var t models.TrustedIdentity
	err := row.Scan(&t.ID, &t.Name, &t.Email, &t.PasswordHash, &t.Role, &t.Identity,
		&t.JobTitle, &t.UsagePurpose, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// lockClaim returns the kind of the email claim, or "" if the email is unclaimed.
// An existing claim row stays locked until the transaction ends.
func lockClaim(ctx context.Context, tx *sql.Tx, email string) (string, error) {
	var kind string
	err := tx.QueryRowContext(ctx,
		`SELECT kind FROM identity_emails WHERE email = $1 FOR UPDATE`, email,
	).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return kind, err
}

// CreatePending stores p as the only pending record for its email. A previous
// pending record for the same email is replaced. It fails with a conflict if
// the email belongs to a trusted identity, or if a concurrent registration
// claimed the email first.
func (r *PostgresIdentityRepository) CreatePending(ctx context.Context, p models.PendingIdentity) error {
	err := withTx(ctx, r.DB, func(tx *sql.Tx) error {
		kind, err := lockClaim(ctx, tx, p.Email)
		if err != nil {
			return err
		}

		switch kind {
		case claimTrusted:
			return apperr.Conflict("email already registered")
		case claimPending:
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM pending_identities WHERE email = $1`, p.Email); err != nil {
				return err
			}
		default:
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO identity_emails (email, kind) VALUES ($1, 'pending')`, p.Email); err != nil {
				if isUniqueViolation(err) {
					return apperr.Conflict("verification attempt already exists")
				}
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO pending_identities (`+pendingColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, p.ID, p.Name, p.Email, p.PasswordHash, p.Identity, p.JobTitle,
			p.UsagePurpose, p.Code, p.CodeExpiresAt, p.State, p.CreatedAt)
		return err
	})
	return mapError("create pending identity", err)
}

// FindPendingByEmail returns the pending record for email.
func (r *PostgresIdentityRepository) FindPendingByEmail(ctx context.Context, email string) (*models.PendingIdentity, error) {
	p, err := scanPending(r.DB.QueryRowContext(ctx,
		`SELECT `+pendingColumns+` FROM pending_identities WHERE email = $1`, email))
	if err != nil {
		return nil, mapError("find pending identity", err)
	}
	return p, nil
}

// MarkEmailVerified moves an unverified pending record to email_verified and
// clears its code. It reports apperr.ErrInvalidCode if the record was already
// verified or removed in the meantime, so a code is consumed at most once.
func (r *PostgresIdentityRepository) MarkEmailVerified(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE pending_identities
		   SET state = 'email_verified', code = ''
		 WHERE id = $1 AND state = 'unverified'
	`, id)
	if err != nil {
		return mapError("mark email verified", err)
	}
	return mapError("mark email verified",
		affectedOne(res, fmt.Errorf("code already consumed: %w", apperr.ErrInvalidCode)))
}

// ApprovePending promotes the verified pending record for email into a trusted
// identity with id trustedID and role user. The pending row is locked for the
// whole transaction, so of two concurrent approvals exactly one succeeds and
// the other sees apperr.ErrNotFound.
func (r *PostgresIdentityRepository) ApprovePending(ctx context.Context, email, trustedID string, now time.Time) (*models.TrustedIdentity, error) {
	var trusted *models.TrustedIdentity
	err := withTx(ctx, r.DB, func(tx *sql.Tx) error {
		p, err := scanPending(tx.QueryRowContext(ctx,
			`SELECT `+pendingColumns+` FROM pending_identities WHERE email = $1 FOR UPDATE`, email))
		if err != nil {
			return err
		}
		if p.State != models.PendingEmailVerified {
			return apperr.Conflict("email has not been verified")
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM pending_identities WHERE id = $1`, p.ID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE identity_emails SET kind = 'trusted' WHERE email = $1 AND kind = 'pending'`, email)
		if err != nil {
			return err
		}
		if err := affectedOne(res, apperr.Conflict("email already registered")); err != nil {
			return err
		}

		t := models.TrustedIdentity{
			ID:           trustedID,
			Profile:      p.Profile,
			PasswordHash: p.PasswordHash,
			Role:         models.RoleUser,
			CreatedAt:    now,
		}
		if err := insertTrusted(ctx, tx, t); err != nil {
			return err
		}
		trusted = &t
		return nil
	})
	if err != nil {
		return nil, mapError("approve pending identity", err)
	}
	return trusted, nil
}

// RejectPending removes the pending record for email together with its email claim.
func (r *PostgresIdentityRepository) RejectPending(ctx context.Context, email string) error {
	err := withTx(ctx, r.DB, func(tx *sql.Tx) error {
		var id string
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM pending_identities WHERE email = $1 FOR UPDATE`, email,
		).Scan(&id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM identity_emails WHERE email = $1 AND kind = 'pending'`, email)
		return err
	})
	return mapError("reject pending identity", err)
}

// CreateTrusted inserts t directly, superseding any pending record for the same email.
func (r *PostgresIdentityRepository) CreateTrusted(ctx context.Context, t models.TrustedIdentity) error {
	err := withTx(ctx, r.DB, func(tx *sql.Tx) error {
		kind, err := lockClaim(ctx, tx, t.Email)
		if err != nil {
			return err
		}

		switch kind {
		case claimTrusted:
			return apperr.Conflict("email already registered")
		case claimPending:
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM pending_identities WHERE email = $1`, t.Email); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE identity_emails SET kind = 'trusted' WHERE email = $1`, t.Email); err != nil {
				return err
			}
		default:
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO identity_emails (email, kind) VALUES ($1, 'trusted')`, t.Email); err != nil {
				if isUniqueViolation(err) {
					return apperr.Conflict("email already registered")
				}
				return err
			}
		}

		return insertTrusted(ctx, tx, t)
	})
	return mapError("create trusted identity", err)
}

func insertTrusted(ctx context.Context, tx *sql.Tx, t models.TrustedIdentity) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO trusted_identities (`+trustedColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.Name, t.Email, t.PasswordHash, t.Role, t.Identity, t.JobTitle, t.UsagePurpose, t.CreatedAt)
	if isUniqueViolation(err) {
		return apperr.Conflict("email already registered")
	}
	return err
}

// FindTrustedByEmail returns the trusted identity for email.
func (r *PostgresIdentityRepository) FindTrustedByEmail(ctx context.Context, email string) (*models.TrustedIdentity, error) {
	t, err := scanTrusted(r.DB.QueryRowContext(ctx,
		`SELECT `+trustedColumns+` FROM trusted_identities WHERE email = $1`, email))
	if err != nil {
		return nil, mapError("find trusted identity", err)
	}
	return t, nil
}

// GetTrusted returns the trusted identity with the given id.
func (r *PostgresIdentityRepository) GetTrusted(ctx context.Context, id string) (*models.TrustedIdentity, error) {
	t, err := scanTrusted(r.DB.QueryRowContext(ctx,
		`SELECT `+trustedColumns+` FROM trusted_identities WHERE id = $1`, id))
	if err != nil {
		return nil, mapError("get trusted identity", err)
	}
	return t, nil
}

// ListPending returns pending records oldest first. An empty state lists all of them.
func (r *PostgresIdentityRepository) ListPending(ctx context.Context, state models.PendingState) ([]models.PendingIdentity, error) {
	q := psql.Select(pendingColumns).From("pending_identities").OrderBy("created_at ASC")
	if state != "" {
		q = q.Where(sq.Eq{"state": state})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list pending query: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("list pending identities", err)
	}
	defer rows.Close()

	list := []models.PendingIdentity{}
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, mapError("scan pending identity", err)
		}
		list = append(list, *p)
	}
	return list, mapError("list pending identities", rows.Err())
}

// ListTrusted returns trusted identities newest first. An empty role lists all of them.
func (r *PostgresIdentityRepository) ListTrusted(ctx context.Context, role models.Role) ([]models.TrustedIdentity, error) {
	q := psql.Select(trustedColumns).From("trusted_identities").OrderBy("created_at DESC")
	if role != "" {
		q = q.Where(sq.Eq{"role": role})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list trusted query: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("list trusted identities", err)
	}
	defer rows.Close()

	list := []models.TrustedIdentity{}
	for rows.Next() {
		t, err := scanTrusted(rows)
		if err != nil {
			return nil, mapError("scan trusted identity", err)
		}
		list = append(list, *t)
	}
	return list, mapError("list trusted identities", rows.Err())
}

// DeleteAllPending removes every pending record and its email claim.
func (r *PostgresIdentityRepository) DeleteAllPending(ctx context.Context) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM identity_emails WHERE kind = 'pending'`)
	if err != nil {
		return 0, mapError("delete pending identities", err)
	}
	n, err := res.RowsAffected()
	return n, mapError("delete pending identities", err)
}

// DeleteUnverifiedPending removes pending records whose email is not verified
// yet. Claims and pending rows are locked first, so a record verified or
// replaced concurrently is rechecked and kept.
func (r *PostgresIdentityRepository) DeleteUnverifiedPending(ctx context.Context) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		WITH doomed AS (
			SELECT c.email
			  FROM identity_emails c
			  JOIN pending_identities p ON p.email = c.email
			 WHERE c.kind = 'pending' AND p.state = 'unverified'
			   FOR UPDATE OF c, p
		)
		DELETE FROM identity_emails c
		 USING doomed d
		 WHERE c.email = d.email AND c.kind = 'pending'
	`)
	if err != nil {
		return 0, mapError("delete unverified identities", err)
	}
	n, err := res.RowsAffected()
	return n, mapError("delete unverified identities", err)
}

// SetResetCode stores a password-reset code on the trusted identity for email.
func (r *PostgresIdentityRepository) SetResetCode(ctx context.Context, email string, rc models.ResetCode) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE trusted_identities
		   SET reset_code = $2, reset_code_expires_at = $3
		 WHERE email = $1
	`, email, rc.Code, rc.ExpiresAt)
	if err != nil {
		return mapError("set reset code", err)
	}
	return mapError("set reset code", affectedOne(res, apperr.NotFound("no account with this email")))
}

// FindResetCode returns the outstanding reset code for email. It reports
// apperr.ErrInvalidCode if the identity does not exist or has no code.
func (r *PostgresIdentityRepository) FindResetCode(ctx context.Context, email string) (*models.ResetCode, error) {
	var (
		code      sql.NullString
		expiresAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx, `
		SELECT reset_code, reset_code_expires_at FROM trusted_identities WHERE email = $1
	`, email).Scan(&code, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !code.Valid) {
		return nil, fmt.Errorf("find reset code: %w", apperr.ErrInvalidCode)
	}
	if err != nil {
		return nil, mapError("find reset code", err)
	}
	return &models.ResetCode{Code: code.String, ExpiresAt: expiresAt.Time}, nil
}

// ConsumeResetCode replaces the password digest and clears the reset code in
// one statement, provided code is still the outstanding one.
func (r *PostgresIdentityRepository) ConsumeResetCode(ctx context.Context, email, code string, passwordHash []byte) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE trusted_identities
		   SET password_hash = $3, reset_code = NULL, reset_code_expires_at = NULL
		 WHERE email = $1 AND reset_code = $2
	`, email, code, passwordHash)
	if err != nil {
		return mapError("consume reset code", err)
	}
	return mapError("consume reset code",
		affectedOne(res, fmt.Errorf("code already consumed: %w", apperr.ErrInvalidCode)))
}
