package repository

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/zainulabideen041/storink/internal/apperr"
	"github.com/zainulabideen041/storink/internal/models"
)

const screenshotColumns = `id, owner_id, blob_id, blob_url, sha256, md5, captured_at, note, linked, case_id`

// PostgresEvidenceRepository stores screenshot records. Digest columns are
// written once on insert and never updated.
type PostgresEvidenceRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresEvidenceRepository creates a PostgresEvidenceRepository using db.
func NewPostgresEvidenceRepository(db *sql.DB) *PostgresEvidenceRepository {
	return &PostgresEvidenceRepository{DB: db}
}

func scanScreenshot(row rowScanner) (*models.Screenshot, error) {
	var (
		s      models.Screenshot
		caseID sql.NullString
	)
	err := row.Scan(&s.ID, &s.OwnerID, &s.BlobID, &s.URL, &s.SHA256, &s.MD5,
		&s.CapturedAt, &s.Note, &s.Linked, &caseID)
	if err != nil {
		return nil, err
	}
	if caseID.Valid {
		s.CaseID = &caseID.String
	}
	return &s, nil
}

// CreateScreenshot inserts s as unlinked. A blob already recorded by another
// screenshot is a conflict.
func (r *PostgresEvidenceRepository) CreateScreenshot(ctx context.Context, s models.Screenshot) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO screenshots (id, owner_id, blob_id, blob_url, sha256, md5, captured_at, note, linked, case_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, NULL)
	`, s.ID, s.OwnerID, s.BlobID, s.URL, s.SHA256, s.MD5, s.CapturedAt, s.Note)
	if isUniqueViolation(err) {
		return apperr.Conflict("blob %s is already recorded as a screenshot", s.BlobID)
	}
	return mapError("create screenshot", err)
}

// GetScreenshot returns the screenshot with the given id.
func (r *PostgresEvidenceRepository) GetScreenshot(ctx context.Context, id string) (*models.Screenshot, error) {
	s, err := scanScreenshot(r.DB.QueryRowContext(ctx,
		`SELECT `+screenshotColumns+` FROM screenshots WHERE id = $1`, id))
	if err != nil {
		return nil, mapError("get screenshot", err)
	}
	return s, nil
}

// ListScreenshots returns the owner's screenshots newest first.
func (r *PostgresEvidenceRepository) ListScreenshots(ctx context.Context, f models.ScreenshotFilter) ([]models.Screenshot, error) {
	q := psql.Select(screenshotColumns).
		From("screenshots").
		Where(sq.Eq{"owner_id": f.OwnerID}).
		OrderBy("captured_at DESC", "id")
	if f.Linked != nil {
		q = q.Where(sq.Eq{"linked": *f.Linked})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list screenshots query: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("list screenshots", err)
	}
	defer rows.Close()

	list := []models.Screenshot{}
	for rows.Next() {
		s, err := scanScreenshot(rows)
		if err != nil {
			return nil, mapError("scan screenshot", err)
		}
		list = append(list, *s)
	}
	return list, mapError("list screenshots", rows.Err())
}

// DeleteScreenshot removes the record. It reports false without error when the
// row was already gone. Case membership rows are left in place.
func (r *PostgresEvidenceRepository) DeleteScreenshot(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM screenshots WHERE id = $1`, id)
	if err != nil {
		return false, mapError("delete screenshot", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapError("delete screenshot", err)
	}
	return n == 1, nil
}

// ReconcileLink writes linked and caseID on the screenshot, but only when they
// agree with case membership: linked with caseID iff that case lists the
// screenshot, unlinked iff no case does. Anything else is a conflict.
func (r *PostgresEvidenceRepository) ReconcileLink(ctx context.Context, id string, linked bool, caseID *string) (*models.Screenshot, error) {
	var out *models.Screenshot
	err := withTx(ctx, r.DB, func(tx *sql.Tx) error {
		s, err := scanScreenshot(tx.QueryRowContext(ctx,
			`SELECT `+screenshotColumns+` FROM screenshots WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}

		var member sql.NullString
		err = tx.QueryRowContext(ctx,
			`SELECT case_id FROM case_screenshots WHERE screenshot_id = $1`, id,
		).Scan(&member)
		if err != nil && err != sql.ErrNoRows {
			return err
		}

		switch {
		case linked && caseID == nil:
			return apperr.Validation("caseId is required when linked is true")
		case !linked && caseID != nil:
			return apperr.Validation("caseId must be empty when linked is false")
		case linked && (!member.Valid || member.String != *caseID):
			return apperr.Conflict("screenshot is not a member of case %s", *caseID)
		case !linked && member.Valid:
			return apperr.Conflict("screenshot is a member of case %s", member.String)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE screenshots SET linked = $2, case_id = $3 WHERE id = $1`,
			id, linked, caseID); err != nil {
			return err
		}
		s.Linked = linked
		s.CaseID = caseID
		out = s
		return nil
	})
	if err != nil {
		return nil, mapError("reconcile screenshot link", err)
	}
	return out, nil
}
