package repository

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/zainulabideen041/storink/internal/apperr"
	"github.com/zainulabideen041/storink/internal/models"
)

const caseColumns = `id, owner_id, title, description, status, created_at`

// PostgresCaseRepository stores cases and keeps screenshot link state in step
// with case membership.
type PostgresCaseRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresCaseRepository creates a PostgresCaseRepository using db.
func NewPostgresCaseRepository(db *sql.DB) *PostgresCaseRepository {
	return &PostgresCaseRepository{DB: db}
}

func scanCase(row rowScanner) (*models.Case, error) {
	var c models.Case
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Title, &c.Description, &c.Status, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.ScreenshotIDs = []string{}
	return &c, nil
}

// CreateCase inserts c, its membership and links every member screenshot in
// one transaction. The screenshots are locked first, so a concurrent delete or
// a second case claiming one of them waits for this one to finish.
func (r *PostgresCaseRepository) CreateCase(ctx context.Context, c models.Case) error {
	err := withTx(ctx, r.DB, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, owner_id, linked FROM screenshots
			 WHERE id = ANY($1)
			 ORDER BY id
			   FOR UPDATE
		`, pq.Array(c.ScreenshotIDs))
		if err != nil {
			return err
		}

		type lockedShot struct {
			owner  string
			linked bool
		}
		found := make(map[string]lockedShot, len(c.ScreenshotIDs))
		for rows.Next() {
			var (
				id   string
				shot lockedShot
			)
			if err := rows.Scan(&id, &shot.owner, &shot.linked); err != nil {
				rows.Close()
				return err
			}
			found[id] = shot
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, id := range c.ScreenshotIDs {
			shot, ok := found[id]
			switch {
			case !ok:
				return apperr.Validation("screenshot %s not found", id)
			case shot.owner != c.OwnerID:
				return apperr.Validation("screenshot %s does not belong to the case owner", id)
			case shot.linked:
				return apperr.Conflict("screenshot %s is already linked to a case", id)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cases (`+caseColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, c.ID, c.OwnerID, c.Title, c.Description, c.Status, c.CreatedAt); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO case_screenshots (case_id, screenshot_id, position)
			SELECT $1, m.id, m.ord - 1
			  FROM unnest($2::uuid[]) WITH ORDINALITY AS m(id, ord)
		`, c.ID, pq.Array(c.ScreenshotIDs)); err != nil {
			if isUniqueViolation(err) {
				return apperr.Conflict("a screenshot is already a member of another case")
			}
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE screenshots SET linked = true, case_id = $1
			 WHERE id = ANY($2) AND linked = false
		`, c.ID, pq.Array(c.ScreenshotIDs))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != int64(len(c.ScreenshotIDs)) {
			return apperr.Conflict("linked %d of %d screenshots", n, len(c.ScreenshotIDs))
		}
		return nil
	})
	return mapError("create case", err)
}

// DeleteCase unlinks every screenshot that references the case, then deletes
// the case. Membership rows go with it.
func (r *PostgresCaseRepository) DeleteCase(ctx context.Context, id string) (int64, error) {
	var unlinked int64
	err := withTx(ctx, r.DB, func(tx *sql.Tx) error {
		var locked string
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM cases WHERE id = $1 FOR UPDATE`, id,
		).Scan(&locked); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE screenshots SET linked = false, case_id = NULL WHERE case_id = $1`, id)
		if err != nil {
			return err
		}
		if unlinked, err = res.RowsAffected(); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM cases WHERE id = $1`, id)
		return err
	})
	if err != nil {
		return 0, mapError("delete case", err)
	}
	return unlinked, nil
}

// GetCase returns the case with its live membership.
func (r *PostgresCaseRepository) GetCase(ctx context.Context, id string) (*models.CaseWithScreenshots, error) {
	c, err := scanCase(r.DB.QueryRowContext(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE id = $1`, id))
	if err != nil {
		return nil, mapError("get case", err)
	}

	members, err := r.liveMembers(ctx, []string{c.ID})
	if err != nil {
		return nil, err
	}
	return withMembers(c, members[c.ID]), nil
}

// ListCases returns the owner's cases newest first, each with its live membership.
func (r *PostgresCaseRepository) ListCases(ctx context.Context, ownerID string) ([]models.CaseWithScreenshots, error) {
	query, args, err := psql.Select(caseColumns).
		From("cases").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("created_at DESC", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list cases query: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("list cases", err)
	}
	var cases []*models.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			rows.Close()
			return nil, mapError("scan case", err)
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, mapError("list cases", err)
	}
	rows.Close()

	out := make([]models.CaseWithScreenshots, 0, len(cases))
	if len(cases) == 0 {
		return out, nil
	}

	ids := make([]string, len(cases))
	for i, c := range cases {
		ids[i] = c.ID
	}
	members, err := r.liveMembers(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, c := range cases {
		out = append(out, *withMembers(c, members[c.ID]))
	}
	return out, nil
}

// liveMembers loads, per case, the member screenshots that still exist, in
// membership order. Membership of deleted screenshots drops out of the join.
func (r *PostgresCaseRepository) liveMembers(ctx context.Context, caseIDs []string) (map[string][]models.Screenshot, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT cs.case_id, s.id, s.owner_id, s.blob_id, s.blob_url, s.sha256, s.md5,
		       s.captured_at, s.note, s.linked, s.case_id
		  FROM case_screenshots cs
		  JOIN screenshots s ON s.id = cs.screenshot_id
		 WHERE cs.case_id = ANY($1)
		 ORDER BY cs.case_id, cs.position
	`, pq.Array(caseIDs))
	if err != nil {
		return nil, mapError("load case members", err)
	}
	defer rows.Close()

	members := make(map[string][]models.Screenshot, len(caseIDs))
	for rows.Next() {
		var caseID string
		s, err := scanScreenshot(prefixed{row: rows, first: &caseID})
		if err != nil {
			return nil, mapError("scan case member", err)
		}
		members[caseID] = append(members[caseID], *s)
	}
	return members, mapError("load case members", rows.Err())
}

// prefixed scans one leading column into first and the rest through row.
type prefixed struct {
	row   rowScanner
	first any
}

func (p prefixed) Scan(dest ...any) error {
	return p.row.Scan(append([]any{p.first}, dest...)...)
}

func withMembers(c *models.Case, shots []models.Screenshot) *models.CaseWithScreenshots {
	if shots == nil {
		shots = []models.Screenshot{}
	}
	ids := make([]string, len(shots))
	for i, s := range shots {
		ids[i] = s.ID
	}
	c.ScreenshotIDs = ids
	return &models.CaseWithScreenshots{Case: *c, Screenshots: shots}
}
